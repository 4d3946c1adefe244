package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"airdrop/internal/logging"
	"airdrop/pkg/models"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// 环境变量
const (
	EnvPrivateKey   = "AIRDROP_PRIVATE_KEY"
	EnvRPCURL       = "AIRDROP_RPC_URL"
	EnvTokenAddress = "AIRDROP_TOKEN_ADDRESS"
	EnvChainID      = "AIRDROP_CHAIN_ID"
	EnvDBDSN        = "AIRDROP_DB_DSN"
)

// Config 主配置
type Config struct {
	Chain   *ChainConfig            `mapstructure:"chain"`
	Token   *models.AirdropSettings `mapstructure:"token"`
	Signer  *SignerConfig           `mapstructure:"signer"`
	Airdrop *AirdropConfig          `mapstructure:"airdrop"`
	Output  *OutputConfig           `mapstructure:"output"`
	History *HistoryConfig          `mapstructure:"history"`
	API     *APIConfig              `mapstructure:"api"`
	Logging *logging.LogConfig      `mapstructure:"logging"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainID        int64         `mapstructure:"chain_id"`
	ExplorerURL    string        `mapstructure:"explorer_url"`
	NativeSymbol   string        `mapstructure:"native_symbol"`
	RequestTimeout string        `mapstructure:"request_timeout"`
	Nodes          []*NodeConfig `mapstructure:"nodes"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name      string  `mapstructure:"name"`
	URL       string  `mapstructure:"url"`
	RateLimit float64 `mapstructure:"rate_limit"` // 每秒请求数，0表示不限速
	Burst     int     `mapstructure:"burst"`
	Priority  int     `mapstructure:"priority"`
}

// SignerConfig 签名配置，私钥优先从环境变量读取
type SignerConfig struct {
	PrivateKey    string  `mapstructure:"private_key"`
	GasMultiplier float64 `mapstructure:"gas_multiplier"`
}

// AirdropConfig 执行器配置
type AirdropConfig struct {
	TxDelay         string `mapstructure:"tx_delay"`
	RefreshDelay    string `mapstructure:"refresh_delay"`
	GasPerRecipient string `mapstructure:"gas_per_recipient"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 结果输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // json, kafka, none
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// HistoryConfig 运行报告归档
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// APIConfig HTTP服务配置
type APIConfig struct {
	Port         int      `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	LogBuffer    int      `mapstructure:"log_buffer"`
}

// TxDelayDuration 两笔转账之间的间隔
func (c *AirdropConfig) TxDelayDuration() time.Duration {
	return parseDuration(c.TxDelay, time.Second)
}

// RefreshDelayDuration 运行结束后刷新余额前的等待
func (c *AirdropConfig) RefreshDelayDuration() time.Duration {
	return parseDuration(c.RefreshDelay, 2*time.Second)
}

// RequestTimeoutDuration 单次RPC超时
func (c *ChainConfig) RequestTimeoutDuration() time.Duration {
	return parseDuration(c.RequestTimeout, 15*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// LoadEnv 加载.env文件，文件不存在时忽略
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("加载环境变量文件 %s 失败: %w", f, err)
		}
	}
	return nil
}

// LoadConfig 加载配置：默认值 <- YAML文件 <- 数据库(可选) <- 环境变量
func LoadConfig(configPath string, logger *logrus.Logger) (*Config, error) {
	if logger == nil {
		logger = logrus.New()
	}

	config := GetDefaultConfig()
	if configPath != "" {
		fileConfig, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if dsn := os.Getenv(EnvDBDSN); dsn != "" {
		dbConfig, err := NewDatabaseConfig(dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		if err := dbConfig.LoadInto(config); err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}
		logger.Info("已从数据库加载节点和代币配置")
	}

	applyEnv(config)
	return config, nil
}

// LoadConfigFromFile 从YAML文件加载，未设置的字段使用默认值
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	fillDefaults(config)
	return config, nil
}

// applyEnv 环境变量覆盖
func applyEnv(config *Config) {
	if key := os.Getenv(EnvPrivateKey); key != "" {
		config.Signer.PrivateKey = key
	}
	if url := os.Getenv(EnvRPCURL); url != "" {
		config.Chain.Nodes = append([]*NodeConfig{{
			Name:     "env",
			URL:      url,
			Priority: 0,
		}}, config.Chain.Nodes...)
	}
	if addr := os.Getenv(EnvTokenAddress); addr != "" {
		config.Token.TokenAddress = addr
	}
	if id := os.Getenv(EnvChainID); id != "" {
		if v, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil {
			config.Chain.ChainID = v
		}
	}
}

// fillDefaults 文件中缺失的整段配置使用默认值
func fillDefaults(config *Config) {
	def := GetDefaultConfig()
	if config.Chain == nil {
		config.Chain = def.Chain
	}
	if config.Token == nil {
		config.Token = def.Token
	}
	if config.Signer == nil {
		config.Signer = def.Signer
	}
	if config.Airdrop == nil {
		config.Airdrop = def.Airdrop
	}
	if config.Output == nil {
		config.Output = def.Output
	}
	if config.History == nil {
		config.History = def.History
	}
	if config.API == nil {
		config.API = def.API
	}
	if config.Logging == nil {
		config.Logging = def.Logging
	}
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Chain: &ChainConfig{
			ChainID:        999,
			ExplorerURL:    "https://www.hyperscan.com",
			NativeSymbol:   "HYPE",
			RequestTimeout: "15s",
			Nodes: []*NodeConfig{
				{
					Name:      "hyperevm",
					URL:       "https://rpc.hyperliquid.xyz/evm",
					RateLimit: 5,
					Burst:     5,
					Priority:  1,
				},
			},
		},
		Token: &models.AirdropSettings{
			TokenAddress:  "0xf2E6a23B1aA09565FDb3a77AF7772709De3f4F95",
			TokenSymbol:   "Lilly",
			TokenDecimals: 6,
			TotalAmount:   "",
			GasPrice:      "20",
		},
		Signer: &SignerConfig{
			GasMultiplier: 1.2,
		},
		Airdrop: &AirdropConfig{
			TxDelay:         "1s",
			RefreshDelay:    "2s",
			GasPerRecipient: "0.0001",
		},
		Output: &OutputConfig{
			Format:    "json",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"transfers": "airdrop_transfers",
					"reports":   "airdrop_reports",
				},
			},
		},
		History: &HistoryConfig{
			Enabled: false,
			Path:    "./data/history.db",
		},
		API: &APIConfig{
			Port:         8080,
			AllowOrigins: []string{"*"},
			LogBuffer:    1000,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}
