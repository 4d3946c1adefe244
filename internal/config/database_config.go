package config

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"airdrop/pkg/models"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// 代币设置在airdrop_settings表中的键
const (
	settingTokenAddress  = "token_address"
	settingTokenSymbol   = "token_symbol"
	settingTokenDecimals = "token_decimals"
	settingTotalAmount   = "total_amount"
	settingGasPrice      = "gas_price"
	settingChainID       = "chain_id"
	settingExplorerURL   = "explorer_url"
)

// DatabaseConfig 数据库配置源，保存节点列表和代币设置
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{DB: db, logger: logger}, nil
}

// LoadInto 用数据库中的节点和代币设置覆盖配置
func (dc *DatabaseConfig) LoadInto(config *Config) error {
	nodes, err := dc.loadNodes()
	if err != nil {
		return fmt.Errorf("加载节点配置失败: %w", err)
	}
	if len(nodes) > 0 {
		config.Chain.Nodes = nodes
	}

	settings, err := dc.loadSettings()
	if err != nil {
		return fmt.Errorf("加载代币设置失败: %w", err)
	}
	applySettings(config, settings)
	return nil
}

// loadNodes 按优先级读取启用的节点
func (dc *DatabaseConfig) loadNodes() ([]*NodeConfig, error) {
	query := `SELECT name, url, rate_limit, burst, priority FROM airdrop_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		if err := rows.Scan(&node.Name, &node.URL, &node.RateLimit, &node.Burst, &node.Priority); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// loadSettings 读取键值形式的设置
func (dc *DatabaseConfig) loadSettings() (map[string]string, error) {
	query := `SELECT config_key, config_value FROM airdrop_settings WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// applySettings 把键值设置写入配置，无法解析的值忽略
func applySettings(config *Config, settings map[string]string) {
	for key, value := range settings {
		switch key {
		case settingTokenAddress:
			config.Token.TokenAddress = value
		case settingTokenSymbol:
			config.Token.TokenSymbol = value
		case settingTokenDecimals:
			if v, err := strconv.Atoi(value); err == nil {
				config.Token.TokenDecimals = v
			}
		case settingTotalAmount:
			config.Token.TotalAmount = value
		case settingGasPrice:
			config.Token.GasPrice = value
		case settingChainID:
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				config.Chain.ChainID = v
			}
		case settingExplorerURL:
			config.Chain.ExplorerURL = value
		}
	}
}

// settingsToMap 代币设置转为键值
func settingsToMap(s *models.AirdropSettings) map[string]string {
	return map[string]string{
		settingTokenAddress:  s.TokenAddress,
		settingTokenSymbol:   s.TokenSymbol,
		settingTokenDecimals: strconv.Itoa(s.TokenDecimals),
		settingTotalAmount:   s.TotalAmount,
		settingGasPrice:      s.GasPrice,
	}
}

// SaveSettings 保存代币设置
func (dc *DatabaseConfig) SaveSettings(ctx context.Context, s *models.AirdropSettings) error {
	tx, err := dc.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO airdrop_settings (config_key, config_value, is_active, updated_at)
		VALUES ($1, $2, true, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, is_active = true, updated_at = CURRENT_TIMESTAMP
	`
	for key, value := range settingsToMap(s) {
		if _, err := tx.ExecContext(ctx, query, key, value); err != nil {
			return fmt.Errorf("保存设置 %s 失败: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	dc.logger.Infof("代币设置已保存: %s (%s)", s.TokenSymbol, s.TokenAddress)
	return nil
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
