package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"airdrop/internal/config"
	"airdrop/pkg/models"

	"github.com/sirupsen/logrus"
)

// Output 结果输出接口
type Output interface {
	WriteResult(result *models.TransferResult) error
	WriteReport(report *models.RunReport) error
	Close() error
}

// NewOutput 按配置创建输出器: json(默认), kafka, none
func NewOutput(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if cfg == nil {
		cfg = config.GetDefaultConfig().Output
	}

	switch cfg.Format {
	case "none":
		return NopOutput{}, nil
	case "kafka":
		brokers := []string{"localhost:9092"}
		topics := map[string]string{
			"transfers": "airdrop_transfers",
			"reports":   "airdrop_reports",
		}
		if cfg.Kafka != nil {
			if len(cfg.Kafka.Brokers) > 0 {
				brokers = cfg.Kafka.Brokers
			}
			if len(cfg.Kafka.Topics) > 0 {
				topics = cfg.Kafka.Topics
			}
		}
		return NewKafkaOutput(brokers, topics, logger)
	case "json", "":
		return NewFileOutput(cfg.Directory)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// NopOutput 丢弃所有输出
type NopOutput struct{}

func (NopOutput) WriteResult(*models.TransferResult) error { return nil }
func (NopOutput) WriteReport(*models.RunReport) error      { return nil }
func (NopOutput) Close() error                             { return nil }

// FileOutput 以JSON Lines写入逐笔结果和运行报告
type FileOutput struct {
	outputDir  string
	mu         sync.Mutex
	resultFile *os.File
	reportFile *os.File
}

// NewFileOutput 在目录下创建带时间戳的结果文件和报告文件
func NewFileOutput(outputPath string) (*FileOutput, error) {
	if outputPath == "" {
		outputPath = "./outputs"
	}
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")

	resultFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("transfers_%s.json", timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建转账结果文件失败: %w", err)
	}
	reportFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("reports_%s.json", timestamp)))
	if err != nil {
		resultFile.Close()
		return nil, fmt.Errorf("创建报告文件失败: %w", err)
	}

	return &FileOutput{
		outputDir:  outputPath,
		resultFile: resultFile,
		reportFile: reportFile,
	}, nil
}

// WriteResult 写入单笔转账结果
func (o *FileOutput) WriteResult(result *models.TransferResult) error {
	if result == nil {
		return nil
	}
	return o.writeLine(o.resultFile, result, "转账结果")
}

// WriteReport 写入运行报告
func (o *FileOutput) WriteReport(report *models.RunReport) error {
	if report == nil {
		return nil
	}
	return o.writeLine(o.reportFile, report, "运行报告")
}

func (o *FileOutput) writeLine(f *os.File, v interface{}, kind string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化%s失败: %w", kind, err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("写入%s文件失败: %w", kind, err)
	}
	// 强制刷新到磁盘
	if err := f.Sync(); err != nil {
		return fmt.Errorf("刷新%s文件失败: %w", kind, err)
	}
	return nil
}

// Dir 输出目录
func (o *FileOutput) Dir() string {
	return o.outputDir
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	if o.resultFile != nil {
		if err := o.resultFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭转账结果文件失败: %w", err))
		}
		o.resultFile = nil
	}
	if o.reportFile != nil {
		if err := o.reportFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭报告文件失败: %w", err))
		}
		o.reportFile = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errs)
	}
	return nil
}
