package output

import (
	"fmt"
	"time"

	"airdrop/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string // 数据类型到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)

	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaOutputWithProducer(producer, topics, logger), nil
}

// ProducerConfig 同步生产者配置
func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0
	return config
}

// NewKafkaOutputWithProducer 使用已有生产者
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaOutput {
	if topics == nil {
		topics = map[string]string{}
	}
	return &KafkaOutput{
		logger:   logger,
		topics:   topics,
		producer: producer,
	}
}

func (k *KafkaOutput) topic(kind, fallback string) string {
	if topic, ok := k.topics[kind]; ok && topic != "" {
		return topic
	}
	return fallback
}

// send 发送消息，key保证同一接收方或同一运行的消息落在同一分区
func (k *KafkaOutput) send(topic, key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.Debugf("成功发送数据到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// WriteResult 写入单笔转账结果
func (k *KafkaOutput) WriteResult(result *models.TransferResult) error {
	if result == nil {
		return nil
	}
	payload, err := result.ToKafkaMessage()
	if err != nil {
		return fmt.Errorf("序列化转账结果失败: %w", err)
	}
	return k.send(k.topic("transfers", "airdrop_transfers"), result.Address, payload)
}

// WriteReport 写入运行报告
func (k *KafkaOutput) WriteReport(report *models.RunReport) error {
	if report == nil {
		return nil
	}
	payload, err := report.ToKafkaMessage()
	if err != nil {
		return fmt.Errorf("序列化运行报告失败: %w", err)
	}
	return k.send(k.topic("reports", "airdrop_reports"), report.ID, payload)
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
