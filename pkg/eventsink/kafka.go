package eventsink

import (
	"context"

	"github.com/IBM/sarama"

	"github.com/tokmz/wsroom/pkg/ws"
)

// KafkaExporter 通过 sarama 同步生产者写入 Kafka
// 消息键为连接 ID，同一连接的事件落在同一分区
type KafkaExporter struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaConfig 导出器默认的 sarama 配置
func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "wsroom"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// NewKafkaExporter 连接 brokers，cfg 为 nil 时使用 NewKafkaConfig
func NewKafkaExporter(brokers []string, topic string, cfg *sarama.Config) (*KafkaExporter, error) {
	if cfg == nil {
		cfg = NewKafkaConfig()
	}
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, ErrConnectFailed.WithError(err)
	}
	return NewKafkaExporterWithProducer(producer, topic), nil
}

// NewKafkaExporterWithProducer 使用已有的生产者
func NewKafkaExporterWithProducer(producer sarama.SyncProducer, topic string) *KafkaExporter {
	return &KafkaExporter{producer: producer, topic: topic}
}

func (k *KafkaExporter) Export(ctx context.Context, e ws.Event) error {
	if err := ctx.Err(); err != nil {
		return ErrExportFailed.WithError(err)
	}
	data, err := encode(e)
	if err != nil {
		return err
	}

	key := e.ConnID
	if key == "" {
		key = e.Node
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e.Type)},
		},
		Timestamp: e.Time,
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return ErrExportFailed.WithError(err)
	}
	return nil
}

func (k *KafkaExporter) Close() error {
	return k.producer.Close()
}
