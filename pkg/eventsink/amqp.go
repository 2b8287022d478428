package eventsink

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tokmz/wsroom/pkg/ws"
)

// Channel 导出器使用的 amqp091 通道方法
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPExporter 发布到 RabbitMQ topic 交换机，路由键为事件类型
type AMQPExporter struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
}

// DialAMQP 建立连接并声明持久化的 topic 交换机
func DialAMQP(url, exchange string) (*AMQPExporter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, ErrConnectFailed.WithError(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, ErrConnectFailed.WithError(err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, ErrConnectFailed.WithError(err)
	}

	exp := NewAMQPExporter(ch, exchange)
	exp.conn = conn
	return exp, nil
}

// NewAMQPExporter 使用已有的通道
func NewAMQPExporter(ch Channel, exchange string) *AMQPExporter {
	return &AMQPExporter{ch: ch, exchange: exchange}
}

func (a *AMQPExporter) Export(ctx context.Context, e ws.Event) error {
	data, err := encode(e)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Time,
		Type:         string(e.Type),
		AppId:        e.Node,
		Body:         data,
	}
	if err := a.ch.PublishWithContext(ctx, a.exchange, string(e.Type), false, false, msg); err != nil {
		return ErrExportFailed.WithError(err)
	}
	return nil
}

func (a *AMQPExporter) Close() error {
	err := a.ch.Close()
	if a.conn != nil {
		if cerr := a.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
