package ws

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/wsroom/pkg/logger"
)

// BusMessage 跨节点广播消息
type BusMessage struct {
	Node    string    `json:"node"`
	Room    string    `json:"room"`
	Type    FrameType `json:"type"`
	Payload []byte    `json:"payload"`
}

// Bus 跨节点广播总线
type Bus interface {
	// Publish 发布一条房间广播
	Publish(ctx context.Context, msg BusMessage) error
	// Subscribe 阻塞接收所有房间广播，直到 ctx 取消
	Subscribe(ctx context.Context, fn func(BusMessage)) error
	Close() error
}

// RedisBus 基于 Redis Pub/Sub 的总线
// 每个房间一个频道 <prefix>room:<name>，订阅端使用模式订阅 <prefix>room:*
type RedisBus struct {
	client     redis.UniversalClient
	prefix     string
	logger     logger.Logger
	serializer Serializer
}

// NewRedisBus 创建 Redis 总线
func NewRedisBus(client redis.UniversalClient, prefix string, l logger.Logger) *RedisBus {
	if l == nil {
		l = logger.Nop()
	}
	return &RedisBus{
		client:     client,
		prefix:     prefix,
		logger:     l,
		serializer: defaultSerializer,
	}
}

// channel 房间对应的频道名
func (b *RedisBus) channel(room string) string {
	return b.prefix + "room:" + room
}

// pattern 订阅模式
func (b *RedisBus) pattern() string {
	return b.prefix + "room:*"
}

// roomOf 从频道名解析房间名
func (b *RedisBus) roomOf(channel string) string {
	return strings.TrimPrefix(channel, b.prefix+"room:")
}

func (b *RedisBus) encode(msg BusMessage) ([]byte, error) {
	data, err := b.serializer.Marshal(msg)
	if err != nil {
		return nil, ErrSerialization.WithError(err)
	}
	return data, nil
}

func (b *RedisBus) decode(channel, payload string) (BusMessage, error) {
	var msg BusMessage
	if err := b.serializer.Unmarshal([]byte(payload), &msg); err != nil {
		return BusMessage{}, ErrSerialization.WithError(err)
	}
	if msg.Room == "" {
		msg.Room = b.roomOf(channel)
	}
	return msg, nil
}

func (b *RedisBus) Publish(ctx context.Context, msg BusMessage) error {
	data, err := b.encode(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel(msg.Room), data).Err(); err != nil {
		return ErrTransport.WithError(err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func(BusMessage)) error {
	ps := b.client.PSubscribe(ctx, b.pattern())
	defer ps.Close()

	// 等待订阅确认
	if _, err := ps.Receive(ctx); err != nil {
		return ErrTransport.WithError(err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := b.decode(m.Channel, m.Payload)
			if err != nil {
				b.logger.Warn("Bus message dropped", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			fn(msg)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

// MemoryBus 进程内总线，多个 Hub 共享同一实例时行为与 RedisBus 一致
// 订阅者缓冲区满时消息被丢弃
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[int]chan BusMessage
	nextID int
	closed bool
}

// NewMemoryBus 创建进程内总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan BusMessage)}
}

func (b *MemoryBus) Publish(ctx context.Context, msg BusMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrTransport.WithMessage("bus closed")
	}
	// 订阅者积压时丢弃，与 Redis Pub/Sub 对慢消费者的处理一致
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, fn func(BusMessage)) error {
	ch := make(chan BusMessage, 64)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrTransport.WithMessage("bus closed")
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			fn(msg)
		}
	}
}

// Subscribers 当前订阅者数量
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
