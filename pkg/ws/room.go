package ws

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/wsroom/pkg/logger"
)

// Room 命名的广播组
//
// 成员只在 mu 保护下修改。广播先在锁内复制成员快照，
// 释放锁后逐个发送，最后再加锁剔除已关闭的成员，锁不会跨越任何 I/O。
type Room struct {
	name       string
	capacity   int // 0 表示不限制
	logger     logger.Logger
	metrics    Metrics
	serializer Serializer
	createdAt  time.Time

	mu         sync.Mutex
	members    []*Connection
	emptySince time.Time // 零值表示当前非空
}

// RoomOption 房间选项
type RoomOption func(*Room)

// WithRoomCapacity 设置房间容量
func WithRoomCapacity(n int) RoomOption {
	return func(r *Room) {
		r.capacity = n
	}
}

// WithRoomLogger 设置日志
func WithRoomLogger(l logger.Logger) RoomOption {
	return func(r *Room) {
		r.logger = l
	}
}

// WithRoomMetrics 设置监控
func WithRoomMetrics(m Metrics) RoomOption {
	return func(r *Room) {
		r.metrics = m
	}
}

// WithRoomSerializer 设置 BroadcastJSON 使用的序列化器
func WithRoomSerializer(s Serializer) RoomOption {
	return func(r *Room) {
		r.serializer = s
	}
}

// NewRoom 创建房间
func NewRoom(name string, opts ...RoomOption) *Room {
	now := time.Now()
	r := &Room{
		name:       name,
		logger:     logger.Nop(),
		metrics:    NoopMetrics{},
		serializer: defaultSerializer,
		createdAt:  now,
		emptySince: now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name 房间名
func (r *Room) Name() string { return r.name }

// CreatedAt 创建时间
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Join 加入房间，重复加入是幂等的
func (r *Room) Join(c *Connection) error {
	r.mu.Lock()
	// 关闭路径先置 open=false 再 RemoveFromAll，锁内检查保证不会留下已关闭的成员
	if !c.IsOpen() {
		r.mu.Unlock()
		return ErrConnectionClosed
	}
	for _, m := range r.members {
		if m == c {
			r.mu.Unlock()
			return nil
		}
	}
	if r.capacity > 0 && len(r.members) >= r.capacity {
		r.mu.Unlock()
		return ErrAllocation.WithMessage("room is full")
	}
	r.members = append(r.members, c)
	r.emptySince = time.Time{}
	n := len(r.members)
	r.mu.Unlock()

	r.metrics.SetRoomMemberCount(r.name, n)
	return nil
}

// Leave 移除第一个相同的句柄，不存在时返回 false
func (r *Room) Leave(c *Connection) bool {
	r.mu.Lock()
	idx := -1
	for i, m := range r.members {
		if m == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	copy(r.members[idx:], r.members[idx+1:])
	r.members[len(r.members)-1] = nil
	r.members = r.members[:len(r.members)-1]
	n := r.markEmptyLocked()
	r.mu.Unlock()

	r.metrics.SetRoomMemberCount(r.name, n)
	return true
}

// Count 成员数量
func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// IsEmpty 是否没有成员
func (r *Room) IsEmpty() bool {
	return r.Count() == 0
}

// Members 成员快照
func (r *Room) Members() []*Connection {
	return r.snapshot()
}

// Broadcast 向所有打开的成员发送文本，返回成功送达的数量
func (r *Room) Broadcast(msg string) int {
	return r.BroadcastFrame(TextFrame(msg), nil)
}

// BroadcastBinary 向所有打开的成员发送二进制数据
func (r *Room) BroadcastBinary(data []byte) int {
	return r.BroadcastFrame(BinaryFrame(data), nil)
}

// BroadcastJSON 编码一次后以文本帧广播
// 编码失败返回 ErrSerialization，成员不受影响
func (r *Room) BroadcastJSON(v any) (int, error) {
	data, err := r.serializer.Marshal(v)
	if err != nil {
		return 0, ErrSerialization.WithError(err)
	}
	return r.BroadcastFrame(Frame{Type: FrameText, Data: data}, nil), nil
}

// BroadcastFrame 广播一帧，exclude 不为 nil 时跳过该连接
//
// 单个成员发送失败只记录日志并继续，不会中断其余成员的投递。
// 返回前剔除所有已关闭的成员。
func (r *Room) BroadcastFrame(f Frame, exclude *Connection) int {
	start := time.Now()
	snapshot := r.snapshot()

	delivered := 0
	for _, c := range snapshot {
		if c == exclude || !c.IsOpen() {
			continue
		}
		if err := c.SendFrame(f); err != nil {
			r.metrics.IncrementWriteErrors()
			r.logger.Debug("Broadcast send failed",
				zap.String("room", r.name),
				zap.String("conn_id", c.ID()),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}

	r.prune()
	r.metrics.RecordBroadcast(r.name, delivered, time.Since(start))
	return delivered
}

// snapshot 锁内复制成员列表
func (r *Room) snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, len(r.members))
	copy(out, r.members)
	return out
}

// prune 原地压缩，只保留打开的成员
func (r *Room) prune() {
	r.mu.Lock()
	kept := r.members[:0]
	for _, c := range r.members {
		if c.IsOpen() {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(r.members); i++ {
		r.members[i] = nil
	}
	removed := len(r.members) - len(kept)
	r.members = kept
	n := r.markEmptyLocked()
	r.mu.Unlock()

	if removed > 0 {
		r.metrics.SetRoomMemberCount(r.name, n)
	}
}

// detachAll 清空成员，返回被移除的连接
func (r *Room) detachAll() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.members
	r.members = nil
	r.markEmptyLocked()
	return out
}

// idleFor 空闲时长，非空房间返回 false
func (r *Room) idleFor(now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 || r.emptySince.IsZero() {
		return 0, false
	}
	return now.Sub(r.emptySince), true
}

// markEmptyLocked 记录变空的时间，调用方必须持有 mu
func (r *Room) markEmptyLocked() int {
	n := len(r.members)
	if n == 0 && r.emptySince.IsZero() {
		r.emptySince = time.Now()
	}
	return n
}
