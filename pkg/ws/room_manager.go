package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/wsroom/pkg/logger"
)

// RoomManager 房间管理器
//
// 房间在首次按名引用时创建，只有 Delete 或空闲超时清理会销毁房间，
// 非空房间不会被隐式销毁。
type RoomManager struct {
	config     RoomConfig
	logger     logger.Logger
	metrics    Metrics
	serializer Serializer

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRoomManager 创建房间管理器
func NewRoomManager(config RoomConfig, l logger.Logger, m Metrics) *RoomManager {
	if l == nil {
		l = logger.Nop()
	}
	if m == nil {
		m = NoopMetrics{}
	}
	return &RoomManager{
		config:     config,
		logger:     l,
		metrics:    m,
		serializer: defaultSerializer,
		rooms:      make(map[string]*Room),
	}
}

func (rm *RoomManager) newRoom(name string) *Room {
	return NewRoom(name,
		WithRoomCapacity(rm.config.MaxRoomSize),
		WithRoomLogger(rm.logger),
		WithRoomMetrics(rm.metrics),
		WithRoomSerializer(rm.serializer),
	)
}

// Room 获取或创建房间
func (rm *RoomManager) Room(name string) *Room {
	rm.mu.RLock()
	room, ok := rm.rooms[name]
	rm.mu.RUnlock()
	if ok {
		return room
	}

	rm.mu.Lock()
	room, ok = rm.rooms[name]
	if !ok {
		room = rm.newRoom(name)
		rm.rooms[name] = room
	}
	n := len(rm.rooms)
	rm.mu.Unlock()

	if !ok {
		rm.metrics.SetRoomCount(n)
	}
	return room
}

// Create 显式创建房间，已存在时返回 ErrRoomExists
func (rm *RoomManager) Create(name string) (*Room, error) {
	rm.mu.Lock()
	if _, ok := rm.rooms[name]; ok {
		rm.mu.Unlock()
		return nil, ErrRoomExists
	}
	room := rm.newRoom(name)
	rm.rooms[name] = room
	n := len(rm.rooms)
	rm.mu.Unlock()

	rm.metrics.SetRoomCount(n)
	return room, nil
}

// Get 获取房间
func (rm *RoomManager) Get(name string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	room, ok := rm.rooms[name]
	return room, ok
}

// Delete 销毁房间并移除所有成员
func (rm *RoomManager) Delete(name string) bool {
	rm.mu.Lock()
	room, ok := rm.rooms[name]
	if ok {
		delete(rm.rooms, name)
	}
	n := len(rm.rooms)
	rm.mu.Unlock()

	if !ok {
		return false
	}
	room.detachAll()
	rm.metrics.DeleteRoom(name)
	rm.metrics.SetRoomCount(n)
	return true
}

// Join 连接加入指定房间（不存在时创建）
func (rm *RoomManager) Join(c *Connection, name string) error {
	for {
		room := rm.Room(name)
		if err := room.Join(c); err != nil {
			return err
		}
		// 加入期间房间可能被清理任务移除，此时改为加入新房间
		rm.mu.RLock()
		cur := rm.rooms[name]
		rm.mu.RUnlock()
		if cur == room {
			return nil
		}
		room.Leave(c)
	}
}

// Leave 连接离开指定房间
func (rm *RoomManager) Leave(c *Connection, name string) bool {
	room, ok := rm.Get(name)
	if !ok {
		return false
	}
	return room.Leave(c)
}

// RemoveFromAll 从所有房间移除连接，返回离开的房间名
func (rm *RoomManager) RemoveFromAll(c *Connection) []string {
	var left []string
	for _, room := range rm.list() {
		if room.Leave(c) {
			left = append(left, room.Name())
		}
	}
	return left
}

// RoomsOf 连接所在的房间
func (rm *RoomManager) RoomsOf(c *Connection) []string {
	var names []string
	for _, room := range rm.list() {
		for _, m := range room.Members() {
			if m == c {
				names = append(names, room.Name())
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// Count 房间数量
func (rm *RoomManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// Names 所有房间名（已排序）
func (rm *RoomManager) Names() []string {
	rm.mu.RLock()
	names := make([]string, 0, len(rm.rooms))
	for name := range rm.rooms {
		names = append(names, name)
	}
	rm.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (rm *RoomManager) list() []*Room {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*Room, 0, len(rm.rooms))
	for _, room := range rm.rooms {
		out = append(out, room)
	}
	return out
}

// RunCleanup 定期清理空闲超时的空房间，直到 ctx 取消
func (rm *RoomManager) RunCleanup(ctx context.Context) {
	if rm.config.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(rm.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rm.cleanupEmptyRooms(time.Now()); n > 0 {
				rm.logger.Debug("Empty rooms removed", zap.Int("count", n))
			}
		}
	}
}

// cleanupEmptyRooms 删除空闲超过 EmptyRoomTTL 的房间
func (rm *RoomManager) cleanupEmptyRooms(now time.Time) int {
	removed := 0
	rm.mu.Lock()
	for name, room := range rm.rooms {
		idle, ok := room.idleFor(now)
		if ok && idle >= rm.config.EmptyRoomTTL {
			delete(rm.rooms, name)
			rm.metrics.DeleteRoom(name)
			removed++
		}
	}
	n := len(rm.rooms)
	rm.mu.Unlock()

	if removed > 0 {
		rm.metrics.SetRoomCount(n)
	}
	return removed
}
