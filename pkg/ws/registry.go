package ws

import "sync"

// Registry 按 ID 查找连接，与房间成员关系相互独立
//
// 连接在 Cleanup 之前被移除，注册表中的连接总是尚未完成清理。
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	maxConns int // 0 表示不限制
}

// NewRegistry 创建注册表
func NewRegistry(maxConns int) *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		maxConns: maxConns,
	}
}

// Register 注册连接，重复 ID 以最后一次为准
// 达到上限且 ID 为新 ID 时返回 ErrAllocation
func (r *Registry) Register(id string, c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; !exists && r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return ErrAllocation.WithMessage("too many connections")
	}
	r.conns[id] = c
	return nil
}

// Remove 按 ID 移除
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// Unregister 仅当 ID 仍指向 c 时移除
func (r *Registry) Unregister(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[c.ID()]; ok && cur == c {
		delete(r.conns, c.ID())
		return true
	}
	return false
}

// Get 按 ID 查找
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Count 连接数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Range 遍历快照，fn 返回 false 时停止
func (r *Registry) Range(fn func(id string, c *Connection) bool) {
	r.mu.RLock()
	snapshot := make(map[string]*Connection, len(r.conns))
	for id, c := range r.conns {
		snapshot[id] = c
	}
	r.mu.RUnlock()

	for id, c := range snapshot {
		if !fn(id, c) {
			return
		}
	}
}
