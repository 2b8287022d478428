package ws

import "sync/atomic"

const maxPort = 65535

// PortAllocator 单调递增的端口分配器，进程生命周期内不复用
//
// base 为 0 时进入临时端口模式：每次返回 0，由操作系统分配实际端口。
type PortAllocator struct {
	base int
	next atomic.Int64
}

// NewPortAllocator 从 base 开始分配
func NewPortAllocator(base int) *PortAllocator {
	p := &PortAllocator{base: base}
	p.next.Store(int64(base))
	return p
}

// Next 分配下一个端口，超出范围返回 ErrAllocation
func (p *PortAllocator) Next() (int, error) {
	if p.base == 0 {
		return 0, nil
	}
	n := p.next.Add(1) - 1
	if n <= 0 || n > maxPort {
		return 0, ErrAllocation.WithMessage("port range exhausted")
	}
	return int(n), nil
}

// Base 起始端口
func (p *PortAllocator) Base() int { return p.base }
