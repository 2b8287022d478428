package ws

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(0)
	c, _ := newTestConn(WithConnID("c1"))

	require.NoError(t, r.Register(c.ID(), c))
	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, r.Count())

	assert.True(t, r.Remove("c1"))
	assert.False(t, r.Remove("c1"))
	_, ok = r.Get("c1")
	assert.False(t, ok)
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry(0)
	first, _ := newTestConn(WithConnID("dup"))
	second, _ := newTestConn(WithConnID("dup"))

	require.NoError(t, r.Register("dup", first))
	require.NoError(t, r.Register("dup", second))

	got, _ := r.Get("dup")
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Count())

	// 旧句柄注销不会影响新句柄
	assert.False(t, r.Unregister(first))
	assert.True(t, r.Unregister(second))
	assert.Zero(t, r.Count())
}

func TestRegistryLimit(t *testing.T) {
	r := NewRegistry(2)
	a, _ := newTestConn(WithConnID("a"))
	b, _ := newTestConn(WithConnID("b"))
	c, _ := newTestConn(WithConnID("c"))

	require.NoError(t, r.Register("a", a))
	require.NoError(t, r.Register("b", b))

	err := r.Register("c", c)
	assert.True(t, errors.Is(err, ErrAllocation))

	// 覆盖已有 ID 不受上限影响
	assert.NoError(t, r.Register("a", a))
	assert.Equal(t, 2, r.Count())
}

func TestRegistryRange(t *testing.T) {
	r := NewRegistry(0)
	for _, id := range []string{"a", "b", "c"} {
		c, _ := newTestConn(WithConnID(id))
		require.NoError(t, r.Register(id, c))
	}

	seen := map[string]bool{}
	r.Range(func(id string, c *Connection) bool {
		assert.Equal(t, id, c.ID())
		seen[id] = true
		// 遍历中修改注册表不会死锁
		r.Remove(id)
		return true
	})
	assert.Len(t, seen, 3)
	assert.Zero(t, r.Count())

	c, _ := newTestConn(WithConnID("x"))
	require.NoError(t, r.Register("x", c))
	require.NoError(t, r.Register("y", c))
	calls := 0
	r.Range(func(string, *Connection) bool {
		calls++
		return false
	})
	assert.Equal(t, 1, calls)
}
