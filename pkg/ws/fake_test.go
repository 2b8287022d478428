package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// closeCall 记录一次 WriteClose
type closeCall struct {
	code   int
	reason string
}

// fakeRaw 内存 RawConn
type fakeRaw struct {
	mu       sync.Mutex
	frames   []Frame
	closes   []closeCall
	writeErr error
	// stubborn 为 true 时对端不回应关闭帧，只有 Close 能结束读取
	stubborn bool
	closed   bool

	in      chan Frame
	hangup  chan struct{}
	hangOne sync.Once
}

func newFakeRaw() *fakeRaw {
	return &fakeRaw{
		in:     make(chan Frame, 64),
		hangup: make(chan struct{}),
	}
}

func (r *fakeRaw) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f := <-r.in:
		return f, nil
	case <-r.hangup:
		return Frame{}, io.EOF
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (r *fakeRaw) WriteFrame(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	if r.closed {
		return io.ErrClosedPipe
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	r.frames = append(r.frames, Frame{Type: f.Type, Data: data})
	return nil
}

func (r *fakeRaw) WriteClose(code int, reason string) error {
	r.mu.Lock()
	r.closes = append(r.closes, closeCall{code: code, reason: reason})
	stubborn := r.stubborn
	r.mu.Unlock()

	if !stubborn {
		r.peerHangup()
	}
	return nil
}

func (r *fakeRaw) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.peerHangup()
	return nil
}

// peerHangup 模拟对端断开
func (r *fakeRaw) peerHangup() {
	r.hangOne.Do(func() { close(r.hangup) })
}

// send 模拟对端发送文本帧
func (r *fakeRaw) send(s string) {
	r.in <- TextFrame(s)
}

func (r *fakeRaw) setWriteErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr = err
}

func (r *fakeRaw) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, string(f.Data))
	}
	return out
}

func (r *fakeRaw) closeCalls() []closeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]closeCall(nil), r.closes...)
}

func (r *fakeRaw) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// fakeAcceptor 内存 Acceptor
type fakeAcceptor struct {
	addr    string
	pending chan accepted
	done    chan struct{}
	once    sync.Once
}

func newFakeAcceptor(addr string) *fakeAcceptor {
	return &fakeAcceptor{
		addr:    addr,
		pending: make(chan accepted, 16),
		done:    make(chan struct{}),
	}
}

func (a *fakeAcceptor) Accept(ctx context.Context) (*Handshake, RawConn, error) {
	select {
	case p := <-a.pending:
		return p.hs, p.raw, nil
	case <-a.done:
		return nil, nil, ErrAcceptorClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (a *fakeAcceptor) Addr() string { return a.addr }

func (a *fakeAcceptor) Close(ctx context.Context) error {
	a.once.Do(func() { close(a.done) })
	return nil
}

// dial 模拟一次客户端连接
func (a *fakeAcceptor) dial(path string) *fakeRaw {
	raw := newFakeRaw()
	a.pending <- accepted{
		hs: &Handshake{
			Path:       path,
			RemoteAddr: "10.0.0.1:5000",
			Header:     http.Header{"User-Agent": []string{"test"}},
			Query:      url.Values{},
		},
		raw: raw,
	}
	return raw
}

// fakeNet 按路径创建 fakeAcceptor 的工厂
type fakeNet struct {
	mu        sync.Mutex
	acceptors map[string]*fakeAcceptor
	fail      map[string]error
	panicOn   map[string]bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		acceptors: make(map[string]*fakeAcceptor),
		fail:      make(map[string]error),
		panicOn:   make(map[string]bool),
	}
}

func (n *fakeNet) factory(ctx context.Context, reg *Registration) (Acceptor, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail[reg.Path]; err != nil {
		return nil, err
	}
	var acc Acceptor = newFakeAcceptor(fmt.Sprintf("fake:%d", reg.Port))
	n.acceptors[reg.Path] = acc.(*fakeAcceptor)
	if n.panicOn[reg.Path] {
		acc = panicAcceptor{acc.(*fakeAcceptor)}
	}
	return acc, nil
}

func (n *fakeNet) acceptor(path string) *fakeAcceptor {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.acceptors[path]
}

// panicAcceptor Accept 时 panic，用于验证监听协程的隔离
type panicAcceptor struct {
	*fakeAcceptor
}

func (a panicAcceptor) Accept(ctx context.Context) (*Handshake, RawConn, error) {
	panic("accept exploded")
}

// failingJSON 序列化总是失败
type failingJSON struct{}

func (failingJSON) MarshalJSON() ([]byte, error) {
	return nil, errors.New("boom")
}

// newTestConn 构造基于 fakeRaw 的连接
func newTestConn(opts ...ConnectionOption) (*Connection, *fakeRaw) {
	raw := newFakeRaw()
	c := NewConnection(&Handshake{Path: "/test", RemoteAddr: "127.0.0.1:1234"}, raw, opts...)
	return c, raw
}

// waitFor 等待通道收到值
func waitFor[T any](ch <-chan T, d time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(d):
		var zero T
		return zero, false
	}
}
