package chatroom

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lk2023060901/chatrelay-go/internal/network/framer"
	"github.com/lk2023060901/chatrelay-go/internal/network/session"
	"github.com/lk2023060901/chatrelay-go/pkg/log"
	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
)

// fakeSession 是内存中的 session.Session，记录收到的消息。
type fakeSession struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	msgs    []string
	sendErr error

	closed     atomic.Bool
	closeCount atomic.Int32
}

var _ session.Session = (*fakeSession)(nil)

var fakeIDs session.IDGenerator

func newFakeSession() *fakeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{id: fakeIDs.Next(), ctx: ctx, cancel: cancel}
}

func (s *fakeSession) ID() uint64               { return s.id }
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) LocalAddr() net.Addr      { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080} }
func (s *fakeSession) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(40000 + s.id)}
}

func (s *fakeSession) Send(msg string) error {
	if s.closed.Load() {
		return merr.WrapErrSessionClosed(s.id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return merr.WrapErrTransportFailure(s.id, s.sendErr)
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.closeCount.Inc()
		s.cancel()
	}
	return nil
}

func (s *fakeSession) Closed() bool { return s.closed.Load() }

func (s *fakeSession) setSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Messages 返回收到的消息副本。
func (s *fakeSession) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

// Take 返回并清空收到的消息。
func (s *fakeSession) Take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs
	s.msgs = nil
	return msgs
}

// syncBuffer 是并发安全的控制台输出。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Take 返回并清空已写出的内容。
func (b *syncBuffer) Take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

// testConfig 返回监听 127.0.0.1 随机端口的配置。
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	// 端口 0 表示由系统分配，下界相应放宽。
	cfg.Port = 0
	cfg.MinPort = -1
	cfg.Framing = framer.NameLine
	return cfg
}

// newTestServer 创建一个未运行的服务器，测试可以直接驱动它的 handler。
func newTestServer(t *testing.T, cfg Config, opts ...Option) (*Server, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	lg, _, err := log.InitTestLogger(t, &log.Config{Level: "debug", DisableTimestamp: true})
	require.NoError(t, err)
	opts = append([]Option{WithOutput(out), WithLogger(&log.MLogger{Logger: lg})}, opts...)
	srv, err := NewServer(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Close()
	})
	return srv, out
}
