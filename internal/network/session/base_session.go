package session

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/lk2023060901/chatrelay-go/internal/network/framer"
	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
)

// BaseSession 提供了基于 net.Conn 的 Session 实现。
//
// 写路径：
//   - Send 在 writeMu 保护下同步写出，保证一条消息只对应一次 Write；
//   - 配置了 writeTimeout 时每次写之前设置 deadline，超时视为本次发送失败。
//
// 读路径：
//   - ReadMessage 只能由接入层的读协程调用。
type BaseSession struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn   net.Conn
	framer framer.Framer
	reader framer.Reader

	remoteAddr net.Addr
	localAddr  net.Addr

	writeTimeout time.Duration
	writeMu      sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
}

// 确保 BaseSession 实现了 Session 接口。
var _ Session = (*BaseSession)(nil)

// Option 用于定制 BaseSession。
type Option func(s *BaseSession)

// WithWriteTimeout 为每次 Send 设置写超时，0 表示不设置。
func WithWriteTimeout(d time.Duration) Option {
	return func(s *BaseSession) {
		s.writeTimeout = d
	}
}

// NewBaseSession 创建一个基于 net.Conn 的基础 Session 实例。
//
// 参数：
//   - parent：会话所属的上层上下文；若为 nil，则使用 context.Background()；
//   - id    ：会话 ID，由 IDGenerator 分配；
//   - conn  ：底层网络连接，所有权转移给会话；
//   - f     ：消息边界策略，读写共用。
func NewBaseSession(parent context.Context, id uint64, conn net.Conn, f framer.Framer, opts ...Option) *BaseSession {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	s := &BaseSession{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		framer:     f,
		reader:     f.NewReader(conn),
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID 实现 Session.ID。
func (s *BaseSession) ID() uint64 {
	return s.id
}

// Context 实现 Session.Context。
func (s *BaseSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Session.RemoteAddr。
func (s *BaseSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// LocalAddr 实现 Session.LocalAddr。
func (s *BaseSession) LocalAddr() net.Addr {
	return s.localAddr
}

// Send 实现 Session.Send。
func (s *BaseSession) Send(msg string) error {
	if s.closed.Load() {
		return merr.WrapErrSessionClosed(s.id)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if err := s.framer.WriteFrame(s.conn, msg); err != nil {
		if s.closed.Load() {
			return merr.WrapErrSessionClosed(s.id, err.Error())
		}
		return merr.WrapErrTransportFailure(s.id, err)
	}
	return nil
}

// ReadMessage 阻塞读取下一条消息。
// 连接被 Close 后，阻塞中的读取会返回错误，调用方应将其视为普通断开。
func (s *BaseSession) ReadMessage() (string, error) {
	return s.reader.ReadFrame()
}

// Close 实现 Session.Close。
func (s *BaseSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// 先取消上下文，再关闭连接。
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

// Closed 实现 Session.Closed。
func (s *BaseSession) Closed() bool {
	return s.closed.Load()
}

// IDGenerator 分配进程内唯一的会话 ID，从 1 开始递增。
type IDGenerator struct {
	next atomic.Uint64
}

// Next 返回下一个会话 ID，并发安全。
func (g *IDGenerator) Next() uint64 {
	return g.next.Inc()
}
