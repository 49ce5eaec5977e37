package connector

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"

	network "github.com/lk2023060901/chatrelay-go/internal/network"
	"github.com/lk2023060901/chatrelay-go/internal/network/framer"
	"github.com/lk2023060901/chatrelay-go/internal/network/session"
	"github.com/lk2023060901/chatrelay-go/pkg/util/conc"
)

// Config 描述客户端连接的基础配置。
type Config struct {
	// Framer 为当前连接使用的消息边界策略，需与服务器保持一致。
	Framer framer.Framer

	WriteTimeout time.Duration
	DialTimeout  time.Duration

	// MaxAttempts 为拨号的最大尝试次数（含第一次），<= 0 时使用默认值。
	MaxAttempts int

	// 拨号失败后的指数退避参数。
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func defaultConfig() Config {
	return Config{
		Framer:         framer.NewRawFramer(framer.DefaultBufferSize),
		DialTimeout:    5 * time.Second,
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// ClientConn 抽象了客户端侧的一条连接。
//
// 注意：客户端连接不包含会话 ID 概念。
type ClientConn interface {
	Context() context.Context
	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	Send(msg string) error

	// Done 在连接关闭、接收协程退出后关闭。
	Done() <-chan struct{}

	Close() error
}

// ConnectorHandler 描述客户端在各阶段的回调能力。
//
// OnMessage 与 OnClosed 在同一个接收协程中串行调用。
type ConnectorHandler interface {
	OnConnected(conn ClientConn)
	OnMessage(conn ClientConn, msg string)

	// OnClosed 在连接结束时调用一次。
	// err 为 nil 表示本端主动关闭；io.EOF 表示对端关闭了连接。
	OnClosed(conn ClientConn, err error)

	OnError(conn ClientConn, stage network.Stage, err error)
}

// Connector 抽象了客户端的拨号器。
type Connector interface {
	Dial(ctx context.Context, addr string, h ConnectorHandler) (ClientConn, error)
}

// tcpConnector 是基于 TCP 的默认 Connector 实现。
type tcpConnector struct {
	cfg Config
}

// NewTCPConnector 创建一个基于 TCP 的 Connector。
func NewTCPConnector(cfg Config) Connector {
	def := defaultConfig()
	if cfg.Framer == nil {
		cfg.Framer = def.Framer
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &tcpConnector{cfg: cfg}
}

// Dial 拨号到 addr，失败时按指数退避重试，直至成功、次数耗尽或 ctx 结束。
func (c *tcpConnector) Dial(ctx context.Context, addr string, h ConnectorHandler) (ClientConn, error) {
	if h == nil {
		return nil, errors.New("connector: handler is nil")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	var conn net.Conn
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "connector: dial %s failed after %d attempt(s)", addr, attempt)
	}

	cc := newTCPClientConn(ctx, conn, c.cfg, h)
	h.OnConnected(cc)
	cc.start()
	return cc, nil
}

// tcpClientConn 是基于 TCP 的 ClientConn 默认实现。
//
// 写路径复用 session.BaseSession：串行写出、可重复关闭。
type tcpClientConn struct {
	sess *session.BaseSession
	h    ConnectorHandler

	done      chan struct{}
	closeOnce sync.Once
}

func newTCPClientConn(ctx context.Context, conn net.Conn, cfg Config, h ConnectorHandler) *tcpClientConn {
	return &tcpClientConn{
		sess: session.NewBaseSession(ctx, 0, conn, cfg.Framer, session.WithWriteTimeout(cfg.WriteTimeout)),
		h:    h,
		done: make(chan struct{}),
	}
}

// start 使用 conc.Go 启动接收协程，避免直接使用原生 go 关键字。
func (c *tcpClientConn) start() {
	_ = conc.Go(func() (struct{}, error) {
		c.recvLoop()
		return struct{}{}, nil
	})
}

// ClientConn 接口实现。

func (c *tcpClientConn) Context() context.Context { return c.sess.Context() }
func (c *tcpClientConn) RemoteAddr() net.Addr     { return c.sess.RemoteAddr() }
func (c *tcpClientConn) LocalAddr() net.Addr      { return c.sess.LocalAddr() }
func (c *tcpClientConn) Done() <-chan struct{}    { return c.done }
func (c *tcpClientConn) Close() error             { return c.sess.Close() }

func (c *tcpClientConn) Send(msg string) error {
	if err := c.sess.Send(msg); err != nil {
		c.h.OnError(c, network.StageSend, err)
		return errors.Mark(err, network.ErrSendFailed)
	}
	return nil
}

func (c *tcpClientConn) finish(cause error) {
	c.closeOnce.Do(func() {
		_ = c.sess.Close()
		c.h.OnClosed(c, cause)
		close(c.done)
	})
}

// recvLoop 持续读取消息并回调 OnMessage，连接结束时回调 OnClosed。
func (c *tcpClientConn) recvLoop() {
	var cause error
	defer func() {
		c.finish(cause)
	}()

	for {
		msg, err := c.sess.ReadMessage()
		if err != nil {
			switch {
			case c.sess.Closed():
				cause = nil
			case errors.Is(err, io.EOF):
				cause = io.EOF
			default:
				cause = network.StageError(network.StageRecv, err)
				c.h.OnError(c, network.StageRecv, cause)
			}
			return
		}
		if msg == "" {
			continue
		}
		c.h.OnMessage(c, msg)
	}
}
