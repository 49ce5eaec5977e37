package acceptor

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"

	network "github.com/lk2023060901/chatrelay-go/internal/network"
	"github.com/lk2023060901/chatrelay-go/internal/network/session"
	"github.com/lk2023060901/chatrelay-go/pkg/util/conc"
)

// BaseAcceptor 是 Acceptor 接口的基础 TCP 实现。
//
// 设计目标：
//   - 对外只暴露 Acceptor 接口和 Handler 回调，不绑定具体业务逻辑；
//   - 内部负责：接受连接、分配会话 ID、驱动读循环并回调 Handler；
//   - 每个连接只有一个读协程，同一 Session 上的回调串行执行；
//   - 连接协程来自 conc.Pool，回调 panic 只会结束当前连接。
type BaseAcceptor struct {
	ln    net.Listener
	cfg   Config
	ids   session.IDGenerator
	conns *session.BaseSessionManager
	pool  *conc.Pool[struct{}]

	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

// 确保 BaseAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*BaseAcceptor)(nil)

// NewBaseAcceptor 使用已有的 Listener 创建一个基础接入器。
func NewBaseAcceptor(ln net.Listener, cfg Config) (*BaseAcceptor, error) {
	if ln == nil {
		return nil, errors.New("acceptor: listener is nil")
	}
	def := defaultConfig()
	if cfg.Framer == nil {
		cfg.Framer = def.Framer
	}
	if cfg.AcceptBackoffMax <= 0 {
		cfg.AcceptBackoffMax = def.AcceptBackoffMax
	}
	return &BaseAcceptor{
		ln:    ln,
		cfg:   cfg,
		conns: session.NewBaseSessionManager(),
		// 容量 0 表示不限制，连接数上限由上层的注册表负责。
		pool: conc.NewPool[struct{}](0,
			conc.WithName("acceptor"),
			conc.WithConcealPanic(true),
		),
	}, nil
}

// NewTCPAcceptor 在给定地址上监听 TCP，并创建一个基础接入器。
//
// 参数：
//   - addr：监听地址，例如 "0.0.0.0:8080"；
//   - cfg ：会话层配置。
func NewTCPAcceptor(addr string, cfg Config) (*BaseAcceptor, error) {
	if addr == "" {
		return nil, errors.New("acceptor: addr is empty")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "acceptor: listen on %s", addr)
	}
	return NewBaseAcceptor(ln, cfg)
}

// Addr 实现 Acceptor.Addr。
func (a *BaseAcceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Connections 实现 Acceptor.Connections。
func (a *BaseAcceptor) Connections() int {
	return a.conns.Count()
}

// Serve 实现 Acceptor.Serve。
func (a *BaseAcceptor) Serve(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("acceptor: handler is nil")
	}

	// ctx 取消时关闭监听器，让阻塞中的 Accept 返回。
	stop := context.AfterFunc(ctx, func() { _ = a.Close() })
	defer stop()

	defer func() {
		_ = a.conns.CloseAll()
		a.wg.Wait()
		a.pool.Release()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = a.cfg.AcceptBackoffMax
	bo.MaxElapsedTime = 0

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if a.closed.Load() || errors.Is(err, net.ErrClosed) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}

			// 其他错误（例如 fd 耗尽）只记录并退避，接入循环不会因此退出。
			h.OnError(nil, network.StageAccept, network.StageError(network.StageAccept, err))
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		bo.Reset()

		var started atomic.Bool
		a.wg.Add(1)
		future := a.pool.Submit(func() (struct{}, error) {
			started.Store(true)
			defer a.wg.Done()
			a.handleConnection(ctx, conn, h)
			return struct{}{}, nil
		})
		select {
		case <-future.Done():
			// 提交失败时 future 同步完成并携带错误，任务不会被执行。
			if err := future.Err(); err != nil && !started.Load() {
				a.wg.Done()
				_ = conn.Close()
				h.OnError(nil, network.StageAccept, network.StageError(network.StageAccept, err))
			}
		default:
		}
	}
}

// Close 实现 Acceptor.Close。
func (a *BaseAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		err = a.ln.Close()
	})
	return err
}

// handleConnection 处理单个连接的生命周期。
//
// 流程：
//  1. 分配会话 ID 并创建 Session；
//  2. 调用 Handler.OnAccept，返回错误时直接关闭连接；
//  3. 在当前协程中循环读取消息并回调 Handler.OnMessage；
//  4. 读失败或连接被关闭后，回调 Handler.OnSessionClosed 并关闭连接。
func (a *BaseAcceptor) handleConnection(ctx context.Context, conn net.Conn, h Handler) {
	sess := session.NewBaseSession(ctx, a.ids.Next(), conn, a.cfg.Framer,
		session.WithWriteTimeout(a.cfg.WriteTimeout))
	defer func() {
		_ = sess.Close()
	}()

	if err := a.conns.Register(sess); err != nil {
		h.OnError(sess, network.StageAccept, err)
		return
	}
	defer func() {
		_ = a.conns.Unregister(sess.ID())
	}()

	// 上层取消时关闭连接，阻塞中的读取随之返回。
	stop := context.AfterFunc(sess.Context(), func() { _ = sess.Close() })
	defer stop()

	if err := h.OnAccept(sess); err != nil {
		return
	}

	cause := a.readLoop(sess, h)
	h.OnSessionClosed(sess, cause)
}

// readLoop 持续从连接中读取消息并同步回调 OnMessage。
//
// 返回值：
//   - nil 表示正常结束（对端关闭连接，或本端已经关闭了会话）；
//   - 非 nil 表示读取过程中发生的错误。
func (a *BaseAcceptor) readLoop(sess *session.BaseSession, h Handler) error {
	for {
		msg, err := sess.ReadMessage()
		if err != nil {
			if sess.Closed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			err = network.StageError(network.StageRecv, err)
			h.OnError(sess, network.StageRecv, err)
			return err
		}
		if msg == "" {
			continue
		}

		h.OnMessage(sess, msg)
		if sess.Closed() {
			return nil
		}
	}
}
