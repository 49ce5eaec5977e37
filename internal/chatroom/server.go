package chatroom

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/blang/semver/v4"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/chatrelay-go/internal/network/acceptor"
	"github.com/lk2023060901/chatrelay-go/internal/network/serializer"
	"github.com/lk2023060901/chatrelay-go/pkg/log"
	"github.com/lk2023060901/chatrelay-go/pkg/metrics"
	"github.com/lk2023060901/chatrelay-go/pkg/util/conc"
	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
)

// Server 组装注册表、消息路由、接入层、运营控制台与关服流程。
//
// 生命周期：
//  1. NewServer 校验配置并绑定监听端口，失败即返回；
//  2. Run 启动接入循环（以及可选的状态接口与控制台），阻塞到关服；
//  3. Shutdown 只由运营路径（控制台或信号）触发，按固定顺序执行一次。
type Server struct {
	log.Binder

	cfg      Config
	version  semver.Version
	registry *Registry
	router   *MessageRouter
	acceptor acceptor.Acceptor
	handler  *clientHandler
	console  *Console
	ser      serializer.Serializer

	status         *http.Server
	statusListener net.Listener
	statusAddr     net.Addr

	consoleIn io.Reader
	out       io.Writer
	outMu     sync.Mutex
	exit      func()

	running      atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// Option 用于定制 Server。
type Option func(s *Server)

// WithConsole 启用运营控制台，命令从 in 读取。
func WithConsole(in io.Reader) Option {
	return func(s *Server) {
		s.consoleIn = in
	}
}

// WithOutput 设置控制台输出，默认为 os.Stdout。
func WithOutput(out io.Writer) Option {
	return func(s *Server) {
		s.out = out
	}
}

// WithExitHook 设置关服流程最后一步调用的函数，通常用于结束进程。
func WithExitHook(fn func()) Option {
	return func(s *Server) {
		s.exit = fn
	}
}

// WithVersion 设置状态接口与日志中报告的版本。
func WithVersion(v semver.Version) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithLogger 使用给定的 Logger 替换默认的 component=chatroom 全局 Logger。
func WithLogger(l *log.MLogger) Option {
	return func(s *Server) {
		s.SetLogger(l.With(log.FieldComponent("chatroom")))
	}
}

// NewServer 校验配置并绑定监听端口。
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f, err := cfg.NewFramer()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(cfg.MaxClients),
		ser:      serializer.JSONSerializer{},
		out:      os.Stdout,
		exit:     func() {},
	}
	s.BindComponent("chatroom")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	s.router = NewMessageRouter(s.registry, cfg.Fanout)

	if s.handler, err = newClientHandler(s); err != nil {
		return nil, err
	}
	if s.consoleIn != nil {
		if s.console, err = newConsole(s, s.consoleIn); err != nil {
			return nil, err
		}
	}

	acc, err := acceptor.NewTCPAcceptor(cfg.Addr(), acceptor.Config{
		Framer:       f,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "bind chat listener")
	}
	s.acceptor = acc

	if cfg.StatusAddr != "" {
		ln, err := net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			_ = acc.Close()
			return nil, errors.Wrapf(err, "bind status listener on %s", cfg.StatusAddr)
		}
		s.statusAddr = ln.Addr()
		s.status = &http.Server{Handler: s.statusHandler()}
		s.statusListener = ln
	}
	return s, nil
}

// Run 启动服务器并阻塞，直到关服完成或 ctx 被取消。
func (s *Server) Run(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return merr.WrapErrServerClosed("run after shutdown")
	}
	if !s.running.CompareAndSwap(false, true) {
		return merr.WrapErrServerInternal("server already running")
	}
	metrics.RegisterOnce(prometheus.DefaultRegisterer)

	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	s.printf(listeningFmt, s.Port())
	s.Logger().Info("chat relay server started",
		zap.String("addr", s.acceptor.Addr().String()),
		zap.String("version", s.version.String()),
		zap.Int("maxClients", s.cfg.MaxClients),
		zap.String("framing", s.cfg.Framing),
		zap.String("fanout", s.cfg.Fanout))

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		err := s.acceptor.Serve(gctx, s.handler)
		if !s.running.Load() || merr.IsCanceledOrTimeout(err) {
			return nil
		}
		return err
	})
	if s.status != nil {
		g.Go(func() error {
			return s.serveStatus(gctx)
		})
	}
	if s.console != nil {
		// 控制台阻塞在输入上，不参与 errgroup 的等待。
		_ = conc.Go(func() (struct{}, error) {
			return struct{}{}, s.console.Run()
		})
	}

	err := g.Wait()
	s.running.Store(false)
	s.Logger().Info("chat relay server stopped", zap.Error(err))
	return err
}

// Close 关闭监听与所有连接，不执行关服通知。
func (s *Server) Close() error {
	s.running.Store(false)
	s.cancel()
	return s.acceptor.Close()
}

// Addr 返回实际监听地址。
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

// Port 返回实际监听端口。
func (s *Server) Port() int {
	if addr, ok := s.acceptor.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.cfg.Port
}

// StatusAddr 返回状态接口的监听地址，未启用时为 nil。
func (s *Server) StatusAddr() net.Addr {
	return s.statusAddr
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Router() *MessageRouter {
	return s.router
}

// Console 返回运营控制台，未启用时为 nil。
func (s *Server) Console() *Console {
	return s.console
}

// Running 表示服务器是否仍在接受连接。
func (s *Server) Running() bool {
	return s.running.Load()
}

// RemoveClient 由运营踢出名为 name 的会话：先发送踢出通知，再移出注册表并关闭连接。
// 被踢出的会话不会触发离线广播。
func (s *Server) RemoveClient(ctx context.Context, name string) error {
	c, ok := s.registry.FindByName(name)
	if !ok {
		return merr.WrapErrRecipientNotFound(name)
	}

	s.router.Notify(c, kickedText)
	c.adminRemoved.Store(true)
	if c.terminate() {
		metrics.SessionDisconnects.WithLabelValues(metrics.DisconnectRemoved).Inc()
	}
	s.registry.Remove(c)
	log.Ctx(ctx).Info("client removed by operator", log.FieldSessionID(c.ID()), log.FieldUsername(name))
	return nil
}

// printf 写控制台输出，多个协程共享同一个 writer。
func (s *Server) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if len(args) == 0 {
		_, _ = io.WriteString(s.out, format)
		return
	}
	_, _ = fmt.Fprintf(s.out, format, args...)
}
