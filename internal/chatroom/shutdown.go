package chatroom

import (
	"context"

	"go.uber.org/zap"

	"github.com/lk2023060901/chatrelay-go/pkg/log"
	"github.com/lk2023060901/chatrelay-go/pkg/metrics"
)

// Shutdown 执行关服流程，多次调用只执行一次。
//
// 顺序不能调整：
//  1. 向所有会话广播关服通知；
//  2. 在注册表锁内关闭全部连接并清空注册表；
//  3. 置位运行标志并取消上下文，接入循环与各连接的读循环随之退出；
//  4. 关闭监听；
//  5. 调用退出钩子。
//
// 被关闭连接上阻塞的读取按普通断开处理，由于会话已标记结束，不会再产生离线广播。
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.shutdown(ctx)
	})
}

func (s *Server) shutdown(ctx context.Context) {
	logger := log.Ctx(ctx)
	s.printf(shuttingDownText)
	logger.Info("server shutting down", zap.Int("clients", s.registry.Count()))

	notified := s.router.ServerWideNotice(ShutdownNotice)

	drained := s.registry.Drain(func(c *Client) {
		if c.terminate() {
			metrics.SessionDisconnects.WithLabelValues(metrics.DisconnectShutdown).Inc()
		}
	})

	s.running.Store(false)
	s.cancel()

	if err := s.acceptor.Close(); err != nil {
		logger.Warn("close listener failed", zap.Error(err))
	}

	s.printf(shutDownCompletedText)
	logger.Info("server has been shut down", zap.Int("notified", notified), zap.Int("drained", drained))
	s.exit()
}
