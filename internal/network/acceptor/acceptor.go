package acceptor

import (
	"context"
	"net"
	"time"

	network "github.com/lk2023060901/chatrelay-go/internal/network"
	"github.com/lk2023060901/chatrelay-go/internal/network/framer"
	"github.com/lk2023060901/chatrelay-go/internal/network/session"
)

// Config 描述 Acceptor 在会话层面的配置。
//
// 说明：
//   - Framer 决定消息边界，为 nil 时使用 raw 模式；
//   - WriteTimeout 为单次写超时，0 表示不设置 deadline；
//   - AcceptBackoffMax 为 Accept 连续失败时的最大退避间隔。
type Config struct {
	Framer           framer.Framer
	WriteTimeout     time.Duration
	AcceptBackoffMax time.Duration
}

// 默认配置。
func defaultConfig() Config {
	return Config{
		Framer:           framer.NewRawFramer(framer.DefaultBufferSize),
		AcceptBackoffMax: time.Second,
	}
}

// Handler 由上层实现，用于在连接生命周期的各个阶段插入业务逻辑。
//
// 说明：
//   - 同一会话上的 OnAccept、OnMessage、OnSessionClosed 在同一个协程中串行调用；
//   - 不同会话的回调并发执行。
type Handler interface {
	// OnAccept 在连接建立、Session 创建后被调用一次。
	// 返回非 nil 表示拒绝该连接：接入层直接关闭连接，不再调用其他回调。
	OnAccept(sess session.Session) error

	// OnMessage 在读到一条非空消息后被调用。
	OnMessage(sess session.Session, msg string)

	// OnSessionClosed 在读循环结束后被调用一次。
	// cause 为 nil 表示对端正常关闭或本端主动关闭了连接。
	OnSessionClosed(sess session.Session, cause error)

	// OnError 在各阶段发生错误时被调用，sess 在 StageAccept 时为 nil。
	OnError(sess session.Session, stage network.Stage, err error)
}

// Acceptor 抽象了服务器侧的 TCP 接入层。
//
// 职责：
//   - 在 listener 上循环 Accept，失败时退避重试，从不因单次失败退出；
//   - 为每个连接创建 Session，并在独立协程中驱动读循环；
//   - 追踪所有存活连接，Serve 退出前统一关闭。
type Acceptor interface {
	// Serve 阻塞运行接入循环，直至 Close 被调用或 ctx 被取消。
	// 因 Close 退出时返回 nil。
	Serve(ctx context.Context, h Handler) error

	// Addr 返回实际监听地址。
	Addr() net.Addr

	// Connections 返回当前存活的连接数，包括尚未通过 OnAccept 的连接。
	Connections() int

	// Close 关闭监听器，可重复调用。
	Close() error
}
