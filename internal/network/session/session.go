package session

import (
	"context"
	"net"
)

// Session 抽象了一条文本聊天连接。
//
// 约定：
//   - 每个 Session 对应一条底层连接，只有一个读协程；
//   - Session ID 使用 64 位无符号整型，在进程内唯一；
//   - 网络层只关心连接本身，不关心用户名等业务概念。
type Session interface {
	// ID 返回该会话在进程内的唯一标识。
	ID() uint64

	// Context 返回与该会话关联的上下文，会话关闭时 Done() 被关闭。
	Context() context.Context

	// RemoteAddr 返回远端地址，主要用于日志与状态输出。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr

	// Send 向对端写出一条完整的文本消息。
	//
	// 行为：
	//   - 多个协程可以并发调用，单条消息不会与其他消息交叉；
	//   - 会话已关闭时返回 merr.ErrSessionClosed；
	//   - 写失败返回 merr.ErrTransportFailure，但不会关闭会话，由读协程感知断开。
	Send(msg string) error

	// Close 关闭底层连接并取消 Context。
	//
	// 多次调用是幂等的：只有第一次真正关闭连接，之后返回 nil。
	Close() error

	// Closed 报告 Close 是否已经被调用。
	Closed() bool
}
