package network

import "github.com/cockroachdb/errors"

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageAccept   Stage = "accept"   // 监听器 Accept 失败
	StageRecv     Stage = "recv"     // 从连接读取一条消息
	StageDispatch Stage = "dispatch" // 消息 -> 业务处理
	StageSend     Stage = "send"     // 写出到对端
)

// 统一的错误码常量。
//
// 注意：这些是用于日志/监控的稳定字符串，真正的 error 对象在下面构造。
const (
	ErrCodeAcceptFailed   = "network:accept_failed"
	ErrCodeRecvFailed     = "network:recv_failed"
	ErrCodeDispatchFailed = "network:dispatch_failed"
	ErrCodeSendFailed     = "network:send_failed"
)

var (
	// ErrAcceptFailed 表示监听器接受新连接失败，接入循环会退避后继续。
	ErrAcceptFailed = errors.New(ErrCodeAcceptFailed)

	// ErrRecvFailed 表示在读取底层连接数据时发生错误（EOF 除外）。
	ErrRecvFailed = errors.New(ErrCodeRecvFailed)

	// ErrDispatchFailed 表示业务处理一条消息时返回了错误。
	ErrDispatchFailed = errors.New(ErrCodeDispatchFailed)

	// ErrSendFailed 表示在发送数据到对端时发生错误。
	ErrSendFailed = errors.New(ErrCodeSendFailed)
)

// StageError 将底层错误与发生阶段的哨兵错误关联起来，
// 调用方可以用 errors.Is(err, network.ErrRecvFailed) 判断阶段。
func StageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var sentinel error
	switch stage {
	case StageAccept:
		sentinel = ErrAcceptFailed
	case StageRecv:
		sentinel = ErrRecvFailed
	case StageDispatch:
		sentinel = ErrDispatchFailed
	default:
		sentinel = ErrSendFailed
	}
	return errors.Mark(errors.Wrap(err, string(stage)), sentinel)
}
