package chatroom

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/chatrelay-go/pkg/log"
	"github.com/lk2023060901/chatrelay-go/pkg/metrics"
	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
)

// MessageRouter 基于注册表构造并投递各类消息。
//
// 接收方在解析与发送之间离开属于正常竞争，按静默处理；
// 其他单个接收方的发送失败只记录日志，不影响其余接收方。
type MessageRouter struct {
	registry *Registry
	fanout   string
	logger   *log.MLogger
}

// NewMessageRouter 创建消息路由，fanout 为 FanoutHoldLock 或 FanoutSnapshot。
func NewMessageRouter(registry *Registry, fanout string) *MessageRouter {
	if fanout == "" {
		fanout = FanoutHoldLock
	}
	return &MessageRouter{
		registry: registry,
		fanout:   fanout,
		logger: log.With(log.FieldComponent("message-router")).
			WithRateGroup("chatroom.delivery", 1, 30),
	}
}

// Broadcast 将 text 原样发送给除 exclude 以外的所有会话，exclude 为 nil 时发给所有人。
// 返回成功投递的会话数。
func (r *MessageRouter) Broadcast(text string, exclude *Client) int {
	metrics.MessagesRouted.WithLabelValues(metrics.KindBroadcast).Inc()
	return r.fanOut(text, exclude)
}

func (r *MessageRouter) fanOut(text string, exclude *Client) int {
	delivered := 0
	send := func(c *Client) bool {
		if c != exclude && r.deliver(c, text) {
			delivered++
		}
		return true
	}

	switch r.fanout {
	case FanoutSnapshot:
		for _, c := range r.registry.Snapshot() {
			send(c)
		}
	default:
		r.registry.Range(send)
	}
	return delivered
}

// PrivateFromClient 将 from 的私聊消息发送给名为 toName 的会话。
// 接收方不存在时返回 ErrRecipientNotFound，不向任何人发送。
func (r *MessageRouter) PrivateFromClient(text string, from *Client, toName string) error {
	to, ok := r.registry.FindByName(toName)
	if !ok {
		return merr.WrapErrRecipientNotFound(toName)
	}
	metrics.MessagesRouted.WithLabelValues(metrics.KindPrivate).Inc()
	r.deliver(to, fmt.Sprintf(privateFromFmt, from.Name(), text))
	return nil
}

// PrivateFromServer 以 SERVER 身份向名为 toName 的会话发送私聊消息。
func (r *MessageRouter) PrivateFromServer(text string, toName string) error {
	to, ok := r.registry.FindByName(toName)
	if !ok {
		return merr.WrapErrRecipientNotFound(toName)
	}
	metrics.MessagesRouted.WithLabelValues(metrics.KindServerPrivate).Inc()
	r.deliver(to, fmt.Sprintf(privateFromServer, text))
	return nil
}

// ServerWideNotice 以 [SERVER] 前缀向所有会话广播。
func (r *MessageRouter) ServerWideNotice(text string) int {
	metrics.MessagesRouted.WithLabelValues(metrics.KindServerNotice).Inc()
	return r.fanOut(serverPrefix+text, nil)
}

// ListClients 将所有会话的显示名（包括未确认的）发送给 to。
func (r *MessageRouter) ListClients(to Sink) error {
	metrics.MessagesRouted.WithLabelValues(metrics.KindList).Inc()

	var sb strings.Builder
	sb.WriteString(listHeader)
	for _, c := range r.registry.Snapshot() {
		sb.WriteString(c.Name())
		sb.WriteByte('\n')
	}
	return to.Send(sb.String())
}

// Notify 向单个会话发送一条提示。
func (r *MessageRouter) Notify(c *Client, text string) bool {
	metrics.MessagesRouted.WithLabelValues(metrics.KindNotice).Inc()
	return r.deliver(c, text)
}

func (r *MessageRouter) deliver(c *Client, text string) bool {
	err := c.Send(text)
	if err == nil {
		return true
	}
	if errors.Is(err, merr.ErrSessionClosed) {
		r.logger.Debug("recipient already gone", log.FieldSessionID(c.ID()), log.FieldUsername(c.Name()))
		return false
	}
	metrics.SendFailures.Inc()
	r.logger.RatedWarn(1, "deliver message failed",
		log.FieldSessionID(c.ID()),
		log.FieldUsername(c.Name()),
		zap.Error(err))
	return false
}
