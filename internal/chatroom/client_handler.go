package chatroom

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	network "github.com/lk2023060901/chatrelay-go/internal/network"
	"github.com/lk2023060901/chatrelay-go/internal/network/acceptor"
	"github.com/lk2023060901/chatrelay-go/internal/network/router"
	"github.com/lk2023060901/chatrelay-go/internal/network/session"
	"github.com/lk2023060901/chatrelay-go/pkg/log"
	"github.com/lk2023060901/chatrelay-go/pkg/metrics"
	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
)

// clientHandler 驱动每个客户端连接的状态机：
// 未命名 -> 已命名 -> 结束。
//
// 同一连接上的回调由接入层在同一协程中串行调用。
type clientHandler struct {
	srv    *Server
	routes router.Router[*Client]
}

var _ acceptor.Handler = (*clientHandler)(nil)

func newClientHandler(srv *Server) (*clientHandler, error) {
	h := &clientHandler{
		srv:    srv,
		routes: router.New[*Client](),
	}

	routes := []struct {
		keyword string
		route   router.Route[*Client]
	}{
		{"/username", router.Route[*Client]{Handler: h.handleUsername, TakesArgs: true, Usage: "/username <name> - Set your username"}},
		{"/help", router.Route[*Client]{Handler: h.handleHelp, Usage: "/help - Show this help message"}},
		{"/private", router.Route[*Client]{Handler: h.handlePrivate, TakesArgs: true, Usage: "/private <username> <message> - Send a private message to a user"}},
		{"/list", router.Route[*Client]{Handler: h.handleList, Usage: "/list - List all connected clients"}},
		{"/quit", router.Route[*Client]{Handler: h.handleQuit, Usage: "/quit - Disconnect from the server"}},
		{"/shutdown", router.Route[*Client]{Handler: h.handleShutdown}},
	}
	for _, r := range routes {
		if err := h.routes.Register(r.keyword, r.route); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// OnAccept 实现 acceptor.Handler：容量已满时拒绝，否则提示设置用户名。
func (h *clientHandler) OnAccept(sess session.Session) error {
	logger := h.srv.Logger().With(log.FieldSessionID(sess.ID()), log.FieldRemote(addrString(sess)))

	c, err := h.srv.registry.Admit(sess)
	if err != nil {
		logger.Info("connection rejected", zap.Error(err), zap.Bool("retryable", merr.IsRetryableErr(err)))
		return err
	}
	logger.Info("connection admitted", zap.Int("clients", h.srv.registry.Count()))

	if err := c.Send(promptUsernameText); err != nil {
		logger.Warn("send username prompt failed", zap.Error(err))
		c.terminate()
		h.srv.registry.Remove(c)
		return err
	}
	return nil
}

// OnMessage 实现 acceptor.Handler。
func (h *clientHandler) OnMessage(sess session.Session, msg string) {
	c, ok := h.srv.registry.Get(sess.ID())
	if !ok {
		return
	}

	keyword, args, route, ok := h.routes.Match(msg)
	if !ok {
		h.handleChat(c, msg)
		return
	}

	metrics.CommandsHandled.WithLabelValues(metrics.SourceClient, keyword).Inc()
	if err := route.Handler(c, args); err != nil {
		h.srv.Logger().Debug("client command rejected",
			log.FieldSessionID(c.ID()),
			log.FieldUsername(c.Name()),
			zap.String("command", keyword),
			zap.Stringer("errorType", merr.GetErrorType(err)),
			zap.Error(err))
	}
}

// OnSessionClosed 实现 acceptor.Handler。
// 未经 /quit 的断开会广播离线通知，被运营踢出的会话除外。
func (h *clientHandler) OnSessionClosed(sess session.Session, cause error) {
	c, ok := h.srv.registry.Get(sess.ID())
	if !ok {
		return
	}

	if c.terminate() {
		metrics.SessionDisconnects.WithLabelValues(metrics.DisconnectClosed).Inc()
		if !c.AdminRemoved() {
			h.srv.router.Broadcast(fmt.Sprintf(disconnectedFmt, c.Name()), c)
			h.srv.printf(consoleClientGoneFmt, c.Name())
		}
		h.srv.Logger().Info("client disconnected",
			log.FieldSessionID(c.ID()),
			log.FieldUsername(c.Name()),
			zap.NamedError("cause", cause))
	}
	h.srv.registry.Remove(c)
}

// OnError 实现 acceptor.Handler。
func (h *clientHandler) OnError(sess session.Session, stage network.Stage, err error) {
	fields := []zap.Field{zap.String("stage", string(stage)), zap.Error(err)}
	if sess != nil {
		fields = append(fields, log.FieldSessionID(sess.ID()), log.FieldRemote(addrString(sess)))
	}
	h.srv.Logger().Warn("connection error", fields...)
}

func (h *clientHandler) handleUsername(c *Client, args string) error {
	name, err := h.srv.registry.SetName(c, args)
	switch {
	case errors.Is(err, merr.ErrNameEmpty):
		h.srv.router.Notify(c, nameEmptyText)
		return err
	case errors.Is(err, merr.ErrNameTaken):
		h.srv.router.Notify(c, nameTakenText)
		return err
	case err != nil:
		return err
	}

	// 广播在注册表的改名操作返回之后进行。
	h.srv.router.Notify(c, fmt.Sprintf(usernameSetFmt, name))
	h.srv.router.Broadcast(fmt.Sprintf(joinedFmt, name), c)
	h.srv.Logger().Info("username set", log.FieldSessionID(c.ID()), log.FieldUsername(name))
	return nil
}

func (h *clientHandler) handleHelp(c *Client, _ string) error {
	h.srv.router.Notify(c, ClientHelpText)
	return nil
}

func (h *clientHandler) handlePrivate(c *Client, args string) error {
	if !c.Confirmed() {
		h.srv.router.Notify(c, mustSetUsernameText)
		return merr.WrapErrUnauthorized("/private")
	}

	to, text, ok := splitRecipient(args)
	if !ok {
		h.srv.router.Notify(c, privateUsageText)
		return merr.WrapErrParameterInvalidMsg("malformed private message")
	}

	// 接收方不存在时发送方收不到任何反馈。
	return h.srv.router.PrivateFromClient(text, c, to)
}

func (h *clientHandler) handleList(c *Client, _ string) error {
	return h.srv.router.ListClients(c)
}

func (h *clientHandler) handleQuit(c *Client, _ string) error {
	if !c.terminate() {
		return nil
	}
	metrics.SessionDisconnects.WithLabelValues(metrics.DisconnectQuit).Inc()

	name := c.Name()
	h.srv.router.Notify(c, fmt.Sprintf(goodbyeFmt, name))
	h.srv.router.Broadcast(fmt.Sprintf(leftFmt, name), c)
	h.srv.registry.Remove(c)
	h.srv.Logger().Info("client quit", log.FieldSessionID(c.ID()), log.FieldUsername(name))
	return nil
}

func (h *clientHandler) handleShutdown(c *Client, _ string) error {
	h.srv.router.Notify(c, shutdownDeniedText)
	return merr.WrapErrUnauthorized("/shutdown")
}

func (h *clientHandler) handleChat(c *Client, msg string) {
	if !c.Confirmed() {
		h.srv.router.Notify(c, mustSetUsernameText)
		return
	}
	line := fmt.Sprintf(chatFmt, c.Name(), msg)
	h.srv.router.Broadcast(line, c)
	h.srv.printf("%s\n", line)
}

// splitRecipient 将 "<name> <text>" 拆成接收方与正文，正文保留内部空白。
func splitRecipient(args string) (string, string, bool) {
	args = strings.TrimLeft(args, " \t")
	idx := strings.IndexAny(args, " \t")
	if idx <= 0 {
		return "", "", false
	}
	text := strings.TrimLeft(args[idx:], " \t")
	if text == "" {
		return "", "", false
	}
	return args[:idx], text, true
}

func addrString(sess session.Session) string {
	if addr := sess.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
