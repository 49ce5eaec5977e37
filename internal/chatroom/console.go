package chatroom

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/chatrelay-go/internal/network/router"
	"github.com/lk2023060901/chatrelay-go/pkg/log"
	"github.com/lk2023060901/chatrelay-go/pkg/metrics"
	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
)

// Console 是服务器本地的运营命令入口。
//
// 命令从 in 逐行读取，输出写到服务器的控制台输出，不会发给任何客户端。
// 每条命令在独立的 intent 上下文中执行，日志带同一个 traceID。
type Console struct {
	srv    *Server
	in     io.Reader
	routes router.Router[context.Context]
}

// consoleSink 把消息写到控制台输出。
type consoleSink struct {
	srv *Server
}

func (s consoleSink) Send(msg string) error {
	s.srv.printf("%s", msg)
	return nil
}

func newConsole(srv *Server, in io.Reader) (*Console, error) {
	c := &Console{
		srv:    srv,
		in:     in,
		routes: router.New[context.Context](),
	}

	routes := []struct {
		keyword string
		route   router.Route[context.Context]
	}{
		{"/help", router.Route[context.Context]{Handler: c.handleHelp}},
		{"/list", router.Route[context.Context]{Handler: c.handleList}},
		{"/remove", router.Route[context.Context]{Handler: c.handleRemove, TakesArgs: true}},
		{"/private", router.Route[context.Context]{Handler: c.handlePrivate, TakesArgs: true}},
		{"/message", router.Route[context.Context]{Handler: c.handleMessage, TakesArgs: true}},
		{"/shutdown", router.Route[context.Context]{Handler: c.handleShutdown}},
	}
	for _, r := range routes {
		if err := c.routes.Register(r.keyword, r.route); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Run 循环读取并执行命令，直到输入结束。
// 输入结束不影响服务器运行。
func (c *Console) Run() error {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}
		c.Execute(line)
	}
	if err := sc.Err(); err != nil {
		c.srv.Logger().Warn("operator console read failed", zap.Error(err))
		return err
	}
	c.srv.Logger().Info("operator console input closed")
	return nil
}

// Execute 执行一条运营命令。
func (c *Console) Execute(line string) {
	keyword, args, route, ok := c.routes.Match(line)
	if !ok {
		c.srv.printf(unknownCommandText)
		return
	}
	metrics.CommandsHandled.WithLabelValues(metrics.SourceOperator, keyword).Inc()

	ctx, span := log.NewIntentContext("console", keyword)
	defer span.End()

	if err := route.Handler(ctx, args); err != nil {
		log.Ctx(ctx).Info("operator command failed",
			zap.Stringer("errorType", merr.GetErrorType(err)),
			zap.Error(err))
	}
}

func (c *Console) handleHelp(_ context.Context, _ string) error {
	c.srv.printf(serverHelpText)
	return nil
}

func (c *Console) handleList(_ context.Context, _ string) error {
	return c.srv.router.ListClients(consoleSink{srv: c.srv})
}

func (c *Console) handleRemove(ctx context.Context, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		c.srv.printf(consoleRemoveUsage)
		return merr.WrapErrParameterMissing("username")
	}
	name := fields[0]

	err := c.srv.RemoveClient(ctx, name)
	if errors.Is(err, merr.ErrRecipientNotFound) {
		c.srv.printf(userNotFoundFmt, name)
		return errors.Wrapf(merr.WrapErrAsInputError(merr.ErrRecipientNotFound), "user=%s", name)
	}
	if err != nil {
		return err
	}
	c.srv.printf(removedFmt, name)
	return nil
}

func (c *Console) handlePrivate(ctx context.Context, args string) error {
	to, text, ok := splitRecipient(args)
	if !ok {
		c.srv.printf(consolePrivateUsage)
		return merr.WrapErrParameterInvalidMsg("malformed private message")
	}

	err := c.srv.router.PrivateFromServer(text, to)
	if errors.Is(err, merr.ErrRecipientNotFound) {
		c.srv.printf(recipientNotFoundFmt, to)
		return errors.Wrapf(merr.WrapErrAsInputError(merr.ErrRecipientNotFound), "recipient=%s", to)
	}
	if err == nil {
		log.Ctx(ctx).Info("server private message sent", log.FieldUsername(to))
	}
	return err
}

func (c *Console) handleMessage(ctx context.Context, args string) error {
	if strings.TrimSpace(args) == "" {
		c.srv.printf(consoleMessageUsage)
		return merr.WrapErrParameterMissing("message")
	}
	n := c.srv.router.ServerWideNotice(args)
	log.Ctx(ctx).Info("server notice broadcast", zap.Int("recipients", n))
	return nil
}

func (c *Console) handleShutdown(ctx context.Context, _ string) error {
	c.srv.Shutdown(ctx)
	return nil
}
