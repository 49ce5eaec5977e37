package main

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/lk2023060901/chatrelay-go/internal/chatroom"
	network "github.com/lk2023060901/chatrelay-go/internal/network"
	"github.com/lk2023060901/chatrelay-go/internal/network/connector"
	"github.com/lk2023060901/chatrelay-go/pkg/util/conc"
)

const (
	shutdownPrefix = "[SERVER]: " + chatroom.ShutdownNotice

	cmdHelp = "/help"
	cmdQuit = "/quit"
)

// chatClient 实现 connector.ConnectorHandler，并驱动本地输入循环。
type chatClient struct {
	r *renderer

	// quitting 为 true 表示断开由本端发起，不再提示 "Server disconnected."。
	quitting atomic.Bool
	// shutdown 表示服务器已经通知关服。
	shutdown atomic.Bool
}

var _ connector.ConnectorHandler = (*chatClient)(nil)

func newChatClient(r *renderer) *chatClient {
	return &chatClient{r: r}
}

func (c *chatClient) OnConnected(conn connector.ClientConn) {
	c.r.Info("Connected to the server")
}

func (c *chatClient) OnMessage(conn connector.ClientConn, msg string) {
	c.r.Message(msg)
	if strings.Contains(msg, shutdownPrefix) {
		c.shutdown.Store(true)
		c.r.Info("Server is shutting down. Disconnecting...")
		_ = conn.Close()
	}
}

func (c *chatClient) OnClosed(conn connector.ClientConn, err error) {
	if c.quitting.Load() || c.shutdown.Load() {
		return
	}
	if err != nil {
		c.r.Info("Server disconnected.")
	}
}

func (c *chatClient) OnError(conn connector.ClientConn, stage network.Stage, err error) {
	if c.quitting.Load() {
		return
	}
	c.r.Info("%s failed: %v", stage, err)
}

// run 读取本地输入并发送，直到输入结束、ctx 结束或连接关闭。
func (c *chatClient) run(ctx context.Context, conn connector.ClientConn, in io.Reader, quitTimeout time.Duration) {
	defer conn.Close()

	lines := make(chan string)
	_ = conc.Go(func() (struct{}, error) {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimRight(sc.Text(), "\r"):
			case <-conn.Done():
				return struct{}{}, nil
			}
		}
		return struct{}{}, sc.Err()
	})

	for {
		select {
		case <-ctx.Done():
			c.quitting.Store(true)
			c.r.Info("\nClient terminated by user.")
			return
		case <-conn.Done():
			return
		case line, ok := <-lines:
			if !ok {
				c.quitting.Store(true)
				return
			}
			switch line {
			case "":
			case cmdHelp:
				c.r.Message(chatroom.ClientHelpText)
			case cmdQuit:
				c.quit(conn, quitTimeout)
				return
			default:
				if err := conn.Send(line); err != nil {
					return
				}
			}
		}
	}
}

// quit 发送 /quit 并等待服务器的告别消息。
func (c *chatClient) quit(conn connector.ClientConn, timeout time.Duration) {
	c.r.Info("Disconnecting from the server...")
	c.quitting.Store(true)
	if err := conn.Send(cmdQuit); err != nil {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-conn.Done():
	case <-timer.C:
	}
}
