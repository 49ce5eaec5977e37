package chatroom

import (
	"time"

	"go.uber.org/atomic"

	"github.com/lk2023060901/chatrelay-go/internal/network/session"
)

// Sink 是文本消息的投递目标：远端会话或运营控制台。
type Sink interface {
	Send(msg string) error
}

// Client 表示注册表中的一个会话。
//
// 名字只在注册表锁内修改，其余字段可以在任意协程读取。
// terminated 保证离开聊天室的事件（退出、断线、踢出、关服）每个会话只触发一次。
type Client struct {
	sess     session.Session
	joinedAt time.Time

	name         atomic.String
	confirmed    atomic.Bool
	adminRemoved atomic.Bool
	terminated   atomic.Bool
}

var _ Sink = (*Client)(nil)

func newClient(sess session.Session) *Client {
	c := &Client{
		sess:     sess,
		joinedAt: time.Now(),
	}
	c.name.Store(PlaceholderName)
	return c
}

func (c *Client) ID() uint64 {
	return c.sess.ID()
}

// Name 返回显示名，未设置时为 PlaceholderName。
func (c *Client) Name() string {
	return c.name.Load()
}

// Confirmed 表示用户名已通过唯一性校验。
func (c *Client) Confirmed() bool {
	return c.confirmed.Load()
}

// AdminRemoved 表示会话被运营踢出。
func (c *Client) AdminRemoved() bool {
	return c.adminRemoved.Load()
}

func (c *Client) Session() session.Session {
	return c.sess
}

func (c *Client) JoinedAt() time.Time {
	return c.joinedAt
}

// Send 实现 Sink.Send。
func (c *Client) Send(msg string) error {
	return c.sess.Send(msg)
}

// terminate 标记会话已结束，只有第一次调用返回 true。
func (c *Client) terminate() bool {
	return c.terminated.CompareAndSwap(false, true)
}

func (c *Client) remoteAddr() string {
	if addr := c.sess.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
