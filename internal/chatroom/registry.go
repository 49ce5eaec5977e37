package chatroom

import (
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/lk2023060901/chatrelay-go/internal/network/session"
	"github.com/lk2023060901/chatrelay-go/pkg/metrics"
	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
	"github.com/lk2023060901/chatrelay-go/pkg/util/typeutil"
)

// Registry 是容量有限的会话表，也是服务器中唯一的共享可变状态。
//
// 所有读写都在同一把互斥锁内完成：
//   - 同一连接最多对应一条记录；
//   - 已确认的用户名两两不同（大小写敏感）；
//   - 删除时用最后一个元素填补空位，顺序没有语义。
//
// 单把锁使注册表操作与 hold-lock 广播完全串行。
type Registry struct {
	mu       sync.Mutex
	capacity int
	clients  []*Client
	ids      typeutil.Set[uint64]
	names    map[string]*Client
}

// NewRegistry 创建容量为 capacity 的注册表。
func NewRegistry(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		clients:  make([]*Client, 0, capacity),
		ids:      typeutil.NewSet[uint64](),
		names:    make(map[string]*Client, capacity),
	}
}

// Admit 为新连接创建会话并加入注册表。
// 已满时返回 ErrCapacityExceeded，不创建任何记录。
func (r *Registry) Admit(sess session.Session) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.clients) >= r.capacity {
		metrics.SessionAdmissions.WithLabelValues(metrics.AdmissionRejected).Inc()
		return nil, merr.WrapErrCapacityExceeded(len(r.clients), r.capacity)
	}
	if r.ids.Contain(sess.ID()) {
		return nil, merr.WrapErrServerInternal("session already registered")
	}

	c := newClient(sess)
	r.clients = append(r.clients, c)
	r.ids.Insert(sess.ID())

	metrics.SessionAdmissions.WithLabelValues(metrics.AdmissionAdmitted).Inc()
	metrics.ConnectedSessions.Set(float64(len(r.clients)))
	return c, nil
}

// SetName 为会话设置用户名，返回去掉首尾空白后的名字。
//
// 错误：
//   - ErrNameEmpty：去掉空白后为空串，会话状态不变；
//   - ErrNameTaken：名字已被其他已确认会话占用，会话状态不变；
//   - ErrSessionClosed：会话已不在注册表中。
func (r *Registry) SetName(c *Client, candidate string) (string, error) {
	name := strings.TrimSpace(candidate)
	if name == "" {
		return "", merr.WrapErrNameEmpty()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ids.Contain(c.ID()) {
		return "", merr.WrapErrSessionClosed(c.ID())
	}
	if owner, ok := r.names[name]; ok {
		if owner == c {
			return name, nil
		}
		return "", merr.WrapErrNameTaken(name)
	}

	if c.Confirmed() {
		delete(r.names, c.Name())
	}
	r.names[name] = c
	c.name.Store(name)
	c.confirmed.Store(true)
	return name, nil
}

// Remove 将会话移出注册表并关闭连接。
// 会话不存在时什么也不做，返回 false。
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	removed := r.removeLocked(c)
	r.mu.Unlock()

	if removed {
		_ = c.sess.Close()
	}
	return removed
}

func (r *Registry) removeLocked(c *Client) bool {
	if !r.ids.Contain(c.ID()) {
		return false
	}
	_, idx, ok := lo.FindIndexOf(r.clients, func(item *Client) bool { return item == c })
	if !ok {
		return false
	}

	last := len(r.clients) - 1
	r.clients[idx] = r.clients[last]
	r.clients[last] = nil
	r.clients = r.clients[:last]

	r.ids.Remove(c.ID())
	if owner, ok := r.names[c.Name()]; ok && owner == c {
		delete(r.names, c.Name())
	}
	metrics.ConnectedSessions.Set(float64(len(r.clients)))
	return true
}

// Get 按会话 ID 查找。
func (r *Registry) Get(id uint64) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Find(r.clients, func(c *Client) bool { return c.ID() == id })
}

// FindByName 按用户名查找，只匹配已确认的会话。
func (r *Registry) FindByName(name string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.names[name]
	return c, ok
}

// Snapshot 返回当前会话列表的副本。
// 副本随时可能过期，向已离开的会话发送会失败，调用方应当容忍。
func (r *Registry) Snapshot() []*Client {
	start := time.Now()
	r.mu.Lock()
	defer func() {
		r.mu.Unlock()
		observeLockHold(FanoutSnapshot, start)
	}()

	return append([]*Client(nil), r.clients...)
}

// Range 在持锁状态下依次对每个会话调用 fn，fn 返回 false 时停止。
// fn 内不能再调用注册表的其他方法。
func (r *Registry) Range(fn func(c *Client) bool) {
	start := time.Now()
	r.mu.Lock()
	defer func() {
		r.mu.Unlock()
		observeLockHold(FanoutHoldLock, start)
	}()

	for _, c := range r.clients {
		if !fn(c) {
			return
		}
	}
}

// Drain 在持锁状态下对每个会话调用 fn、关闭连接并清空注册表，返回被清理的会话数。
func (r *Registry) Drain(fn func(c *Client)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.clients)
	for _, c := range r.clients {
		if fn != nil {
			fn(c)
		}
		_ = c.sess.Close()
	}
	r.clients = make([]*Client, 0, r.capacity)
	r.ids.Clear()
	clear(r.names)
	metrics.ConnectedSessions.Set(0)
	return n
}

// Count 返回当前会话数。
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Registry) Capacity() int {
	return r.capacity
}

func observeLockHold(fanout string, start time.Time) {
	metrics.RegistryLockHold.WithLabelValues(fanout).Observe(float64(time.Since(start).Microseconds()) / 1000)
}
