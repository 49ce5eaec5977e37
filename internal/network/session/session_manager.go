package session

// SessionManager 维护当前所有存活连接的索引。
//
// 职责说明：
//   - 只负责会话的注册、查询和移除，不创建连接；
//   - 接入层用它追踪自己派生出的每一条连接，关闭时统一回收；
//   - 用户名、容量等业务规则由上层的注册表负责。
type SessionManager interface {
	// Register 将一个已创建好的 Session 注册到管理器中。
	// 存在相同 ID 的会话时返回错误，避免覆盖旧会话。
	Register(sess Session) error

	// Get 根据 session id 查找会话。
	Get(id uint64) (sess Session, ok bool)

	// Unregister 从管理器中移除指定 id 的会话，仅删除索引，不关闭连接。
	Unregister(id uint64) error

	// Range 遍历当前所有会话，fn 返回 false 时中断遍历。
	Range(fn func(sess Session) bool)

	// Count 返回当前已注册的会话数量。
	Count() int

	// CloseAll 关闭所有已注册会话并清空索引，返回合并后的关闭错误。
	CloseAll() error
}
