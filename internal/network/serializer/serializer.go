package serializer

// Serializer 抽象了“对象 <-> 字节流”的序列化能力。
//
// 目前只有状态接口的 JSON 输出使用它，聊天协议本身是纯文本。
type Serializer interface {
	// Marshal 将任意对象编码为字节序列。
	Marshal(v any) ([]byte, error)

	// Unmarshal 将字节序列解码到目标对象。
	//
	// v 通常为指针类型，用于接收解码结果。
	Unmarshal(data []byte, v any) error

	// ContentType 返回 HTTP 响应使用的 Content-Type。
	ContentType() string
}
