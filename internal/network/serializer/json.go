package serializer

import (
	"github.com/bytedance/sonic"
)

// JSONSerializer 基于 bytedance/sonic 实现 JSON 编解码。
// 使用 ConfigStd，输出与 encoding/json 保持一致（map 键有序、转义 HTML）。
type JSONSerializer struct{}

// 编译期断言：确保 JSONSerializer 实现了 Serializer 接口。
var _ Serializer = (*JSONSerializer)(nil)

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}

func (JSONSerializer) ContentType() string {
	return "application/json; charset=utf-8"
}
