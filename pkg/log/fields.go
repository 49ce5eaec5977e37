package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameSessionID = "sessionID"
	FieldNameRemote    = "remote"
	FieldNameUsername  = "username"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

func FieldSessionID(id uint64) zap.Field {
	return zap.Uint64(FieldNameSessionID, id)
}

func FieldRemote(addr string) zap.Field {
	return zap.String(FieldNameRemote, addr)
}

func FieldUsername(name string) zap.Field {
	return zap.String(FieldNameUsername, name)
}
