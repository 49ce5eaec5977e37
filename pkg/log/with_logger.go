package log

import "go.uber.org/atomic"

// Binder 嵌入到服务组件中，提供可在运行时替换的 Logger。
// 未绑定时退回到全局 Logger。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

// SetLogger 替换组件使用的 Logger。
func (b *Binder) SetLogger(logger *MLogger) {
	b.logger.Store(logger)
}

// BindComponent 绑定一个携带 component 字段的全局 Logger 子实例。
func (b *Binder) BindComponent(component string) {
	b.logger.Store(With(FieldComponent(component)))
}

func (b *Binder) Logger() *MLogger {
	if l := b.logger.Load(); l != nil {
		return l
	}
	return With()
}
