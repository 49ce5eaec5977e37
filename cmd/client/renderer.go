package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// renderer 负责把收到的消息与本地提示写到终端。
// 接收协程与输入循环都会写输出，因此需要加锁。
type renderer struct {
	mu  sync.Mutex
	out io.Writer

	server  *color.Color
	private *color.Color
	local   *color.Color
}

func newRenderer(out io.Writer, noColor bool) *renderer {
	r := &renderer{
		out:     out,
		server:  color.New(color.FgYellow),
		private: color.New(color.FgMagenta, color.Bold),
		local:   color.New(color.FgHiBlack),
	}
	if noColor {
		r.server.DisableColor()
		r.private.DisableColor()
		r.local.DisableColor()
	}
	return r
}

// Message 输出一条服务器消息，按前缀着色。
func (r *renderer) Message(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case strings.HasPrefix(msg, "[SERVER]:"), strings.HasPrefix(msg, "[CLIENT HELP]:"):
		r.server.Fprintln(r.out, msg)
	case strings.HasPrefix(msg, "[Private from "):
		r.private.Fprintln(r.out, msg)
	default:
		fmt.Fprintln(r.out, msg)
	}
}

// Info 输出本地提示。
func (r *renderer) Info(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local.Fprintf(r.out, format+"\n", args...)
}
