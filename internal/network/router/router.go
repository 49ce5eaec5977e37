package router

import (
	"fmt"
	"sort"
	"strings"
)

// Handler 是命令路由暴露给业务层的处理函数签名。
//
// 说明：
//   - src ：命令来源，例如客户端会话或运营控制台，由业务侧决定具体类型；
//   - args：关键字之后的参数原文（去掉了分隔用的第一个空格），不带参数的命令恒为空串；
//   - 返回：业务执行失败时的错误，由上层决定如何记录或转换为提示文本。
type Handler[S any] func(src S, args string) error

// Route 描述一条路由规则：命令关键字 -> 业务 Handler。
type Route[S any] struct {
	// Handler 为业务层实现的处理函数。
	Handler Handler[S]

	// TakesArgs 表示命令是否接受参数。
	//
	// 说明：
	//   - 为 true 时，整行等于关键字，或以 "关键字 + 空格" 开头均可匹配；
	//   - 为 false 时，只有整行与关键字完全相同才匹配。
	TakesArgs bool

	// Usage 为帮助信息中的一行描述，可以为空。
	Usage string
}

// Router 维护命令关键字到路由规则的映射，负责把一行文本分发给对应的 Handler。
//
// 匹配规则：
//   - 关键字必须以 "/" 开头，大小写敏感；
//   - 多个关键字同时匹配时，最长的关键字优先；
//   - 没有任何关键字匹配时，Handle 返回 handled=false，由调用方按普通文本处理。
type Router[S any] interface {
	// Register 为关键字 keyword 注册一条路由规则。
	//
	// 要求：
	//   - 同一关键字不允许重复注册，重复时返回错误。
	Register(keyword string, route Route[S]) error

	// Match 查找与 line 匹配的路由，返回关键字与参数。
	Match(line string) (keyword string, args string, route Route[S], ok bool)

	// Handle 处理一行文本。
	//
	// 返回：
	//   - handled：是否有路由匹配；
	//   - err    ：匹配到的 Handler 返回的错误。
	Handle(src S, line string) (handled bool, err error)

	// Keywords 返回已注册的全部关键字，按字典序排列。
	Keywords() []string
}

// defaultRouter 是 Router 接口的基础实现。
//
// 注册完成后只读，可以被多个协程并发调用 Match/Handle。
type defaultRouter[S any] struct {
	routes map[string]Route[S]
	// 按长度降序排列的关键字，用于最长匹配。
	ordered []string
}

// New 创建一个空的命令路由。
func New[S any]() Router[S] {
	return &defaultRouter[S]{
		routes: make(map[string]Route[S]),
	}
}

// Register 实现 Router.Register。
func (r *defaultRouter[S]) Register(keyword string, route Route[S]) error {
	if !strings.HasPrefix(keyword, "/") || len(keyword) < 2 {
		return fmt.Errorf("router: invalid keyword %q", keyword)
	}
	if strings.ContainsAny(keyword, " \t\r\n") {
		return fmt.Errorf("router: keyword %q contains whitespace", keyword)
	}
	if route.Handler == nil {
		return fmt.Errorf("router: Handler is nil for keyword=%s", keyword)
	}
	if _, exists := r.routes[keyword]; exists {
		return fmt.Errorf("router: keyword=%s already registered", keyword)
	}
	r.routes[keyword] = route

	r.ordered = append(r.ordered, keyword)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return len(r.ordered[i]) > len(r.ordered[j])
	})
	return nil
}

// Match 实现 Router.Match。
func (r *defaultRouter[S]) Match(line string) (string, string, Route[S], bool) {
	for _, keyword := range r.ordered {
		route := r.routes[keyword]
		if line == keyword {
			return keyword, "", route, true
		}
		if route.TakesArgs && strings.HasPrefix(line, keyword+" ") {
			return keyword, line[len(keyword)+1:], route, true
		}
	}
	var zero Route[S]
	return "", "", zero, false
}

// Handle 实现 Router.Handle。
func (r *defaultRouter[S]) Handle(src S, line string) (bool, error) {
	_, args, route, ok := r.Match(line)
	if !ok {
		return false, nil
	}
	return true, route.Handler(src, args)
}

// Keywords 实现 Router.Keywords。
func (r *defaultRouter[S]) Keywords() []string {
	keywords := make([]string, 0, len(r.routes))
	for keyword := range r.routes {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)
	return keywords
}
