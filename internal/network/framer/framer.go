package framer

import (
	"bufio"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// Framer 抽象了文本消息在字节流上的边界划分方式。
//
// 约定：
//   - ReadFrame 返回的消息已去掉末尾的一个换行（"\n" 或 "\r\n"）；
//   - 返回空字符串的消息由上层自行决定是否忽略；
//   - 同一个连接只能有一个 Reader，读取不是并发安全的。
type Framer interface {
	// NewReader 为一条连接创建消息读取器。
	NewReader(r io.Reader) Reader

	// WriteFrame 将一条消息写入 w，整条消息只调用一次 w.Write。
	WriteFrame(w io.Writer, msg string) error

	// Name 返回配置中使用的名称。
	Name() string
}

// Reader 从连接中逐条读取消息。
type Reader interface {
	// ReadFrame 阻塞读取下一条消息；对端正常关闭时返回 io.EOF。
	ReadFrame() (string, error)
}

const (
	NameRaw  = "raw"
	NameLine = "line"

	DefaultBufferSize  = 1024
	DefaultMaxLineSize = 64 * 1024
)

// ErrMessageTooLong 表示 line 模式下单行超过了 MaxLineSize。
var ErrMessageTooLong = errors.New("framer: message too long")

// New 根据名称创建 Framer，size 对 raw 为单次读取缓冲区大小，对 line 为最大行长度。
func New(name string, size int) (Framer, error) {
	switch name {
	case "", NameRaw:
		return NewRawFramer(size), nil
	case NameLine:
		return NewLineFramer(size), nil
	default:
		return nil, errors.Newf("framer: unknown framing %q", name)
	}
}

// RawFramer 把一次 Read 读到的字节当作一条消息，写出时不附加任何分隔符。
//
// 这是与旧客户端保持兼容的模式：没有显式边界，
// 对端一次 write 的内容可能被拆成多次 Read，也可能多次 write 被合并成一次 Read。
type RawFramer struct {
	BufferSize int
}

var _ Framer = (*RawFramer)(nil)

func NewRawFramer(bufferSize int) *RawFramer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &RawFramer{BufferSize: bufferSize}
}

func (f *RawFramer) Name() string { return NameRaw }

func (f *RawFramer) NewReader(r io.Reader) Reader {
	size := f.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &rawReader{r: r, buf: make([]byte, size)}
}

func (f *RawFramer) WriteFrame(w io.Writer, msg string) error {
	_, err := io.WriteString(w, msg)
	return err
}

type rawReader struct {
	r   io.Reader
	buf []byte
	// pending 保存与数据一同返回的错误，在下一次 ReadFrame 时交给调用方。
	pending error
}

func (rr *rawReader) ReadFrame() (string, error) {
	for {
		if rr.pending != nil {
			return "", rr.pending
		}
		n, err := rr.r.Read(rr.buf)
		if err != nil {
			rr.pending = err
		}
		if n > 0 {
			return trimNewline(string(rr.buf[:n])), nil
		}
	}
}

// LineFramer 以 "\n" 作为消息分隔符，写出时在每条消息后追加 "\n"。
type LineFramer struct {
	MaxLineSize int
}

var _ Framer = (*LineFramer)(nil)

func NewLineFramer(maxLineSize int) *LineFramer {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	return &LineFramer{MaxLineSize: maxLineSize}
}

func (f *LineFramer) Name() string { return NameLine }

func (f *LineFramer) NewReader(r io.Reader) Reader {
	limit := f.MaxLineSize
	if limit <= 0 {
		limit = DefaultMaxLineSize
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(4096, limit)), limit)
	sc.Split(bufio.ScanLines)
	return &lineReader{sc: sc}
}

func (f *LineFramer) WriteFrame(w io.Writer, msg string) error {
	_, err := io.WriteString(w, msg+"\n")
	return err
}

type lineReader struct {
	sc *bufio.Scanner
}

func (lr *lineReader) ReadFrame() (string, error) {
	if lr.sc.Scan() {
		return lr.sc.Text(), nil
	}
	if err := lr.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return "", errors.Mark(err, ErrMessageTooLong)
		}
		return "", err
	}
	return "", io.EOF
}

// trimNewline 去掉末尾的一个 "\n" 或 "\r\n"。
func trimNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
