package chatroom

import (
	"net"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/chatrelay-go/internal/network/framer"
	"github.com/lk2023060901/chatrelay-go/pkg/util/merr"
	zviper "github.com/lk2023060901/chatrelay-go/pkg/util/viper"
)

// 广播时的锁策略。
const (
	// FanoutHoldLock 在注册表锁内逐个发送，所有注册表操作与广播串行。
	// 最慢的接收方会拖住整个注册表，配合 WriteTimeout 使用。
	FanoutHoldLock = "hold-lock"
	// FanoutSnapshot 在锁内复制会话列表，锁外发送。
	FanoutSnapshot = "snapshot"
)

const (
	DefaultHost       = "0.0.0.0"
	DefaultPort       = 8080
	DefaultMinPort    = 2001
	DefaultMaxClients = 10
	MaxPort           = 65535
)

// Config 为聊天服务器的配置，对应配置文件中的 server 段。
type Config struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
	// MinPort 为端口的下界（不含）。
	MinPort    int `mapstructure:"min-port" json:"min-port"`
	MaxClients int `mapstructure:"max-clients" json:"max-clients"`

	// Framing 为消息边界策略：raw 或 line。
	Framing        string `mapstructure:"framing" json:"framing"`
	ReadBufferSize int    `mapstructure:"read-buffer-size" json:"read-buffer-size"`
	MaxLineSize    int    `mapstructure:"max-line-size" json:"max-line-size"`

	// WriteTimeout 为单次发送的写超时，0 表示不限制。
	WriteTimeout time.Duration `mapstructure:"write-timeout" json:"write-timeout"`
	Fanout       string        `mapstructure:"fanout" json:"fanout"`

	// StatusAddr 为状态接口的监听地址，为空时不启动。
	StatusAddr string `mapstructure:"status-addr" json:"status-addr"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		MinPort:        DefaultMinPort,
		MaxClients:     DefaultMaxClients,
		Framing:        framer.NameRaw,
		ReadBufferSize: framer.DefaultBufferSize,
		MaxLineSize:    framer.DefaultMaxLineSize,
		Fanout:         FanoutHoldLock,
	}
}

// Defaults 以配置键的形式返回默认值，用于注册到 viper。
func Defaults() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		"host":             def.Host,
		"port":             def.Port,
		"min-port":         def.MinPort,
		"max-clients":      def.MaxClients,
		"framing":          def.Framing,
		"read-buffer-size": def.ReadBufferSize,
		"max-line-size":    def.MaxLineSize,
		"write-timeout":    def.WriteTimeout,
		"fanout":           def.Fanout,
		"status-addr":      def.StatusAddr,
	}
}

// Validate 校验配置。
func (c Config) Validate() error {
	if c.Port <= c.MinPort || c.Port > MaxPort {
		return merr.WrapErrParameterInvalidRange(c.MinPort, MaxPort, c.Port, "port")
	}
	if c.MaxClients <= 0 {
		return merr.WrapErrParameterInvalidMsg("max-clients must be positive, got %d", c.MaxClients)
	}
	if c.WriteTimeout < 0 {
		return merr.WrapErrParameterInvalidMsg("write-timeout must not be negative, got %s", c.WriteTimeout)
	}
	switch c.Fanout {
	case FanoutHoldLock, FanoutSnapshot:
	default:
		return merr.WrapErrParameterInvalid(FanoutHoldLock+"|"+FanoutSnapshot, c.Fanout, "fanout")
	}
	if _, err := c.NewFramer(); err != nil {
		return err
	}
	return nil
}

// Addr 返回监听地址。
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewFramer 按 Framing 创建消息边界策略。
func (c Config) NewFramer() (framer.Framer, error) {
	switch c.Framing {
	case framer.NameLine:
		return framer.New(c.Framing, c.MaxLineSize)
	case "", framer.NameRaw:
		return framer.New(c.Framing, c.ReadBufferSize)
	default:
		return nil, merr.WrapErrParameterInvalid(framer.NameRaw+"|"+framer.NameLine, c.Framing, "framing")
	}
}

// LoadConfig 从 viper 读取 server 段配置，未设置的键使用默认值。
// 环境变量覆盖（例如 CHATRELAY_SERVER_MAX_CLIENTS）只对注册过默认值的键生效，
// 因此这里总是先注册默认值再整体反序列化。
func LoadConfig(v *zviper.Config) (Config, error) {
	v.SetDefaults("server", Defaults())

	var root struct {
		Server Config `mapstructure:"server"`
	}
	if err := v.Unmarshal(&root); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal server config")
	}
	return root.Server, nil
}
