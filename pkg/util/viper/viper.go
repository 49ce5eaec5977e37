package viper

import (
	"path/filepath"
	"strings"

	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper 实例，对外提供精简的 YAML/JSON 配置加载接口。
// 配置优先级：环境变量 > 配置文件 > 默认值。
type Config struct {
	v *spfviper.Viper
}

// Option 用于定制 Config。
type Option func(c *Config)

// WithEnvPrefix 开启环境变量覆盖。
// key "server.max-clients" 对应环境变量 <PREFIX>_SERVER_MAX_CLIENTS。
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) {
		c.v.SetEnvPrefix(prefix)
		c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		c.v.AutomaticEnv()
	}
}

// New 创建一个空的 Config。
// 未调用 LoadFile 时只有默认值与环境变量生效。
func New(opts ...Option) *Config {
	c := &Config{
		v: spfviper.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadFile 将 YAML 或 JSON 配置文件加载到 Config 中。
// 文件类型通过扩展名（.yaml/.yml/.json）推断。
func (c *Config) LoadFile(path string) error {
	if c.v == nil {
		c.v = spfviper.New()
	}

	c.v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	default:
		// 让 viper 自行推断类型，或在读取时返回清晰的错误信息。
	}

	return c.v.ReadInConfig()
}

// SetDefault 设置 key 的默认值。
// 只有设置过默认值（或出现在配置文件中）的 key 才能被环境变量覆盖。
func (c *Config) SetDefault(key string, value any) {
	c.v.SetDefault(key, value)
}

// SetDefaults 以 prefix 为前缀批量设置默认值。
func (c *Config) SetDefaults(prefix string, values map[string]any) {
	for k, val := range values {
		if prefix != "" {
			k = prefix + "." + k
		}
		c.v.SetDefault(k, val)
	}
}

// IsSet 判断 key 是否在任一来源中被设置。
func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key)
}

func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// ConfigFileUsed 返回实际加载的配置文件路径，未加载时为空。
func (c *Config) ConfigFileUsed() string {
	return c.v.ConfigFileUsed()
}

// Unmarshal 将完整配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst any) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(dst)
}

// UnmarshalKey 将指定 key 对应的子配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) UnmarshalKey(key string, dst any) error {
	if c.v == nil {
		return nil
	}
	return c.v.UnmarshalKey(key, dst)
}
