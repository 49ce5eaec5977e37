package application

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	zlog "github.com/lk2023060901/chatrelay-go/pkg/log"
	"github.com/lk2023060901/chatrelay-go/pkg/util/conc"
	zviper "github.com/lk2023060901/chatrelay-go/pkg/util/viper"
)

const (
	// EnvPrefix 为所有环境变量的前缀。
	EnvPrefix = "CHATRELAY"

	defaultConfigPath = "./config.yaml"
	envConfigPath     = EnvPrefix + "_CONFIG_FILE_PATH"
)

// Application is the runtime container of a chatrelay process.
// It owns configuration and manages common dependencies.
type Application struct {
	args       []string
	positional []string
	cfg        *zviper.Config
	loggers    map[string]*zlog.MLogger
}

// New creates a new Application with the process arguments (without the program name).
func New(args []string) *Application {
	return &Application{args: args}
}

// Run parses the arguments, loads the configuration file and initializes logging.
//
// The configuration file is resolved with the following priority:
//  1. Default: ./config.yaml (optional, ignored when absent)
//  2. Env: CHATRELAY_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
//
// An explicitly given file must exist.
func (a *Application) Run() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}
	return nil
}

// Config returns the loaded configuration.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Args returns the positional arguments left after removing --config.
func (a *Application) Args() []string {
	return a.positional
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if a.loggers == nil {
		return &zlog.MLogger{Logger: zlog.L()}
	}
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// HandleSignals calls fn once on the first SIGINT or SIGTERM.
// Listening stops when ctx is done.
func (a *Application) HandleSignals(ctx context.Context, fn func(sig os.Signal)) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	_ = conc.Go(func() (struct{}, error) {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			zlog.Info("signal received", zlog.FieldComponent("application"), zap.Stringer("signal", sig))
			fn(sig)
		case <-ctx.Done():
		}
		return struct{}{}, nil
	})
}

// loadConfig resolves config file path and loads it via viper wrapper.
func (a *Application) loadConfig() (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		configPath = envPath
		explicit = true
	}

	a.positional = a.positional[:0]
	for i := 0; i < len(a.args); i++ {
		arg := a.args[i]
		if arg == "--config" {
			if i+1 >= len(a.args) {
				return nil, errors.New("missing value after --config")
			}
			configPath = a.args[i+1]
			explicit = true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			if val := strings.TrimPrefix(arg, "--config="); val != "" {
				configPath = val
				explicit = true
			}
			continue
		}
		a.positional = append(a.positional, arg)
	}

	cfg := zviper.New(zviper.WithEnvPrefix(EnvPrefix))
	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
	}
	return cfg, nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	if err := a.initModuleLoggersFromConfig(); err != nil {
		return err
	}
	return nil
}

// initGlobalLoggerFromEnv configures the process-wide logger based on CHATRELAY_LOG_* env vars.
//
// Priority:
//   - CHATRELAY_LOG_ENABLE: "0"/"false" discards all outputs (default true).
//   - CHATRELAY_LOG_LEVEL: log level (default "info").
//   - CHATRELAY_LOG_STDOUT: whether to log to stdout (default false, stdout belongs to the console).
//   - CHATRELAY_LOG_STDERR: whether to log to stderr (default true).
//   - CHATRELAY_LOG_FILE_DIR: log directory.
//   - CHATRELAY_LOG_FILE: log file name (empty means no file).
//   - CHATRELAY_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool(EnvPrefix+"_LOG_ENABLE", true)

	cfg := &zlog.Config{
		Level:  getenvDefault(EnvPrefix+"_LOG_LEVEL", "info"),
		Format: getenvDefault(EnvPrefix+"_LOG_FORMAT", zlog.FormatText),
		Stdout: getenvBool(EnvPrefix+"_LOG_STDOUT", false),
		Stderr: getenvBool(EnvPrefix+"_LOG_STDERR", true),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault(EnvPrefix+"_LOG_FILE_DIR", ""),
			Filename: getenvDefault(EnvPrefix+"_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.Stderr = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from the "logging" section.
//
// Example:
//
//	logging:
//	  console:
//	    level: debug
//	    stderr: true
//	    file:
//	      rootpath: ./logs
//	      filename: console.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return errors.Wrap(err, "unmarshal logging section")
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger.With(zlog.FieldModule(name))}
	}

	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
