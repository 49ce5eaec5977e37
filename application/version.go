package application

import (
	"github.com/blang/semver/v4"
	"go.uber.org/zap"

	zlog "github.com/lk2023060901/chatrelay-go/pkg/log"
)

// BuildVersion 可以在构建时通过 -ldflags "-X" 覆盖。
var BuildVersion = "0.1.0"

// Version 返回解析后的构建版本，无法解析时返回 0.0.0。
func Version() semver.Version {
	v, err := semver.ParseTolerant(BuildVersion)
	if err != nil {
		zlog.Warn("invalid build version", zap.String("version", BuildVersion), zap.Error(err))
		return semver.Version{}
	}
	return v
}
