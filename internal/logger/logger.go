package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gelato-costing/internal/config"
)

// New builds the process logger. Development mode switches to a console
// encoder at debug level regardless of LOGGER_* settings.
func New(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsDevelopment() {
		zc = zap.NewDevelopmentConfig()
		zc.Encoding = "console"
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zc = zap.NewProductionConfig()
		if cfg.Logger.Encoding != "" {
			zc.Encoding = cfg.Logger.Encoding
		}
		level, err := zapcore.ParseLevel(cfg.Logger.Level)
		if err != nil {
			level = zapcore.InfoLevel
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	zc.DisableCaller = cfg.Logger.DisableCaller
	zc.DisableStacktrace = cfg.Logger.DisableStacktrace
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zc.Build()
}
