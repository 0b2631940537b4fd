package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pulsemon/config"
)

// New builds the process logger from config. An unknown level falls back to
// info and a broken build falls back to a no-op logger rather than failing
// startup.
func New(cfg config.LogConfig) *zap.Logger {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if lvl, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
