package util

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds the console logger; level comes from LOG_LEVEL (info by default).
func NewZapLogger() *zap.SugaredLogger {
	stdout := zapcore.AddSync(os.Stdout)

	lvl := zapcore.InfoLevel
	if raw := GetLogLevel(); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			lvl = parsed
		}
	}
	level := zap.NewAtomicLevelAt(lvl)

	developmentCfg := zap.NewDevelopmentEncoderConfig()
	developmentCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(developmentCfg)

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, stdout, level),
	)

	return zap.New(core).Sugar()
}
