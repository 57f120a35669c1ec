package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"tgfilestream/internal/config"
)

// newLogger builds the process logger. DEBUG raises the level;
// LOG_CONFIG, when set, routes output to a rotating file instead of
// stderr.
func newLogger(cfg *config.Config) *zap.Logger {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	if cfg.LogConfig != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogConfig,
			MaxSize:    100, // MB
			MaxBackups: 3,
		})
		encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		return zap.New(zapcore.NewCore(encoder, sink, level))
	}

	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	log, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
