package main

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds a production logger at LOG_LEVEL. With LOG_FILE set the
// output is also written to a rotating file.
func newLogger(cfg Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	if cfg.LogFile == "" {
		config := zap.NewProductionConfig()
		config.Level = level
		return config.Build(zap.AddCaller())
	}

	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.RFC3339TimeEncoder
	encoder := zapcore.NewJSONEncoder(ec)

	file := zapcore.AddSync(&lumberjack.Logger{
		Filename: cfg.LogFile,
		MaxSize:  cfg.LogMaxSizeMB,
		MaxAge:   cfg.LogMaxAgeDays,
	})
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
		zapcore.NewCore(encoder, file, level),
	)

	return zap.New(core, zap.AddCaller()), nil
}
