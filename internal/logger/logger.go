package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Additional-Code/orderpipe/internal/config"
)

// Module exposes a configured Zap logger to the Fx container.
var Module = fx.Provide(New)

// New builds the process logger; callers own the cleanup via Fx lifecycle.
func New(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	logger, closeFn := Build(cfg.Observability)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Sync on stderr returns EINVAL on some platforms; ignore it.
			_ = logger.Sync()
			return closeFn()
		},
	})

	return logger, nil
}

// Build assembles a logger writing to stderr and, when configured, to a
// size-rotated log file. The returned func closes the file sink.
func Build(obs config.Observability) (*zap.Logger, func() error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(obs.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.TimeKey = "ts"
	fileCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	fileCfg.EncodeDuration = zapcore.StringDurationEncoder
	fileCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var consoleEncoder zapcore.Encoder
	if obs.LogEncoding == "json" {
		consoleEncoder = zapcore.NewJSONEncoder(fileCfg)
	} else {
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
		devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		devCfg.EncodeDuration = zapcore.StringDurationEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(devCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}

	closeFn := func() error { return nil }
	if obs.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   obs.LogFile,
			MaxSize:    obs.LogMaxSizeMB,
			MaxBackups: obs.LogMaxBackups,
			MaxAge:     obs.LogMaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rotator), level))
		closeFn = rotator.Close
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	logger = logger.With(
		zap.String("service", obs.ServiceName),
		zap.String("environment", obs.Environment),
	)

	return logger, closeFn
}
