package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"field-sync-service/internal/config"
)

// Log is the process-wide logger. InitLogger replaces the default
// no-op logger during startup.
var Log = zap.NewNop()

func InitLogger(cfg config.LoggingConfig) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		rotating := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
		sink = zapcore.NewMultiWriteSyncer(sink, rotating)
	}

	Log = zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller())
	return nil
}

func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
