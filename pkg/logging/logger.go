// Package logging provides structured logging for authstate components.
//
// One global zap logger is initialised per process. Each invocation gets a
// random ID that is attached to every entry so logs from parallel CI jobs
// writing to the same file can be told apart. Components take a named child
// logger with Named.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log output.
type Config struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level" mapstructure:"level"`
	// Format is "console" (default) or "json".
	Format string `yaml:"format" mapstructure:"format"`
	// File, when set, receives a JSON copy of every entry with rotation.
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

var (
	global atomic.Pointer[zap.Logger]
	once   sync.Once

	invocationID     string
	invocationIDOnce sync.Once
)

// InvocationID returns the random ID for this process.
func InvocationID() string {
	invocationIDOnce.Do(func() {
		invocationID = uuid.NewString()
	})
	return invocationID
}

// Initialize builds the global logger. Only the first call has an effect.
// Console output goes to w; a nil w means stderr.
func Initialize(cfg Config, w io.Writer) *zap.Logger {
	once.Do(func() {
		if w == nil {
			w = os.Stderr
		}
		logger := New(cfg, zapcore.AddSync(w))
		global.Store(logger)
	})
	return L()
}

// New builds a standalone logger without touching the global one.
func New(cfg Config, console zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil || cfg.Level == "" {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder(cfg.Format), zapcore.Lock(console), level)}

	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
		}
		cores = append(cores, zapcore.NewCore(encoder("json"), zapcore.AddSync(rotating), level))
	}

	return zap.New(zapcore.NewTee(cores...)).
		Named("authstate").
		With(zap.String("invocation", InvocationID()))
}

func encoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	if format == "json" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(encCfg)
	}
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(encCfg)
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// L returns the global logger, or a no-op logger before Initialize.
func L() *zap.Logger {
	if logger := global.Load(); logger != nil {
		return logger
	}
	return zap.NewNop()
}

// Named returns a child of the global logger for a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync() {
	_ = L().Sync()
}

// ResetForTest clears the global logger so Initialize can run again.
func ResetForTest() {
	global.Store(nil)
	once = sync.Once{}
}
