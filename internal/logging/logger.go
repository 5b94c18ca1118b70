// Package logging holds the process-wide zap logger. It is silent until a
// level is configured, so library code can log freely without producing
// output in CLI commands that did not ask for it.
package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevelEnvVar is the environment variable that controls logging verbosity
// when no level is configured. Valid values: "debug", "info", "warn", "error".
const LogLevelEnvVar = "R4S_LOG_LEVEL"

// Options configures Initialize.
type Options struct {
	Level string // empty falls back to LogLevelEnvVar; still empty means silent
	File  string // optional rotating log file, written in addition to stderr

	MaxSizeMB  int // rotate after this many megabytes (default 10)
	MaxBackups int // rotated files kept (default 3)
}

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// Initialize replaces the global logger according to opts.
func Initialize(opts Options) error {
	level := opts.Level
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		set(zap.NewNop())
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(withColor(encCfg)), zapcore.Lock(os.Stderr), zapLevel),
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("logging: create log directory: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(fileWriter(opts)),
			zapLevel,
		))
	}

	set(zap.New(zapcore.NewTee(cores...), zap.AddCaller()))
	return nil
}

// ParseLevel converts a level name to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
}

func withColor(cfg zapcore.EncoderConfig) zapcore.EncoderConfig {
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

func fileWriter(opts Options) *lumberjack.Logger {
	size, backups := opts.MaxSizeMB, opts.MaxBackups
	if size <= 0 {
		size = 10
	}
	if backups <= 0 {
		backups = 3
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    size,
		MaxBackups: backups,
		Compress:   true,
	}
}

func set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		_ = logger.Sync()
	}
	logger = l
}

// SetLogger installs l as the global logger. Tests use it with zaptest or
// observer loggers.
func SetLogger(l *zap.Logger) { set(l) }

// GetLogger returns the global logger, a no-op logger if none was set.
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Named returns a child of the global logger.
func Named(name string) *zap.Logger { return GetLogger().Named(name) }

func Info(msg string, fields ...zap.Field) { GetLogger().Info(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { GetLogger().Debug(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetLogger().Error(msg, fields...) }

// LogFrame logs a raw protocol frame at debug level.
func LogFrame(l *zap.Logger, direction string, data []byte) {
	if ce := l.Check(zapcore.DebugLevel, "frame"); ce != nil {
		ce.Write(
			zap.String("direction", direction),
			zap.Int("length", len(data)),
			zap.String("hex", FormatBytes(data)),
		)
	}
}

// FormatBytes renders data as space separated hex, truncated after 64 bytes.
func FormatBytes(data []byte) string {
	const limit = 64
	suffix := ""
	if len(data) > limit {
		data, suffix = data[:limit], " ..."
	}
	if len(data) == 0 {
		return ""
	}
	var b strings.Builder
	enc := hex.EncodeToString(data)
	for i := 0; i < len(enc); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(enc[i : i+2])
	}
	return b.String() + suffix
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = GetLogger().Sync()
}
