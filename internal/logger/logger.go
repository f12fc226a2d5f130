package logger

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration.
type Config struct {
	Level  string
	Format string
}

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// Init builds the process-wide logger writing to stdout.
func Init(cfg Config) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	set(build(os.Stdout, level, cfg.Format))
}

// New returns a JSON logger writing to w. Handy for tests that inspect output.
func New(w io.Writer, level zapcore.Level) *zap.Logger {
	return build(w, level, "json")
}

// L returns the process-wide logger. It is a no-op logger until Init is called.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Replace swaps the process-wide logger and returns a func restoring the previous one.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := log
	log = l
	mu.Unlock()
	return func() { set(prev) }
}

// Sync flushes any buffered log entries.
func Sync() error {
	return L().Sync()
}

func set(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

func build(w io.Writer, level zapcore.Level, format string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var enc zapcore.Encoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel))
}
