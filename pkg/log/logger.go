package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/small-frappuccino/panelcore/pkg/util"
)

// Loggers are slog front ends split by concern. Application covers process
// lifecycle and subsystem wiring, Discord covers gateway/interaction traffic,
// Panel covers router/store activity, Error is the raw error sink.
type Loggers struct {
	application *slog.Logger
	discord     *slog.Logger
	panel       *slog.Logger
	error       *slog.Logger

	rotator *lumberjack.Logger
}

var (
	globalMu     sync.RWMutex
	GlobalLogger *Loggers
	level        slog.LevelVar
)

// SetupLogger initializes the global loggers. Log lines go to stdout/stderr
// and to a size-rotated file under the app data directory. Idempotent.
func SetupLogger() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if GlobalLogger != nil {
		return nil
	}

	logDir := util.LogDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "panelcore.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	level.Set(levelFromEnv())
	outHandler := slog.NewTextHandler(io.MultiWriter(os.Stdout, rotator), &slog.HandlerOptions{Level: &level})
	errHandler := slog.NewTextHandler(io.MultiWriter(os.Stderr, rotator), &slog.HandlerOptions{Level: slog.LevelWarn})

	GlobalLogger = &Loggers{
		application: slog.New(outHandler).With("component", "application"),
		discord:     slog.New(outHandler).With("component", "discord"),
		panel:       slog.New(outHandler).With("component", "panel"),
		error:       slog.New(errHandler),
		rotator:     rotator,
	}

	return nil
}

// Sync flushes and closes the rotating file writer.
func (l *Loggers) Sync() {
	if l == nil || l.rotator == nil {
		return
	}
	_ = l.rotator.Close()
}

func levelFromEnv() slog.Level {
	return parseLevel(os.Getenv("PANELCORE_LOG_LEVEL"))
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel adjusts the stdout handler level at runtime. Unknown names fall
// back to info.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

// ApplicationLogger returns the application-lifecycle logger.
func ApplicationLogger() *slog.Logger {
	return pick(func(l *Loggers) *slog.Logger { return l.application })
}

// DiscordLogger returns the Discord traffic logger.
func DiscordLogger() *slog.Logger {
	return pick(func(l *Loggers) *slog.Logger { return l.discord })
}

// PanelLogger returns the panel subsystem logger.
func PanelLogger() *slog.Logger {
	return pick(func(l *Loggers) *slog.Logger { return l.panel })
}

// ErrorLoggerRaw returns the error sink logger.
func ErrorLoggerRaw() *slog.Logger {
	return pick(func(l *Loggers) *slog.Logger { return l.error })
}

// pick falls back to slog.Default() before SetupLogger runs so early callers
// and tests never hit a nil logger.
func pick(sel func(*Loggers) *slog.Logger) *slog.Logger {
	globalMu.RLock()
	l := GlobalLogger
	globalMu.RUnlock()
	if l == nil {
		return slog.Default()
	}
	return sel(l)
}
