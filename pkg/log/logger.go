package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Category names attached to every record so a single log stream can be
// filtered per subsystem.
const (
	categoryApplication = "application"
	categoryGateway     = "gateway"
	categoryREST        = "rest"
	categoryCache       = "cache"
	categoryStorage     = "storage"
)

// Config controls where and how much the loggers write.
type Config struct {
	// Level is the minimum level emitted ("debug", "info", "warn", "error").
	Level string
	// Dir is the directory for the rotated log file. Empty disables file output.
	Dir string
	// ConsoleJSON switches the console handler to JSON instead of text.
	ConsoleJSON bool
}

type registry struct {
	application *slog.Logger
	gateway     *slog.Logger
	rest        *slog.Logger
	cache       *slog.Logger
	storage     *slog.Logger
	rotator     *lumberjack.Logger
}

var (
	mu     sync.RWMutex
	global *registry
)

// Setup initializes the package-level loggers. It is safe to call more than
// once; the last call wins. File output rotates via lumberjack.
func Setup(cfg Config) error {
	level := parseLevel(cfg.Level)

	var writers []io.Writer
	writers = append(writers, os.Stderr)

	var rotator *lumberjack.Logger
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return err
		}
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "gatecore.log"),
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		writers = append(writers, rotator)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.ConsoleJSON {
		handler = slog.NewJSONHandler(io.MultiWriter(writers...), opts)
	} else {
		handler = slog.NewTextHandler(io.MultiWriter(writers...), opts)
	}

	root := slog.New(handler)

	mu.Lock()
	global = &registry{
		application: root.With("category", categoryApplication),
		gateway:     root.With("category", categoryGateway),
		rest:        root.With("category", categoryREST),
		cache:       root.With("category", categoryCache),
		storage:     root.With("category", categoryStorage),
		rotator:     rotator,
	}
	mu.Unlock()
	return nil
}

// Close flushes and closes the rotating file writer, if any.
func Close() error {
	mu.RLock()
	r := global
	mu.RUnlock()
	if r != nil && r.rotator != nil {
		return r.rotator.Close()
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func get(pick func(*registry) *slog.Logger) *slog.Logger {
	mu.RLock()
	r := global
	mu.RUnlock()
	if r == nil {
		// Setup was never called; fall back to the process default logger so
		// early log calls are not silently dropped.
		return slog.Default()
	}
	return pick(r)
}

// ApplicationLogger returns the logger for lifecycle and wiring concerns.
func ApplicationLogger() *slog.Logger {
	return get(func(r *registry) *slog.Logger { return r.application })
}

// GatewayLogger returns the logger for shard/session traffic.
func GatewayLogger() *slog.Logger { return get(func(r *registry) *slog.Logger { return r.gateway }) }

// RESTLogger returns the logger for outbound HTTP and rate limiting.
func RESTLogger() *slog.Logger { return get(func(r *registry) *slog.Logger { return r.rest }) }

// CacheLogger returns the logger for entity cache activity.
func CacheLogger() *slog.Logger { return get(func(r *registry) *slog.Logger { return r.cache }) }

// StorageLogger returns the logger for the persistence layer.
func StorageLogger() *slog.Logger { return get(func(r *registry) *slog.Logger { return r.storage }) }
