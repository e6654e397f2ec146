// Package logging provides categorized structured logging for ThinkDrop.
// Every subsystem logs through a named zap logger so that routing decisions,
// agent lifecycle events, and cascade stages can be filtered independently.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"
	CategoryRouting      Category = "routing"
	CategoryAgents       Category = "agents"
	CategoryWorkflow     Category = "workflow"
	CategoryCascade      Category = "cascade"
	CategoryStore        Category = "store"
	CategoryEmbedding    Category = "embedding"
	CategoryLLM          Category = "llm"
	CategoryOrchestrator Category = "orchestrator"
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Options controls logger construction.
type Options struct {
	Level   string // debug, info, warn, error
	LogFile string // optional file sink in addition to stderr
	JSON    bool   // JSON encoding instead of console
}

// Initialize builds the process-wide root logger. Safe to call more than
// once; later calls replace the root and invalidate cached category loggers.
func Initialize(opts Options) error {
	level := zapcore.InfoLevel
	switch opts.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info", "":
		level = zapcore.InfoLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return fmt.Errorf("unknown log level: %q", opts.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sinks := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level),
	}

	if opts.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sinks = append(sinks, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), level))
	}

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(zapcore.NewTee(sinks...))
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns the sugared logger for a category, creating it on first use.
// Usable before Initialize; falls back to a no-op logger.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	base := root
	if base == nil {
		base = zap.NewNop()
	}
	l := base.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// Sync flushes all buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// Convenience helpers for the chattiest categories, mirroring call sites
// like logging.Routing("scored %d intents", n).

func Routing(format string, args ...interface{})  { Get(CategoryRouting).Infof(format, args...) }
func Agents(format string, args ...interface{})   { Get(CategoryAgents).Infof(format, args...) }
func Workflow(format string, args ...interface{}) { Get(CategoryWorkflow).Infof(format, args...) }
func Cascade(format string, args ...interface{})  { Get(CategoryCascade).Infof(format, args...) }

func RoutingDebug(format string, args ...interface{})  { Get(CategoryRouting).Debugf(format, args...) }
func AgentsDebug(format string, args ...interface{})   { Get(CategoryAgents).Debugf(format, args...) }
func WorkflowDebug(format string, args ...interface{}) { Get(CategoryWorkflow).Debugf(format, args...) }
func CascadeDebug(format string, args ...interface{})  { Get(CategoryCascade).Debugf(format, args...) }

func AgentsWarn(format string, args ...interface{})  { Get(CategoryAgents).Warnf(format, args...) }
func CascadeWarn(format string, args ...interface{}) { Get(CategoryCascade).Warnf(format, args...) }
