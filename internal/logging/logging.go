// Package logging provides the process-wide, thread-safe log sink: a zap
// sugared logger writing to a size-rotated file plus stderr.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.Mutex
	logger = zap.NewNop().Sugar()
)

// Init points the sink at path. Safe to call once at startup, before any
// reactor thread exists; the installed logger itself is goroutine-safe.
func Init(path string) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    256, // MB
		MaxBackups: 4,
	})
	core := zapcore.NewTee(
		zapcore.NewCore(enc, sink, zapcore.InfoLevel),
		zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), zapcore.WarnLevel),
	)

	mu.Lock()
	logger = zap.New(core).Sugar()
	mu.Unlock()
}

func get() *zap.SugaredLogger {
	mu.Lock()
	l := logger
	mu.Unlock()
	return l
}

func Infof(format string, args ...interface{})  { get().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { get().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }

// Sync flushes buffered entries; called on shutdown.
func Sync() error { return get().Sync() }
