// Package obixutil carries the ambient logging helpers shared by every
// subsystem: a zap-based daemon logger with a dynamically adjustable
// level, a throttled logger for noisy repeated conditions, and a small
// circular byte buffer.
package obixutil

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	atomicLevel = zap.NewAtomicLevel()
	daemonName  string
	tloggers    = make(map[string]*ThrottledLogger)
)

func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05.000"))
}

func zapCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	dir, fileName := filepath.Split(caller.File)
	dir = filepath.Base(dir)
	if dir != daemonName {
		fileName = filepath.Join(dir, fileName)
	}
	enc.AppendString(fmt.Sprintf("%s:%s:%d", daemonName, fileName, caller.Line))
}

// NewLogger returns a sugared zap logger tagged with name (typically the
// daemon's own name), with a timestamp, level, and file:line on every
// line.
func NewLogger(name string) *zap.SugaredLogger {
	daemonName = name

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = atomicLevel
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapTimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapCallerEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("obixutil: can't build logger: %s", err))
	}
	return logger.Sugar()
}

// SetLevel adjusts the process-wide log level at runtime; wired to the
// HTTP transport's /debug/loglevel endpoint.
func SetLevel(level string) error {
	var l zapcore.Level
	if err := (&l).UnmarshalText([]byte(level)); err != nil {
		return err
	}
	atomicLevel.SetLevel(l)
	return nil
}

// ThrottledLogger rate-limits a single call site with exponential
// backoff, so a condition that recurs every request (e.g. a device
// write-file failure) does not flood the log.
type ThrottledLogger struct {
	slog      *zap.SugaredLogger
	next      time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
	curDelay  time.Duration
}

func (t *ThrottledLogger) ready() bool {
	now := time.Now()
	if now.Before(t.next) {
		return false
	}
	t.next = now.Add(t.curDelay)
	t.curDelay *= 2
	if t.curDelay > t.maxDelay {
		t.curDelay = t.maxDelay
	}
	return true
}

// Errorw issues a throttled structured error log.
func (t *ThrottledLogger) Errorw(msg string, kv ...interface{}) {
	if t.ready() {
		t.slog.Errorw(msg, kv...)
	}
}

// Warnw issues a throttled structured warning log.
func (t *ThrottledLogger) Warnw(msg string, kv ...interface{}) {
	if t.ready() {
		t.slog.Warnw(msg, kv...)
	}
}

// GetThrottledLogger returns the throttled logger unique to its call
// site, allocating it on first use.
func GetThrottledLogger(slog *zap.SugaredLogger, start, max time.Duration) *ThrottledLogger {
	var key string
	if _, file, line, ok := runtime.Caller(1); ok {
		key = file + ":" + strconv.Itoa(line)
	} else {
		key = "unknown"
	}

	t, ok := tloggers[key]
	if !ok {
		t = &ThrottledLogger{
			slog:      slog.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar(),
			next:      time.Now(),
			baseDelay: start,
			curDelay:  start,
			maxDelay:  max,
		}
		tloggers[key] = t
	}
	return t
}
