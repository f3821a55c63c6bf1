package logger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"
)

// Logger over a bare slog.Handler so records carry the caller of Debug/Info/Warn/Error
type handlerLogger struct {
	h slog.Handler
}

// Frames above the record: runtime.Callers, emit and the level method
const callerSkip = 3

func (l handlerLogger) emit(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.h.Enabled(ctx, level) {
		return
	}

	var pc [1]uintptr
	runtime.Callers(callerSkip, pc[:])

	r := slog.NewRecord(time.Now(), level, msg, pc[0])
	r.Add(args...)
	_ = l.h.Handle(ctx, r)
}

func (l handlerLogger) Debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args) }
func (l handlerLogger) Info(msg string, args ...any)  { l.emit(slog.LevelInfo, msg, args) }
func (l handlerLogger) Warn(msg string, args ...any)  { l.emit(slog.LevelWarn, msg, args) }
func (l handlerLogger) Error(msg string, args ...any) { l.emit(slog.LevelError, msg, args) }

func (l handlerLogger) With(args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	r := slog.NewRecord(time.Time{}, 0, "", 0)
	r.Add(args...)

	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return handlerLogger{h: l.h.WithAttrs(attrs)}
}

func (l handlerLogger) WithGroup(name string) Logger {
	if name == "" {
		return l
	}
	return handlerLogger{h: l.h.WithGroup(name)}
}

// Accepts slog level names in any case, offsets like "info+2" too
func parseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// Source as "pkg/file.go:line", enough to tell same named files apart
func shortSource(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey || len(groups) > 0 {
		return a
	}
	if src, ok := a.Value.Any().(*slog.Source); ok && src.File != "" {
		src.File = filepath.Join(filepath.Base(filepath.Dir(src.File)), filepath.Base(src.File))
	}
	return a
}
