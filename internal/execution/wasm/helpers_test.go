package wasm

import (
	"context"
	"log/slog"
)

type logEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

type captureHandler struct {
	lines   *[]string
	entries *[]logEntry
	bound   []slog.Attr
}

func (h captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h captureHandler) Handle(_ context.Context, r slog.Record) error {
	if h.lines != nil {
		*h.lines = append(*h.lines, r.Message)
	}
	if h.entries != nil {
		attrs := make(map[string]string, len(h.bound)+r.NumAttrs())
		for _, a := range h.bound {
			attrs[a.Key] = a.Value.String()
		}
		r.Attrs(func(a slog.Attr) bool {
			attrs[a.Key] = a.Value.String()
			return true
		})
		*h.entries = append(*h.entries, logEntry{Level: r.Level, Message: r.Message, Attrs: attrs})
	}
	return nil
}

func (h captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := append(append([]slog.Attr(nil), h.bound...), attrs...)
	return captureHandler{lines: h.lines, entries: h.entries, bound: bound}
}

func (h captureHandler) WithGroup(string) slog.Handler { return h }

func testLogger(lines *[]string) *slog.Logger {
	return slog.New(captureHandler{lines: lines})
}

func entryLogger(entries *[]logEntry) *slog.Logger {
	return slog.New(captureHandler{entries: entries})
}
