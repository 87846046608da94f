package main

import (
	"bytes"
	"log/slog"
	"sync"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// lockedBuffer is written by server goroutines and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
