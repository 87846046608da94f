package wasm

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/mikro-registry/internal/execution"
)

// fixture.wasm exports memory, a fixed-offset mikro_alloc, a mikro_loader
// returning {"data":"hi"}, mikro_action_fail returning {"error":"nope"} and
// mikro_action_spin which never returns.
func loadFixture(t *testing.T) (*Loader, execution.Module) {
	t.Helper()
	ctx := context.Background()
	code, err := os.ReadFile("testdata/fixture.wasm")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	loader, err := NewLoader(ctx, Config{MemoryLimitMiB: 1}, nil)
	if err != nil {
		t.Fatalf("NewLoader() err=%v", err)
	}
	t.Cleanup(func() { _ = loader.Close(context.Background()) })

	mod, err := loader.Load(ctx, "fixture", "1.0.0", code)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	return loader, mod
}

func TestLoaderEntryPoint(t *testing.T) {
	_, mod := loadFixture(t)
	fn, ok := mod.Loader()
	if !ok {
		t.Fatalf("Loader() not found")
	}
	got, err := fn(context.Background(), execution.Context{Parameters: map[string]any{"name": "World"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hi" {
		t.Fatalf("loader result=%v, want hi", got)
	}
}

func TestActionLookup(t *testing.T) {
	_, mod := loadFixture(t)
	if _, ok := mod.Action("missing"); ok {
		t.Fatalf("Action(missing) found")
	}
	fn, ok := mod.Action("fail")
	if !ok {
		t.Fatalf("Action(fail) not found")
	}
	_, err := fn(context.Background(), execution.Context{})
	if err == nil || err.Error() != "nope" {
		t.Fatalf("err=%v, want nope", err)
	}
}

func TestSpinningGuestIsStoppedOnDeadline(t *testing.T) {
	_, mod := loadFixture(t)
	fn, ok := mod.Action("spin")
	if !ok {
		t.Fatalf("Action(spin) not found")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := fn(ctx, execution.Context{})
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error from interrupted guest")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("guest kept running after its deadline")
	}
}

func TestLoadRejectsBundlesWithoutABI(t *testing.T) {
	ctx := context.Background()
	loader, err := NewLoader(ctx, Config{}, nil)
	if err != nil {
		t.Fatalf("NewLoader() err=%v", err)
	}
	defer loader.Close(ctx)

	empty := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if _, err := loader.Load(ctx, "empty", "1.0.0", empty); err == nil || !strings.Contains(err.Error(), "memory") {
		t.Fatalf("Load(empty) err=%v, want missing memory", err)
	}
	if _, err := loader.Load(ctx, "junk", "1.0.0", []byte("not wasm")); err == nil {
		t.Fatalf("Load(junk) expected error")
	}
}

func TestRunnerTimesOutWasmGuest(t *testing.T) {
	_, mod := loadFixture(t)
	runner := execution.NewRunner(execution.Config{Timeout: 30 * time.Millisecond}, nil)
	_, err := runner.Run(context.Background(), execution.Request{Module: mod, Function: execution.Action("spin")})
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err=%v, want timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, parent context was not cancelled", err)
	}
}

func TestLogWriterSplitsLines(t *testing.T) {
	var lines []string
	w := &logWriter{logger: testLogger(&lines), stream: "stdout"}
	_, _ = w.Write([]byte("first\nsec"))
	_, _ = w.Write([]byte("ond\n"))
	_, _ = w.Write([]byte("tail"))
	w.Flush()
	want := []string{"first", "second", "tail"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("lines=%v, want %v", lines, want)
	}
}
