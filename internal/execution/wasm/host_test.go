package wasm

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/animus-labs/mikro-registry/internal/execution"
)

// host.wasm (source in testdata/host.wat) calls mikro.plugin_call with fixed
// names and arguments and returns the host reply as its own result.
func loadHostFixture(t *testing.T, logger *slog.Logger) execution.Module {
	t.Helper()
	ctx := context.Background()
	code, err := os.ReadFile("testdata/host.wasm")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	loader, err := NewLoader(ctx, Config{MemoryLimitMiB: 1}, logger)
	if err != nil {
		t.Fatalf("NewLoader() err=%v", err)
	}
	t.Cleanup(func() { _ = loader.Close(context.Background()) })

	mod, err := loader.Load(ctx, "host", "1.0.0", code)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	return mod
}

func runAction(t *testing.T, mod execution.Module, action string, plugins execution.Plugins) (any, error) {
	t.Helper()
	fn, ok := mod.Action(action)
	if !ok {
		t.Fatalf("Action(%s) not found", action)
	}
	return fn(context.Background(), execution.Context{Plugins: plugins})
}

func TestPluginCallPassesArgumentsAndReturnsData(t *testing.T) {
	mod := loadHostFixture(t, nil)
	var gotArgs []any
	plugins := execution.NewPlugins(map[string]execution.Plugin{
		"greet": func(_ context.Context, args []any) (any, error) {
			gotArgs = args
			name, _ := args[0].(string)
			return "Hello, " + name, nil
		},
	})

	got, err := runAction(t, mod, "call", plugins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello, World" {
		t.Fatalf("result=%v, want Hello, World", got)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "World" {
		t.Fatalf("args=%v, want [World]", gotArgs)
	}
}

func TestPluginCallRejectsUngrantedPlugin(t *testing.T) {
	mod := loadHostFixture(t, nil)
	plugins := execution.NewPlugins(map[string]execution.Plugin{
		"greet": func(context.Context, []any) (any, error) { return "unused", nil },
	})

	_, err := runAction(t, mod, "missing", plugins)
	if err == nil || !strings.Contains(err.Error(), `plugin "nosuch" is not available`) {
		t.Fatalf("err=%v, want plugin not available", err)
	}
}

func TestPluginCallReportsPluginError(t *testing.T) {
	mod := loadHostFixture(t, nil)
	plugins := execution.NewPlugins(map[string]execution.Plugin{
		"greet": func(context.Context, []any) (any, error) { return nil, errors.New("quota exceeded") },
	})

	_, err := runAction(t, mod, "call", plugins)
	if err == nil || err.Error() != "quota exceeded" {
		t.Fatalf("err=%v, want quota exceeded", err)
	}
}

func TestPluginCallRejectsMalformedArguments(t *testing.T) {
	mod := loadHostFixture(t, nil)
	called := false
	plugins := execution.NewPlugins(map[string]execution.Plugin{
		"greet": func(context.Context, []any) (any, error) {
			called = true
			return "unused", nil
		},
	})

	_, err := runAction(t, mod, "badargs", plugins)
	if err == nil || !strings.Contains(err.Error(), "decode plugin arguments") {
		t.Fatalf("err=%v, want decode plugin arguments", err)
	}
	if called {
		t.Fatalf("plugin called with malformed arguments")
	}
}

func TestGuestLogIsAttributedToComponent(t *testing.T) {
	var entries []logEntry
	mod := loadHostFixture(t, entryLogger(&entries))

	got, err := runAction(t, mod, "log", execution.NewPlugins(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "logged" {
		t.Fatalf("result=%v, want logged", got)
	}

	var found *logEntry
	for i := range entries {
		if entries[i].Message == "hello from guest" {
			found = &entries[i]
		}
	}
	if found == nil {
		t.Fatalf("guest log line missing from %v", entries)
	}
	if found.Level != slog.LevelWarn {
		t.Fatalf("level=%v, want WARN", found.Level)
	}
	if found.Attrs["component"] != "host" || found.Attrs["version"] != "1.0.0" {
		t.Fatalf("attrs=%v, want component=host version=1.0.0", found.Attrs)
	}
	if found.Attrs["source"] != "component" {
		t.Fatalf("source=%q, want component", found.Attrs["source"])
	}
}
