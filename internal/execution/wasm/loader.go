// Package wasm loads component server bundles compiled to WebAssembly and
// runs them in a wazero sandbox.
//
// A bundle exports its linear memory, an allocator and one function per
// entry point:
//
//	memory
//	mikro_alloc(size i32) i32
//	mikro_loader(ptr, len i32) i64
//	mikro_action_<name>(ptr, len i32) i64
//
// Entry points receive a JSON document {"parameters", "input", "headers",
// "dependencies"} and return ptr<<32|len of a JSON envelope
// {"data": any, "error": string}. The host module "mikro" exposes
// plugin_call(namePtr, nameLen, argsPtr, argsLen i32) i64, which takes a
// JSON array of arguments and returns an envelope the same way, and
// log(level, ptr, len i32).
package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/animus-labs/mikro-registry/internal/execution"
)

const (
	hostModule   = "mikro"
	allocExport  = "mikro_alloc"
	loaderExport = "mikro_loader"
	actionPrefix = "mikro_action_"

	pageSize = 64 * 1024
)

type Config struct {
	// MemoryLimitMiB caps the linear memory of every instance.
	MemoryLimitMiB int
}

// Loader compiles bundles once per Loader and instantiates a fresh,
// isolated instance for every call.
type Loader struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	logger  *slog.Logger
}

var _ execution.ModuleLoader = (*Loader)(nil)

func NewLoader(ctx context.Context, cfg Config, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := cfg.MemoryLimitMiB
	if limit <= 0 {
		limit = 64
	}
	cache := wazero.NewCompilationCache()
	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(cache).
		WithMemoryLimitPages(uint32(limit * 1024 * 1024 / pageSize))
	rt := wazero.NewRuntimeWithConfig(ctx, rc)

	l := &Loader{runtime: rt, cache: cache, logger: logger}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = l.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	_, err := rt.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().WithFunc(l.pluginCall).Export("plugin_call").
		NewFunctionBuilder().WithFunc(l.log).Export("log").
		Instantiate(ctx)
	if err != nil {
		_ = l.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	return l, nil
}

func (l *Loader) Close(ctx context.Context) error {
	var errs []error
	if l.runtime != nil {
		errs = append(errs, l.runtime.Close(ctx))
	}
	if l.cache != nil {
		errs = append(errs, l.cache.Close(ctx))
	}
	return errors.Join(errs...)
}

func (l *Loader) Load(ctx context.Context, name, version string, code []byte) (execution.Module, error) {
	compiled, err := l.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("compile %s@%s: %w", name, version, err)
	}
	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("compile %s@%s: missing memory export", name, version)
	}
	exports := compiled.ExportedFunctions()
	if _, ok := exports[allocExport]; !ok {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("compile %s@%s: missing %s export", name, version, allocExport)
	}
	return &module{
		loader:   l,
		compiled: compiled,
		exports:  exports,
		logger:   l.logger.With("component", name, "version", version),
	}, nil
}

type module struct {
	loader   *Loader
	compiled wazero.CompiledModule
	exports  map[string]api.FunctionDefinition
	logger   *slog.Logger
}

func (m *module) Loader() (execution.Func, bool) {
	return m.entry(loaderExport)
}

func (m *module) Action(name string) (execution.Func, bool) {
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return nil, false
	}
	return m.entry(actionPrefix + name)
}

func (m *module) entry(export string) (execution.Func, bool) {
	if _, ok := m.exports[export]; !ok {
		return nil, false
	}
	return func(ctx context.Context, c execution.Context) (any, error) {
		return m.call(ctx, export, c)
	}, true
}

type invocation struct {
	Parameters   map[string]any      `json:"parameters"`
	Input        any                 `json:"input,omitempty"`
	Headers      map[string][]string `json:"headers"`
	Dependencies []string            `json:"dependencies"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

type callKey struct{}

// hostScope carries the invocation into host functions.
type hostScope struct {
	ctx    *execution.Context
	logger *slog.Logger
}

func (m *module) call(ctx context.Context, export string, c execution.Context) (any, error) {
	input, err := json.Marshal(invocation{
		Parameters:   c.Parameters,
		Input:        c.Input,
		Headers:      c.Headers,
		Dependencies: c.Dependencies,
	})
	if err != nil {
		return nil, fmt.Errorf("encode invocation: %w", err)
	}

	ctx = context.WithValue(ctx, callKey{}, &hostScope{ctx: &c, logger: m.logger})
	out := &logWriter{logger: m.logger, stream: "stdout"}
	errOut := &logWriter{logger: m.logger, stream: "stderr"}
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize").
		WithStdout(out).
		WithStderr(errOut).
		WithSysWalltime().
		WithSysNanotime()
	inst, err := m.loader.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	defer inst.Close(context.WithoutCancel(ctx))
	defer out.Flush()
	defer errOut.Flush()

	ptr, err := writeGuest(ctx, inst, input)
	if err != nil {
		return nil, err
	}
	res, err := inst.ExportedFunction(export).Call(ctx, uint64(ptr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", export, err)
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("call %s: expected one result, got %d", export, len(res))
	}
	body, err := readPacked(inst, res[0])
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", export, err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("call %s: decode result: %w", export, err)
	}
	if env.Error != "" {
		return nil, errors.New(env.Error)
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("call %s: decode data: %w", export, err)
	}
	return data, nil
}

func (l *Loader) pluginCall(ctx context.Context, mod api.Module, namePtr, nameLen, argsPtr, argsLen uint32) uint64 {
	reply := func(data any, err error) uint64 {
		env := map[string]any{"data": data}
		if err != nil {
			env = map[string]any{"error": err.Error()}
		}
		body, mErr := json.Marshal(env)
		if mErr != nil {
			body = []byte(`{"error":"plugin result is not serializable"}`)
		}
		ptr, wErr := writeGuest(ctx, mod, body)
		if wErr != nil {
			l.logger.Error("write plugin result", "error", wErr)
			return 0
		}
		return uint64(ptr)<<32 | uint64(len(body))
	}

	inv, ok := ctx.Value(callKey{}).(*hostScope)
	if !ok {
		return reply(nil, errors.New("plugin called outside an invocation"))
	}
	name, ok := mod.Memory().Read(namePtr, nameLen)
	if !ok {
		return reply(nil, errors.New("plugin name out of bounds"))
	}
	var args []any
	if argsLen > 0 {
		raw, ok := mod.Memory().Read(argsPtr, argsLen)
		if !ok {
			return reply(nil, errors.New("plugin arguments out of bounds"))
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return reply(nil, fmt.Errorf("decode plugin arguments: %w", err))
		}
	}
	return reply(inv.ctx.Plugins.Call(ctx, string(name), args...))
}

func (l *Loader) log(ctx context.Context, mod api.Module, level, ptr, size uint32) {
	msg, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return
	}
	lvl := slog.LevelInfo
	switch level {
	case 0:
		lvl = slog.LevelDebug
	case 2:
		lvl = slog.LevelWarn
	case 3:
		lvl = slog.LevelError
	}
	logger := l.logger
	if inv, ok := ctx.Value(callKey{}).(*hostScope); ok {
		logger = inv.logger
	}
	logger.Log(ctx, lvl, string(msg), "source", "component")
}

func writeGuest(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	alloc := mod.ExportedFunction(allocExport)
	if alloc == nil {
		return 0, fmt.Errorf("missing %s export", allocExport)
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("alloc: %w", err)
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("write %d bytes at %d: out of bounds", len(data), ptr)
	}
	return ptr, nil
}

func readPacked(mod api.Module, packed uint64) ([]byte, error) {
	ptr, size := uint32(packed>>32), uint32(packed)
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("result at %d+%d out of bounds", ptr, size)
	}
	// Read aliases guest memory, which goes away with the instance.
	return append([]byte(nil), data...), nil
}
