package execution

import (
	"context"
	"fmt"
	"net/http"
	"sort"
)

// Function selects the loader or a named action of a server module.
type Function struct {
	kind   functionKind
	action string
}

type functionKind int

const (
	loaderKind functionKind = iota
	actionKind
)

func Loader() Function {
	return Function{kind: loaderKind}
}

func Action(name string) Function {
	return Function{kind: actionKind, action: name}
}

func (f Function) IsLoader() bool {
	return f.kind == loaderKind
}

func (f Function) ActionName() string {
	return f.action
}

func (f Function) String() string {
	if f.kind == loaderKind {
		return "loader"
	}
	return "action:" + f.action
}

// Func is a resolved server-side function.
type Func func(ctx context.Context, c Context) (any, error)

// Module is a loaded server bundle.
type Module interface {
	Loader() (Func, bool)
	Action(name string) (Func, bool)
}

// StaticModule is an in-process module, used for embedded components and
// tests.
type StaticModule struct {
	LoaderFunc Func
	Actions    map[string]Func
}

func (m StaticModule) Loader() (Func, bool) {
	return m.LoaderFunc, m.LoaderFunc != nil
}

func (m StaticModule) Action(name string) (Func, bool) {
	fn, ok := m.Actions[name]
	return fn, ok && fn != nil
}

// ModuleLoader turns server bundle bytes into a Module.
type ModuleLoader interface {
	Load(ctx context.Context, name, version string, code []byte) (Module, error)
}

func resolve(m Module, fn Function) (Func, bool) {
	if m == nil {
		return nil, false
	}
	if fn.IsLoader() {
		return m.Loader()
	}
	return m.Action(fn.action)
}

// Plugin is a registry granted capability callable from component code.
type Plugin func(ctx context.Context, args []any) (any, error)

// Plugins is an immutable plugin table. Component code can call the
// plugins it was granted but cannot add or replace them.
type Plugins struct {
	table map[string]Plugin
}

func NewPlugins(table map[string]Plugin) Plugins {
	copied := make(map[string]Plugin, len(table))
	for name, fn := range table {
		if fn != nil {
			copied[name] = fn
		}
	}
	return Plugins{table: copied}
}

func (p Plugins) Has(name string) bool {
	_, ok := p.table[name]
	return ok
}

func (p Plugins) Names() []string {
	names := make([]string, 0, len(p.table))
	for name := range p.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p Plugins) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := p.table[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q is not available", name)
	}
	return fn(ctx, args)
}

// Context is what a server function sees of the request.
type Context struct {
	Parameters   map[string]any
	Input        any
	Plugins      Plugins
	Headers      http.Header
	Dependencies []string
}
