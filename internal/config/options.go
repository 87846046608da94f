// Package config reads the operator options file of the registry.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/animus-labs/mikro-registry/internal/domain"
	"github.com/animus-labs/mikro-registry/internal/execution"
	"gopkg.in/yaml.v3"
)

const (
	PluginStatic = "static"
	PluginEnv    = "env"
	PluginNow    = "now"
)

type Options struct {
	// ExecutionTimeout is in milliseconds; 0 keeps the runner default.
	ExecutionTimeout      int64                 `yaml:"executionTimeout"`
	AvailableDependencies []string              `yaml:"availableDependencies"`
	Plugins               map[string]PluginSpec `yaml:"plugins"`
	PublishValidation     PublishValidationSpec `yaml:"publishValidation"`
}

type PluginSpec struct {
	Kind  string   `yaml:"kind"`
	Value string   `yaml:"value,omitempty"`
	Allow []string `yaml:"allow,omitempty"`
}

type PublishValidationSpec struct {
	NamePattern       string `yaml:"namePattern,omitempty"`
	MaxClientSize     int64  `yaml:"maxClientSize,omitempty"`
	MaxServerSize     int64  `yaml:"maxServerSize,omitempty"`
	RequireParameters bool   `yaml:"requireParameters,omitempty"`
}

// Load reads and validates the file at path. An empty path yields zero
// options.
func Load(path string) (Options, error) {
	if strings.TrimSpace(path) == "" {
		return Options{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read options: %w", err)
	}
	return Parse(data)
}

func Parse(input []byte) (Options, error) {
	var opts Options
	if err := yaml.Unmarshal(input, &opts); err != nil {
		return Options{}, fmt.Errorf("decode options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o Options) Validate() error {
	if o.ExecutionTimeout < 0 {
		return errors.New("executionTimeout must be >= 0")
	}
	for i, dep := range o.AvailableDependencies {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("availableDependencies[%d] is empty", i)
		}
	}
	for name, p := range o.Plugins {
		if strings.TrimSpace(name) == "" {
			return errors.New("plugins: name is required")
		}
		switch p.Kind {
		case PluginStatic, PluginNow:
		case PluginEnv:
			if p.Value == "" && len(p.Allow) == 0 {
				return fmt.Errorf("plugins.%s: env plugin needs value or allow", name)
			}
		default:
			return fmt.Errorf("plugins.%s.kind unsupported: %q", name, p.Kind)
		}
	}
	v := o.PublishValidation
	if v.NamePattern != "" {
		if _, err := regexp.Compile(v.NamePattern); err != nil {
			return fmt.Errorf("publishValidation.namePattern: %w", err)
		}
	}
	if v.MaxClientSize < 0 || v.MaxServerSize < 0 {
		return errors.New("publishValidation sizes must be >= 0")
	}
	return nil
}

func (o Options) Timeout() time.Duration {
	return time.Duration(o.ExecutionTimeout) * time.Millisecond
}

// BuildPlugins turns the plugin specs into the immutable runtime table.
// extra entries take precedence over file plugins of the same name.
func (o Options) BuildPlugins(extra map[string]execution.Plugin) execution.Plugins {
	table := make(map[string]execution.Plugin, len(o.Plugins)+len(extra))
	for name, spec := range o.Plugins {
		table[name] = buildPlugin(spec)
	}
	for name, fn := range extra {
		table[name] = fn
	}
	return execution.NewPlugins(table)
}

func buildPlugin(spec PluginSpec) execution.Plugin {
	switch spec.Kind {
	case PluginEnv:
		allow := slices.Clone(spec.Allow)
		fixed := spec.Value
		return func(ctx context.Context, args []any) (any, error) {
			if fixed != "" {
				return os.Getenv(fixed), nil
			}
			if len(args) == 0 {
				return nil, errors.New("env: variable name argument is required")
			}
			key, ok := args[0].(string)
			if !ok || !slices.Contains(allow, key) {
				return nil, fmt.Errorf("env: variable %v is not allowed", args[0])
			}
			return os.Getenv(key), nil
		}
	case PluginNow:
		return func(ctx context.Context, args []any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339Nano), nil
		}
	default:
		value := spec.Value
		return func(ctx context.Context, args []any) (any, error) {
			return value, nil
		}
	}
}

// PublishValidator returns nil when no rule is configured.
func (o Options) PublishValidator() domain.PublishValidator {
	v := o.PublishValidation
	if v == (PublishValidationSpec{}) {
		return nil
	}
	var pattern *regexp.Regexp
	if v.NamePattern != "" {
		pattern = regexp.MustCompile(v.NamePattern)
	}
	return func(pkg domain.Package) domain.ValidationResult {
		if pattern != nil && !pattern.MatchString(pkg.Name) {
			return domain.Reject(fmt.Sprintf("name %q does not match %s", pkg.Name, v.NamePattern))
		}
		if v.MaxClientSize > 0 && pkg.ClientSize != nil && *pkg.ClientSize > v.MaxClientSize {
			return domain.Reject(fmt.Sprintf("client bundle exceeds %d bytes", v.MaxClientSize))
		}
		if v.MaxServerSize > 0 && pkg.ServerSize != nil && *pkg.ServerSize > v.MaxServerSize {
			return domain.Reject(fmt.Sprintf("server bundle exceeds %d bytes", v.MaxServerSize))
		}
		if v.RequireParameters && len(pkg.Parameters) == 0 {
			return domain.Reject("parameters must be declared")
		}
		return domain.Accept()
	}
}
