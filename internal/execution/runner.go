// Package execution runs component server functions under a wall-clock
// timeout.
//
// The timeout bounds what the caller observes. A function that ignores its
// context keeps running after the caller gave up; its result is dropped.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/animus-labs/mikro-registry/internal/domain"
)

const DefaultTimeout = 5 * time.Second

type Config struct {
	Timeout      time.Duration
	Plugins      Plugins
	Dependencies []string
}

type Runner struct {
	timeout      time.Duration
	plugins      Plugins
	dependencies []string
	logger       *slog.Logger
}

func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		timeout:      timeout,
		plugins:      cfg.Plugins,
		dependencies: append([]string(nil), cfg.Dependencies...),
		logger:       logger,
	}
}

// Request is one invocation of a server function.
type Request struct {
	Name       string
	Version    string
	Module     Module
	Function   Function
	Parameters map[string]any
	Input      any
	Headers    http.Header
}

type outcome struct {
	value any
	err   error
}

func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

func (r *Runner) Run(ctx context.Context, req Request) (any, error) {
	fn, ok := resolve(req.Module, req.Function)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", domain.ErrFunctionNotFound, req.Function, domain.Key(req.Name, req.Version))
	}

	execCtx := Context{
		Parameters:   req.Parameters,
		Input:        req.Input,
		Plugins:      r.plugins,
		Headers:      req.Headers.Clone(),
		Dependencies: r.dependencies,
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("panic: %v\n%s", rec, debug.Stack())}
			}
		}()
		value, err := fn(runCtx, execCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if res.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, r.timedOut(req)
		}
		if res.err != nil {
			r.logger.Error("component function failed",
				"component", req.Name,
				"version", req.Version,
				"function", req.Function.String(),
				"duration_ms", time.Since(start).Milliseconds(),
				"error", res.err,
			)
			return nil, &domain.ExecutionError{Function: req.Function.String(), Cause: res.err}
		}
		return res.value, nil
	case <-runCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, r.timedOut(req)
	}
}

func (r *Runner) timedOut(req Request) error {
	r.logger.Warn("component function timed out",
		"component", req.Name,
		"version", req.Version,
		"function", req.Function.String(),
		"timeout_ms", r.timeout.Milliseconds(),
	)
	return fmt.Errorf("%w after %s", domain.ErrExecutionTimeout, r.timeout)
}
