// Package registry composes version resolution, asset storage, parameter
// decoding and server execution into the registry use cases.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/mikro-registry/internal/assets"
	"github.com/animus-labs/mikro-registry/internal/domain"
	"github.com/animus-labs/mikro-registry/internal/execution"
	"github.com/animus-labs/mikro-registry/internal/params"
	"github.com/animus-labs/mikro-registry/internal/repo"
	"github.com/animus-labs/mikro-registry/internal/serialize"
	"github.com/animus-labs/mikro-registry/internal/version"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	defaultModuleCacheSize = 64
	defaultMaxBundleBytes  = 256 << 20
	fallbackContentType    = "application/javascript"
)

// Assets is the slice of assets.Repository the service depends on.
type Assets interface {
	PackageJSON(ctx context.Context, name, version string) (domain.Package, error)
	Template(ctx context.Context, name, version string) ([]byte, error)
	File(ctx context.Context, name, version, filePath string) ([]byte, error)
	Server(ctx context.Context, name, version string) ([]byte, error)
	TemplateURL(name, version string) *url.URL
	SaveComponent(ctx context.Context, scratchDir string) (domain.Package, error)
	RemoveComponent(ctx context.Context, name, version string) error
}

type Executor interface {
	Run(ctx context.Context, req execution.Request) (any, error)
}

type Config struct {
	// ScratchDir holds in-flight uploads; each publish gets its own subdir.
	ScratchDir string
	// MaxBundleBytes caps the uncompressed size of an uploaded archive.
	MaxBundleBytes  int64
	ModuleCacheSize int
	Validator       domain.PublishValidator
}

type Service struct {
	db        repo.ComponentRepository
	assets    Assets
	runner    Executor
	loader    execution.ModuleLoader
	resolver  *version.Resolver
	logger    *slog.Logger
	tracer    trace.Tracer
	cfg       Config
	modules   *lru.Cache[string, execution.Module]
	loadGroup singleflight.Group
	inflight  sync.Map
	now       func() time.Time
}

func NewService(db repo.ComponentRepository, assetRepo Assets, runner Executor, loader execution.ModuleLoader, cfg Config, logger *slog.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("component repository is required")
	}
	if assetRepo == nil {
		return nil, errors.New("asset repository is required")
	}
	if runner == nil {
		return nil, errors.New("execution runner is required")
	}
	if strings.TrimSpace(cfg.ScratchDir) == "" {
		return nil, errors.New("scratch dir is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxBundleBytes <= 0 {
		cfg.MaxBundleBytes = defaultMaxBundleBytes
	}
	if cfg.ModuleCacheSize <= 0 {
		cfg.ModuleCacheSize = defaultModuleCacheSize
	}
	modules, err := lru.New[string, execution.Module](cfg.ModuleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("module cache: %w", err)
	}
	return &Service{
		db:       db,
		assets:   assetRepo,
		runner:   runner,
		loader:   loader,
		resolver: version.NewResolver(logger),
		logger:   logger,
		tracer:   otel.Tracer("github.com/animus-labs/mikro-registry/internal/service/registry"),
		cfg:      cfg,
		modules:  modules,
		now:      time.Now,
	}, nil
}

type FetchRequest struct {
	Name    string
	Version string
	Query   url.Values
	Headers http.Header
	// BaseURL is the externally visible registry origin, used to build the
	// template URL for local storage.
	BaseURL string
}

type FetchResult struct {
	Src       string `json:"src"`
	Data      any    `json:"data"`
	Component string `json:"component"`
	Version   string `json:"version"`
}

func (s *Service) FetchComponent(ctx context.Context, req FetchRequest) (result FetchResult, err error) {
	if s == nil || s.db == nil || s.assets == nil {
		return FetchResult{}, errors.New("registry service not initialized")
	}
	ctx, span := s.tracer.Start(ctx, "registry.fetch", trace.WithAttributes(
		attribute.String("component.name", req.Name),
		attribute.String("component.version_spec", req.Version),
	))
	defer func() { endSpan(span, err) }()

	resolved, err := s.resolve(ctx, req.Name, req.Version)
	if err != nil {
		return FetchResult{}, err
	}
	span.SetAttributes(attribute.String("component.version", resolved))

	pkg, err := s.assets.PackageJSON(ctx, req.Name, resolved)
	if err != nil {
		return FetchResult{}, err
	}

	decoded := map[string]any{}
	if pkg.Parameters != nil {
		decoded, err = params.Decode(pkg.Parameters, params.FromQuery(req.Query))
		if err != nil {
			return FetchResult{}, err
		}
	}

	var data any
	if pkg.HasServer() {
		data, err = s.execute(ctx, req.Name, resolved, execution.Request{
			Function:   execution.Loader(),
			Parameters: decoded,
			Headers:    req.Headers,
		})
		if err != nil {
			return FetchResult{}, err
		}
	}
	if pkg.Serialized {
		data, err = serialize.Marshal(data)
		if err != nil {
			return FetchResult{}, fmt.Errorf("serialize loader data: %w", err)
		}
	}

	return FetchResult{
		Src:       s.templateSrc(req.BaseURL, req.Name, resolved),
		Data:      data,
		Component: req.Name,
		Version:   resolved,
	}, nil
}

type ActionRequest struct {
	Name    string
	Version string
	Action  string
	// Parameters is the raw JSON of the request body "parameters" field.
	Parameters json.RawMessage
	Headers    http.Header
}

type ActionResult struct {
	Data any `json:"data"`
}

func (s *Service) ExecuteAction(ctx context.Context, req ActionRequest) (result ActionResult, err error) {
	if s == nil || s.db == nil || s.assets == nil {
		return ActionResult{}, errors.New("registry service not initialized")
	}
	ctx, span := s.tracer.Start(ctx, "registry.action", trace.WithAttributes(
		attribute.String("component.name", req.Name),
		attribute.String("component.version_spec", req.Version),
		attribute.String("component.action", req.Action),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(req.Action) == "" {
		return ActionResult{}, fmt.Errorf("%w: action name is required", domain.ErrFunctionNotFound)
	}
	resolved, err := s.resolve(ctx, req.Name, req.Version)
	if err != nil {
		return ActionResult{}, err
	}
	record, err := s.db.GetComponent(ctx, req.Name, resolved)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ActionResult{}, domain.ErrComponentNotFound
		}
		return ActionResult{}, fmt.Errorf("get component: %w", err)
	}
	if record.ServerSize == nil || *record.ServerSize <= 0 {
		return ActionResult{}, fmt.Errorf("%w: %s has no server code", domain.ErrFunctionNotFound, domain.Key(req.Name, resolved))
	}

	input, err := decodeActionParameters(req.Parameters, record.Serialized)
	if err != nil {
		return ActionResult{}, err
	}
	execReq := execution.Request{
		Function: execution.Action(req.Action),
		Input:    input,
		Headers:  req.Headers,
	}
	if m, ok := input.(map[string]any); ok {
		execReq.Parameters = m
	}

	data, err := s.execute(ctx, req.Name, resolved, execReq)
	if err != nil {
		return ActionResult{}, err
	}
	if record.Serialized {
		data, err = serialize.Marshal(data)
		if err != nil {
			return ActionResult{}, fmt.Errorf("serialize action data: %w", err)
		}
	}
	return ActionResult{Data: data}, nil
}

// Asset is a static file of a committed bundle.
type Asset struct {
	Body        []byte
	ContentType string
}

func (s *Service) Template(ctx context.Context, name, ver string) (Asset, error) {
	if s == nil || s.assets == nil {
		return Asset{}, errors.New("registry service not initialized")
	}
	if err := version.ValidateExact(ver); err != nil {
		return Asset{}, err
	}
	body, err := s.assets.Template(ctx, name, ver)
	if err != nil {
		return Asset{}, err
	}
	return Asset{Body: body, ContentType: fallbackContentType}, nil
}

func (s *Service) File(ctx context.Context, name, ver, filePath string) (Asset, error) {
	if s == nil || s.assets == nil {
		return Asset{}, errors.New("registry service not initialized")
	}
	if err := version.ValidateExact(ver); err != nil {
		return Asset{}, err
	}
	body, err := s.assets.File(ctx, name, ver, filePath)
	if err != nil {
		return Asset{}, err
	}
	return Asset{Body: body, ContentType: contentType(filePath)}, nil
}

func contentType(filePath string) string {
	if ct := mime.TypeByExtension(path.Ext(filePath)); ct != "" {
		return ct
	}
	return fallbackContentType
}

func (s *Service) resolve(ctx context.Context, name, raw string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", domain.ErrComponentNotFound
	}
	spec, err := version.ParseSpec(raw)
	if err != nil {
		return "", err
	}
	published, err := s.db.GetComponentVersions(ctx, name)
	if err != nil {
		return "", fmt.Errorf("get versions: %w", err)
	}
	if len(published) == 0 {
		return "", domain.ErrComponentNotFound
	}
	return s.resolver.Resolve(published, spec)
}

func (s *Service) execute(ctx context.Context, name, ver string, req execution.Request) (any, error) {
	module, err := s.module(ctx, name, ver)
	if err != nil {
		return nil, err
	}
	req.Name = name
	req.Version = ver
	req.Module = module
	return s.runner.Run(ctx, req)
}

// module loads and caches the server bundle of name@ver. Concurrent
// callers share one load.
func (s *Service) module(ctx context.Context, name, ver string) (execution.Module, error) {
	if s.loader == nil {
		return nil, fmt.Errorf("%w: server execution is not configured", domain.ErrFunctionNotFound)
	}
	key := domain.Key(name, ver)
	if m, ok := s.modules.Get(key); ok {
		return m, nil
	}
	v, err, _ := s.loadGroup.Do(key, func() (any, error) {
		if m, ok := s.modules.Get(key); ok {
			return m, nil
		}
		code, err := s.assets.Server(ctx, name, ver)
		if err != nil {
			return nil, err
		}
		m, err := s.loader.Load(ctx, name, ver, code)
		if err != nil {
			return nil, fmt.Errorf("load server bundle %s: %w", key, err)
		}
		s.modules.Add(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(execution.Module), nil
}

func (s *Service) templateSrc(baseURL, name, ver string) string {
	u := s.assets.TemplateURL(name, ver)
	if u != nil && !assets.IsLocal(u) {
		return u.String()
	}
	return strings.TrimRight(baseURL, "/") + "/template/" + url.PathEscape(name) + "/" + url.PathEscape(ver) + "/entry.js"
}

// decodeActionParameters accepts plain JSON, or for serialized components
// the structure-preserving envelope either as a JSON string or inline.
func decodeActionParameters(raw json.RawMessage, serialized bool) (any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if serialized {
		text := trimmed
		if strings.HasPrefix(trimmed, `"`) {
			if err := json.Unmarshal(raw, &text); err != nil {
				return nil, invalidParameters(err)
			}
		}
		v, err := serialize.Unmarshal(text)
		if err != nil {
			return nil, invalidParameters(err)
		}
		return v, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, invalidParameters(err)
	}
	return v, nil
}

func invalidParameters(err error) error {
	return fmt.Errorf("%w: parameters: %v", domain.ErrInvalidParameterType, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
