package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/animus-labs/mikro-registry/internal/domain"
	"github.com/animus-labs/mikro-registry/internal/platform/auth"
	"github.com/animus-labs/mikro-registry/internal/service/registry"
)

const (
	maxJSONBodyBytes = 1 << 20
	multipartMemory  = 8 << 20
)

type registryAPI struct {
	logger         *slog.Logger
	svc            *registry.Service
	publicBaseURL  string
	uploadMaxBytes int64
	publishAuth    func(http.Handler) http.Handler
}

func newRegistryAPI(logger *slog.Logger, svc *registry.Service, publicBaseURL string, uploadMaxBytes int64, publishAuth func(http.Handler) http.Handler) *registryAPI {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = int64(64) << 20
	}
	if publishAuth == nil {
		publishAuth = func(h http.Handler) http.Handler { return h }
	}
	return &registryAPI{
		logger:         logger,
		svc:            svc,
		publicBaseURL:  strings.TrimRight(publicBaseURL, "/"),
		uploadMaxBytes: uploadMaxBytes,
		publishAuth:    publishAuth,
	}
}

func (api *registryAPI) register(mux *http.ServeMux) {
	mux.Handle("POST /publish/{name}/{version}", api.publishAuth(http.HandlerFunc(api.handlePublish)))

	mux.HandleFunc("GET /component/{name}", api.handleGetComponent)
	mux.HandleFunc("GET /component/{name}/{version}", api.handleGetComponent)

	mux.HandleFunc("POST /action/{name}", api.handleAction)
	mux.HandleFunc("POST /action/{name}/{version}", api.handleAction)

	mux.HandleFunc("GET /template/{name}/{version}/entry.js", api.handleTemplate)
	mux.HandleFunc("GET /template/{name}/{version}/{path...}", api.handleFile)
}

func (api *registryAPI) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > api.uploadMaxBytes {
		api.writeText(w, http.StatusRequestEntityTooLarge, "Upload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, api.uploadMaxBytes)

	src := &multipartSource{r: r}
	defer src.cleanup()

	pkg, err := api.svc.Publish(r.Context(), r.PathValue("name"), r.PathValue("version"), src)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	publisher, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		publisher = auth.Identity{Subject: "anonymous"}
	}
	api.logger.Info("component published",
		"component", pkg.Name,
		"version", pkg.Version,
		"publisher", publisher,
		"request_id", r.Header.Get("X-Request-Id"),
	)
	api.writeText(w, http.StatusOK, "OK")
}

func (api *registryAPI) handleGetComponent(w http.ResponseWriter, r *http.Request) {
	res, err := api.svc.FetchComponent(r.Context(), registry.FetchRequest{
		Name:    r.PathValue("name"),
		Version: r.PathValue("version"),
		Query:   r.URL.Query(),
		Headers: r.Header,
		BaseURL: api.baseURL(r),
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, res)
}

type actionRequest struct {
	Action     string          `json:"action"`
	Parameters json.RawMessage `json:"parameters"`
}

func (api *registryAPI) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		api.writeText(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		api.writeText(w, http.StatusBadRequest, "action is required")
		return
	}
	res, err := api.svc.ExecuteAction(r.Context(), registry.ActionRequest{
		Name:       r.PathValue("name"),
		Version:    r.PathValue("version"),
		Action:     req.Action,
		Parameters: req.Parameters,
		Headers:    r.Header,
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, res)
}

func (api *registryAPI) handleTemplate(w http.ResponseWriter, r *http.Request) {
	asset, err := api.svc.Template(r.Context(), r.PathValue("name"), r.PathValue("version"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeAsset(w, asset)
}

func (api *registryAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	asset, err := api.svc.File(r.Context(), r.PathValue("name"), r.PathValue("version"), r.PathValue("path"))
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeAsset(w, asset)
}

// baseURL is the origin clients use to reach this registry.
func (api *registryAPI) baseURL(r *http.Request) string {
	if api.publicBaseURL != "" {
		return api.publicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// errorStatus maps service errors to a status and a client-safe message.
func errorStatus(err error) (int, string) {
	var (
		paramErr *domain.ParameterError
		valErr   *domain.ValidationError
		maxErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "Upload too large"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, domain.ErrComponentNotFound):
		return http.StatusBadRequest, "Component not found"
	case errors.Is(err, domain.ErrVersionNotFound):
		return http.StatusBadRequest, "Version not found"
	case errors.Is(err, domain.ErrInvalidVersion):
		return http.StatusBadRequest, "Invalid version"
	case errors.As(err, &paramErr):
		return http.StatusBadRequest, paramErr.Error()
	case errors.Is(err, domain.ErrInvalidParameterType):
		return http.StatusBadRequest, "Invalid parameters"
	case errors.As(err, &valErr):
		if valErr.Reason == "" {
			return http.StatusBadRequest, "Did not pass publish validation"
		}
		return http.StatusBadRequest, valErr.Reason
	case errors.Is(err, domain.ErrVersionAlreadyExists):
		return http.StatusBadRequest, "Version already exists"
	case errors.Is(err, domain.ErrFunctionNotFound):
		return http.StatusBadRequest, "Function not found"
	case errors.Is(err, domain.ErrExecutionTimeout):
		return http.StatusBadRequest, "Execution timed out"
	case errors.Is(err, domain.ErrExecution):
		return http.StatusBadRequest, "Component execution failed"
	case errors.Is(err, domain.ErrStorageNotFound):
		return http.StatusNotFound, "Not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (api *registryAPI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		api.logger.Error("request failed",
			"request_id", r.Header.Get("X-Request-Id"),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	api.writeText(w, status, msg)
}

func (api *registryAPI) writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func (api *registryAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		api.logger.Warn("encode response failed", "error", err)
	}
}

func (api *registryAPI) writeAsset(w http.ResponseWriter, asset registry.Asset) {
	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.Body)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(asset.Body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// multipartSource parses the request body on first use, so nothing is read
// before the service has checked that the version is free.
type multipartSource struct {
	r      *http.Request
	parsed bool
	err    error
}

func (s *multipartSource) Open(field string) (io.ReadCloser, error) {
	if !s.parsed {
		s.parsed = true
		s.err = s.r.ParseMultipartForm(multipartMemory)
	}
	if s.err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(s.err, &maxErr) {
			return nil, s.err
		}
		return nil, registry.ErrMissingPart
	}
	form := s.r.MultipartForm
	if files := form.File[field]; len(files) > 0 {
		return files[0].Open()
	}
	if values := form.Value[field]; len(values) > 0 {
		return io.NopCloser(strings.NewReader(values[0])), nil
	}
	return nil, registry.ErrMissingPart
}

func (s *multipartSource) cleanup() {
	if s.r.MultipartForm != nil {
		_ = s.r.MultipartForm.RemoveAll()
	}
}

var _ registry.FileSource = (*multipartSource)(nil)
