package registry

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/mikro-registry/internal/assets"
	"github.com/animus-labs/mikro-registry/internal/domain"
	"github.com/animus-labs/mikro-registry/internal/params"
	"github.com/animus-labs/mikro-registry/internal/repo"
	"github.com/animus-labs/mikro-registry/internal/version"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	FieldZip     = "zip"
	FieldPackage = "package.json"

	maxDescriptorBytes = 1 << 20
	rollbackTimeout    = 30 * time.Second
)

// ErrMissingPart is returned by a FileSource for an absent multipart field.
var ErrMissingPart = errors.New("missing upload part")

const missingPartsReason = "Missing package.json or zip file"

// FileSource yields the uploaded parts of a publish request. Parts are only
// opened once the version is known to be free.
type FileSource interface {
	Open(field string) (io.ReadCloser, error)
}

type publishState string

const (
	stateReceived  publishState = "received"
	stateValidated publishState = "validated"
	stateExtracted publishState = "extracted"
	stateCommitted publishState = "committed"
)

func (s *Service) Publish(ctx context.Context, name, ver string, files FileSource) (pkg domain.Package, err error) {
	if s == nil || s.db == nil || s.assets == nil {
		return domain.Package{}, errors.New("registry service not initialized")
	}
	ctx, span := s.tracer.Start(ctx, "registry.publish", trace.WithAttributes(
		attribute.String("component.name", name),
		attribute.String("component.version", ver),
	))
	defer func() { endSpan(span, err) }()

	if err := validateName(name); err != nil {
		return domain.Package{}, err
	}
	if err := version.ValidateExact(ver); err != nil {
		return domain.Package{}, err
	}
	if files == nil {
		return domain.Package{}, &domain.ValidationError{Reason: missingPartsReason}
	}

	key := domain.Key(name, ver)
	if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
		return domain.Package{}, fmt.Errorf("%w: %s is being published", domain.ErrVersionAlreadyExists, key)
	}
	defer s.inflight.Delete(key)

	exists, err := s.db.VersionExists(ctx, name, ver)
	if err != nil {
		return domain.Package{}, fmt.Errorf("version exists: %w", err)
	}
	if exists {
		return domain.Package{}, fmt.Errorf("%w: %s", domain.ErrVersionAlreadyExists, key)
	}

	id := uuid.NewString()
	scratch := filepath.Join(s.cfg.ScratchDir, id)
	bundleDir := filepath.Join(scratch, "bundle")
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return domain.Package{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			s.logger.Warn("scratch cleanup failed", "upload_id", id, "error", rmErr)
		}
	}()
	log := s.logger.With("component", name, "version", ver, "upload_id", id)
	log.Info("publish state", "state", stateReceived)

	descriptor, archive, err := s.receive(files, scratch)
	if err != nil {
		return domain.Package{}, err
	}

	pkg, err = s.validate(descriptor, name, ver)
	if err != nil {
		log.Info("publish rejected", "error", err)
		return domain.Package{}, err
	}
	log.Info("publish state", "state", stateValidated)

	publishedAt := s.now().UTC()
	pkg.PublishDate = &publishedAt
	if err := writeDescriptor(bundleDir, pkg); err != nil {
		return domain.Package{}, err
	}
	if err := extract(archive, bundleDir, s.cfg.MaxBundleBytes); err != nil {
		return domain.Package{}, err
	}
	log.Info("publish state", "state", stateExtracted)

	if _, err := s.assets.SaveComponent(ctx, bundleDir); err != nil {
		return domain.Package{}, err
	}
	if err := s.db.InsertComponent(ctx, repo.Component{
		Name:        name,
		Version:     ver,
		ClientSize:  pkg.ClientSize,
		ServerSize:  pkg.ServerSize,
		Serialized:  pkg.Serialized,
		PublishedAt: publishedAt,
	}); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			// Another publisher committed this version; the stored bundle
			// belongs to its record and stays.
			log.Warn("publish lost insert race", "error", err)
			return domain.Package{}, fmt.Errorf("%w: %s", domain.ErrVersionAlreadyExists, key)
		}
		s.rollback(ctx, log, name, ver)
		return domain.Package{}, fmt.Errorf("insert component: %w", err)
	}
	log.Info("publish state", "state", stateCommitted)
	return pkg, nil
}

// receive reads the descriptor and spools the archive to the scratch dir.
func (s *Service) receive(files FileSource, scratch string) ([]byte, string, error) {
	pkgPart, err := files.Open(FieldPackage)
	if err != nil {
		return nil, "", missingPart(err)
	}
	defer pkgPart.Close()
	zipPart, err := files.Open(FieldZip)
	if err != nil {
		return nil, "", missingPart(err)
	}
	defer zipPart.Close()

	descriptor, err := io.ReadAll(io.LimitReader(pkgPart, maxDescriptorBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read package.json: %w", err)
	}
	if len(descriptor) > maxDescriptorBytes {
		return nil, "", &domain.ValidationError{Reason: "package.json is too large"}
	}

	archive := filepath.Join(scratch, "upload.zip")
	f, err := os.Create(archive)
	if err != nil {
		return nil, "", fmt.Errorf("spool archive: %w", err)
	}
	if _, err := io.Copy(f, zipPart); err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("spool archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, "", fmt.Errorf("spool archive: %w", err)
	}
	return descriptor, archive, nil
}

func missingPart(err error) error {
	if errors.Is(err, ErrMissingPart) {
		return &domain.ValidationError{Reason: missingPartsReason}
	}
	return fmt.Errorf("open upload part: %w", err)
}

func (s *Service) validate(descriptor []byte, name, ver string) (domain.Package, error) {
	var pkg domain.Package
	if err := json.Unmarshal(descriptor, &pkg); err != nil {
		return domain.Package{}, &domain.ValidationError{Reason: "Invalid package.json: " + err.Error()}
	}
	if pkg.Name != name || pkg.Version != ver {
		return domain.Package{}, &domain.ValidationError{
			Reason: fmt.Sprintf("package.json describes %s@%s, not %s@%s", pkg.Name, pkg.Version, name, ver),
		}
	}
	if err := params.ValidateSchema(pkg.Parameters); err != nil {
		return domain.Package{}, &domain.ValidationError{Reason: err.Error()}
	}
	if s.cfg.Validator != nil {
		if err := s.cfg.Validator(pkg).Err(); err != nil {
			return domain.Package{}, err
		}
	}
	return pkg, nil
}

func (s *Service) rollback(ctx context.Context, log *slog.Logger, name, ver string) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := s.assets.RemoveComponent(rbCtx, name, ver); err != nil {
		log.Error("publish rollback failed", "error", err)
	}
}

func writeDescriptor(dir string, pkg domain.Package) error {
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode package.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, assets.PackageFile), data, 0o644); err != nil {
		return fmt.Errorf("write package.json: %w", err)
	}
	return nil
}

// extract unpacks archive into dir. Entries escaping dir are rejected and a
// root package.json in the archive never replaces the stamped descriptor.
func extract(archive, dir string, maxBytes int64) error {
	r, err := zip.OpenReader(archive)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = r.Close()
		return &domain.ValidationError{Reason: "zip archive escapes the bundle"}
	}
	if err != nil {
		return &domain.ValidationError{Reason: "Invalid zip file: " + err.Error()}
	}
	defer r.Close()

	var total int64
	for _, f := range r.File {
		name, err := entryName(f.Name)
		if err != nil {
			return err
		}
		if name == "" || name == assets.PackageFile {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}
			continue
		}
		if !f.Mode().IsRegular() {
			return &domain.ValidationError{Reason: fmt.Sprintf("zip entry %q is not a regular file", f.Name)}
		}
		written, err := extractFile(f, target, maxBytes-total)
		if err != nil {
			return err
		}
		total += written
	}
	return nil
}

func entryName(raw string) (string, error) {
	name := strings.ReplaceAll(raw, "\\", "/")
	if strings.HasPrefix(name, "/") || filepath.IsAbs(raw) {
		return "", &domain.ValidationError{Reason: fmt.Sprintf("zip entry %q has an absolute path", raw)}
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &domain.ValidationError{Reason: fmt.Sprintf("zip entry %q escapes the bundle", raw)}
	}
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

func extractFile(f *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("extract %s: %w", f.Name, err)
	}
	src, err := f.Open()
	if err != nil {
		return 0, &domain.ValidationError{Reason: fmt.Sprintf("zip entry %q: %v", f.Name, err)}
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", f.Name, err)
	}
	n, err := io.Copy(dst, io.LimitReader(src, budget+1))
	closeErr := dst.Close()
	if err != nil {
		return n, &domain.ValidationError{Reason: fmt.Sprintf("zip entry %q: %v", f.Name, err)}
	}
	if closeErr != nil {
		return n, fmt.Errorf("extract %s: %w", f.Name, closeErr)
	}
	if n > budget {
		return n, &domain.ValidationError{Reason: "bundle exceeds the maximum uncompressed size"}
	}
	return n, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return &domain.ValidationError{Reason: fmt.Sprintf("invalid component name %q", name)}
	}
	return nil
}
