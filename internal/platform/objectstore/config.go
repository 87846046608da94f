package objectstore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/animus-labs/mikro-registry/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	Bucket        string
	PublicBaseURL string
	// UploadConcurrency bounds parallel object uploads per publish.
	UploadConcurrency int
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("REGISTRY_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	concurrency, err := env.Int("REGISTRY_MINIO_UPLOAD_CONCURRENCY", 8)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:          env.String("REGISTRY_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:         env.String("REGISTRY_MINIO_ACCESS_KEY", "mikro"),
		SecretKey:         env.String("REGISTRY_MINIO_SECRET_KEY", "mikrominio"),
		Region:            env.String("REGISTRY_MINIO_REGION", "us-east-1"),
		UseSSL:            useSSL,
		Bucket:            env.String("REGISTRY_MINIO_BUCKET", "components"),
		PublicBaseURL:     env.String("REGISTRY_MINIO_PUBLIC_BASE_URL", ""),
		UploadConcurrency: concurrency,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if c.UploadConcurrency <= 0 {
		return errors.New("upload concurrency must be positive")
	}
	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("public base url must be absolute: %q", c.PublicBaseURL)
		}
	}
	return nil
}
