package objectstore

import "testing"

func validConfig() Config {
	return Config{
		Endpoint:          "localhost:9000",
		AccessKey:         "a",
		SecretKey:         "b",
		Region:            "us-east-1",
		Bucket:            "components",
		UploadConcurrency: 4,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	cases := map[string]func(*Config){
		"scheme in endpoint": func(c *Config) { c.Endpoint = "http://localhost:9000" },
		"missing bucket":     func(c *Config) { c.Bucket = " " },
		"zero concurrency":   func(c *Config) { c.UploadConcurrency = 0 },
		"relative base url":  func(c *Config) { c.PublicBaseURL = "/cdn" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: Validate() expected error", name)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REGISTRY_MINIO_BUCKET", "bundles")
	t.Setenv("REGISTRY_MINIO_PUBLIC_BASE_URL", "https://cdn.example.com/bundles")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Bucket != "bundles" {
		t.Fatalf("Bucket=%q, want bundles", cfg.Bucket)
	}
	if cfg.UploadConcurrency != 8 {
		t.Fatalf("UploadConcurrency=%d, want 8", cfg.UploadConcurrency)
	}
}

func TestNewMinIOClient(t *testing.T) {
	client, err := NewMinIOClient(validConfig())
	if err != nil {
		t.Fatalf("NewMinIOClient() err=%v", err)
	}
	if got := client.EndpointURL().Host; got != "localhost:9000" {
		t.Fatalf("EndpointURL().Host=%q, want localhost:9000", got)
	}
}
