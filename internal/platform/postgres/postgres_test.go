package postgres

import (
	"strings"
	"testing"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL != defaultURL {
		t.Fatalf("URL=%q, want default", cfg.URL)
	}
	if cfg.ApplicationName != "mikro-registry" {
		t.Fatalf("ApplicationName=%q", cfg.ApplicationName)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	base := Config{URL: defaultURL, PingTimeout: 1, MaxOpenConns: 2, MaxIdleConns: 1}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	cases := map[string]func(*Config){
		"DATABASE_URL":                     func(c *Config) { c.URL = "" },
		"REGISTRY_DATABASE_PING_TIMEOUT":   func(c *Config) { c.PingTimeout = 0 },
		"REGISTRY_DATABASE_MAX_OPEN_CONNS": func(c *Config) { c.MaxOpenConns = 0 },
		"REGISTRY_DATABASE_MAX_IDLE_CONNS": func(c *Config) { c.MaxIdleConns = 3 },
	}
	for want, mutate := range cases {
		cfg := base
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("err=%v, want mention of %s", err, want)
		}
	}
}

func TestConfigValidate_BadURL(t *testing.T) {
	cfg := Config{URL: "postgres://%zz", PingTimeout: 1, MaxOpenConns: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected parse error")
	}
}
