package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"USER_AGENT", "ROBOTS_TXT", "HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy", "RATE_LIMIT", "HTTP_TIMEOUT", "MAX_PER_HOST"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.UserAgent != "linkcheck/1.0" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if !cfg.RobotsTxt {
		t.Error("robots.txt checking must default to on")
	}
	if len(cfg.Proxies) != 0 {
		t.Errorf("expected no proxies, got %v", cfg.Proxies)
	}
	if cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("HTTPTimeout = %s", cfg.HTTPTimeout)
	}
	if cfg.MaxPerHost != 1 {
		t.Errorf("MaxPerHost = %d", cfg.MaxPerHost)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("USER_AGENT", "custom/2.0")
	t.Setenv("ROBOTS_TXT", "false")
	t.Setenv("HTTP_PROXY", "http://proxy.local:3128")
	t.Setenv("RATE_LIMIT", "2.5")
	t.Setenv("MAX_CONCURRENCY", "not-a-number")
	t.Setenv("MAX_PER_HOST", "3")

	cfg := Load()

	if cfg.UserAgent != "custom/2.0" || cfg.RobotsTxt {
		t.Errorf("unexpected agent/robots: %q %v", cfg.UserAgent, cfg.RobotsTxt)
	}
	if cfg.Proxies["http"] != "http://proxy.local:3128" {
		t.Errorf("Proxies = %v", cfg.Proxies)
	}
	if cfg.RateLimit != 2.5 {
		t.Errorf("RateLimit = %v", cfg.RateLimit)
	}
	if cfg.MaxPerHost != 3 {
		t.Errorf("MaxPerHost = %d", cfg.MaxPerHost)
	}
	if cfg.MaxConcurrency != 8 {
		t.Errorf("invalid int must fall back to default, got %d", cfg.MaxConcurrency)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkcheck.yaml")
	content := `
user_agent: yaml-agent/1.0
robotstxt: false
proxy:
  HTTPS: secure-proxy.local:8443
credentials:
  - host: intranet.example.com
    user: alice
    password: s3cret
  - host: "*"
    user: guest
    password: guest
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{UserAgent: "env", RobotsTxt: true, Proxies: map[string]string{"http": "http://p:1"}}
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.UserAgent != "yaml-agent/1.0" || cfg.RobotsTxt {
		t.Errorf("file values not applied: %q %v", cfg.UserAgent, cfg.RobotsTxt)
	}
	if cfg.Proxies["http"] != "http://p:1" || cfg.Proxies["https"] != "secure-proxy.local:8443" {
		t.Errorf("Proxies = %v", cfg.Proxies)
	}

	creds := cfg.StaticCredentials()
	if creds["intranet.example.com"].Username != "alice" || creds["*"].Password != "guest" {
		t.Errorf("credentials = %+v", creds)
	}
}

func TestLoadFileErrors(t *testing.T) {
	cfg := Load()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("credentials:\n  - user: nohost\n"), 0o600)
	if err := cfg.LoadFile(path); err == nil {
		t.Error("expected error for credential without host")
	}
}
