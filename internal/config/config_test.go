package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/objectfs/cloudfile/pkg/errors"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Remote.Backend != BackendMemory {
		t.Errorf("Expected memory backend by default, got %s", cfg.Remote.Backend)
	}

	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries to be 3, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.InitialDelay != 2*time.Second {
		t.Errorf("Expected InitialDelay to be 2s, got %v", cfg.Retry.InitialDelay)
	}
	if cfg.Retry.MaxDelay != 60*time.Second {
		t.Errorf("Expected MaxDelay to be 60s, got %v", cfg.Retry.MaxDelay)
	}

	if cfg.Queue.WorkerCount != 3 {
		t.Errorf("Expected WorkerCount to be 3, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Queue.PollInterval != 100*time.Millisecond {
		t.Errorf("Expected PollInterval to be 100ms, got %v", cfg.Queue.PollInterval)
	}
	if cfg.Queue.Retention != 5*time.Minute {
		t.Errorf("Expected Retention to be 5m, got %v", cfg.Queue.Retention)
	}

	if !cfg.Cache.Enabled {
		t.Error("Expected cache to be enabled by default")
	}
	if !cfg.Audit.Enabled {
		t.Error("Expected audit to be enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Configuration)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Configuration) {},
			wantErr: false,
		},
		{
			name:    "lowercase log level accepted",
			mutate:  func(cfg *Configuration) { cfg.Global.LogLevel = "debug" },
			wantErr: false,
		},
		{
			name:    "invalid log level",
			mutate:  func(cfg *Configuration) { cfg.Global.LogLevel = "TRACE" },
			wantErr: true,
			errMsg:  "invalid log_level",
		},
		{
			name:    "invalid log format",
			mutate:  func(cfg *Configuration) { cfg.Global.LogFormat = "xml" },
			wantErr: true,
			errMsg:  "invalid log_format",
		},
		{
			name:    "unknown backend",
			mutate:  func(cfg *Configuration) { cfg.Remote.Backend = "ftp" },
			wantErr: true,
			errMsg:  "unknown remote backend",
		},
		{
			name:    "http backend needs base url",
			mutate:  func(cfg *Configuration) { cfg.Remote.Backend = BackendHTTP },
			wantErr: true,
			errMsg:  "base_url",
		},
		{
			name: "token url needs credentials",
			mutate: func(cfg *Configuration) {
				cfg.Remote.Backend = BackendHTTP
				cfg.Remote.BaseURL = "https://docs.example.com/api"
				cfg.Remote.TokenURL = "https://login.example.com/token"
			},
			wantErr: true,
			errMsg:  "client_id",
		},
		{
			name:    "circuit breaker threshold",
			mutate:  func(cfg *Configuration) { cfg.Remote.CircuitBreaker.FailureThreshold = 0 },
			wantErr: true,
			errMsg:  "failure_threshold",
		},
		{
			name:    "circuit breaker open timeout",
			mutate:  func(cfg *Configuration) { cfg.Remote.CircuitBreaker.OpenTimeout = 0 },
			wantErr: true,
			errMsg:  "open_timeout",
		},
		{
			name: "disabled circuit breaker not validated",
			mutate: func(cfg *Configuration) {
				cfg.Remote.CircuitBreaker = CircuitBreakerConfig{Enabled: false}
			},
			wantErr: false,
		},
		{
			name:    "s3 backend needs bucket",
			mutate:  func(cfg *Configuration) { cfg.Remote.Backend = BackendS3 },
			wantErr: true,
			errMsg:  "bucket",
		},
		{
			name:    "negative retries",
			mutate:  func(cfg *Configuration) { cfg.Retry.MaxRetries = -1 },
			wantErr: true,
			errMsg:  "max_retries",
		},
		{
			name:    "max delay below initial delay",
			mutate:  func(cfg *Configuration) { cfg.Retry.MaxDelay = time.Second },
			wantErr: true,
			errMsg:  "max_delay",
		},
		{
			name:    "zero workers with queue enabled",
			mutate:  func(cfg *Configuration) { cfg.Queue.WorkerCount = 0 },
			wantErr: true,
			errMsg:  "worker_count",
		},
		{
			name: "zero workers with queue disabled",
			mutate: func(cfg *Configuration) {
				cfg.Queue.Enabled = false
				cfg.Queue.WorkerCount = 0
			},
			wantErr: false,
		},
		{
			name:    "zero cache size",
			mutate:  func(cfg *Configuration) { cfg.Cache.MaxSizeMB = 0 },
			wantErr: true,
			errMsg:  "max_size_mb",
		},
		{
			name:    "no sites",
			mutate:  func(cfg *Configuration) { cfg.Sites = nil },
			wantErr: true,
			errMsg:  "at least one site",
		},
		{
			name: "duplicate site",
			mutate: func(cfg *Configuration) {
				cfg.Sites = append(cfg.Sites, SiteConfig{Name: "default", SiteID: "other"})
			},
			wantErr: true,
			errMsg:  "duplicate site",
		},
		{
			name:    "unsafe site name",
			mutate:  func(cfg *Configuration) { cfg.Sites[0].Name = "../etc"; cfg.DefaultSite = "../etc" },
			wantErr: true,
			errMsg:  "invalid site name",
		},
		{
			name:    "unknown default site",
			mutate:  func(cfg *Configuration) { cfg.DefaultSite = "missing" },
			wantErr: true,
			errMsg:  "default_site",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !errors.HasCode(err, errors.ErrCodeConfigValidation) {
					t.Errorf("Expected CONFIG_VALIDATION, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "cloudfile.yaml")

	content := `
global:
  log_level: DEBUG
  log_format: console
remote:
  backend: http
  base_url: https://docs.example.com/api
  token_url: https://login.example.com/oauth2/token
  client_id: app
  client_secret: secret
  scopes: [files.readwrite]
sites:
  - name: finance
    site_id: contoso-finance
    environment: production
  - name: finance-test
    site_id: contoso-finance-test
    environment: staging
default_site: finance
retry:
  max_retries: 5
  initial_delay: 500ms
  max_delay: 10s
cache:
  enabled: true
  directory: /var/cache/cloudfile
  max_size_mb: 1024
  expiration_hours: 12
queue:
  enabled: true
  worker_count: 8
  poll_interval: 50ms
  retention: 10m
`
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Remote.Backend != BackendHTTP || cfg.Remote.ClientID != "app" {
		t.Errorf("Remote section not loaded: %+v", cfg.Remote)
	}
	if len(cfg.Remote.Scopes) != 1 || cfg.Remote.Scopes[0] != "files.readwrite" {
		t.Errorf("Expected scopes [files.readwrite], got %v", cfg.Remote.Scopes)
	}
	if len(cfg.Sites) != 2 || cfg.Sites[1].Environment != "staging" {
		t.Errorf("Sites not loaded: %+v", cfg.Sites)
	}
	if cfg.Retry.InitialDelay != 500*time.Millisecond || cfg.Retry.MaxDelay != 10*time.Second {
		t.Errorf("Retry durations not parsed: %+v", cfg.Retry)
	}
	if cfg.Queue.WorkerCount != 8 || cfg.Queue.PollInterval != 50*time.Millisecond {
		t.Errorf("Queue section not loaded: %+v", cfg.Queue)
	}
	if cfg.Queue.ShutdownTimeout != 30*time.Second {
		t.Errorf("Unset fields should keep defaults, got %v", cfg.Queue.ShutdownTimeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/cloudfile.yaml")
	if err == nil {
		t.Fatal("Expected error for non-existent file")
	}
	if !errors.HasCode(err, errors.ErrCodeConfigLoad) {
		t.Errorf("Expected CONFIG_LOAD, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"CLOUDFILE_LOG_LEVEL":              "WARN",
		"CLOUDFILE_BACKEND":                "s3",
		"CLOUDFILE_S3_BUCKET":              "documents",
		"CLOUDFILE_S3_FORCE_PATH_STYLE":    "true",
		"CLOUDFILE_SCOPES":                 "a,b",
		"CLOUDFILE_MAX_RETRIES":            "7",
		"CLOUDFILE_RETRY_INITIAL_DELAY":    "250ms",
		"CLOUDFILE_CACHE_ENABLED":          "false",
		"CLOUDFILE_CACHE_MAX_SIZE_MB":      "64",
		"CLOUDFILE_CACHE_EXPIRATION_HOURS": "2",
		"CLOUDFILE_QUEUE_WORKERS":          "5",
		"CLOUDFILE_CIRCUIT_OPEN_TIMEOUT":   "1m",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from env: %v", err)
	}

	if cfg.Global.LogLevel != "WARN" {
		t.Errorf("Expected LogLevel WARN, got %s", cfg.Global.LogLevel)
	}
	if cfg.Remote.Backend != BackendS3 || cfg.Remote.S3.Bucket != "documents" || !cfg.Remote.S3.ForcePathStyle {
		t.Errorf("S3 overrides not applied: %+v", cfg.Remote)
	}
	if len(cfg.Remote.Scopes) != 2 {
		t.Errorf("Expected 2 scopes, got %v", cfg.Remote.Scopes)
	}
	if cfg.Retry.MaxRetries != 7 || cfg.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("Retry overrides not applied: %+v", cfg.Retry)
	}
	if cfg.Cache.Enabled || cfg.Cache.MaxSizeMB != 64 || cfg.Cache.ExpirationHours != 2 {
		t.Errorf("Cache overrides not applied: %+v", cfg.Cache)
	}
	if cfg.Queue.WorkerCount != 5 {
		t.Errorf("Expected 5 workers, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Remote.CircuitBreaker.OpenTimeout != time.Minute {
		t.Errorf("Expected 1m open timeout, got %v", cfg.Remote.CircuitBreaker.OpenTimeout)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("CLOUDFILE_MAX_RETRIES", "many")
	t.Setenv("CLOUDFILE_RETRY_MAX_DELAY", "soon")

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if err == nil {
		t.Fatal("Expected error for unparsable overrides")
	}
	for _, want := range []string{"CLOUDFILE_MAX_RETRIES", "CLOUDFILE_RETRY_MAX_DELAY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err.Error(), want)
		}
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("invalid override must not change the value, got %d", cfg.Retry.MaxRetries)
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "nested", "cloudfile.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = "DEBUG"
	cfg.Queue.Retention = 90 * time.Second
	cfg.Sites = append(cfg.Sites, SiteConfig{Name: "hr", SiteID: "contoso-hr", Environment: "production"})

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if loaded.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", loaded.Global.LogLevel)
	}
	if loaded.Queue.Retention != 90*time.Second {
		t.Errorf("Expected retention 90s, got %v", loaded.Queue.Retention)
	}
	if len(loaded.Sites) != 2 || loaded.Sites[1].SiteID != "contoso-hr" {
		t.Errorf("Sites not round-tripped: %+v", loaded.Sites)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("CLOUDFILE_QUEUE_WORKERS", "0")

	if _, err := Load(""); err == nil {
		t.Fatal("Expected validation error from env override")
	}

	t.Setenv("CLOUDFILE_QUEUE_WORKERS", "2")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Queue.WorkerCount != 2 {
		t.Errorf("Expected 2 workers, got %d", cfg.Queue.WorkerCount)
	}
}

func TestSiteResolution(t *testing.T) {
	cfg := NewDefault()
	cfg.Sites = append(cfg.Sites, SiteConfig{Name: "hr", SiteID: "contoso-hr"})

	site, err := cfg.Site("")
	if err != nil || site.Name != "default" {
		t.Errorf("empty name should resolve the default site, got %+v, %v", site, err)
	}

	site, err = cfg.Site("hr")
	if err != nil || site.SiteID != "contoso-hr" {
		t.Errorf("Expected hr site, got %+v, %v", site, err)
	}

	_, err = cfg.Site("missing")
	if !errors.HasCode(err, errors.ErrCodeUnknownSite) {
		t.Errorf("Expected CONFIG_UNKNOWN_SITE, got %v", err)
	}
}

func TestComponentConfigs(t *testing.T) {
	cfg := NewDefault()
	cfg.Cache.Directory = "/var/cache/cloudfile"
	cfg.Cache.MaxSizeMB = 2
	cfg.Cache.ExpirationHours = 3

	cc := cfg.CacheConfig(SiteConfig{Name: "hr", SiteID: "contoso-hr"})
	if cc.Directory != filepath.Join("/var/cache/cloudfile", "hr") {
		t.Errorf("Expected per-site directory, got %s", cc.Directory)
	}
	if cc.MaxSizeBytes != 2*1024*1024 {
		t.Errorf("Expected 2MB in bytes, got %d", cc.MaxSizeBytes)
	}
	if cc.Expiration != 3*time.Hour {
		t.Errorf("Expected 3h expiration, got %v", cc.Expiration)
	}

	rc := cfg.RetryConfig()
	if rc.MaxRetries != 3 || rc.InitialDelay != 2*time.Second {
		t.Errorf("Unexpected retry config: %+v", rc)
	}

	qc := cfg.QueueConfig()
	if !qc.Enabled || qc.WorkerCount != 3 || qc.Retention != 5*time.Minute {
		t.Errorf("Unexpected queue config: %+v", qc)
	}

	cb, ok := cfg.CircuitConfig()
	if !ok || cb.FailureThreshold != 5 || cb.OpenTimeout != 30*time.Second || cb.HalfOpenRequests != 1 {
		t.Errorf("Unexpected circuit config: %+v (enabled %v)", cb, ok)
	}
	cfg.Remote.CircuitBreaker.Enabled = false
	if _, ok := cfg.CircuitConfig(); ok {
		t.Error("Expected disabled circuit breaker")
	}
}
