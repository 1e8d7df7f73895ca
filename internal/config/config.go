package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/cloudfile/internal/cache"
	"github.com/objectfs/cloudfile/internal/circuit"
	"github.com/objectfs/cloudfile/internal/queue"
	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/retry"
)

// Remote backends
const (
	BackendHTTP   = "http"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CLOUDFILE_"

var siteNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig `yaml:"global"`
	Remote      RemoteConfig `yaml:"remote"`
	Sites       []SiteConfig `yaml:"sites"`
	DefaultSite string       `yaml:"default_site"`
	Retry       RetryConfig  `yaml:"retry"`
	Cache       CacheConfig  `yaml:"cache"`
	Queue       QueueConfig  `yaml:"queue"`
	Audit       AuditConfig  `yaml:"audit"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// MetricsPort exposes /metrics when non-zero.
	MetricsPort int `yaml:"metrics_port"`
}

// RemoteConfig selects and configures the remote document store
type RemoteConfig struct {
	Backend      string        `yaml:"backend"`
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Scopes       []string      `yaml:"scopes"`
	Timeout      time.Duration `yaml:"timeout"`
	S3           S3Config      `yaml:"s3"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig guards each site against a remote that keeps failing
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests"`
}

// S3Config represents S3-compatible backend settings
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SiteConfig maps a logical site name to a remote site and environment
type SiteConfig struct {
	Name        string `yaml:"name"`
	SiteID      string `yaml:"site_id"`
	Environment string `yaml:"environment"`
}

// RetryConfig represents retry settings for remote calls
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// CacheConfig represents local file cache settings
type CacheConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Directory       string `yaml:"directory"`
	MaxSizeMB       int64  `yaml:"max_size_mb"`
	ExpirationHours int    `yaml:"expiration_hours"`
}

// QueueConfig represents background operation queue settings
type QueueConfig struct {
	Enabled         bool          `yaml:"enabled"`
	WorkerCount     int           `yaml:"worker_count"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Retention       time.Duration `yaml:"retention"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuditConfig represents audit trail settings
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "json",
			MetricsPort: 0,
		},
		Remote: RemoteConfig{
			Backend: BackendMemory,
			Timeout: 100 * time.Second,
			S3: S3Config{
				Region: "us-east-1",
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Sites: []SiteConfig{
			{Name: "default", SiteID: "default", Environment: "production"},
		},
		DefaultSite: "default",
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 2 * time.Second,
			MaxDelay:     60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:         true,
			Directory:       filepath.Join(os.TempDir(), "cloudfile-cache"),
			MaxSizeMB:       500,
			ExpirationHours: 24,
		},
		Queue: QueueConfig{
			Enabled:         true,
			WorkerCount:     3,
			PollInterval:    100 * time.Millisecond,
			Retention:       5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
	}
}

// Load builds a configuration from defaults, an optional YAML file and the
// environment, then validates it.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err).
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err).
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from CLOUDFILE_* environment variables
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	// Global settings
	env.str("LOG_LEVEL", &c.Global.LogLevel)
	env.str("LOG_FORMAT", &c.Global.LogFormat)
	env.integer("METRICS_PORT", &c.Global.MetricsPort)

	// Remote settings
	env.str("BACKEND", &c.Remote.Backend)
	env.str("BASE_URL", &c.Remote.BaseURL)
	env.str("TOKEN_URL", &c.Remote.TokenURL)
	env.str("CLIENT_ID", &c.Remote.ClientID)
	env.str("CLIENT_SECRET", &c.Remote.ClientSecret)
	if val := os.Getenv(EnvPrefix + "SCOPES"); val != "" {
		c.Remote.Scopes = strings.Split(val, ",")
	}
	env.duration("REMOTE_TIMEOUT", &c.Remote.Timeout)
	env.str("S3_BUCKET", &c.Remote.S3.Bucket)
	env.str("S3_REGION", &c.Remote.S3.Region)
	env.str("S3_ENDPOINT", &c.Remote.S3.Endpoint)
	env.boolean("S3_FORCE_PATH_STYLE", &c.Remote.S3.ForcePathStyle)
	env.str("S3_ACCESS_KEY_ID", &c.Remote.S3.AccessKeyID)
	env.str("S3_SECRET_ACCESS_KEY", &c.Remote.S3.SecretAccessKey)
	env.boolean("CIRCUIT_BREAKER_ENABLED", &c.Remote.CircuitBreaker.Enabled)
	env.integer("CIRCUIT_FAILURE_THRESHOLD", &c.Remote.CircuitBreaker.FailureThreshold)
	env.duration("CIRCUIT_OPEN_TIMEOUT", &c.Remote.CircuitBreaker.OpenTimeout)

	// Site routing
	env.str("DEFAULT_SITE", &c.DefaultSite)

	// Retry settings
	env.integer("MAX_RETRIES", &c.Retry.MaxRetries)
	env.duration("RETRY_INITIAL_DELAY", &c.Retry.InitialDelay)
	env.duration("RETRY_MAX_DELAY", &c.Retry.MaxDelay)

	// Cache settings
	env.boolean("CACHE_ENABLED", &c.Cache.Enabled)
	env.str("CACHE_DIR", &c.Cache.Directory)
	env.int64("CACHE_MAX_SIZE_MB", &c.Cache.MaxSizeMB)
	env.integer("CACHE_EXPIRATION_HOURS", &c.Cache.ExpirationHours)

	// Queue settings
	env.boolean("QUEUE_ENABLED", &c.Queue.Enabled)
	env.integer("QUEUE_WORKERS", &c.Queue.WorkerCount)

	// Audit
	env.boolean("AUDIT_ENABLED", &c.Audit.Enabled)

	if len(env.errs) > 0 {
		return errors.NewError(errors.ErrCodeConfigLoad,
			"invalid environment overrides: "+strings.Join(env.errs, "; "))
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if !contains([]string{"json", "console", "text"}, strings.ToLower(c.Global.LogFormat)) {
		return invalid("invalid log_format: %s (must be json or console)", c.Global.LogFormat)
	}
	if c.Global.MetricsPort < 0 || c.Global.MetricsPort > 65535 {
		return invalid("metrics_port out of range: %d", c.Global.MetricsPort)
	}

	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateSites(); err != nil {
		return err
	}

	if c.Retry.MaxRetries < 0 {
		return invalid("max_retries must not be negative")
	}
	if c.Retry.InitialDelay <= 0 {
		return invalid("initial_delay must be greater than 0")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return invalid("max_delay must not be less than initial_delay")
	}

	if c.Cache.Enabled {
		if c.Cache.Directory == "" {
			return invalid("cache directory is required when the cache is enabled")
		}
		if c.Cache.MaxSizeMB <= 0 {
			return invalid("cache max_size_mb must be greater than 0")
		}
		if c.Cache.ExpirationHours <= 0 {
			return invalid("cache expiration_hours must be greater than 0")
		}
	}

	if c.Queue.Enabled {
		if c.Queue.WorkerCount <= 0 {
			return invalid("queue worker_count must be greater than 0")
		}
		if c.Queue.PollInterval <= 0 {
			return invalid("queue poll_interval must be greater than 0")
		}
		if c.Queue.Retention <= 0 {
			return invalid("queue retention must be greater than 0")
		}
	}

	return nil
}

func (c *Configuration) validateRemote() error {
	switch c.Remote.Backend {
	case BackendMemory:
	case BackendHTTP:
		if c.Remote.BaseURL == "" {
			return invalid("remote base_url is required for the http backend")
		}
		if c.Remote.TokenURL != "" && (c.Remote.ClientID == "" || c.Remote.ClientSecret == "") {
			return invalid("client_id and client_secret are required when token_url is set")
		}
	case BackendS3:
		if c.Remote.S3.Bucket == "" {
			return invalid("s3 bucket is required for the s3 backend")
		}
	default:
		return invalid("unknown remote backend: %s (must be one of: http, s3, memory)", c.Remote.Backend)
	}
	if c.Remote.Timeout < 0 {
		return invalid("remote timeout must not be negative")
	}
	if cb := c.Remote.CircuitBreaker; cb.Enabled {
		if cb.FailureThreshold <= 0 {
			return invalid("circuit_breaker failure_threshold must be greater than 0")
		}
		if cb.OpenTimeout <= 0 {
			return invalid("circuit_breaker open_timeout must be greater than 0")
		}
		if cb.HalfOpenRequests <= 0 {
			return invalid("circuit_breaker half_open_requests must be greater than 0")
		}
	}
	return nil
}

func (c *Configuration) validateSites() error {
	if len(c.Sites) == 0 {
		return invalid("at least one site must be configured")
	}
	seen := make(map[string]bool, len(c.Sites))
	for _, site := range c.Sites {
		if !siteNamePattern.MatchString(site.Name) {
			return invalid("invalid site name: %q", site.Name)
		}
		if site.SiteID == "" {
			return invalid("site %s has no site_id", site.Name)
		}
		if seen[site.Name] {
			return invalid("duplicate site name: %s", site.Name)
		}
		seen[site.Name] = true
	}
	if c.DefaultSite != "" && !seen[c.DefaultSite] {
		return invalid("default_site %s is not a configured site", c.DefaultSite)
	}
	return nil
}

// Site resolves a site by name. An empty name selects the default site.
func (c *Configuration) Site(name string) (SiteConfig, error) {
	if name == "" {
		name = c.DefaultSite
	}
	for _, site := range c.Sites {
		if site.Name == name {
			return site, nil
		}
	}
	return SiteConfig{}, errors.Newf(errors.ErrCodeUnknownSite, "unknown site: %q", name).
		WithComponent("config")
}

// RetryConfig converts the retry section for the executor.
func (c *Configuration) RetryConfig() retry.Config {
	return retry.Config{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
	}
}

// CacheConfig converts the cache section for one site. Each site gets its own
// subdirectory so that every cache instance owns its directory exclusively.
func (c *Configuration) CacheConfig(site SiteConfig) cache.Config {
	return cache.Config{
		Enabled:      c.Cache.Enabled,
		Directory:    filepath.Join(c.Cache.Directory, site.Name),
		MaxSizeBytes: c.Cache.MaxSizeMB * 1024 * 1024,
		Expiration:   time.Duration(c.Cache.ExpirationHours) * time.Hour,
	}
}

// CircuitConfig converts the circuit breaker section. ok is false when the
// breaker is disabled.
func (c *Configuration) CircuitConfig() (cfg circuit.Config, ok bool) {
	cb := c.Remote.CircuitBreaker
	if !cb.Enabled {
		return circuit.Config{}, false
	}
	return circuit.Config{
		FailureThreshold: uint32(cb.FailureThreshold),
		OpenTimeout:      cb.OpenTimeout,
		HalfOpenRequests: uint32(cb.HalfOpenRequests),
	}, true
}

// QueueConfig converts the queue section.
func (c *Configuration) QueueConfig() queue.Config {
	return queue.Config{
		Enabled:         c.Queue.Enabled,
		WorkerCount:     c.Queue.WorkerCount,
		PollInterval:    c.Queue.PollInterval,
		Retention:       c.Queue.Retention,
		ShutdownTimeout: c.Queue.ShutdownTimeout,
	}
}

func invalid(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeConfigValidation, format, args...).WithComponent("config")
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// envReader applies CLOUDFILE_* overrides and collects parse errors.
type envReader struct {
	errs []string
}

func (r *envReader) lookup(name string) (string, bool) {
	val := os.Getenv(EnvPrefix + name)
	return val, val != ""
}

func (r *envReader) str(name string, dst *string) {
	if val, ok := r.lookup(name); ok {
		*dst = val
	}
}

func (r *envReader) integer(name string, dst *int) {
	if val, ok := r.lookup(name); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s%s=%q is not an integer", EnvPrefix, name, val))
			return
		}
		*dst = n
	}
}

func (r *envReader) int64(name string, dst *int64) {
	if val, ok := r.lookup(name); ok {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s%s=%q is not an integer", EnvPrefix, name, val))
			return
		}
		*dst = n
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if val, ok := r.lookup(name); ok {
		*dst = strings.ToLower(val) == "true"
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if val, ok := r.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("%s%s=%q is not a duration", EnvPrefix, name, val))
			return
		}
		*dst = d
	}
}
