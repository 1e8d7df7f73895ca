package cloudfile

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/cloudfile/internal/cache"
	"github.com/objectfs/cloudfile/internal/circuit"
	"github.com/objectfs/cloudfile/internal/config"
	"github.com/objectfs/cloudfile/internal/health"
	"github.com/objectfs/cloudfile/internal/metrics"
	"github.com/objectfs/cloudfile/internal/queue"
	"github.com/objectfs/cloudfile/internal/registry"
	"github.com/objectfs/cloudfile/internal/remote"
	"github.com/objectfs/cloudfile/internal/remote/httpapi"
	"github.com/objectfs/cloudfile/internal/remote/s3"
	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/retry"
	"github.com/objectfs/cloudfile/pkg/utils"
)

// System is the composition root: one remote store, one retry executor and
// a cache plus queue per site.
type System struct {
	config    *config.Configuration
	logger    utils.Logger
	store     remote.Store
	executor  *retry.Executor
	registry  *registry.Registry
	collector *metrics.Collector
	circuits  *circuit.Manager
	health    *health.Checker
	audit     *auditor

	closeOnce sync.Once
	closeErr  error
}

type openOptions struct {
	logger utils.Logger
	store  remote.Store
}

// Option customizes Open.
type Option func(*openOptions)

// WithLogger replaces the logger built from the global config section.
func WithLogger(l utils.Logger) Option {
	return func(o *openOptions) { o.logger = l }
}

// WithStore replaces the remote store selected by remote.backend.
func WithStore(s remote.Store) Option {
	return func(o *openOptions) { o.store = s }
}

// Open validates cfg and wires the system together. A nil cfg uses
// config.NewDefault.
func Open(ctx context.Context, cfg *config.Configuration, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid log level", err).WithComponent("cloudfile")
		}
		logger = utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
			Level:  level,
			Output: os.Stderr,
			Format: utils.ParseLogFormat(cfg.Global.LogFormat),
		})
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      cfg.Global.MetricsPort,
		Path:      "/metrics",
		Namespace: "cloudfile",
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternalError, "failed to create metrics collector", err).WithComponent("cloudfile")
	}

	store := o.store
	if store == nil {
		if store, err = newStore(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	s := &System{
		config:    cfg,
		logger:    logger.WithComponent("cloudfile"),
		collector: collector,
		audit:     newAuditor(logger, cfg.Audit.Enabled),
	}
	s.store = remote.Instrument(store, collector)
	if cbConfig, ok := cfg.CircuitConfig(); ok {
		s.circuits = circuit.NewManager(cbConfig, circuit.WithStateFunc(s.circuitChanged))
		s.store = circuit.Guard(s.store, s.circuits)
	}
	s.executor = retry.New(cfg.RetryConfig(),
		retry.WithLogger(logger),
		retry.WithObserver(collector))
	s.registry = registry.New(s.newCache, s.newQueue, registry.WithLogger(logger))
	s.health = s.newHealthChecker()
	collector.SetHealthHandler(s.health.Handler())

	if err := collector.Start(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("cloudfile opened", map[string]interface{}{
		"backend":      cfg.Remote.Backend,
		"sites":        len(cfg.Sites),
		"cache":        cfg.Cache.Enabled,
		"queue":        cfg.Queue.Enabled,
		"circuit":      s.circuits != nil,
		"metrics_port": cfg.Global.MetricsPort,
	})
	return s, nil
}

func newStore(ctx context.Context, cfg *config.Configuration, logger utils.Logger) (remote.Store, error) {
	switch cfg.Remote.Backend {
	case config.BackendHTTP:
		return httpapi.New(httpapi.Config{
			BaseURL:      cfg.Remote.BaseURL,
			TokenURL:     cfg.Remote.TokenURL,
			ClientID:     cfg.Remote.ClientID,
			ClientSecret: cfg.Remote.ClientSecret,
			Scopes:       cfg.Remote.Scopes,
			Timeout:      cfg.Remote.Timeout,
		}, httpapi.WithLogger(logger))
	case config.BackendS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.Remote.S3.Bucket,
			Region:          cfg.Remote.S3.Region,
			Endpoint:        cfg.Remote.S3.Endpoint,
			ForcePathStyle:  cfg.Remote.S3.ForcePathStyle,
			AccessKeyID:     cfg.Remote.S3.AccessKeyID,
			SecretAccessKey: cfg.Remote.S3.SecretAccessKey,
		}, s3.WithLogger(logger))
	case config.BackendMemory, "":
		return remote.NewMemoryStore(), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown backend: %q", cfg.Remote.Backend).
			WithComponent("cloudfile")
	}
}

func (s *System) circuitChanged(site string, from, to circuit.State) {
	s.collector.SetCircuitState(site, to)
	fields := map[string]interface{}{
		"remote_site": site,
		"from":        from.String(),
		"to":          to.String(),
	}
	if to == circuit.StateOpen {
		s.logger.Warn("circuit opened, failing remote calls fast", fields)
		return
	}
	s.logger.Info("circuit state changed", fields)
}

func (s *System) newCache(name string) (*cache.FileCache, error) {
	site, err := s.config.Site(name)
	if err != nil {
		return nil, err
	}
	return cache.NewFileCache(s.config.CacheConfig(site),
		cache.WithLogger(s.logger),
		cache.WithObserver(s.collector.Site(name))), nil
}

func (s *System) newQueue(name string) (*queue.Queue, error) {
	if _, err := s.config.Site(name); err != nil {
		return nil, err
	}
	return queue.New(s.config.QueueConfig(),
		queue.WithName(name),
		queue.WithExecutor(s.executor),
		queue.WithLogger(s.logger),
		queue.WithObserver(s.collector.Site(name))), nil
}

// Site returns a client for the named site; "" selects the default site.
func (s *System) Site(name string) (*Client, error) {
	site, err := s.config.Site(name)
	if err != nil {
		return nil, err
	}
	fc, err := s.registry.CacheFor(site.Name)
	if err != nil {
		return nil, err
	}
	q, err := s.registry.QueueFor(site.Name)
	if err != nil {
		return nil, err
	}
	return &Client{
		site:     site,
		store:    s.store,
		executor: s.executor,
		cache:    fc,
		queue:    q,
		audit:    s.audit,
		logger:   s.logger.WithField("site", site.Name),
	}, nil
}

// Config returns the validated configuration.
func (s *System) Config() *config.Configuration {
	return s.config
}

// Metrics returns the collector; its Handler can be mounted elsewhere.
func (s *System) Metrics() *metrics.Collector {
	return s.collector
}

func (s *System) newHealthChecker() *health.Checker {
	checker := health.NewChecker(5 * time.Second)
	checker.Register("queue", health.PriorityCritical, func(context.Context) error {
		if s.registry.Closed() {
			return fmt.Errorf("system is closed")
		}
		return nil
	})
	checker.Register("remote", health.PriorityLow, func(context.Context) error {
		if s.circuits == nil {
			return nil
		}
		if open := s.circuits.Open(); len(open) > 0 {
			return fmt.Errorf("circuit open for %s", strings.Join(open, ", "))
		}
		return nil
	})
	if s.config.Cache.Enabled {
		dir := s.config.Cache.Directory
		checker.Register("cache", health.PriorityLow, func(context.Context) error {
			return checkWritable(dir)
		})
	}
	return checker
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Health runs the system health checks: the queue registry is critical,
// open circuits and an unwritable cache directory only degrade.
func (s *System) Health(ctx context.Context) *health.Report {
	return s.health.Run(ctx)
}

// CircuitStates reports the breaker state per remote site id. It is empty
// when the circuit breaker is disabled or no remote call has been made.
func (s *System) CircuitStates() map[string]circuit.State {
	if s.circuits == nil {
		return map[string]circuit.State{}
	}
	return s.circuits.States()
}

// Close shuts down every site queue and the metrics endpoint. Queued work
// that cannot finish within the queue shutdown timeout is abandoned.
func (s *System) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		err := s.registry.ShutdownAll(s.config.Queue.ShutdownTimeout)
		if stopErr := s.collector.Stop(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
		s.closeErr = err
		s.logger.Info("cloudfile closed", map[string]interface{}{
			"sites": len(s.registry.Sites()),
		})
	})
	return s.closeErr
}
