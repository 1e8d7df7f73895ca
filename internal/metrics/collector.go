package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/cloudfile/internal/circuit"
	"github.com/objectfs/cloudfile/pkg/errors"
)

// Collector records cache, retry, queue and remote-call metrics on a private
// Prometheus registry. A nil or disabled Collector ignores every call.
type Collector struct {
	mu       sync.Mutex
	config   *Config
	registry *prometheus.Registry

	// Cache metrics
	cacheRequests  *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheStored    *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec

	// Retry metrics
	retries        *prometheus.CounterVec
	retryExhausted *prometheus.CounterVec

	// Queue metrics
	queueSubmitted *prometheus.CounterVec
	queueCompleted *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec

	// Remote metrics
	remoteOps      *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	circuitState   *prometheus.GaugeVec

	// HTTP server for metrics endpoint
	server *http.Server
	health http.Handler
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "cloudfile",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	c.initMetrics()

	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return c, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.config != nil && c.config.Enabled && c.registry != nil
}

// Registry returns the underlying registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

// Handler returns the /metrics handler for this collector.
func (c *Collector) Handler() http.Handler {
	if !c.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves the metrics endpoint on the configured port until Stop is
// called or ctx is done. A zero port leaves the endpoint unexposed.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() || c.config.Port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	c.mu.Lock()
	health := c.health
	c.mu.Unlock()
	if health != nil {
		mux.Handle("/health", health)
	} else {
		mux.HandleFunc("/health", healthHandler)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	// Surface immediate bind failures.
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	case <-time.After(50 * time.Millisecond):
	}
	return nil
}

// SetHealthHandler replaces the static /health response served next to the
// metrics endpoint. It must be called before Start.
func (c *Collector) SetHealthHandler(h http.Handler) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.health = h
	c.mu.Unlock()
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordRetry records one retry of operation.
func (c *Collector) RecordRetry(operation string) {
	if !c.enabled() {
		return
	}
	c.retries.WithLabelValues(operationLabel(operation)).Inc()
}

// RecordRetryExhausted records an operation that ran out of retries.
func (c *Collector) RecordRetryExhausted(operation string) {
	if !c.enabled() {
		return
	}
	c.retryExhausted.WithLabelValues(operationLabel(operation)).Inc()
}

// ObserveRemote records one remote store call.
func (c *Collector) ObserveRemote(operation string, duration time.Duration, err error) {
	if !c.enabled() {
		return
	}
	c.remoteOps.WithLabelValues(operation, remoteStatus(err)).Inc()
	c.remoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetCircuitState records the breaker state for a site: 0 closed, 1 open,
// 2 half-open.
func (c *Collector) SetCircuitState(site string, state circuit.State) {
	if !c.enabled() {
		return
	}
	c.circuitState.WithLabelValues(site).Set(float64(state))
}

// Site returns an observer that labels cache and queue events with site.
func (c *Collector) Site(site string) *SiteObserver {
	return &SiteObserver{c: c, site: site}
}

// SiteObserver forwards cache and queue events for one site.
type SiteObserver struct {
	c    *Collector
	site string
}

// RecordCacheHit records a cache hit
func (o *SiteObserver) RecordCacheHit() {
	if !o.c.enabled() {
		return
	}
	o.c.cacheRequests.WithLabelValues(o.site, "hit").Inc()
}

// RecordCacheMiss records a cache miss
func (o *SiteObserver) RecordCacheMiss() {
	if !o.c.enabled() {
		return
	}
	o.c.cacheRequests.WithLabelValues(o.site, "miss").Inc()
}

// RecordCacheEviction records evicted entries
func (o *SiteObserver) RecordCacheEviction(count int) {
	if !o.c.enabled() || count <= 0 {
		return
	}
	o.c.cacheEvictions.WithLabelValues(o.site).Add(float64(count))
}

// RecordCacheStore records bytes written to the cache
func (o *SiteObserver) RecordCacheStore(bytes int) {
	if !o.c.enabled() {
		return
	}
	o.c.cacheStored.WithLabelValues(o.site).Add(float64(bytes))
}

// SetCacheSize updates the cache size gauge
func (o *SiteObserver) SetCacheSize(bytes int64) {
	if !o.c.enabled() {
		return
	}
	o.c.cacheSize.WithLabelValues(o.site).Set(float64(bytes))
}

// RecordQueueSubmit records a submitted work item
func (o *SiteObserver) RecordQueueSubmit() {
	if !o.c.enabled() {
		return
	}
	o.c.queueSubmitted.WithLabelValues(o.site).Inc()
}

// RecordQueueComplete records a settled work item
func (o *SiteObserver) RecordQueueComplete(status string) {
	if !o.c.enabled() {
		return
	}
	o.c.queueCompleted.WithLabelValues(o.site, status).Inc()
}

// SetQueueDepth updates the queue depth gauges
func (o *SiteObserver) SetQueueDepth(queued, running, retained int) {
	if !o.c.enabled() {
		return
	}
	o.c.queueDepth.WithLabelValues(o.site, "queued").Set(float64(queued))
	o.c.queueDepth.WithLabelValues(o.site, "running").Set(float64(running))
	o.c.queueDepth.WithLabelValues(o.site, "retained").Set(float64(retained))
}

// Helper methods

func (c *Collector) initMetrics() {
	ns := c.config.Namespace
	labels := prometheus.Labels(c.config.Labels)

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "requests_total",
			Help:        "Total number of cache lookups by result",
			ConstLabels: labels,
		},
		[]string{"site", "result"},
	)

	c.cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "evictions_total",
			Help:        "Total number of evicted cache entries",
			ConstLabels: labels,
		},
		[]string{"site"},
	)

	c.cacheStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "stored_bytes_total",
			Help:        "Total bytes written to the cache",
			ConstLabels: labels,
		},
		[]string{"site"},
	)

	c.cacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "size_bytes",
			Help:        "Current cache size in bytes",
			ConstLabels: labels,
		},
		[]string{"site"},
	)

	c.retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "retry",
			Name:        "attempts_total",
			Help:        "Total number of retries after transient failures",
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.retryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "retry",
			Name:        "exhausted_total",
			Help:        "Total number of operations that exhausted their retries",
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.queueSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "queue",
			Name:        "submitted_total",
			Help:        "Total number of submitted work items",
			ConstLabels: labels,
		},
		[]string{"site"},
	)

	c.queueCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "queue",
			Name:        "completed_total",
			Help:        "Total number of settled work items by status",
			ConstLabels: labels,
		},
		[]string{"site", "status"},
	)

	c.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "queue",
			Name:        "items",
			Help:        "Current number of work items by state",
			ConstLabels: labels,
		},
		[]string{"site", "state"},
	)

	c.remoteOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "remote",
			Name:        "operations_total",
			Help:        "Total number of remote store calls",
			ConstLabels: labels,
		},
		[]string{"operation", "status"},
	)

	c.remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   "remote",
			Name:        "operation_duration_seconds",
			Help:        "Duration of remote store calls in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "remote",
			Name:        "circuit_state",
			Help:        "Circuit breaker state per site (0 closed, 1 open, 2 half-open)",
			ConstLabels: labels,
		},
		[]string{"site"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheRequests,
		c.cacheEvictions,
		c.cacheStored,
		c.cacheSize,
		c.retries,
		c.retryExhausted,
		c.queueSubmitted,
		c.queueCompleted,
		c.queueDepth,
		c.remoteOps,
		c.remoteDuration,
		c.circuitState,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// operationLabel keeps the verb of names like "download docs/a.txt" so that
// paths never become label values.
func operationLabel(operation string) string {
	if i := strings.IndexByte(operation, ' '); i > 0 {
		return operation[:i]
	}
	if operation == "" {
		return "unknown"
	}
	return operation
}

func remoteStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.IsNotFound(err):
		return "not_found"
	case errors.IsTimeout(err), errors.HasCode(err, errors.ErrCodeConnectionTimeout):
		return "timeout"
	case errors.HasCode(err, errors.ErrCodeThrottled):
		return "throttled"
	case errors.HasCode(err, errors.ErrCodeAccessDenied), errors.HasCode(err, errors.ErrCodeAuthenticationFailed):
		return "denied"
	default:
		return "error"
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"cloudfile-metrics"}`)) // Ignore write error for health check
}
