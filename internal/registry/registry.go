package registry

import (
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/objectfs/cloudfile/internal/cache"
	"github.com/objectfs/cloudfile/internal/queue"
	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/utils"
)

// CacheFactory builds the cache for a site on first use.
type CacheFactory func(site string) (*cache.FileCache, error)

// QueueFactory builds the operation queue for a site on first use.
type QueueFactory func(site string) (*queue.Queue, error)

// Registry holds one cache and one queue per site. Lookups are lock-free;
// creation is serialized so a site never gets two instances.
type Registry struct {
	caches *xsync.Map[string, *cache.FileCache]
	queues *xsync.Map[string, *queue.Queue]

	newCache CacheFactory
	newQueue QueueFactory
	logger   utils.Logger

	mu     sync.Mutex
	closed bool
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l utils.Logger) Option {
	return func(r *Registry) { r.logger = utils.OrNop(l).WithComponent("registry") }
}

// New creates an empty registry.
func New(newCache CacheFactory, newQueue QueueFactory, opts ...Option) *Registry {
	r := &Registry{
		caches:   xsync.NewMap[string, *cache.FileCache](),
		queues:   xsync.NewMap[string, *queue.Queue](),
		newCache: newCache,
		newQueue: newQueue,
		logger:   utils.NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the cache already created for site.
func (r *Registry) Cache(site string) (*cache.FileCache, bool) {
	return r.caches.Load(site)
}

// Queue returns the queue already created for site.
func (r *Registry) Queue(site string) (*queue.Queue, bool) {
	return r.queues.Load(site)
}

// CacheFor returns the cache for site, creating it if needed.
func (r *Registry) CacheFor(site string) (*cache.FileCache, error) {
	if c, ok := r.caches.Load(site); ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, shutdownError(site)
	}
	if c, ok := r.caches.Load(site); ok {
		return c, nil
	}
	c, err := r.newCache(site)
	if err != nil {
		return nil, err
	}
	r.caches.Store(site, c)
	r.logger.Debug("Created site cache", map[string]interface{}{
		"site":      site,
		"directory": c.Config().Directory,
		"enabled":   c.Enabled(),
	})
	return c, nil
}

// QueueFor returns the queue for site, creating and starting it if needed.
func (r *Registry) QueueFor(site string) (*queue.Queue, error) {
	if q, ok := r.queues.Load(site); ok {
		return q, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, shutdownError(site)
	}
	if q, ok := r.queues.Load(site); ok {
		return q, nil
	}
	q, err := r.newQueue(site)
	if err != nil {
		return nil, err
	}
	r.queues.Store(site, q)
	r.logger.Debug("Created site queue", map[string]interface{}{
		"site":    site,
		"enabled": q.Enabled(),
	})
	return q, nil
}

// Sites returns the names of every site with a cache or a queue, sorted.
func (r *Registry) Sites() []string {
	seen := make(map[string]struct{})
	r.caches.Range(func(site string, _ *cache.FileCache) bool {
		seen[site] = struct{}{}
		return true
	})
	r.queues.Range(func(site string, _ *queue.Queue) bool {
		seen[site] = struct{}{}
		return true
	})

	sites := make([]string, 0, len(seen))
	for site := range seen {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	return sites
}

// Closed reports whether ShutdownAll has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ShutdownAll shuts every queue down concurrently, each with timeout, and
// refuses further creation. Queue errors are joined.
func (r *Registry) ShutdownAll(timeout time.Duration) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	r.queues.Range(func(site string, q *queue.Queue) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.Shutdown(timeout); err != nil {
				r.logger.Warn("Queue shutdown incomplete", map[string]interface{}{
					"site":  site,
					"error": err.Error(),
				})
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
			}
		}()
		return true
	})
	wg.Wait()

	r.logger.Info("Registry shut down", map[string]interface{}{
		"queues": r.queues.Size(),
		"caches": r.caches.Size(),
		"errors": len(errs),
	})
	return stderrors.Join(errs...)
}

func shutdownError(site string) error {
	return errors.NewError(errors.ErrCodeQueueShutdown, "registry is shut down").
		WithComponent("registry").
		WithContext("site", site)
}
