package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/retry"
	"github.com/objectfs/cloudfile/pkg/utils"
)

const (
	defaultWorkerCount     = 3
	defaultPollInterval    = 100 * time.Millisecond
	defaultRetention       = 5 * time.Minute
	defaultShutdownTimeout = 30 * time.Second
)

// Config represents operation queue configuration
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	WorkerCount     int           `yaml:"worker_count"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Retention       time.Duration `yaml:"retention"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		WorkerCount:     defaultWorkerCount,
		PollInterval:    defaultPollInterval,
		Retention:       defaultRetention,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	Queued   int `json:"queued"`
	Running  int `json:"running"`
	Retained int `json:"retained"`
	Workers  int `json:"workers"`
}

// Observer receives queue events, typically a metrics collector.
type Observer interface {
	RecordQueueSubmit()
	RecordQueueComplete(status string)
	SetQueueDepth(queued, running, retained int)
}

// Queue runs submitted actions on a fixed pool of workers and keeps settled
// items queryable for a retention window.
//
// Completion order across workers is not guaranteed; a queue with one worker
// runs items in submission order.
type Queue struct {
	name     string
	config   Config
	executor *retry.Executor
	logger   utils.Logger
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	pending  []*workItem
	live     map[string]*workItem
	retained map[string]*workItem
	running  int
	closed   bool

	wake      chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once

	// runCtx is handed to actions and canceled when shutdown times out.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// Option customizes a Queue.
type Option func(*Queue)

// WithName sets the queue name used in logs and metrics, usually the site.
func WithName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// WithLogger sets the queue logger.
func WithLogger(l utils.Logger) Option {
	return func(q *Queue) { q.logger = utils.OrNop(l).WithComponent("queue") }
}

// WithExecutor sets the retry executor wrapping each action.
func WithExecutor(e *retry.Executor) Option {
	return func(q *Queue) { q.executor = e }
}

// WithObserver sets the queue event observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// WithClock replaces the time source used for timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue and, when enabled, starts its workers.
func New(config Config, opts ...Option) *Queue {
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaultWorkerCount
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.Retention <= 0 {
		config.Retention = defaultRetention
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	runCtx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:      "default",
		config:    config,
		logger:    utils.NopLogger{},
		now:       time.Now,
		live:      make(map[string]*workItem),
		retained:  make(map[string]*workItem),
		wake:      make(chan struct{}, config.WorkerCount),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.executor == nil {
		q.executor = retry.New(retry.DefaultConfig(), retry.WithLogger(q.logger))
	}
	q.logger = q.logger.WithField("queue", q.name)

	if !config.Enabled {
		close(q.stoppedCh)
		return q
	}

	for i := 0; i < config.WorkerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	go func() {
		q.wg.Wait()
		close(q.stoppedCh)
	}()

	q.logger.Info("Operation queue started", map[string]interface{}{
		"workers":       config.WorkerCount,
		"poll_interval": config.PollInterval.String(),
	})
	return q
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Enabled reports whether the queue accepts work.
func (q *Queue) Enabled() bool {
	return q.config.Enabled
}

// Submit enqueues action and returns its handle without waiting for a worker.
// A disabled queue rejects the submission with QUEUE_DISABLED; a queue that is
// shutting down rejects it with QUEUE_SHUTDOWN.
func (q *Queue) Submit(path string, payload []byte, action Action, onSuccess SuccessFunc, onError ErrorFunc) (*Handle, error) {
	if !q.config.Enabled {
		return nil, errors.NewError(errors.ErrCodeQueueDisabled, "operation queue is disabled").
			WithComponent("queue").
			WithOperation("submit").
			WithContext("path", path)
	}
	if action == nil {
		return nil, errors.NewError(errors.ErrCodeValidationFailed, "action is required").
			WithComponent("queue").
			WithOperation("submit")
	}

	item := &workItem{
		id:         uuid.NewString(),
		path:       path,
		payload:    payload,
		action:     action,
		onSuccess:  onSuccess,
		onError:    onError,
		enqueuedAt: q.now(),
		status:     StatusQueued,
		done:       make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errors.NewError(errors.ErrCodeQueueShutdown, "operation queue is shut down").
			WithComponent("queue").
			WithOperation("submit").
			WithContext("path", path)
	}
	q.pending = append(q.pending, item)
	q.live[item.id] = item
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.notify(func(o Observer) { o.RecordQueueSubmit() })
	q.reportDepth()

	q.logger.Debug("Operation queued", map[string]interface{}{
		"id":    item.id,
		"path":  path,
		"bytes": len(payload),
	})

	return &Handle{ID: item.id, Path: path, q: q, item: item}, nil
}

// GetStatus returns the status of id, checking the retention window first.
func (q *Queue) GetStatus(id string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.retained[id]; ok {
		if q.now().Sub(item.completedAt) > q.config.Retention {
			delete(q.retained, id)
			return StatusNotFound
		}
		return item.status
	}
	if item, ok := q.live[id]; ok {
		return item.status
	}
	return StatusNotFound
}

// WaitForAll polls until no item is queued or running. A positive timeout
// bounds the wait and produces QUEUE_TIMEOUT with the outstanding count.
func (q *Queue) WaitForAll(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		outstanding := q.outstanding()
		if outstanding == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeOperationCanceled, "wait for queue canceled", ctx.Err()).
				WithComponent("queue").
				WithOperation("wait_for_all").
				WithDetail("outstanding", outstanding)
		case <-deadline:
			outstanding = q.outstanding()
			if outstanding == 0 {
				return nil
			}
			return errors.Newf(errors.ErrCodeQueueTimeout,
				"timed out after %s with %d operation(s) still outstanding", timeout, outstanding).
				WithComponent("queue").
				WithOperation("wait_for_all").
				WithDetail("outstanding", outstanding)
		case <-ticker.C:
		}
	}
}

// GetStats returns a snapshot of the queue
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:   len(q.pending),
		Running:  q.running,
		Retained: len(q.retained),
		Workers:  q.workerCount(),
	}
}

// Shutdown stops the workers. Items still queued are failed with
// QUEUE_ITEM_ABANDONED. Running items get until timeout to finish, after
// which their context is canceled and QUEUE_TIMEOUT is returned.
func (q *Queue) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = q.config.ShutdownTimeout
	}

	var abandoned []*workItem
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		abandoned = q.pending
		q.pending = nil
		q.mu.Unlock()

		if q.config.Enabled {
			close(q.stopCh)
		}
	})

	for _, item := range abandoned {
		err := errors.NewError(errors.ErrCodeItemAbandoned, "queue shut down before the operation ran").
			WithComponent("queue").
			WithOperation("shutdown").
			WithContext("path", item.path).
			WithContext("id", item.id)
		q.settle(item, err)
	}
	if len(abandoned) > 0 {
		q.logger.Warn("Abandoned queued operations on shutdown", map[string]interface{}{
			"abandoned": len(abandoned),
		})
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-q.stoppedCh:
		q.cancelRun()
		q.logger.Info("Operation queue stopped", nil)
		return nil
	case <-timer.C:
		q.cancelRun()
		running := q.GetStats().Running
		q.logger.Warn("Operation queue stop timed out", map[string]interface{}{
			"running": running,
			"timeout": timeout.String(),
		})
		return errors.Newf(errors.ErrCodeQueueTimeout,
			"shutdown timed out after %s with %d operation(s) running", timeout, running).
			WithComponent("queue").
			WithOperation("shutdown").
			WithDetail("running", running)
	}
}

// worker polls for items until the queue is stopped.
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	q.logger.Debug("Queue worker started", map[string]interface{}{"worker": id})

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		if item := q.dequeue(); item != nil {
			q.process(item)
			continue
		}

		select {
		case <-q.stopCh:
			q.logger.Debug("Queue worker stopped", map[string]interface{}{"worker": id})
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

func (q *Queue) dequeue() *workItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	item.status = StatusRunning
	q.running++
	return item
}

func (q *Queue) process(item *workItem) {
	start := q.now()
	err := q.run(item)

	fields := map[string]interface{}{
		"id":          item.id,
		"path":        item.path,
		"duration_ms": q.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		q.logger.Error("Queued operation failed", fields)
	} else {
		q.logger.Debug("Queued operation completed", fields)
	}

	q.settle(item, err)
}

// run executes the action through the retry executor; a panic fails the item.
func (q *Queue) run(item *workItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodePanicRecovered, "operation panicked: %v", r).
				WithComponent("queue").
				WithContext("path", item.path)
		}
	}()
	return q.executor.Execute(q.runCtx, "queued "+item.path, func(ctx context.Context) error {
		return item.action(ctx)
	})
}

// settle records the outcome, runs callbacks and then releases waiters.
func (q *Queue) settle(item *workItem, err error) {
	q.mu.Lock()
	wasRunning := item.status == StatusRunning
	item.completedAt = q.now()
	item.err = err
	if err != nil {
		item.status = StatusFailed
	} else {
		item.status = StatusCompleted
	}
	delete(q.live, item.id)
	q.retained[item.id] = item
	q.mu.Unlock()

	if err != nil {
		q.callback(item, func() {
			if item.onError != nil {
				item.onError(item.path, err)
			}
		})
	} else {
		q.callback(item, func() {
			if item.onSuccess != nil {
				item.onSuccess(item.path)
			}
		})
	}

	status := item.status.String()
	q.notify(func(o Observer) { o.RecordQueueComplete(status) })

	q.mu.Lock()
	if wasRunning {
		q.running--
	}
	q.purgeExpired()
	q.mu.Unlock()

	close(item.done)
	q.reportDepth()
}

// callback runs fn, logging instead of propagating a panic.
func (q *Queue) callback(item *workItem, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Queue callback panicked", map[string]interface{}{
				"id":    item.id,
				"path":  item.path,
				"panic": fmt.Sprint(r),
			})
		}
	}()
	fn()
}

// purgeExpired drops retained items older than the retention window.
// Callers must hold q.mu.
func (q *Queue) purgeExpired() {
	now := q.now()
	for id, item := range q.retained {
		if now.Sub(item.completedAt) > q.config.Retention {
			delete(q.retained, id)
		}
	}
}

func (q *Queue) outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + q.running
}

func (q *Queue) workerCount() int {
	if !q.config.Enabled {
		return 0
	}
	return q.config.WorkerCount
}

func (q *Queue) reportDepth() {
	if q.observer == nil {
		return
	}
	stats := q.GetStats()
	q.notify(func(o Observer) { o.SetQueueDepth(stats.Queued, stats.Running, stats.Retained) })
}

func (q *Queue) notify(fn func(Observer)) {
	if q.observer == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(q.observer)
}
