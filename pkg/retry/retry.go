// Package retry executes remote operations with exponential backoff and jitter,
// classifying failures as transient or permanent.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/utils"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxRetries is the number of retries after the first attempt; zero disables retrying.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// InitialDelay is the base delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the exponential delay
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// OnRetry is called before each retry sleep
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 2 * time.Second
	defaultMaxDelay     = 60 * time.Second

	// jitterFloor is the lower bound of the jitter band as a fraction of the computed delay.
	jitterFloor = 0.8
)

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:   defaultMaxRetries,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
	}
}

// Observer receives retry events, typically a metrics collector.
type Observer interface {
	RecordRetry(operation string)
	RecordRetryExhausted(operation string)
}

// Executor runs operations with retry logic. It is safe for concurrent use.
type Executor struct {
	config   Config
	logger   utils.Logger
	observer Observer
	random   func() float64
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for retry trace lines.
func WithLogger(l utils.Logger) Option {
	return func(e *Executor) { e.logger = utils.OrNop(l).WithComponent("retry") }
}

// WithObserver sets the retry event observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(e *Executor) { e.random = fn }
}

// New creates a new Executor with the given configuration
func New(config Config, opts ...Option) *Executor {
	if config.MaxRetries < 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaultInitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaultMaxDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}

	e := &Executor{
		config: config,
		logger: utils.NopLogger{},
		random: rand.Float64,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration
func (e *Executor) Config() Config {
	return e.config
}

// Execute runs op, retrying transient failures. Permanent failures and exhausted
// retries are returned as a single *errors.CloudFileError carrying the operation
// name, the attempt count and the original error as its cause.
func (e *Executor) Execute(ctx context.Context, name string, op func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		if !IsTransient(err) {
			return e.fail(errors.ErrCodeOperationFailed, name, attempt, err)
		}

		if attempt > e.config.MaxRetries {
			e.observeExhausted(name)
			return e.fail(errors.ErrCodeRetryExhausted, name, attempt, err)
		}

		if ctx.Err() != nil {
			return e.fail(contextCode(ctx), name, attempt, err)
		}

		delay := e.Delay(attempt)
		e.trace(name, attempt, err, delay)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return e.fail(contextCode(ctx), name, attempt, err)
		}
	}
}

// ExecuteValue is Execute for operations that produce a result.
func ExecuteValue[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, name, func(ctx context.Context) error {
		r, err := op(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// Go runs Execute in a new goroutine. The returned channel receives exactly one
// value and is then closed.
func (e *Executor) Go(ctx context.Context, name string, op func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- e.Execute(ctx, name, op)
	}()
	return done
}

// BaseDelay is the un-jittered delay before retry number attempt (1-based):
// min(InitialDelay * 2^(attempt-1), MaxDelay).
func (e *Executor) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(e.config.InitialDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(e.config.MaxDelay) {
		delay = float64(e.config.MaxDelay)
	}
	return time.Duration(delay)
}

// Delay is BaseDelay with jitter applied, uniformly distributed in [0.8*base, base).
func (e *Executor) Delay(attempt int) time.Duration {
	base := float64(e.BaseDelay(attempt))
	return time.Duration(base * (jitterFloor + (1-jitterFloor)*e.random()))
}

func (e *Executor) fail(code errors.ErrorCode, name string, attempts int, cause error) error {
	// The cause text is appended once by Error; the message only names its type.
	root := errors.Root(cause)
	msg := fmt.Sprintf("operation %q failed after %d attempt(s) (%T)", name, attempts, root)
	if code == errors.ErrCodeRetryExhausted {
		msg = fmt.Sprintf("operation %q exhausted %d attempt(s) (%T)", name, attempts, root)
	}
	return errors.Wrap(code, msg, cause).
		WithComponent("retry").
		WithOperation(name).
		WithDetail("attempts", attempts).
		WithRetryable(false)
}

// contextCode tells a missed deadline apart from an explicit cancel.
func contextCode(ctx context.Context) errors.ErrorCode {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.ErrCodeOperationTimeout
	}
	return errors.ErrCodeOperationCanceled
}

// trace logs a retry attempt. A misbehaving sink must not break the retry loop.
func (e *Executor) trace(name string, attempt int, err error, delay time.Duration) {
	defer func() { _ = recover() }()

	if e.observer != nil {
		e.observer.RecordRetry(name)
	}
	if e.config.OnRetry != nil {
		e.config.OnRetry(attempt, err, delay)
	}
	e.logger.Warn("Retrying operation after transient failure", map[string]interface{}{
		"operation":   name,
		"attempt":     attempt,
		"max_retries": e.config.MaxRetries,
		"error":       err.Error(),
		"reason":      Classify(err),
		"delay_ms":    delay.Milliseconds(),
	})
}

func (e *Executor) observeExhausted(name string) {
	defer func() { _ = recover() }()
	if e.observer != nil {
		e.observer.RecordRetryExhausted(name)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
