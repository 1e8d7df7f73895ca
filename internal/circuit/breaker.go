package circuit

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/retry"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - calls pass through
	StateClosed State = iota
	// StateOpen - calls are rejected until the open timeout elapses
	StateOpen
	// StateHalfOpen - a limited number of probe calls decide whether to close
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
	defaultHalfOpenRequests = 1
)

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive transient failures that opens the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// HalfOpenRequests is the number of probe calls allowed while half-open
	HalfOpenRequests uint32 `yaml:"half_open_requests"`
}

// Counts holds the numbers of calls and their outcomes since the last state change
type Counts struct {
	Requests            uint32    `json:"requests"`
	Successes           uint32    `json:"successes"`
	Failures            uint32    `json:"failures"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	LastActivity        time.Time `json:"last_activity"`
}

// StateFunc is called after every state transition.
type StateFunc func(name string, from, to State)

// Breaker guards one remote dependency. Only transient failures count
// against it, so a burst of not-found answers never opens the circuit.
type Breaker struct {
	name     string
	config   Config
	now      func() time.Time
	onChange StateFunc

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	inFlight uint32
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config Config, now func() time.Time, onChange StateFunc) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaultFailureThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaultOpenTimeout
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = defaultHalfOpenRequests
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		name:     name,
		config:   config,
		now:      now,
		onChange: onChange,
	}
}

// Allow reserves a call. It returns REMOTE_CIRCUIT_OPEN while the circuit is
// open or every half-open probe slot is taken; otherwise the caller must
// report the outcome through Done.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.currentState(now) {
	case StateOpen:
		return b.rejected(now)
	case StateHalfOpen:
		if b.inFlight >= b.config.HalfOpenRequests {
			return b.rejected(now)
		}
	}
	b.inFlight++
	b.counts.Requests++
	b.counts.LastActivity = now
	return nil
}

// Done records the outcome of a call admitted by Allow. Calls canceled by
// the caller say nothing about the remote and are not counted.
func (b *Breaker) Done(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFlight > 0 {
		b.inFlight--
	}
	if stderrors.Is(err, context.Canceled) {
		return
	}
	now := b.now()
	state := b.currentState(now)

	if err == nil || !retry.IsTransient(err) {
		b.counts.Successes++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.now())
}

// Counts returns a copy of the current counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the circuit and clears the counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed, b.now())
	b.counts = Counts{}
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.config.OpenTimeout {
		b.setState(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	prev := b.state
	if prev == state {
		return
	}

	b.state = state
	b.counts = Counts{LastActivity: now}
	b.inFlight = 0
	if state == StateOpen {
		b.openedAt = now
	}

	if b.onChange != nil {
		func() {
			defer func() { _ = recover() }()
			b.onChange(b.name, prev, state)
		}()
	}
}

func (b *Breaker) rejected(now time.Time) error {
	retryIn := b.config.OpenTimeout - now.Sub(b.openedAt)
	if retryIn < 0 {
		retryIn = 0
	}
	return errors.Newf(errors.ErrCodeCircuitOpen, "circuit %s is open", b.name).
		WithComponent("circuit").
		WithContext("circuit", b.name).
		WithDetail("retry_in", retryIn.String())
}
