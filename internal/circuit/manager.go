package circuit

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Manager hands out one breaker per site.
type Manager struct {
	config   Config
	now      func() time.Time
	onChange StateFunc
	breakers *xsync.Map[string, *Breaker]
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithStateFunc registers a callback for every breaker state transition.
func WithStateFunc(fn StateFunc) Option {
	return func(m *Manager) { m.onChange = fn }
}

// NewManager creates a manager whose breakers share config.
func NewManager(config Config, opts ...Option) *Manager {
	m := &Manager{
		config:   config,
		now:      time.Now,
		breakers: xsync.NewMap[string, *Breaker](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Breaker returns the breaker for site, creating it on first use.
func (m *Manager) Breaker(site string) *Breaker {
	if b, ok := m.breakers.Load(site); ok {
		return b
	}
	b, _ := m.breakers.LoadOrStore(site, NewBreaker(site, m.config, m.now, m.onChange))
	return b
}

// States returns the current state of every breaker created so far.
func (m *Manager) States() map[string]State {
	states := make(map[string]State)
	m.breakers.Range(func(site string, b *Breaker) bool {
		states[site] = b.State()
		return true
	})
	return states
}

// Open lists the sites whose circuit is currently open, sorted.
func (m *Manager) Open() []string {
	var open []string
	for site, state := range m.States() {
		if state == StateOpen {
			open = append(open, site)
		}
	}
	sort.Strings(open)
	return open
}

// Reset closes every breaker.
func (m *Manager) Reset() {
	m.breakers.Range(func(_ string, b *Breaker) bool {
		b.Reset()
		return true
	})
}
