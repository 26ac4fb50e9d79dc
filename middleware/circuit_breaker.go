package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shrek82/dbutil/core"
)

// ErrCircuitOpen is returned without running the statement while a
// datasource's circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit state of one datasource.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns "closed", "open" or "half-open".
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "closed"
}

// CircuitBreakerMiddleware fails statements fast for a datasource after
// Threshold consecutive connectivity failures. After ResetTimeout one
// statement is let through; its success closes the circuit again.
// Statement errors such as constraint violations do not count.
type CircuitBreakerMiddleware struct {
	Threshold    int           // Number of failures before opening
	ResetTimeout time.Duration // Time to wait before half-open

	mu       sync.Mutex
	breakers map[string]*breaker
	log      *zap.Logger
	now      func() time.Time
}

type breaker struct {
	state          State
	failures       int
	lastFailure    time.Time
	halfOpenPassed bool
}

// NewCircuitBreaker opens a datasource's circuit after threshold consecutive
// connectivity failures and probes again after resetTimeout.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreakerMiddleware {
	return &CircuitBreakerMiddleware{
		Threshold:    threshold,
		ResetTimeout: resetTimeout,
		breakers:     make(map[string]*breaker),
		log:          zap.NewNop(),
		now:          time.Now,
	}
}

func (m *CircuitBreakerMiddleware) Name() string {
	return "CircuitBreaker"
}

func (m *CircuitBreakerMiddleware) Init(r *core.Registry) error {
	m.log = r.Logger().With(zap.String("middleware", m.Name()))
	return nil
}

func (m *CircuitBreakerMiddleware) Shutdown() error {
	return nil
}

// State returns the circuit state for a datasource.
func (m *CircuitBreakerMiddleware) State(datasource string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[datasource]; ok {
		return b.state
	}
	return StateClosed
}

func (m *CircuitBreakerMiddleware) Process(ctx context.Context, stmt *core.Statement, next core.Handler) (*core.Outcome, error) {
	ds := stmt.Datasource

	m.mu.Lock()
	b := m.breakers[ds]
	if b == nil {
		b = &breaker{}
		m.breakers[ds] = b
	}
	switch b.state {
	case StateOpen:
		if m.now().Sub(b.lastFailure) > m.ResetTimeout {
			m.transition(ds, b, StateHalfOpen)
			b.halfOpenPassed = true
		} else {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: datasource %q", ErrCircuitOpen, ds)
		}
	case StateHalfOpen:
		if b.halfOpenPassed {
			// one probe at a time
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: datasource %q", ErrCircuitOpen, ds)
		}
		b.halfOpenPassed = true
	}
	m.mu.Unlock()

	out, err := next(ctx, stmt)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil && core.IsConnectivity(err) {
		m.recordFailure(ds, b)
	} else {
		m.recordSuccess(ds, b)
	}

	return out, err
}

func (m *CircuitBreakerMiddleware) transition(ds string, b *breaker, to State) {
	if b.state == to {
		return
	}
	m.log.Warn("circuit state changed",
		zap.String("datasource", ds),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to))
	b.state = to
}

func (m *CircuitBreakerMiddleware) recordFailure(ds string, b *breaker) {
	b.failures++
	b.lastFailure = m.now()

	switch b.state {
	case StateClosed:
		if b.failures >= m.Threshold {
			m.transition(ds, b, StateOpen)
		}
	case StateHalfOpen:
		m.transition(ds, b, StateOpen)
		b.halfOpenPassed = false
	}
}

// recordSuccess resets the count so that only consecutive failures open the
// circuit.
func (m *CircuitBreakerMiddleware) recordSuccess(ds string, b *breaker) {
	if b.state == StateHalfOpen {
		m.transition(ds, b, StateClosed)
		b.halfOpenPassed = false
	}
	b.failures = 0
}
