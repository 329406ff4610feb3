package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Probing recovery
)

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

// BreakerState is a point-in-time copy of the breaker's counters.
type BreakerState struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at"`
	HalfOpenCallsUsed   int       `json:"half_open_calls_used"`
}

// BreakerConfig holds configuration for creating a circuit breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker stops calls to a failing dependency until a recovery call
// succeeds. Safe for concurrent use.
type CircuitBreaker struct {
	name string
	mu   sync.Mutex

	state       State
	failures    int
	trialCalls  int
	lastFailure time.Time

	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int

	now          func() time.Time
	onTransition func(from, to State)
	logger       *slog.Logger
}

// BreakerOption customises a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithTransitionHook is called after every state change, outside the lock.
func WithTransitionHook(fn func(from, to State)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onTransition = fn }
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(cfg BreakerConfig, logger *slog.Logger, opts ...BreakerOption) *CircuitBreaker {
	def := DefaultBreakerConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = slog.Default()
	}
	cb := &CircuitBreaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		now:              time.Now,
		logger:           logger.With(slog.String("component", "circuit_breaker"), slog.String("breaker", cfg.Name)),
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow reports whether a call may proceed. An OPEN breaker whose recovery
// timeout elapsed moves to HALF_OPEN and admits up to HalfOpenMaxCalls
// calls, this one included.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	from := cb.state
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			cb.trialCalls = 1
			allowed = true
		}
	case StateHalfOpen:
		if cb.trialCalls < cb.halfOpenMaxCalls {
			cb.trialCalls++
			allowed = true
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
	return allowed
}

// Check is Allow returning a *domain.CircuitOpenError on refusal.
func (cb *CircuitBreaker) Check() error {
	if cb.Allow() {
		return nil
	}
	return &domain.CircuitOpenError{Name: cb.name, RetryAfter: cb.RetryAfter()}
}

// RetryAfter is the time left until an OPEN breaker admits a trial call.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	left := cb.recoveryTimeout - cb.now().Sub(cb.lastFailure)
	if left < 0 {
		return 0
	}
	return left
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failures = 0
		cb.trialCalls = 0
	case StateClosed:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.trialCalls = 0
	case StateClosed:
		if cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
		}
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from != to {
		cb.logger.Warn("circuit_breaker: opened", slog.String("from", from.String()), slog.Int("failures", failures))
	}
	cb.transitioned(from, to)
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a copy of the breaker's counters.
func (cb *CircuitBreaker) Snapshot() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerState{
		Name:                cb.name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.failures,
		LastFailureAt:       cb.lastFailure,
		HalfOpenCallsUsed:   cb.trialCalls,
	}
}

// Reset forces the breaker to CLOSED (admin use).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.trialCalls = 0
	cb.mu.Unlock()

	cb.logger.Info("circuit_breaker: reset")
	cb.transitioned(from, StateClosed)
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if from == to {
		return
	}
	cb.logger.Info("circuit_breaker: state change", slog.String("from", from.String()), slog.String("to", to.String()))
	if cb.onTransition != nil {
		cb.onTransition(from, to)
	}
}
