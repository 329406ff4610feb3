package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Policy configures retry with exponential backoff. MaxRetries counts total
// attempts, the first one included.
type Policy struct {
	Name           string
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
	AttemptTimeout time.Duration
}

// Presets.
var (
	DefaultPolicy  = Policy{Name: "default", MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second, Multiplier: 2, Jitter: true, AttemptTimeout: 10 * time.Second}
	FastPolicy     = Policy{Name: "fast", MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2, Jitter: true, AttemptTimeout: 5 * time.Second}
	StandardPolicy = Policy{Name: "standard", MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: true, AttemptTimeout: 10 * time.Second}
	SlowPolicy     = Policy{Name: "slow", MaxRetries: 5, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2, Jitter: true, AttemptTimeout: 30 * time.Second}
	NetworkPolicy  = Policy{Name: "network", MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 60 * time.Second, Multiplier: 2, Jitter: true, AttemptTimeout: 15 * time.Second}
)

// PolicyByName looks up a preset (case-insensitive).
func PolicyByName(name string) (Policy, bool) {
	switch strings.ToLower(name) {
	case "", "default":
		return DefaultPolicy, true
	case "fast":
		return FastPolicy, true
	case "standard":
		return StandardPolicy, true
	case "slow":
		return SlowPolicy, true
	case "network":
		return NetworkPolicy, true
	}
	return Policy{}, false
}

// Delay returns the wait before the next attempt after a failed attempt
// (0-based). u is a uniform sample in [0,1) used for the ±25% jitter.
func (p Policy) Delay(attempt int, u float64) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.75 + 0.5*u
	}
	return time.Duration(d)
}

// Retrier runs operations under a Policy. Safe for concurrent use.
type Retrier struct {
	policy    Policy
	retryable func(error) bool
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// RetrierOption customises a Retrier.
type RetrierOption func(*Retrier)

// WithSeed makes jitter deterministic.
func WithSeed(seed uint64) RetrierOption {
	return func(r *Retrier) { r.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithRetryable replaces the default error classifier.
func WithRetryable(fn func(error) bool) RetrierOption {
	return func(r *Retrier) { r.retryable = fn }
}

// NewRetrier creates a Retrier.
func NewRetrier(p Policy, logger *slog.Logger, opts ...RetrierOption) *Retrier {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retrier{
		policy:    p,
		retryable: IsRetryable,
		logger:    logger.With(slog.String("component", "retry")),
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Policy returns the configured policy.
func (r *Retrier) Policy() Policy { return r.policy }

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Each attempt gets its own deadline; an attempt that hits
// it fails with a *domain.TransientNetworkError.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 0; attempt < r.policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return fmt.Errorf("retry: %s: %w", op, errors.Join(err, last))
			}
			return fmt.Errorf("retry: %s: %w", op, err)
		}

		err := r.attempt(ctx, op, fn)
		if err == nil {
			return nil
		}
		last = err
		if !r.retryable(err) {
			return err
		}
		if attempt == r.policy.MaxRetries-1 {
			break
		}

		delay := r.policy.Delay(attempt, r.sample())
		r.logger.WarnContext(ctx, "retry: attempt failed",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", r.policy.MaxRetries),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: %s: %w", op, errors.Join(ctx.Err(), last))
		case <-timer.C:
		}
	}
	return fmt.Errorf("retry: %s: exhausted %d attempts: %w", op, r.policy.MaxRetries, last)
}

func (r *Retrier) attempt(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if r.policy.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()

	err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		var tne *domain.TransientNetworkError
		if !errors.As(err, &tne) {
			err = &domain.TransientNetworkError{Op: op, Err: err}
		}
	}
	return err
}

func (r *Retrier) sample() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// IsRetryable reports whether err is a network or timeout failure.
// Validation and risk rejections are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *domain.ValidationError
	var rr *domain.RiskRejection
	if errors.As(err, &ve) || errors.As(err, &rr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var tne *domain.TransientNetworkError
	if errors.As(err, &tne) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
