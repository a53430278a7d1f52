// Package resilience provides the circuit breaker that guards the shared
// speech model.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open). The
// relay runs every session through [CircuitBreaker.Execute] and classifies
// only model failures as breaker failures, so a client hanging up never
// trips it. While the breaker is open new connections are refused before
// the websocket upgrade and the readiness probe fails.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen refuses calls until the reset timeout has passed since the
	// breaker opened.
	StateOpen

	// StateHalfOpen admits up to HalfOpenMax probe calls. One failed probe
	// re-opens the breaker; HalfOpenMax successful probes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting a
	// probe. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls admitted while half-open, and
	// the number that must succeed to close again. Default: 1, since the
	// model serves one session at a time.
	HalfOpenMax int

	// IsFailure classifies the error returned by the guarded function. Errors
	// for which it returns false count as successes. Default: every non-nil
	// error is a failure.
	IsFailure func(error) bool

	// OnStateChange, when set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(from, to State)
}

// CircuitBreaker counts consecutive failures of guarded calls and refuses new
// calls for a while once too many pile up.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int // admitted while half-open
	passed   int // probes that succeeded
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take their
// documented defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// cooled reports whether an open breaker may move to half-open.
// cb.mu must be held.
func (cb *CircuitBreaker) cooled() bool {
	return cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// Allow reports whether [CircuitBreaker.Execute] would currently run its
// function, without reserving a probe slot or changing state.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if !cb.cooled() {
			return ErrCircuitOpen
		}
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return ErrCircuitOpen
		}
	}
	return nil
}

// Execute runs fn unless the breaker is open or its half-open probe budget is
// spent, in which case it returns [ErrCircuitOpen] without calling fn. The
// error from fn is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, from, moved, err := cb.admit()
	if moved {
		cb.notify(from, StateHalfOpen)
	}
	if err != nil {
		return err
	}

	ferr := fn()

	from, to, moved := cb.settle(probe, cb.cfg.IsFailure(ferr))
	if moved {
		cb.notify(from, to)
	}
	return ferr
}

// admit reserves the right to run one call.
func (cb *CircuitBreaker) admit() (probe bool, from State, moved bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if !cb.cooled() {
			return false, 0, false, ErrCircuitOpen
		}
		from, moved = cb.state, true
		cb.state = StateHalfOpen
		cb.probes, cb.passed = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, from, moved, ErrCircuitOpen
		}
		cb.probes++
		return true, from, moved, nil
	}
	return false, from, moved, nil
}

// settle records the outcome of a call admitted by admit.
func (cb *CircuitBreaker) settle(probe, failed bool) (from, to State, moved bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from = cb.state
	switch {
	case failed && (probe || cb.state == StateHalfOpen):
		cb.trip()
	case failed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	case probe && cb.state == StateHalfOpen:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
		}
	case cb.state == StateClosed:
		cb.failures = 0
	}
	return from, cb.state, from != cb.state
}

// trip opens the breaker. cb.mu must be held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.probes, cb.passed = 0, 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	log := slog.With("name", cb.cfg.Name, "from", from.String(), "to", to.String())
	if to == StateOpen {
		log.Warn("circuit breaker opened", "reset_timeout", cb.cfg.ResetTimeout)
	} else {
		log.Info("circuit breaker state changed")
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cooled() {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.probes, cb.passed = 0, 0, 0
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
