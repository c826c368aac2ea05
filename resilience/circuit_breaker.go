package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgemind/agentforge/core"
)

// CircuitState is one of Closed, Open or HalfOpen.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// ErrorClassifier decides whether err should count against the
// failure threshold. Configuration, not-found and cancellation errors
// are excluded by DefaultErrorClassifier since they reflect caller
// mistakes or intentional shutdown, not an unhealthy dependency.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts only infrastructure-shaped failures
// (timeouts, transport errors, unavailable backends).
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsConfigurationError(err) || core.IsNotFound(err) || core.IsStateError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrContextCanceled) {
		return false
	}
	return true
}

// CircuitBreakerConfig configures a CircuitBreaker's sliding-window
// evaluation and recovery timing.
type CircuitBreakerConfig struct {
	Name string

	// ErrorThreshold is the error rate, 0.0-1.0, that trips the breaker.
	ErrorThreshold float64
	// VolumeThreshold is the minimum sample count before evaluation.
	VolumeThreshold int
	// SleepWindow is how long Open is held before probing half-open.
	SleepWindow time.Duration
	// HalfOpenRequests caps concurrent probes while half-open.
	HalfOpenRequests int
	// SuccessThreshold is the half-open success rate needed to close.
	SuccessThreshold float64

	WindowSize  time.Duration
	BucketCount int

	ErrorClassifier ErrorClassifier
	Logger          core.Logger
}

// DefaultCircuitBreakerConfig is tuned for a single local model server:
// a short window, tolerant of the occasional slow response.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      15 * time.Second,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.6,
		WindowSize:       30 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
	}
}

// CircuitBreaker guards a single dependency (a model server, a registry
// refresh source) with a closed/open/half-open state machine driven by
// a sliding error-rate window rather than a single failure counter, so
// a brief burst of errors in an otherwise healthy stream doesn't trip
// it.
type CircuitBreaker struct {
	config *CircuitBreakerConfig
	state  atomic.Value // CircuitState

	window *slidingWindow

	mu              sync.Mutex
	openedAt        time.Time
	halfOpenInUse   int
	halfOpenSuccess int
	halfOpenTotal   int
}

// NewCircuitBreaker builds a CircuitBreaker from config, applying
// DefaultCircuitBreakerConfig for any zero-valued field.
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("default")
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.ErrorThreshold == 0 {
		config.ErrorThreshold = 0.5
	}
	if config.VolumeThreshold == 0 {
		config.VolumeThreshold = 10
	}
	if config.SleepWindow == 0 {
		config.SleepWindow = 15 * time.Second
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 3
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 0.6
	}
	if config.WindowSize == 0 {
		config.WindowSize = 30 * time.Second
	}
	if config.BucketCount == 0 {
		config.BucketCount = 10
	}

	cb := &CircuitBreaker{
		config: config,
		window: newSlidingWindow(config.WindowSize, config.BucketCount),
	}
	cb.state.Store(StateClosed)
	return cb
}

// CanExecute reports whether a new call may proceed, transitioning
// Open to HalfOpen once SleepWindow has elapsed.
func (cb *CircuitBreaker) CanExecute() bool {
	switch cb.state.Load().(CircuitState) {
	case StateClosed:
		return true
	case StateOpen:
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if time.Since(cb.openedAt) >= cb.config.SleepWindow {
			cb.transitionTo(StateHalfOpen)
			return cb.tryReserveHalfOpenSlot()
		}
		return false
	case StateHalfOpen:
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return cb.tryReserveHalfOpenSlot()
	default:
		return false
	}
}

func (cb *CircuitBreaker) tryReserveHalfOpenSlot() bool {
	if cb.halfOpenInUse >= cb.config.HalfOpenRequests {
		return false
	}
	cb.halfOpenInUse++
	return true
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		return core.ErrCircuitBreakerOpen
	}
	err := fn()
	if cb.config.ErrorClassifier(err) {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// RecordSuccess registers a successful call against the window and
// half-open accounting.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.window.recordSuccess()
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state.Load().(CircuitState) == StateHalfOpen {
		cb.halfOpenSuccess++
		cb.halfOpenTotal++
		cb.halfOpenInUse--
		if cb.halfOpenTotal >= cb.config.HalfOpenRequests {
			rate := float64(cb.halfOpenSuccess) / float64(cb.halfOpenTotal)
			if rate >= cb.config.SuccessThreshold {
				cb.transitionTo(StateClosed)
			} else {
				cb.transitionTo(StateOpen)
			}
		}
	}
}

// RecordFailure registers a failed call, possibly tripping the breaker
// open from Closed or immediately from HalfOpen.
func (cb *CircuitBreaker) RecordFailure() {
	cb.window.recordFailure()
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state.Load().(CircuitState) {
	case StateHalfOpen:
		cb.halfOpenInUse--
		cb.transitionTo(StateOpen)
	case StateClosed:
		success, failure := cb.window.counts()
		total := success + failure
		if int(total) >= cb.config.VolumeThreshold {
			errorRate := float64(failure) / float64(total)
			if errorRate >= cb.config.ErrorThreshold {
				cb.transitionTo(StateOpen)
			}
		}
	}
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	oldState := cb.state.Load().(CircuitState)
	if oldState == newState {
		return
	}
	cb.state.Store(newState)
	if newState == StateOpen {
		cb.openedAt = time.Now()
	}
	if newState == StateHalfOpen {
		cb.halfOpenInUse = 0
		cb.halfOpenSuccess = 0
		cb.halfOpenTotal = 0
	}
	cb.config.Logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.config.Name,
		"from": oldState.String(),
		"to":   newState.String(),
	})
}

// State returns the breaker's current state name.
func (cb *CircuitBreaker) State() string {
	return cb.state.Load().(CircuitState).String()
}

// Reset forces the breaker back to Closed and clears its window,
// used by admin/health endpoints and tests.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.window.reset()
	cb.transitionTo(StateClosed)
}
