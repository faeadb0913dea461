package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the provider is considered down and requests are rejected.
	CircuitOpen
	// CircuitHalfOpen means one trial request is in flight.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the guarded provider in errors and logs ("embeddings", "chat").
	Name string
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long the circuit stays open before a trial request is allowed.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used when config omits them.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:       "llm",
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker stops calling a provider after repeated failures so a
// dead embedding or chat endpoint costs one fast rejection instead of a
// full request timeout on every search.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.Threshold < 1 {
		config.Threshold = defaults.Threshold
	}
	if config.ResetAfter <= 0 {
		config.ResetAfter = defaults.ResetAfter
	}
	if config.Name == "" {
		config.Name = defaults.Name
	}
	return &CircuitBreaker{
		name:       config.Name,
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
		now:        time.Now,
	}
}

// Allow reports whether a request may proceed. After ResetAfter an open
// circuit lets exactly one trial request through (half-open).
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return true, nil
		}
		return false, NewError(ErrorTypeCircuitOpen,
			fmt.Sprintf("%s circuit open: provider failed %d times, last failure %v ago",
				cb.name, cb.consecutiveFails, cb.now().Sub(cb.lastFailure).Round(time.Second)),
			false, nil)
	case CircuitHalfOpen:
		return false, NewError(ErrorTypeCircuitOpen,
			fmt.Sprintf("%s circuit half-open: probing provider", cb.name), false, nil)
	default:
		return false, fmt.Errorf("circuit breaker in unknown state: %v", cb.state)
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure increments the failure count and trips the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen reports whether requests are currently being rejected. An open
// circuit whose reset period has elapsed reports false so a trial request can run.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitOpen:
		return cb.now().Sub(cb.lastFailure) <= cb.resetAfter
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}

// Reset closes the circuit. Used by tests and manual intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// record counts the outcome of one guarded call. Caller cancellation says
// nothing about provider health and is not counted.
func (cb *CircuitBreaker) record(err error) {
	switch {
	case err == nil:
		cb.RecordSuccess()
	case errors.Is(err, context.Canceled):
		cb.mu.Lock()
		if cb.state == CircuitHalfOpen {
			cb.state = CircuitOpen
		}
		cb.mu.Unlock()
	default:
		cb.RecordFailure()
	}
}

// GuardedEmbedder wraps an Embedder with a circuit breaker.
type GuardedEmbedder struct {
	inner   Embedder
	breaker *CircuitBreaker
}

// NewGuardedEmbedder wraps inner with breaker.
func NewGuardedEmbedder(inner Embedder, breaker *CircuitBreaker) *GuardedEmbedder {
	return &GuardedEmbedder{inner: inner, breaker: breaker}
}

// CreateEmbeddings implements Embedder.
func (g *GuardedEmbedder) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if ok, err := g.breaker.Allow(); !ok {
		return nil, err
	}
	vectors, err := g.inner.CreateEmbeddings(ctx, inputs)
	g.breaker.record(err)
	return vectors, err
}

// EmbeddingModel implements Embedder.
func (g *GuardedEmbedder) EmbeddingModel() string {
	return g.inner.EmbeddingModel()
}

// Breaker exposes the breaker so callers can skip work while it is open.
func (g *GuardedEmbedder) Breaker() *CircuitBreaker {
	return g.breaker
}

// GuardedChat wraps a ChatClient with a circuit breaker.
type GuardedChat struct {
	inner   ChatClient
	breaker *CircuitBreaker
}

// NewGuardedChat wraps inner with breaker.
func NewGuardedChat(inner ChatClient, breaker *CircuitBreaker) *GuardedChat {
	return &GuardedChat{inner: inner, breaker: breaker}
}

// GenerateResponse implements ChatClient.
func (g *GuardedChat) GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	if ok, err := g.breaker.Allow(); !ok {
		return nil, err
	}
	resp, err := g.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
	g.breaker.record(err)
	return resp, err
}

// GetModel implements ChatClient.
func (g *GuardedChat) GetModel() string {
	return g.inner.GetModel()
}

// Breaker exposes the breaker so callers can skip work while it is open.
func (g *GuardedChat) Breaker() *CircuitBreaker {
	return g.breaker
}

var (
	_ Embedder   = (*GuardedEmbedder)(nil)
	_ ChatClient = (*GuardedChat)(nil)
)
