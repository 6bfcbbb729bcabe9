// Package circuitbreaker stops calling a failing dependency until it has had
// time to recover.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/fx-insight/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is probing whether the dependency recovered
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when the half-open probe budget is used up
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config configures a circuit breaker
type Config struct {
	Name             string
	MaxFailures      int           // calls observed before the failure rate is trusted, and the consecutive failure limit
	FailureThreshold float64       // failure rate (0.0-1.0) that opens the circuit
	Timeout          time.Duration // open duration before probing
	HalfOpenMaxCalls int           // probes allowed while half-open
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      5,
		FailureThreshold: 0.5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	totalCalls       int
	inFlight         int
	consecutiveFails int
	lastStateChange  time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	cb := &CircuitBreaker{cfg: *config, now: time.Now, state: StateClosed}
	cb.lastStateChange = cb.now()
	return cb
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.inFlight+cb.totalCalls >= cb.cfg.HalfOpenMaxCalls {
			return ErrTooManyRequests
		}
	}
	cb.inFlight++
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.inFlight--
	cb.totalCalls++
	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.successes++
	cb.consecutiveFails = 0

	if cb.state == StateHalfOpen && cb.successes >= cb.cfg.HalfOpenMaxCalls {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.consecutiveFails++

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			logging.WithFields(map[string]interface{}{
				"circuitBreaker":   cb.cfg.Name,
				"failures":         cb.failures,
				"totalCalls":       cb.totalCalls,
				"consecutiveFails": cb.consecutiveFails,
			}).Warn("Circuit breaker opened due to failures")
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		logging.WithField("circuitBreaker", cb.cfg.Name).Warn("Circuit breaker reopened after failure in half-open state")
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.consecutiveFails >= cb.cfg.MaxFailures {
		return true
	}
	if cb.totalCalls < cb.cfg.MaxFailures {
		return false
	}
	return float64(cb.failures)/float64(cb.totalCalls) >= cb.cfg.FailureThreshold
}

// setState switches state and starts a fresh counting window
func (cb *CircuitBreaker) setState(state State) {
	if cb.state != state {
		logging.WithFields(map[string]interface{}{
			"circuitBreaker": cb.cfg.Name,
			"from":           cb.state,
			"to":             state,
		}).Info("Circuit breaker state change")
	}
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.failures = 0
	cb.successes = 0
	cb.totalCalls = 0
	cb.consecutiveFails = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
}
