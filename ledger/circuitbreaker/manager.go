package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-ledger/ledger/internal/nilcheck"
	"github.com/LerianStudio/lib-ledger/ledger/log"
	"github.com/sony/gobreaker"
)

var (
	// ErrUnavailable is returned while a breaker is open or saturated half-open.
	ErrUnavailable = errors.New("circuit breaker rejected request")
	// ErrUnknownService is returned by Execute for a name never passed to GetOrCreate.
	ErrUnknownService = errors.New("circuit breaker not found")
)

// State represents circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Counts represents circuit breaker statistics
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// StateChangeListener is notified when circuit breaker state changes
type StateChangeListener interface {
	OnStateChange(serviceName string, from State, to State)
}

// Manager owns a set of named breakers.
type Manager struct {
	breakers  map[string]*gobreaker.CircuitBreaker
	listeners []StateChangeListener
	mu        sync.RWMutex
	logger    log.Logger
}

// NewManager creates a new circuit breaker manager
func NewManager(logger log.Logger) *Manager {
	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate registers serviceName with config unless it already exists.
// An existing breaker keeps its original config.
func (m *Manager) GetOrCreate(serviceName string, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.breakers[serviceName]; exists {
		return
	}

	m.breakers[serviceName] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "service-" + serviceName,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.ConsecutiveFailures >= config.ConsecutiveFailures ||
				(counts.Requests >= config.MinRequests && failureRatio >= config.FailureRatio)
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			m.handleStateChange(serviceName, from, to)
		},
	})

	m.logger.Log(context.Background(), log.LevelInfo, "created circuit breaker", log.String("service", serviceName))
}

// Execute runs fn through the named breaker.
func (m *Manager) Execute(serviceName string, fn func() (any, error)) (any, error) {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, serviceName)
	}

	result, err := breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		m.logger.Log(context.Background(), log.LevelWarn, "circuit breaker rejected request",
			log.String("service", serviceName), log.String("state", m.GetState(serviceName).String()))

		return nil, fmt.Errorf("%w: service %s: %w", ErrUnavailable, serviceName, err)
	}

	return result, err
}

// GetState returns the breaker state, or StateUnknown for an unregistered name.
func (m *Manager) GetState(serviceName string) State {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if !exists {
		return StateUnknown
	}

	return convertGobreakerState(breaker.State())
}

// GetCounts returns the current counts for a circuit breaker
func (m *Manager) GetCounts(serviceName string) Counts {
	m.mu.RLock()
	breaker, exists := m.breakers[serviceName]
	m.mu.RUnlock()

	if !exists {
		return Counts{}
	}

	counts := breaker.Counts()

	return Counts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// IsHealthy reports whether the breaker is closed.
func (m *Manager) IsHealthy(serviceName string) bool {
	return m.GetState(serviceName) == StateClosed
}

// RegisterStateChangeListener registers a listener for state change notifications
func (m *Manager) RegisterStateChangeListener(listener StateChangeListener) {
	if nilcheck.Interface(listener) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

func (m *Manager) handleStateChange(serviceName string, from gobreaker.State, to gobreaker.State) {
	level := log.LevelInfo
	if to == gobreaker.StateOpen {
		level = log.LevelError
	}

	m.logger.Log(context.Background(), level, "circuit breaker state changed",
		log.String("service", serviceName), log.String("from", from.String()), log.String("to", to.String()))

	fromState, toState := convertGobreakerState(from), convertGobreakerState(to)

	m.mu.RLock()
	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	// Listeners run off the breaker's goroutine; gobreaker holds its lock here.
	for _, listener := range listeners {
		go func(l StateChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Log(context.Background(), log.LevelError, "circuit breaker listener panicked",
						log.String("service", serviceName), log.Any("panic", r))
				}
			}()

			l.OnStateChange(serviceName, fromState, toState)
		}(listener)
	}
}

func (s State) String() string { return string(s) }

func convertGobreakerState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
