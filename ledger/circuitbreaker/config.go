package circuitbreaker

import "time"

// Config holds circuit breaker configuration
type Config struct {
	MaxRequests         uint32        // Max requests in half-open state
	Interval            time.Duration // Closed-state window after which counts reset
	Timeout             time.Duration // Open-state duration before half-open
	ConsecutiveFailures uint32        // Consecutive failures to trigger open state
	FailureRatio        float64       // Failure ratio to trigger open (e.g., 0.5 for 50%)
	MinRequests         uint32        // Min requests before checking ratio
}

// DefaultConfig provides balanced settings for most services
func DefaultConfig() Config {
	return Config{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 15,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// StoreConfig is tuned for the account store: short blips should not trip,
// sustained failure to open transactions should.
func StoreConfig() Config {
	return Config{
		MaxRequests:         5,
		Interval:            3 * time.Minute,
		Timeout:             45 * time.Second,
		ConsecutiveFailures: 20,
		FailureRatio:        0.6,
		MinRequests:         15,
	}
}
