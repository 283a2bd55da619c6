package device

import (
	"time"

	"github.com/moolticute/go-mooltipass/logging"
)

// Config holds the engine configuration.
type Config struct {
	// Logger receives engine diagnostics (optional)
	Logger logging.Logger

	// StatusPollInterval is the period of the status probe. Zero disables
	// polling (useful for tests driving the engine manually).
	StatusPollInterval time.Duration

	// RetryLimit bounds how often the parameter reload, date set and
	// change-number jobs re-queue themselves after a failure
	RetryLimit int

	// EventQueueSize is the engine event channel capacity
	EventQueueSize int
}

func defaultConfig() Config {
	return Config{
		Logger:             logging.Nop(),
		StatusPollInterval: 500 * time.Millisecond,
		RetryLimit:         3,
		EventQueueSize:     1024,
	}
}

// Option is a functional option for configuring the engine.
type Option func(*Config)

// WithLogger sets the logger used by the engine.
//
// Example:
//
//	dev := device.New(tr, device.WithLogger(logging.NewDevelopmentLogger()))
func WithLogger(log logging.Logger) Option {
	return func(c *Config) {
		if log != nil {
			c.Logger = log
		}
	}
}

// WithStatusPollInterval sets the status probe period. Zero disables the
// poller entirely.
func WithStatusPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.StatusPollInterval = interval
	}
}

// WithRetryLimit bounds the self re-queueing of the parameter reload, date
// set and change-number jobs after failures.
func WithRetryLimit(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.RetryLimit = n
		}
	}
}
