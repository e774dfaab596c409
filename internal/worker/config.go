package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the job worker.
type Config struct {
	// Concurrency is the number of goroutines pulling jobs from the queue.
	Concurrency int

	// PollInterval is how often an idle goroutine looks for due jobs.
	PollInterval time.Duration

	// JobTimeout bounds one handler call. Invoice settlement polls the
	// gateway for its whole poll timeout, so this must be longer than that.
	JobTimeout time.Duration

	// ShutdownTimeout is how long Run waits for running jobs once its
	// context is cancelled. Jobs still running after it are cancelled.
	ShutdownTimeout time.Duration

	// StaleJobThreshold is how long a job may stay 'running' before Run
	// treats it as abandoned by a crashed process and requeues it.
	StaleJobThreshold time.Duration
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		PollInterval:      2 * time.Second,
		JobTimeout:        6 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		StaleJobThreshold: 15 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 100 {
		return fmt.Errorf("concurrency too high (max 100), got %d", c.Concurrency)
	}
	if c.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("poll interval must be at least 10ms, got %v", c.PollInterval)
	}
	if c.JobTimeout < time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	if c.StaleJobThreshold <= c.JobTimeout {
		return fmt.Errorf("stale job threshold (%v) must exceed job timeout (%v)", c.StaleJobThreshold, c.JobTimeout)
	}
	return nil
}
