package monitor

import (
	"log"
	"time"
)

const defaultTeardownTimeout = 5 * time.Second

// Hooks report observation lifecycle transitions. They exist so tests can
// synchronise with the background goroutine and carry no other meaning.
type Hooks struct {
	// Started runs on the observation goroutine before it starts waiting for events.
	Started func(generation uint64, paths []string)
	// Stopping runs on the caller before the observation is told to stop.
	Stopping func(generation uint64)
}

type Option func(m *Monitor)

func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithTeardownTimeout bounds how long a suspend waits for the observation to stop.
func WithTeardownTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.teardownTimeout = d
		}
	}
}

func WithHooks(hooks Hooks) Option {
	return func(m *Monitor) {
		m.hooks = hooks
	}
}
