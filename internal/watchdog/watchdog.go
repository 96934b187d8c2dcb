// File: internal/watchdog/watchdog.go
//
// Package watchdog provides the activity monitor and the condition-poll
// primitive every blocking wait in the engine goes through. It is the single
// place where the external stop signal and the idle timeout are enforced.
package watchdog

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAborted is returned when the external stop signal has been raised. It is
// fatal: the whole run unwinds and ends.
var ErrAborted = errors.New("run aborted by stop signal")

// ErrIdleTimeout is returned when no activity has been observed for longer
// than the configured idle threshold. It is fatal, never retried.
var ErrIdleTimeout = errors.New("idle timeout reached: no activity")

// DefaultPollInterval is the pacing of WaitUntil predicate checks. WaitUntil
// never spins faster than this.
const DefaultPollInterval = 500 * time.Millisecond

// Monitor tracks last-activity time and the cooperative stop flag. Both the
// automation loop and the human-activity probe feed MarkActivity; every wait
// consults CheckAlive. A Monitor is safe for concurrent use: the stop signal
// may be raised from another goroutine (e.g. a host UI) at any time.
type Monitor struct {
	idleTimeout  time.Duration
	timeoutScale float64
	pollInterval time.Duration

	stopped atomic.Bool

	mu           sync.Mutex
	lastActivity time.Time

	// Injectable clock for tests. Defaults to the real clock.
	now   func() time.Time
	sleep func(time.Duration)
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock replaces the time source and sleeper, for tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(m *Monitor) {
		m.now = now
		m.sleep = sleep
	}
}

// WithPollInterval overrides the WaitUntil poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// NewMonitor creates a Monitor with the given idle threshold and timeout
// scale. A non-positive scale falls back to 1.
func NewMonitor(idleTimeout time.Duration, timeoutScale float64, opts ...Option) *Monitor {
	if timeoutScale <= 0 {
		timeoutScale = 1
	}
	m := &Monitor{
		idleTimeout:  idleTimeout,
		timeoutScale: timeoutScale,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastActivity = m.now()
	return m
}

// MarkActivity resets the idle clock. Called around every externally visible
// action and by the human-activity probe while someone is typing.
func (m *Monitor) MarkActivity() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

// RequestStop raises the cooperative stop signal. Safe from any goroutine.
// The next CheckAlive (and therefore the next wait boundary) surfaces
// ErrAborted.
func (m *Monitor) RequestStop() {
	m.stopped.Store(true)
}

// Stopped reports whether the stop signal has been raised.
func (m *Monitor) Stopped() bool {
	return m.stopped.Load()
}

// CheckAlive fails with ErrAborted if the stop signal is set, or with
// ErrIdleTimeout if the scaled idle threshold has elapsed since the last
// activity. Both are fatal to the run.
func (m *Monitor) CheckAlive() error {
	if m.stopped.Load() {
		return ErrAborted
	}
	m.mu.Lock()
	idle := m.now().Sub(m.lastActivity)
	m.mu.Unlock()
	if m.idleTimeout > 0 && idle > m.ScaleTimeout(m.idleTimeout) {
		return ErrIdleTimeout
	}
	return nil
}

// ScaleTimeout applies the run-wide timeout multiplier. Zero stays zero so
// "no timeout" survives scaling.
func (m *Monitor) ScaleTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return time.Duration(float64(d) * m.timeoutScale)
}

// WaitUntil polls pred until it returns true, the scaled timeout expires, or
// the monitor reports a fatal condition.
//
// It returns (true, nil) as soon as pred is true, with no trailing poll
// delay. A timeout expiry returns (false, nil): not an error, callers decide
// its significance. A timeout <= 0 polls forever, bounded only by the idle
// watchdog. ErrAborted and ErrIdleTimeout propagate as errors.
func (m *Monitor) WaitUntil(pred func() bool, timeout time.Duration) (bool, error) {
	timeout = m.ScaleTimeout(timeout)
	start := m.now()
	for {
		if pred() {
			return true, nil
		}
		if timeout > 0 && m.now().Sub(start) > timeout {
			return false, nil
		}
		if err := m.CheckAlive(); err != nil {
			return false, err
		}
		m.sleep(m.pollInterval)
	}
}

// Pause sleeps for roughly d while still honoring the stop signal and idle
// watchdog. It is WaitUntil with an always-false predicate.
func (m *Monitor) Pause(d time.Duration) error {
	if d <= 0 {
		return m.CheckAlive()
	}
	_, err := m.WaitUntil(func() bool { return false }, d)
	return err
}
