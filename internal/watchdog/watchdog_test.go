// File: internal/watchdog/watchdog_test.go
package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock advances time only when Sleep is called, so tests never block on
// the real clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(idle time.Duration, scale float64) (*Monitor, *fakeClock) {
	clock := newFakeClock()
	m := NewMonitor(idle, scale, WithClock(clock.Now, clock.Sleep))
	return m, clock
}

func TestCheckAliveFreshMonitor(t *testing.T) {
	m, _ := newTestMonitor(5*time.Minute, 1.0)
	assert.NoError(t, m.CheckAlive())
}

func TestCheckAliveIdleTimeout(t *testing.T) {
	m, clock := newTestMonitor(5*time.Minute, 1.0)

	// Just under the threshold is still alive.
	clock.Sleep(5 * time.Minute)
	assert.NoError(t, m.CheckAlive())

	// Past the threshold is fatal.
	clock.Sleep(time.Second)
	err := m.CheckAlive()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIdleTimeout)

	// Activity resets the clock.
	m.MarkActivity()
	assert.NoError(t, m.CheckAlive())
}

func TestCheckAliveIdleTimeoutScaled(t *testing.T) {
	m, clock := newTestMonitor(5*time.Minute, 2.0)

	clock.Sleep(9 * time.Minute)
	assert.NoError(t, m.CheckAlive(), "threshold should be scaled to 10 minutes")

	clock.Sleep(2 * time.Minute)
	assert.ErrorIs(t, m.CheckAlive(), ErrIdleTimeout)
}

func TestCheckAliveAborted(t *testing.T) {
	m, _ := newTestMonitor(5*time.Minute, 1.0)
	m.RequestStop()
	assert.ErrorIs(t, m.CheckAlive(), ErrAborted)
	assert.True(t, m.Stopped())
}

func TestAbortedTakesPrecedenceOverIdle(t *testing.T) {
	m, clock := newTestMonitor(time.Minute, 1.0)
	clock.Sleep(2 * time.Minute)
	m.RequestStop()
	assert.ErrorIs(t, m.CheckAlive(), ErrAborted)
}

func TestWaitUntilImmediateTrue(t *testing.T) {
	m, clock := newTestMonitor(5*time.Minute, 1.0)
	before := clock.Now()

	ok, err := m.WaitUntil(func() bool { return true }, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, before, clock.Now(), "a true predicate must not incur a poll delay")
}

func TestWaitUntilBecomesTrue(t *testing.T) {
	m, _ := newTestMonitor(5*time.Minute, 1.0)

	calls := 0
	ok, err := m.WaitUntil(func() bool {
		calls++
		return calls >= 4
	}, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, calls)
}

func TestWaitUntilTimeout(t *testing.T) {
	m, clock := newTestMonitor(5*time.Minute, 1.0)
	start := clock.Now()

	ok, err := m.WaitUntil(func() bool { return false }, 3*time.Second)
	require.NoError(t, err, "a timeout is not an error")
	assert.False(t, ok)
	elapsed := clock.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, 3*time.Second)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestWaitUntilTimeoutScaled(t *testing.T) {
	m, clock := newTestMonitor(5*time.Minute, 3.0)
	start := clock.Now()

	ok, err := m.WaitUntil(func() bool { return false }, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, clock.Now().Sub(start), 6*time.Second)
}

func TestWaitUntilNoTimeoutBoundedByIdle(t *testing.T) {
	m, _ := newTestMonitor(time.Minute, 1.0)

	// With no timeout the wait polls forever until the watchdog trips.
	ok, err := m.WaitUntil(func() bool { return false }, 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrIdleTimeout)
}

func TestWaitUntilStopPropagates(t *testing.T) {
	m, _ := newTestMonitor(5*time.Minute, 1.0)

	calls := 0
	ok, err := m.WaitUntil(func() bool {
		calls++
		if calls == 3 {
			m.RequestStop()
		}
		return false
	}, 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestPauseHonorsStop(t *testing.T) {
	m, _ := newTestMonitor(5*time.Minute, 1.0)
	m.RequestStop()
	assert.ErrorIs(t, m.Pause(10*time.Second), ErrAborted)
	assert.ErrorIs(t, m.Pause(0), ErrAborted)
}

func TestPauseElapses(t *testing.T) {
	m, clock := newTestMonitor(5*time.Minute, 1.0)
	start := clock.Now()
	require.NoError(t, m.Pause(2*time.Second))
	assert.GreaterOrEqual(t, clock.Now().Sub(start), 2*time.Second)
}
