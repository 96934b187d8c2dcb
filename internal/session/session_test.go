// File: internal/session/session_test.go
package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/sbrtools/gcbot/internal/config"
	"github.com/sbrtools/gcbot/internal/credentials"
	"github.com/sbrtools/gcbot/internal/surface/surfacetest"
	"github.com/sbrtools/gcbot/internal/watchdog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	targetURL = "https://matchapro.web.bps.go.id/dirgc"
	portalURL = "https://matchapro.web.bps.go.id/login"
	ssoURL    = "https://sso.bps.go.id/auth/realms/pegawai-bps/protocol/openid-connect/auth"
)

// fakeClock advances simulated time on every Sleep and invokes an optional
// per-sleep hook so tests can script state changes "while waiting".
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  int
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	n := c.sleeps
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func testSetup(t *testing.T) (*surfacetest.Fake, *watchdog.Monitor, *config.Config, *fakeClock) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Run.AutoLoginTimeout = 2 * time.Second
	clock := newFakeClock()
	monitor := watchdog.NewMonitor(time.Hour, 1.0,
		watchdog.WithClock(clock.Now, clock.Sleep),
		watchdog.WithPollInterval(100*time.Millisecond))
	return surfacetest.NewFake(), monitor, cfg, clock
}

func newTestMachine(surf *surfacetest.Fake, monitor *watchdog.Monitor, cfg *config.Config, creds credentials.Credentials, autofill bool) *Machine {
	return NewMachine(surf, monitor, cfg, creds, autofill, zap.NewNop())
}

func TestClassify(t *testing.T) {
	surf, monitor, cfg, _ := testSetup(t)
	m := newTestMachine(surf, monitor, cfg, credentials.Credentials{}, false)
	ctx := context.Background()

	cases := []struct {
		name  string
		setup func()
		want  State
	}{
		{"target url", func() { surf.SetURL(targetURL) }, StateOnTarget},
		{"target subpage", func() { surf.SetURL(targetURL + "/detail/123") }, StateOnTarget},
		{"portal login", func() { surf.SetURL(portalURL) }, StateOnPortalLoginForm},
		{"federated login", func() { surf.SetURL(ssoURL) }, StateOnFederatedLogin},
		{"submit marker off-host", func() {
			surf.SetURL("https://cdn.example.com/login")
			surf.Counts["#kc-login"] = 1
		}, StateOnFederatedLogin},
		{"otp input", func() {
			surf.SetURL(ssoURL)
			surf.Visibility["input[autocomplete='one-time-code']"] = true
		}, StateOnOtpChallenge},
		{"otp text marker", func() {
			surf.SetURL(ssoURL)
			surf.Visibility["input[autocomplete='one-time-code']"] = false
			surf.Containing[surfacetest.Key("body *", "Kode OTP")] = 1
		}, StateOnOtpChallenge},
		{"overload overlay", func() {
			surf.SetURL("about:blank")
			surf.Counts["#kc-login"] = 0
			surf.Containing = map[string]int{}
			surf.Visibility[SelBlockUI] = true
		}, StateTransientOverload},
		{"unknown", func() {
			surf.Visibility[SelBlockUI] = false
			surf.SetURL("about:blank")
		}, StateUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setup()
			state, err := m.Classify(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, state)
		})
	}
}

func TestEnsureOnTargetAlreadyThere(t *testing.T) {
	surf, monitor, cfg, _ := testSetup(t)
	surf.SetURL(targetURL)
	surf.Visibility["#search-idsbr, #toggle-filter"] = true
	m := newTestMachine(surf, monitor, cfg, credentials.Credentials{}, false)

	require.NoError(t, m.EnsureOnTarget(context.Background()))
	assert.Empty(t, surf.Navigations, "no reload when the target is already up")
	assert.Empty(t, surf.Clicks)
}

func TestEnsureOnTargetAutoLogin(t *testing.T) {
	surf, monitor, cfg, _ := testSetup(t)
	creds := credentials.Credentials{Username: "alice", Password: "s3cret"}

	// Navigating to the target while logged out lands on the portal form.
	surf.OnNavigate = func(url string) {
		if url == targetURL {
			surf.URL = portalURL
			surf.Counts["#login-sso"] = 1
		}
	}
	surf.OnClick = func(sel string, _ int) {
		switch sel {
		case "#login-sso":
			surf.SetURL(ssoURL)
			surf.Counts["#username"] = 1
		case "#kc-login":
			surf.SetURL(targetURL)
			surf.Visibility["#search-idsbr, #toggle-filter"] = true
		}
	}

	m := newTestMachine(surf, monitor, cfg, creds, true)
	require.NoError(t, m.EnsureOnTarget(context.Background()))

	assert.Contains(t, surf.Clicks, "#login-sso")
	assert.Contains(t, surf.Clicks, "#kc-login")
	assert.Contains(t, surf.FillLog, "#username=alice")
	assert.Contains(t, surf.FillLog, "#password=s3cret")
}

func TestEnsureOnTargetAutoLoginFailsOnce(t *testing.T) {
	surf, monitor, cfg, clock := testSetup(t)
	creds := credentials.Credentials{Username: "alice", Password: "wrong"}

	surf.SetURL(ssoURL)
	surf.OnNavigate = func(url string) {
		if url == targetURL && !surf.Visibility["#search-idsbr, #toggle-filter"] {
			surf.URL = ssoURL
		}
	}
	surf.Counts["#username"] = 1
	surf.OnClick = func(sel string, _ int) {
		if sel == "#kc-login" {
			// Bad credentials: the IdP shows an error, no redirect.
			surf.Visibility["#input-error"] = true
		}
	}
	// The human fixes the login a few polls into the manual wait.
	clock.onSleep = func(n int) {
		if n > 30 {
			surf.SetURL(targetURL)
			surf.Visibility["#search-idsbr, #toggle-filter"] = true
		}
	}

	m := newTestMachine(surf, monitor, cfg, creds, true)
	require.NoError(t, m.EnsureOnTarget(context.Background()))

	fills := 0
	for _, f := range surf.FillLog {
		if strings.HasPrefix(f, "#username=") {
			fills++
		}
	}
	assert.Equal(t, 1, fills, "auto-fill is attempted at most once per login")
}

func TestEnsureOnTargetOtpWaitsForHuman(t *testing.T) {
	surf, monitor, cfg, clock := testSetup(t)
	creds := credentials.Credentials{Username: "alice", Password: "s3cret"}

	surf.SetURL(ssoURL)
	surf.Visibility["input[autocomplete='one-time-code']"] = true
	surf.OnNavigate = func(url string) {
		if url == targetURL && !strings.Contains(surf.URL, "matchapro") {
			surf.URL = ssoURL
		}
	}
	clock.onSleep = func(n int) {
		if n > 5 {
			surf.SetURL(targetURL)
			surf.Visibility["#search-idsbr, #toggle-filter"] = true
		}
	}

	m := newTestMachine(surf, monitor, cfg, creds, true)
	require.NoError(t, m.EnsureOnTarget(context.Background()))

	assert.Empty(t, surf.FillLog, "no automated input on an OTP challenge")
}

func TestEnsureOnTargetAbort(t *testing.T) {
	surf, monitor, cfg, _ := testSetup(t)
	surf.SetURL(ssoURL)
	surf.OnNavigate = func(url string) {
		if url == targetURL {
			surf.URL = ssoURL
		}
	}

	monitor.RequestStop()
	m := newTestMachine(surf, monitor, cfg, credentials.Credentials{}, false)
	err := m.EnsureOnTarget(context.Background())
	assert.ErrorIs(t, err, watchdog.ErrAborted)
}

func TestClearOverloadGraceful(t *testing.T) {
	surf, monitor, cfg, clock := testSetup(t)
	surf.Visibility[SelBlockUI] = true
	clock.onSleep = func(n int) {
		if n >= 3 {
			surf.Visibility[SelBlockUI] = false
		}
	}

	m := newTestMachine(surf, monitor, cfg, credentials.Credentials{}, false)
	require.NoError(t, m.ClearOverload(context.Background()))
	assert.Empty(t, surf.Removed, "overlay cleared on its own")
}

func TestClearOverloadForced(t *testing.T) {
	surf, monitor, cfg, _ := testSetup(t)
	surf.Visibility[SelBlockUI] = true

	m := newTestMachine(surf, monitor, cfg, credentials.Credentials{}, false)
	require.NoError(t, m.ClearOverload(context.Background()))
	assert.Equal(t, []string{SelBlockUI}, surf.Removed, "stuck overlay is removed outright")

	visible, err := surf.Visible(context.Background(), SelBlockUI)
	require.NoError(t, err)
	assert.False(t, visible)
}

func TestWaitOverloadClearNoop(t *testing.T) {
	surf, monitor, cfg, _ := testSetup(t)
	m := newTestMachine(surf, monitor, cfg, credentials.Credentials{}, false)
	require.NoError(t, m.WaitOverloadClear(context.Background()))
	assert.Empty(t, surf.Removed)
}
