// File: internal/session/session.go
//
// Package session drives the external surface from an unknown state to
// "ready for work". It owns all SessionState transitions: states are only
// ever derived from fresh detection predicates, never assumed from history,
// because any navigation or wait can have moved the surface underneath us.
package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sbrtools/gcbot/internal/config"
	"github.com/sbrtools/gcbot/internal/credentials"
	"github.com/sbrtools/gcbot/internal/surface"
	"github.com/sbrtools/gcbot/internal/watchdog"
)

// State is what the engine currently believes the surface to be showing.
type State int

const (
	// StateUnknown is the initial and fallback classification.
	StateUnknown State = iota
	// StateOnTarget means the work page is loaded and its anchor rendered.
	StateOnTarget
	// StateOnPortalLoginForm is the application's own login page with the
	// SSO redirect control.
	StateOnPortalLoginForm
	// StateOnFederatedLogin is the identity provider's credential form.
	StateOnFederatedLogin
	// StateOnOtpChallenge is the identity provider asking for a one-time
	// code; only a human can answer it.
	StateOnOtpChallenge
	// StateTransientOverload is a blocking overlay covering the page.
	StateTransientOverload
)

func (s State) String() string {
	switch s {
	case StateOnTarget:
		return "on_target"
	case StateOnPortalLoginForm:
		return "portal_login"
	case StateOnFederatedLogin:
		return "federated_login"
	case StateOnOtpChallenge:
		return "otp_challenge"
	case StateTransientOverload:
		return "transient_overload"
	default:
		return "unknown"
	}
}

// Detection selectors and markers for the login surface.
const (
	selSSORedirect = "#login-sso"
	selUsername    = "#username"
	selPassword    = "#password"
	selLoginSubmit = "#kc-login"

	// selTargetAnchor must be present before the target page counts as
	// loaded; an anchorless target URL is still "arriving".
	selTargetAnchor = "#search-idsbr, #toggle-filter"

	// SelBlockUI is the overload/blocking overlay. Exported because the
	// pipeline clears it around its own actions too.
	SelBlockUI = ".blockUI.blockOverlay"
)

// loginErrorSelectors mark a failed federated login attempt.
var loginErrorSelectors = []string{
	"#input-error",
	"#kc-error-message",
	".kc-feedback-text",
	".alert-error",
	".pf-c-alert__title",
}

// otpInputSelectors identify OTP-shaped inputs on the federated form.
var otpInputSelectors = []string{
	"input[autocomplete='one-time-code']",
	"input[name*='otp']",
	"input[id*='otp']",
	"input[name*='verif']",
	"input[id*='verif']",
	"input[name*='kode']",
	"input[id*='kode']",
}

// otpTextMarkers identify the challenge by visible text when no input marker
// is found.
var otpTextMarkers = []string{
	"OTP",
	"Kode OTP",
	"kode otp",
	"verification code",
	"kode verifikasi",
}

// Machine is the login state machine. It is the sole owner of session state
// transitions; the pipeline re-runs EnsureOnTarget before each record, which
// is a cheap no-op while the surface is already on target.
type Machine struct {
	surf    surface.Surface
	monitor *watchdog.Monitor
	logger  *zap.Logger
	target  config.TargetConfig
	run     config.RunConfig

	creds       credentials.Credentials
	useAutofill bool
}

// NewMachine builds the state machine. Auto-fill is attempted only when
// useAutofill is set and the credentials are complete.
func NewMachine(
	surf surface.Surface,
	monitor *watchdog.Monitor,
	cfg *config.Config,
	creds credentials.Credentials,
	useAutofill bool,
	logger *zap.Logger,
) *Machine {
	return &Machine{
		surf:        surf,
		monitor:     monitor,
		logger:      logger.Named("session"),
		target:      cfg.Target,
		run:         cfg.Run,
		creds:       creds,
		useAutofill: useAutofill,
	}
}

// -- detection predicates --

func (m *Machine) onTargetURL(loc string) bool {
	return strings.HasPrefix(loc, m.target.URL)
}

func (m *Machine) onPortalLogin(loc string) bool {
	return strings.Contains(loc, m.target.Host) && strings.Contains(loc, m.target.LoginPath)
}

func (m *Machine) onHost(loc string) bool {
	return strings.Contains(loc, m.target.Host)
}

func (m *Machine) onFederatedLogin(ctx context.Context, loc string) bool {
	if strings.Contains(loc, m.target.SSOHost) {
		return true
	}
	// Some IdP themes serve from unexpected hosts; the submit control is the
	// reliable marker.
	n, err := m.surf.Count(ctx, selLoginSubmit)
	return err == nil && n > 0
}

func (m *Machine) onOtpChallenge(ctx context.Context) bool {
	for _, sel := range otpInputSelectors {
		if visible, err := m.surf.Visible(ctx, sel); err == nil && visible {
			return true
		}
	}
	for _, marker := range otpTextMarkers {
		n, err := m.surf.CountContaining(ctx, "body *", marker)
		if err == nil && n > 0 {
			return true
		}
	}
	return false
}

func (m *Machine) overloadVisible(ctx context.Context) bool {
	visible, err := m.surf.Visible(ctx, SelBlockUI)
	return err == nil && visible
}

// Classify derives the current state from live predicates.
func (m *Machine) Classify(ctx context.Context) (State, error) {
	loc, err := m.surf.Location(ctx)
	if err != nil {
		return StateUnknown, err
	}
	switch {
	case m.onTargetURL(loc):
		return StateOnTarget, nil
	case m.onPortalLogin(loc):
		return StateOnPortalLoginForm, nil
	case m.onFederatedLogin(ctx, loc):
		if m.onOtpChallenge(ctx) {
			return StateOnOtpChallenge, nil
		}
		return StateOnFederatedLogin, nil
	case m.overloadVisible(ctx):
		return StateTransientOverload, nil
	default:
		return StateUnknown, nil
	}
}

// -- bot actions: every externally visible action feeds the watchdog --

func (m *Machine) botNavigate(ctx context.Context, url string) error {
	if err := m.monitor.CheckAlive(); err != nil {
		return err
	}
	m.monitor.MarkActivity()
	return m.surf.Navigate(ctx, url)
}

func (m *Machine) botClick(ctx context.Context, sel string) error {
	if err := m.monitor.CheckAlive(); err != nil {
		return err
	}
	m.monitor.MarkActivity()
	return m.surf.Click(ctx, sel, 0)
}

func (m *Machine) botFill(ctx context.Context, sel, value string) error {
	if err := m.monitor.CheckAlive(); err != nil {
		return err
	}
	m.monitor.MarkActivity()
	return m.surf.Fill(ctx, sel, value)
}

// EnsureOnTarget drives the surface to the loaded work page. It blocks until
// the target is reached; the only fatal exits are the watchdog's ErrAborted
// and ErrIdleTimeout. Every sub-wait is bounded except the final wait for a
// human to finish a manual login.
func (m *Machine) EnsureOnTarget(ctx context.Context) error {
	// Cheap no-op when the target is already up: the pipeline re-runs this
	// before every record.
	if state, err := m.Classify(ctx); err == nil && state == StateOnTarget {
		if anchored, err := m.surf.Visible(ctx, selTargetAnchor); err == nil && anchored {
			return m.monitor.CheckAlive()
		}
	}

	allowAutofill := m.useAutofill && m.creds.Complete()
	if m.useAutofill && !m.creds.Complete() {
		m.logger.Warn("Saved credentials missing; switching to manual login.")
	}
	autofillAttempted := false

	if err := m.botNavigate(ctx, m.target.URL); err != nil {
		return err
	}

	for {
		state, err := m.Classify(ctx)
		if err != nil {
			return err
		}

		switch state {
		case StateOnTarget:
			anchored, err := m.surf.Visible(ctx, selTargetAnchor)
			if err != nil {
				return err
			}
			if anchored {
				loc, _ := m.surf.Location(ctx)
				m.logger.Info("On target page.", zap.String("url", loc))
				return nil
			}
			// URL is right but the page hasn't rendered; not arrived yet.
			if _, err := m.monitor.WaitUntil(func() bool {
				v, err := m.surf.Visible(ctx, selTargetAnchor)
				return err == nil && v
			}, m.run.AutoLoginTimeout); err != nil {
				return err
			}

		case StateOnPortalLoginForm:
			if err := m.handlePortalLogin(ctx); err != nil {
				return err
			}

		case StateOnFederatedLogin:
			if allowAutofill && !autofillAttempted {
				autofillAttempted = true
				ok, err := m.attemptAutoLogin(ctx)
				if err != nil {
					return err
				}
				if ok {
					if _, err := m.monitor.WaitUntil(func() bool {
						return m.isOnHost(ctx)
					}, 2*m.run.AutoLoginTimeout); err != nil {
						return err
					}
					continue
				}
				// One failed attempt disables auto-fill for the rest of
				// this login; a human takes over.
				allowAutofill = false
				m.logger.Warn("Auto-fill login failed; switching to manual login.")
			}
			m.logger.Info("Waiting for manual login.")
			if err := m.waitForHuman(ctx); err != nil {
				return err
			}

		case StateOnOtpChallenge:
			m.logger.Info("OTP required; waiting for manual input.")
			if err := m.waitForHuman(ctx); err != nil {
				return err
			}

		case StateTransientOverload:
			if err := m.ClearOverload(ctx); err != nil {
				return err
			}

		default:
			if m.isOnHost(ctx) {
				// Logged in but parked elsewhere on the application.
				if err := m.botNavigate(ctx, m.target.URL); err != nil {
					return err
				}
				continue
			}
			// Nothing recognizable; give the page a moment and re-classify.
			if err := m.monitor.Pause(2 * m.run.PollInterval); err != nil {
				return err
			}
		}
	}
}

func (m *Machine) isOnHost(ctx context.Context) bool {
	loc, err := m.surf.Location(ctx)
	return err == nil && m.onHost(loc)
}

// handlePortalLogin clicks the SSO redirect when present, or waits (bounded)
// for it to appear or for the state to move on.
func (m *Machine) handlePortalLogin(ctx context.Context) error {
	n, err := m.surf.Count(ctx, selSSORedirect)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("Redirecting to SSO login.")
		if err := m.botClick(ctx, selSSORedirect); err != nil {
			return err
		}
		_, err := m.monitor.WaitUntil(func() bool {
			loc, err := m.surf.Location(ctx)
			if err != nil {
				return false
			}
			return m.onFederatedLogin(ctx, loc) || m.onHost(loc)
		}, 2*m.run.AutoLoginTimeout)
		return err
	}
	_, err = m.monitor.WaitUntil(func() bool {
		if n, err := m.surf.Count(ctx, selSSORedirect); err == nil && n > 0 {
			return true
		}
		loc, err := m.surf.Location(ctx)
		return err == nil && !m.onPortalLogin(loc)
	}, m.run.AutoLoginTimeout)
	return err
}

// attemptAutoLogin fills the federated form once and races three outcomes:
// arrival on the application host, a visible error marker, or the bounded
// timeout. Any outcome but arrival reports failure.
func (m *Machine) attemptAutoLogin(ctx context.Context) (bool, error) {
	found, err := m.monitor.WaitUntil(func() bool {
		n, err := m.surf.Count(ctx, selUsername)
		return err == nil && n > 0
	}, m.run.AutoLoginTimeout)
	if err != nil {
		return false, err
	}
	if !found {
		m.logger.Warn("Login fields not found; switching to manual login.")
		return false, nil
	}

	if err := m.botFill(ctx, selUsername, m.creds.Username); err != nil {
		return false, err
	}
	if err := m.botFill(ctx, selPassword, m.creds.Password); err != nil {
		return false, err
	}
	if err := m.botClick(ctx, selLoginSubmit); err != nil {
		return false, err
	}

	outcome := ""
	_, err = m.monitor.WaitUntil(func() bool {
		if m.isOnHost(ctx) {
			outcome = "arrived"
			return true
		}
		for _, sel := range loginErrorSelectors {
			if visible, err := m.surf.Visible(ctx, sel); err == nil && visible {
				outcome = "error"
				return true
			}
		}
		return false
	}, m.run.AutoLoginTimeout)
	if err != nil {
		return false, err
	}
	return outcome == "arrived", nil
}

// waitForHuman blocks until the application host is reached. Unbounded by
// design: the idle watchdog is the only limit, and the activity probe keeps
// it fed while a person is actually typing.
func (m *Machine) waitForHuman(ctx context.Context) error {
	_, err := m.monitor.WaitUntil(func() bool {
		return m.isOnHost(ctx)
	}, 0)
	return err
}

// ClearOverload waits (bounded) for the blocking overlay to clear on its
// own, then removes it outright when it refuses to. The overlay shows up
// around slow server responses; a stuck one would otherwise swallow every
// click that follows.
func (m *Machine) ClearOverload(ctx context.Context) error {
	cleared, err := m.monitor.WaitUntil(func() bool {
		return !m.overloadVisible(ctx)
	}, m.run.AutoLoginTimeout)
	if err != nil {
		return err
	}
	if cleared {
		return nil
	}
	m.logger.Warn("Blocking overlay did not clear; removing it.")
	m.monitor.MarkActivity()
	if err := m.surf.RemoveNodes(ctx, SelBlockUI); err != nil {
		return fmt.Errorf("failed to remove blocking overlay: %w", err)
	}
	return nil
}

// WaitOverloadClear is the bounded, best-effort variant used between
// pipeline steps: it clears a visible overlay but tolerates one that stays.
func (m *Machine) WaitOverloadClear(ctx context.Context) error {
	if !m.overloadVisible(ctx) {
		return nil
	}
	return m.ClearOverload(ctx)
}
