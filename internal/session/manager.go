package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/solarbridge/solarbridge/internal/browser"
	"github.com/solarbridge/solarbridge/internal/config"
)

// Typed failures the scheduler's policy distinguishes.
var (
	// ErrAuthenticationFailed means the login flow itself failed:
	// credentials rejected, page timeout, or unexpected redirect.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrSessionExpired means a previously authenticated session no
	// longer passes the liveness probe. The next EnsureReady call will
	// perform a full relogin.
	ErrSessionExpired = errors.New("session expired")
)

// State is the liveness state of the browser session.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Expired
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Element-wait budgets, mirroring the dashboard's observed load behavior.
const (
	shortWait = 5 * time.Second
	medWait   = 20 * time.Second
	longWait  = 40 * time.Second
)

// powerMarker matches any element showing a live power value; its presence
// is the cheapest signal that the dashboard widget has rendered.
const powerMarker = `//*[contains(text(),' W') or contains(text(),' kW')]`

// Candidate selectors for the login form. The identity provider has shipped
// several markups over time; the first candidate that appears wins.
var (
	emailSelectors = []string{
		"#usernameUserInput",
		"input[name='Email']",
		"input[name='email']",
		"input[type='email']",
		"//label[contains(., 'Email')]/following::input[1]",
	}
	passwordSelectors = []string{
		"input[name='Password']",
		"input[name='password']",
		"input[type='password']",
		"//label[contains(., 'Password') or contains(., 'Passwort')]/following::input[1]",
	}
	submitSelectors = []string{
		"#submitButton",
		"button[type='submit']",
		"//button[contains(., 'Sign in') or contains(., 'Anmelden') or contains(., 'Log in')]",
		"//input[@type='submit']",
	}
	cookieSelectors = []string{
		"#onetrust-accept-btn-handler",
		"button[aria-label='Accept all']",
		"button[aria-label='Accept']",
		"button.cookie-btn-accept",
		"//button[contains(., 'Accept') or contains(., 'Agree') or contains(., 'Akzeptieren')]",
	}
)

// PageFactory creates a fresh browser page. Injected so tests can supply
// an in-memory fake instead of launching Chrome.
type PageFactory func(ctx context.Context) (browser.Page, error)

// Manager owns the automated browser session against the dashboard: login,
// freshness-windowed liveness checks, periodic forced relogin, and
// teardown/recreate. It is not safe for concurrent use; the scheduler's
// single iteration loop is its only caller.
type Manager struct {
	dash      config.DashboardConfig
	freshness time.Duration
	relogin   time.Duration
	newPage   PageFactory

	page         browser.Page
	state        State
	lastVerified time.Time
	loginAt      time.Time
}

// NewManager returns an unauthenticated Manager. The first EnsureReady call
// creates the page and logs in.
func NewManager(dash config.DashboardConfig, freshness, relogin time.Duration, newPage PageFactory) *Manager {
	return &Manager{
		dash:      dash,
		freshness: freshness,
		relogin:   relogin,
		newPage:   newPage,
	}
}

// State returns the current liveness state.
func (m *Manager) State() State { return m.state }

// EnsureReady guarantees a loaded, authenticated dashboard page and returns
// it. A session confirmed live within the freshness window is returned
// without re-probing; a stale one gets a lightweight liveness probe; a
// missing or expired one triggers a full login. EnsureReady does not retry
// internally; retry cadence belongs to the scheduler.
func (m *Manager) EnsureReady(ctx context.Context) (browser.Page, error) {
	if m.page == nil || m.state != Authenticated {
		if err := m.login(ctx); err != nil {
			return nil, err
		}
		return m.page, nil
	}

	// Periodic hard refresh: even a healthy-looking session is relogged
	// after the relogin interval to renew cookies before they lapse.
	if m.relogin > 0 && time.Since(m.loginAt) > m.relogin {
		slog.Info("session: relogin interval elapsed, refreshing login")
		m.state = Expired
		if err := m.login(ctx); err != nil {
			return nil, err
		}
		return m.page, nil
	}

	if time.Since(m.lastVerified) < m.freshness {
		return m.page, nil
	}

	if err := m.probe(ctx); err != nil {
		return nil, err
	}
	return m.page, nil
}

// probe performs the lightweight liveness check: still on the dashboard,
// live power text present. On failure the state flips to Expired so the
// next EnsureReady call forces a relogin.
func (m *Manager) probe(ctx context.Context) error {
	loc, err := m.page.Location(ctx)
	if err != nil {
		m.state = Expired
		return fmt.Errorf("session: read location: %w: %w", err, ErrSessionExpired)
	}
	title, _ := m.page.Title(ctx)
	if onLoginPage(loc, title) {
		m.state = Expired
		slog.Warn("session: bounced to login page", "url", loc)
		return fmt.Errorf("session: landed on login page: %w", ErrSessionExpired)
	}

	probeCtx, cancel := context.WithTimeout(ctx, shortWait)
	defer cancel()
	ok, err := m.page.Exists(probeCtx, powerMarker)
	if err != nil || !ok {
		m.state = Expired
		m.dumpScreenshot(ctx, "probe_failed")
		return fmt.Errorf("session: live power text missing: %w", ErrSessionExpired)
	}

	m.lastVerified = time.Now()
	return nil
}

// login performs the full flow: fresh page if needed, login form, then the
// dashboard page with its live widget. Any failure leaves the state
// Unauthenticated and is reported as ErrAuthenticationFailed.
func (m *Manager) login(ctx context.Context) error {
	m.state = Unauthenticated

	if m.page == nil {
		page, err := m.newPage(ctx)
		if err != nil {
			return fmt.Errorf("session: create page: %w: %w", err, ErrAuthenticationFailed)
		}
		m.page = page
	}

	if err := m.submitCredentials(ctx); err != nil {
		m.dumpScreenshot(ctx, "login_failed")
		return err
	}
	if err := m.openDashboard(ctx); err != nil {
		m.dumpScreenshot(ctx, "dashboard_failed")
		return err
	}

	now := time.Now()
	m.state = Authenticated
	m.loginAt = now
	m.lastVerified = now
	slog.Info("session: authenticated", "dashboard", m.dash.SystemURL)
	return nil
}

// submitCredentials drives the login form.
func (m *Manager) submitCredentials(ctx context.Context) error {
	slog.Info("session: navigating to login page", "url", m.dash.LoginURL)
	navCtx, cancel := context.WithTimeout(ctx, longWait)
	defer cancel()
	if err := m.page.Navigate(navCtx, m.dash.LoginURL); err != nil {
		return fmt.Errorf("session: open login page: %w: %w", err, ErrAuthenticationFailed)
	}

	m.acceptCookies(ctx)

	emailSel, err := m.waitAny(ctx, emailSelectors, medWait)
	if err != nil {
		return fmt.Errorf("session: locate email field: %w: %w", err, ErrAuthenticationFailed)
	}
	if err := m.page.SendKeys(ctx, emailSel, m.dash.Email()); err != nil {
		return fmt.Errorf("session: enter email: %w: %w", err, ErrAuthenticationFailed)
	}

	pwdSel, err := m.waitAny(ctx, passwordSelectors, medWait)
	if err != nil {
		return fmt.Errorf("session: locate password field: %w: %w", err, ErrAuthenticationFailed)
	}
	if err := m.page.SendKeys(ctx, pwdSel, m.dash.Password()); err != nil {
		return fmt.Errorf("session: enter password: %w: %w", err, ErrAuthenticationFailed)
	}

	// Prefer the submit button; fall back to Enter in the password field.
	if submitSel, err := m.waitAny(ctx, submitSelectors, shortWait); err == nil {
		if err := m.page.Click(ctx, submitSel); err != nil {
			return fmt.Errorf("session: submit login: %w: %w", err, ErrAuthenticationFailed)
		}
	} else if err := m.page.SendKeys(ctx, pwdSel, "\r"); err != nil {
		return fmt.Errorf("session: submit login: %w: %w", err, ErrAuthenticationFailed)
	}

	slog.Info("session: submitted login")
	return nil
}

// openDashboard navigates to the system page and waits for live numbers.
func (m *Manager) openDashboard(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, longWait)
	defer cancel()
	if err := m.page.Navigate(navCtx, m.dash.SystemURL); err != nil {
		return fmt.Errorf("session: open dashboard: %w: %w", err, ErrAuthenticationFailed)
	}

	m.acceptCookies(ctx)

	loc, _ := m.page.Location(ctx)
	title, _ := m.page.Title(ctx)
	if onLoginPage(loc, title) {
		return fmt.Errorf("session: redirected back to login, credentials rejected: %w", ErrAuthenticationFailed)
	}

	waitCtx, cancel := context.WithTimeout(ctx, longWait)
	defer cancel()
	if err := m.page.WaitVisible(waitCtx, powerMarker); err != nil {
		return fmt.Errorf("session: dashboard shows no live power text: %w: %w", err, ErrAuthenticationFailed)
	}
	return nil
}

// acceptCookies dismisses a consent banner if one is present. Best effort:
// most sessions after the first never see one.
func (m *Manager) acceptCookies(ctx context.Context) {
	for _, sel := range cookieSelectors {
		tryCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		ok, err := m.page.Exists(tryCtx, sel)
		cancel()
		if err != nil || !ok {
			continue
		}
		if err := m.page.Click(ctx, sel); err == nil {
			slog.Info("session: accepted cookie banner")
			return
		}
	}
}

// waitAny waits for the first selector candidate to become visible, trying
// each in order with an equal share of the budget.
func (m *Manager) waitAny(ctx context.Context, selectors []string, budget time.Duration) (string, error) {
	perTry := budget / time.Duration(len(selectors))
	var lastErr error
	for _, sel := range selectors {
		tryCtx, cancel := context.WithTimeout(ctx, perTry)
		err := m.page.WaitVisible(tryCtx, sel)
		cancel()
		if err == nil {
			return sel, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("no candidate selector matched: %w", lastErr)
}

// Reset tears the session down so the next EnsureReady starts from a clean
// browser. Used by the scheduler when consecutive failures suggest a state
// a simple retry cannot fix (e.g., a crashed rendering surface).
func (m *Manager) Reset() {
	if m.page != nil {
		if err := m.page.Close(); err != nil {
			slog.Warn("session: close page during reset", "err", err)
		}
		m.page = nil
	}
	m.state = Unauthenticated
	m.lastVerified = time.Time{}
	slog.Info("session: reset, next cycle performs a full relogin")
}

// Close releases the browser at process shutdown.
func (m *Manager) Close() {
	if m.page != nil {
		if err := m.page.Close(); err != nil {
			slog.Warn("session: close page", "err", err)
		}
		m.page = nil
	}
	m.state = Unauthenticated
}

// dumpScreenshot writes a PNG of the current page for offline diagnosis.
// Disabled unless a screenshot directory is configured.
func (m *Manager) dumpScreenshot(ctx context.Context, tag string) {
	if m.dash.ScreenshotDir == "" || m.page == nil {
		return
	}
	shotCtx, cancel := context.WithTimeout(ctx, shortWait)
	defer cancel()
	png, err := m.page.Screenshot(shotCtx)
	if err != nil {
		slog.Warn("session: screenshot failed", "tag", tag, "err", err)
		return
	}
	name := fmt.Sprintf("snap_%d_%s.png", time.Now().Unix(), tag)
	path := filepath.Join(m.dash.ScreenshotDir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		slog.Warn("session: write screenshot", "path", path, "err", err)
		return
	}
	slog.Info("session: saved screenshot", "path", path)
}

// onLoginPage reports whether the current URL/title belong to the login or
// consent flow rather than the dashboard.
func onLoginPage(url, title string) bool {
	u := strings.ToLower(url)
	t := strings.ToLower(title)
	return strings.Contains(u, "login") ||
		strings.Contains(u, "signin") ||
		strings.Contains(t, "sign in") ||
		strings.Contains(t, "anmelden")
}
