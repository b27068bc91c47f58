package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/config"
	"github.com/xkilldash9x/veritrail-cli/internal/otp"
)

// fakeDriver simulates the staged markup of a login flow: which selectors
// have visible matches changes as the fake "server" advances.
type fakeDriver struct {
	mu sync.Mutex

	// visible maps selector -> currently visible.
	visible map[string]bool
	// filled records selector -> last filled value.
	filled map[string]string
	// onClick advances the fake page state when a selector is clicked.
	onClick map[string]func(d *fakeDriver)
	// texts maps selector -> visible text.
	texts map[string]string

	navigated []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		visible: make(map[string]bool),
		filled:  make(map[string]string),
		onClick: make(map[string]func(d *fakeDriver)),
		texts:   make(map[string]string),
	}
}

func (d *fakeDriver) ID() string { return "fake-session" }

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *fakeDriver) Query(ctx context.Context, selector, scope string) ([]schemas.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if vis, ok := d.visible[selector]; ok {
		return []schemas.Element{{Selector: selector, Visible: vis}}, nil
	}
	return nil, nil
}

func (d *fakeDriver) Fill(ctx context.Context, el schemas.Element, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filled[el.Selector] = text
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, el schemas.Element) error {
	d.mu.Lock()
	fn := d.onClick[el.Selector]
	d.mu.Unlock()
	if fn != nil {
		fn(d)
	}
	return nil
}

func (d *fakeDriver) TextOf(ctx context.Context, el schemas.Element) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.texts[el.Selector], nil
}

func (d *fakeDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.visible[selector] {
		return nil
	}
	return fmt.Errorf("selector %q never became visible", selector)
}

func (d *fakeDriver) Screenshot(ctx context.Context, path string) error { return nil }
func (d *fakeDriver) PageContent(ctx context.Context) (string, error)   { return "<html></html>", nil }
func (d *fakeDriver) Close(ctx context.Context) error                   { return nil }

func (d *fakeDriver) setVisible(selector string, vis bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible[selector] = vis
}

// -- Test Setup --

const testSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		LoginPath:         "/login",
		UsernameSelector:  `input[name="username"]`,
		PasswordSelector:  `input[name="password"]`,
		SubmitSelector:    `button[type="submit"]`,
		ChallengeSelector: `input[name="otp"]`,
		ChallengeInput:    `input[name="otp"]`,
		ChallengeSubmit:   `button.otp-submit`,
		LandmarkSelector:  `nav.dashboard`,
		ErrorSelector:     `.alert-danger`,
		ChallengeTimeout:  2 * time.Second,
		VerifyTimeout:     2 * time.Second,
	}
}

func testEnv() config.EnvironmentConfig {
	return config.EnvironmentConfig{
		BaseURL:   "https://x",
		Username:  "u",
		Password:  "p",
		OTPSecret: testSecret,
	}
}

func newTestFlow(d *fakeDriver) *Flow {
	return NewFlow(d, otp.NewGenerator(), testEnv(), testAuthConfig(), zap.NewNop())
}

// -- Tests --

func TestLoginWithChallengeSucceeds(t *testing.T) {
	cfg := testAuthConfig()
	d := newFakeDriver()

	// Login form is present from the start.
	d.setVisible(cfg.UsernameSelector, true)
	d.setVisible(cfg.PasswordSelector, true)
	d.setVisible(cfg.SubmitSelector, true)

	// Submitting credentials brings up the challenge.
	d.onClick[cfg.SubmitSelector] = func(d *fakeDriver) {
		d.setVisible(cfg.ChallengeSelector, true)
		d.setVisible(cfg.ChallengeSubmit, true)
	}
	// Submitting the challenge reveals the dashboard.
	d.onClick[cfg.ChallengeSubmit] = func(d *fakeDriver) {
		d.setVisible(cfg.LandmarkSelector, true)
	}

	flow := newTestFlow(d)
	session, err := flow.Login(context.Background())
	require.NoError(t, err)

	assert.True(t, session.Authenticated)
	assert.False(t, session.EstablishedAt.IsZero())
	assert.Equal(t, stateSessionVerified, flow.state)

	assert.Equal(t, []string{"https://x/login"}, d.navigated)
	assert.Equal(t, "u", d.filled[cfg.UsernameSelector])
	assert.Equal(t, "p", d.filled[cfg.PasswordSelector])

	// The submitted challenge code must be a valid TOTP code. Allow the
	// previous window in case the test straddled a 30-second boundary.
	code := d.filled[cfg.ChallengeInput]
	require.Len(t, code, 6)
	gen := otp.NewGenerator()
	current, err := gen.Code(testSecret, time.Now())
	require.NoError(t, err)
	previous, err := gen.Code(testSecret, time.Now().Add(-30*time.Second))
	require.NoError(t, err)
	assert.Contains(t, []string{current, previous}, code)
}

func TestLoginSkipsAbsentChallenge(t *testing.T) {
	cfg := testAuthConfig()
	d := newFakeDriver()

	d.setVisible(cfg.UsernameSelector, true)
	d.setVisible(cfg.PasswordSelector, true)
	d.setVisible(cfg.SubmitSelector, true)

	// No challenge: the dashboard appears straight after credentials.
	d.onClick[cfg.SubmitSelector] = func(d *fakeDriver) {
		d.setVisible(cfg.LandmarkSelector, true)
	}

	flow := newTestFlow(d)
	session, err := flow.Login(context.Background())
	require.NoError(t, err)

	assert.True(t, session.Authenticated)
	_, challengeFilled := d.filled[cfg.ChallengeInput]
	assert.False(t, challengeFilled, "challenge input must not be touched when the server skips 2FA")
}

func TestLoginRejectedChallenge(t *testing.T) {
	cfg := testAuthConfig()
	d := newFakeDriver()

	d.setVisible(cfg.UsernameSelector, true)
	d.setVisible(cfg.PasswordSelector, true)
	d.setVisible(cfg.SubmitSelector, true)

	d.onClick[cfg.SubmitSelector] = func(d *fakeDriver) {
		d.setVisible(cfg.ChallengeSelector, true)
		d.setVisible(cfg.ChallengeSubmit, true)
	}
	// The server rejects the code: an error banner instead of the dashboard.
	d.onClick[cfg.ChallengeSubmit] = func(d *fakeDriver) {
		d.setVisible(cfg.ErrorSelector, true)
		d.texts[cfg.ErrorSelector] = "Invalid verification code"
	}

	flow := newTestFlow(d)
	session, err := flow.Login(context.Background())
	require.Error(t, err)

	var authErr *schemas.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "verify", authErr.Stage)
	assert.Contains(t, authErr.Reason, "Invalid verification code")

	assert.False(t, session.Authenticated, "failed login must never yield an authenticated session")
	assert.Equal(t, stateFailed, flow.state)
}

func TestLoginTimesOutWithoutChallengeOrLandmark(t *testing.T) {
	cfg := testAuthConfig()
	d := newFakeDriver()

	d.setVisible(cfg.UsernameSelector, true)
	d.setVisible(cfg.PasswordSelector, true)
	d.setVisible(cfg.SubmitSelector, true)
	// Click handler does nothing: the page just hangs.

	flow := newTestFlow(d)
	_, err := flow.Login(context.Background())
	require.Error(t, err)

	var authErr *schemas.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "challenge", authErr.Stage)
	assert.Equal(t, stateFailed, flow.state)
}

func TestLoginFormNeverAppears(t *testing.T) {
	d := newFakeDriver()
	// Nothing visible at all: navigation "succeeded" but the form is missing.

	flow := newTestFlow(d)
	_, err := flow.Login(context.Background())
	require.Error(t, err)

	var navErr *schemas.NavigationError
	require.ErrorAs(t, err, &navErr)
}
