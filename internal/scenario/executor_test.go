package scenario

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/config"
)

// stubDriver is a minimal DriverSession that records navigation and close
// calls and serves a fixed page for artifact capture.
type stubDriver struct {
	mu        sync.Mutex
	navigated []string
	closed    bool
	shotErr   error
}

func (d *stubDriver) ID() string { return "stub" }

func (d *stubDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *stubDriver) Query(ctx context.Context, selector, scope string) ([]schemas.Element, error) {
	return nil, nil
}
func (d *stubDriver) Fill(ctx context.Context, el schemas.Element, text string) error { return nil }

func (d *stubDriver) Click(ctx context.Context, el schemas.Element) error { return nil }

func (d *stubDriver) TextOf(ctx context.Context, el schemas.Element) (string, error) { return "", nil }
func (d *stubDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (d *stubDriver) Screenshot(ctx context.Context, path string) error {
	if d.shotErr != nil {
		return d.shotErr
	}
	return writeArtifact(path, []byte("png"))
}

func (d *stubDriver) PageContent(ctx context.Context) (string, error) {
	return "<html><body>boom</body></html>", nil
}

func (d *stubDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type stubManager struct {
	drv    *stubDriver
	newErr error
}

func (m *stubManager) NewSession(ctx context.Context) (schemas.DriverSession, error) {
	if m.newErr != nil {
		return nil, m.newErr
	}
	return m.drv, nil
}

func (m *stubManager) Shutdown(ctx context.Context) error { return nil }

// stubActor scripts per-step outcomes: each interaction is looked up by the
// target's primary selector.
type stubActor struct {
	mu      sync.Mutex
	fillErr map[string]error
	texts   map[string]string
	textErr map[string]error
	calls   []string
}

func newStubActor() *stubActor {
	return &stubActor{
		fillErr: make(map[string]error),
		texts:   make(map[string]string),
		textErr: make(map[string]error),
	}
}

func (a *stubActor) record(op, sel string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, op+" "+sel)
}

func (a *stubActor) Fill(ctx context.Context, q schemas.ElementQuery, text string) error {
	a.record("fill", q.Primary)
	return a.fillErr[q.Primary]
}

func (a *stubActor) Click(ctx context.Context, q schemas.ElementQuery) error {
	a.record("click", q.Primary)
	return nil
}

func (a *stubActor) Text(ctx context.Context, q schemas.ElementQuery) (string, error) {
	a.record("text", q.Primary)
	if err := a.textErr[q.Primary]; err != nil {
		return "", err
	}
	return a.texts[q.Primary], nil
}

func (a *stubActor) SelectOption(ctx context.Context, q schemas.ElementQuery, value string) error {
	a.record("select", q.Primary)
	return nil
}

type stubAuth struct {
	err    error
	called bool
}

func (s *stubAuth) Login(ctx context.Context) (schemas.Session, error) {
	s.called = true
	if s.err != nil {
		return schemas.Session{}, s.err
	}
	return schemas.Session{ID: "stub", Authenticated: true, EstablishedAt: time.Now()}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Environment.BaseURL = "https://app.example"
	cfg.Artifacts.Dir = t.TempDir()
	return cfg
}

func newTestExecutor(t *testing.T, drv *stubDriver, act *stubActor, au *stubAuth) *Executor {
	t.Helper()
	e := NewExecutor(&stubManager{drv: drv}, testConfig(t), zap.NewNop())
	e.newActor = func(schemas.DriverSession) actor { return act }
	e.newAuth = func(schemas.DriverSession) authenticator { return au }
	return e
}

func q(primary string) schemas.ElementQuery {
	return schemas.ElementQuery{Primary: primary}
}

// -- Tests --

func TestRunPassingScenario(t *testing.T) {
	drv := &stubDriver{}
	act := newStubActor()
	act.texts["span.total"] = " 125.00 EUR "
	au := &stubAuth{}

	sc := Scenario{
		ID: "create-invoice",
		Steps: []Step{
			{Action: &Action{Kind: ActionNavigate, URL: "/invoices"}},
			{Action: &Action{Kind: ActionFill, Target: q("input.amount"), Value: "125.00"}},
			{Action: &Action{Kind: ActionClick, Target: q("button.save")}},
			{Assert: &Assertion{Target: q("span.total"), Mode: AssertContains, Expected: "125.00"}},
		},
	}

	result := newTestExecutor(t, drv, act, au).Run(context.Background(), sc)

	assert.Equal(t, schemas.StatusPassed, result.Status)
	assert.Empty(t, result.FailureDetail)
	assert.Empty(t, result.Artifacts, "passing scenarios capture nothing")
	assert.True(t, au.called, "authenticated scenarios must log in first")
	assert.True(t, drv.closed, "session must be closed after the run")
	assert.Equal(t, []string{"https://app.example/invoices"}, drv.navigated)
	assert.Equal(t, []string{
		"fill input.amount",
		"click button.save",
		"text span.total",
	}, act.calls)
}

func TestRunAssertionMismatchMarksFailed(t *testing.T) {
	drv := &stubDriver{}
	act := newStubActor()
	act.texts["h1"] = "Welcome back"

	sc := Scenario{
		ID: "greeting",
		Steps: []Step{
			{Assert: &Assertion{Target: q("h1"), Expected: "Hello"}},
		},
	}

	result := newTestExecutor(t, drv, act, &stubAuth{}).Run(context.Background(), sc)

	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Contains(t, result.FailureDetail, "Hello")
	assert.Contains(t, result.FailureDetail, "Welcome back")
}

func TestRunStepErrorStopsLaterSteps(t *testing.T) {
	drv := &stubDriver{}
	act := newStubActor()
	act.fillErr["input.amount"] = &schemas.ElementNotFoundError{Attempted: []string{"input.amount"}}

	sc := Scenario{
		ID: "halted",
		Steps: []Step{
			{Action: &Action{Kind: ActionFill, Target: q("input.amount"), Value: "1"}},
			{Action: &Action{Kind: ActionClick, Target: q("button.save")}},
			{Assert: &Assertion{Target: q("h1"), Expected: "Done"}},
		},
	}

	result := newTestExecutor(t, drv, act, &stubAuth{}).Run(context.Background(), sc)

	assert.Equal(t, schemas.StatusError, result.Status)
	assert.Contains(t, result.FailureDetail, "input.amount")
	assert.Equal(t, []string{"fill input.amount"}, act.calls, "steps after the failure must not run")
}

func TestRunAuthFailureIsError(t *testing.T) {
	drv := &stubDriver{}
	act := newStubActor()
	au := &stubAuth{err: &schemas.AuthenticationError{Stage: "verify", Reason: "rejected"}}

	sc := Scenario{
		ID:    "needs-login",
		Steps: []Step{{Action: &Action{Kind: ActionNavigate, URL: "/secure"}}},
	}

	result := newTestExecutor(t, drv, act, au).Run(context.Background(), sc)

	assert.Equal(t, schemas.StatusError, result.Status)
	assert.Contains(t, result.FailureDetail, "authentication")
	assert.Empty(t, act.calls, "no steps run when login fails")
	assert.True(t, drv.closed)
}

func TestRunSkipsLoginWhenNotRequired(t *testing.T) {
	drv := &stubDriver{}
	au := &stubAuth{}
	noAuth := false

	sc := Scenario{
		ID:           "public",
		RequiresAuth: &noAuth,
		Steps:        []Step{{Action: &Action{Kind: ActionNavigate, URL: "https://status.example/up"}}},
	}

	result := newTestExecutor(t, drv, newStubActor(), au).Run(context.Background(), sc)

	assert.Equal(t, schemas.StatusPassed, result.Status)
	assert.False(t, au.called)
	assert.Equal(t, []string{"https://status.example/up"}, drv.navigated, "absolute URLs pass through unjoined")
}

func TestRunSessionOpenFailure(t *testing.T) {
	e := NewExecutor(&stubManager{newErr: fmt.Errorf("browser pool exhausted")}, testConfig(t), zap.NewNop())

	result := e.Run(context.Background(), Scenario{
		ID:    "no-session",
		Steps: []Step{{Action: &Action{Kind: ActionNavigate, URL: "/x"}}},
	})

	assert.Equal(t, schemas.StatusError, result.Status)
	assert.Contains(t, result.FailureDetail, "browser pool exhausted")
}

func TestRunCapturesArtifactsOnFailure(t *testing.T) {
	drv := &stubDriver{}
	act := newStubActor()
	act.texts["h1"] = "nope"

	e := newTestExecutor(t, drv, act, &stubAuth{})
	result := e.Run(context.Background(), Scenario{
		ID:    "snapshots",
		Steps: []Step{{Assert: &Assertion{Target: q("h1"), Expected: "yes"}}},
	})

	require.Equal(t, schemas.StatusFailed, result.Status)
	require.Len(t, result.Artifacts, 2, "screenshot and page markup")
	for _, path := range result.Artifacts {
		_, err := os.Stat(path)
		assert.NoError(t, err, "artifact %s must exist", path)
	}
}

func TestRunArtifactCaptureIsBestEffort(t *testing.T) {
	drv := &stubDriver{shotErr: fmt.Errorf("tab already gone")}
	act := newStubActor()
	act.texts["h1"] = "nope"

	result := newTestExecutor(t, drv, act, &stubAuth{}).Run(context.Background(), Scenario{
		ID:    "partial-snapshots",
		Steps: []Step{{Assert: &Assertion{Target: q("h1"), Expected: "yes"}}},
	})

	assert.Equal(t, schemas.StatusFailed, result.Status, "artifact trouble never changes the verdict")
	assert.Len(t, result.Artifacts, 1, "the markup snapshot still lands")
}
