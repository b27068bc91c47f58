package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/auth"
	"github.com/xkilldash9x/veritrail-cli/internal/config"
	"github.com/xkilldash9x/veritrail-cli/internal/otp"
	"github.com/xkilldash9x/veritrail-cli/internal/resolve"
)

// actor is the slice of the resolver the executor needs. Narrowed for tests.
type actor interface {
	Fill(ctx context.Context, q schemas.ElementQuery, text string) error
	Click(ctx context.Context, q schemas.ElementQuery) error
	Text(ctx context.Context, q schemas.ElementQuery) (string, error)
	SelectOption(ctx context.Context, q schemas.ElementQuery, value string) error
}

// authenticator produces a logged-in session state on the given driver.
type authenticator interface {
	Login(ctx context.Context) (schemas.Session, error)
}

// Executor runs scenarios, one isolated browser session each. Every run
// yields exactly one ScenarioResult regardless of how the scenario ends.
type Executor struct {
	sessions schemas.SessionManager
	cfg      *config.Config
	logger   *zap.Logger

	// Seams for tests; production wiring leaves these nil and the executor
	// builds the real resolver and login flow per session.
	newActor func(drv schemas.DriverSession) actor
	newAuth  func(drv schemas.DriverSession) authenticator
}

// NewExecutor wires an executor against a session manager.
func NewExecutor(sessions schemas.SessionManager, cfg *config.Config, logger *zap.Logger) *Executor {
	e := &Executor{
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.Named("executor"),
	}
	e.newActor = func(drv schemas.DriverSession) actor {
		return resolve.New(drv, cfg.Resolver, logger)
	}
	e.newAuth = func(drv schemas.DriverSession) authenticator {
		return auth.NewFlow(drv, otp.NewGenerator(), cfg.Environment, cfg.Auth, logger)
	}
	return e
}

// Run executes one scenario start to finish. Steps run strictly in order and
// stop at the first failure: an assertion mismatch marks the scenario failed,
// any other error marks it errored. On any non-passed outcome the executor
// captures a screenshot and the page markup before the session closes.
func (e *Executor) Run(ctx context.Context, sc Scenario) (result schemas.ScenarioResult) {
	started := time.Now()
	result = schemas.ScenarioResult{ScenarioID: sc.ID, Status: schemas.StatusPassed}
	log := e.logger.With(zap.String("scenario", sc.ID))

	drv, err := e.sessions.NewSession(ctx)
	if err != nil {
		result.Status = schemas.StatusError
		result.FailureDetail = fmt.Sprintf("failed to open browser session: %v", err)
		result.Duration = time.Since(started)
		return result
	}
	defer func() {
		if result.Status != schemas.StatusPassed {
			result.Artifacts = e.captureArtifacts(drv, sc.ID, log)
		}
		// Close with a fresh context so teardown survives run cancellation.
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := drv.Close(closeCtx); err != nil {
			log.Warn("Failed to close browser session.", zap.Error(err))
		}
		result.Duration = time.Since(started)
	}()

	if sc.NeedsLogin() {
		if _, err := e.newAuth(drv).Login(ctx); err != nil {
			log.Error("Authentication failed.", zap.Error(err))
			result.Status = schemas.StatusError
			result.FailureDetail = fmt.Sprintf("authentication: %v", err)
			return result
		}
	}

	act := e.newActor(drv)
	for i, step := range sc.Steps {
		stepName := step.describe(i)
		log.Debug("Executing step.", zap.String("step", stepName))

		if err := e.runStep(ctx, drv, act, step); err != nil {
			var mismatch *schemas.AssertionMismatchError
			if errors.As(err, &mismatch) && step.Assert != nil {
				result.Status = schemas.StatusFailed
			} else {
				result.Status = schemas.StatusError
			}
			result.FailureDetail = fmt.Sprintf("%s: %v", stepName, err)
			log.Warn("Scenario stopped.",
				zap.String("step", stepName),
				zap.String("status", string(result.Status)),
				zap.Error(err),
			)
			return result
		}
	}

	log.Info("Scenario passed.", zap.Duration("duration", time.Since(started)))
	return result
}

func (e *Executor) runStep(ctx context.Context, drv schemas.DriverSession, act actor, step Step) error {
	if step.Action != nil {
		return e.runAction(ctx, drv, act, *step.Action)
	}
	return e.runAssertion(ctx, act, *step.Assert)
}

func (e *Executor) runAction(ctx context.Context, drv schemas.DriverSession, act actor, a Action) error {
	switch a.Kind {
	case ActionNavigate:
		target, err := e.absoluteURL(a.URL)
		if err != nil {
			return err
		}
		return drv.Navigate(ctx, target)
	case ActionFill:
		return act.Fill(ctx, a.Target, a.Value)
	case ActionClick:
		return act.Click(ctx, a.Target)
	case ActionSelect:
		return act.SelectOption(ctx, a.Target, a.Value)
	default:
		// Unreachable after Validate; kept as a guard for hand-built steps.
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func (e *Executor) runAssertion(ctx context.Context, act actor, a Assertion) error {
	observed, err := act.Text(ctx, a.Target)
	if err != nil {
		return err
	}
	observed = strings.TrimSpace(observed)

	ok := false
	switch a.Mode {
	case AssertContains:
		ok = strings.Contains(observed, a.Expected)
	default:
		ok = observed == a.Expected
	}
	if !ok {
		return &schemas.AssertionMismatchError{
			Selector: a.Target.Primary,
			Expected: a.Expected,
			Observed: observed,
		}
	}
	return nil
}

// absoluteURL joins relative paths onto the environment base URL; absolute
// URLs pass through untouched.
func (e *Executor) absoluteURL(raw string) (string, error) {
	if strings.Contains(raw, "://") {
		return raw, nil
	}
	joined, err := url.JoinPath(e.cfg.Environment.BaseURL, raw)
	if err != nil {
		return "", &schemas.NavigationError{URL: raw, Err: err}
	}
	return joined, nil
}

// captureArtifacts saves a screenshot and the page markup for a non-passed
// scenario. Capture is best-effort; a failure here never changes the result.
func (e *Executor) captureArtifacts(drv schemas.DriverSession, scenarioID string, log *zap.Logger) []string {
	dir := e.cfg.Artifacts.Dir
	if dir == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stamp := time.Now().UTC().Format("20060102T150405Z")
	var artifacts []string

	shot := filepath.Join(dir, fmt.Sprintf("%s_%s.png", scenarioID, stamp))
	if err := drv.Screenshot(ctx, shot); err != nil {
		log.Warn("Failed to capture failure screenshot.", zap.Error(err))
	} else {
		artifacts = append(artifacts, shot)
	}

	html, err := drv.PageContent(ctx)
	if err != nil {
		log.Warn("Failed to capture page markup.", zap.Error(err))
		return artifacts
	}
	page := filepath.Join(dir, fmt.Sprintf("%s_%s.html", scenarioID, stamp))
	if err := writeArtifact(page, []byte(html)); err != nil {
		log.Warn("Failed to save page markup.", zap.Error(err))
		return artifacts
	}
	return append(artifacts, page)
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
