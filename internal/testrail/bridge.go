package testrail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/config"
)

var _ schemas.ResultSink = (*Bridge)(nil)

// Bridge implements the result sink against a TestRail instance. One run is
// created lazily per process and every mapped result lands in it. The bridge
// swallows its own failures: a broken reporting channel degrades to log
// noise and a summary count, never to a failed verification run.
type Bridge struct {
	client  *Client
	mapping *CaseMapping
	cfg     config.TestRailConfig
	logger  *zap.Logger

	mu      sync.Mutex
	run     *Run
	runErr  error
	summary schemas.ReportingSummary
}

// NewBridge wires a bridge from configuration; the mapping file is loaded up
// front so a broken mapping fails fast, before any browser starts.
func NewBridge(cfg config.TestRailConfig, logger *zap.Logger) (*Bridge, error) {
	mapping, err := LoadMapping(cfg.MappingFile)
	if err != nil {
		return nil, err
	}
	b := newBridge(NewClient(cfg, logger), mapping, cfg, logger)
	b.logger.Info("TestRail reporting enabled.",
		zap.Int("project_id", cfg.ProjectID),
		zap.Int("suite_id", cfg.SuiteID),
		zap.Int("mapped_cases", mapping.Len()),
	)
	return b, nil
}

func newBridge(client *Client, mapping *CaseMapping, cfg config.TestRailConfig, logger *zap.Logger) *Bridge {
	return &Bridge{
		client:  client,
		mapping: mapping,
		cfg:     cfg,
		logger:  logger.Named("testrail_bridge"),
	}
}

// Report posts one scenario result. Unmapped scenarios are skipped with a
// warning; every API failure is absorbed into the summary.
func (b *Bridge) Report(ctx context.Context, res schemas.ScenarioResult) {
	log := b.logger.With(zap.String("scenario", res.ScenarioID))

	caseID, ok := b.mapping.Lookup(res.ScenarioID)
	if !ok {
		log.Warn("Scenario has no TestRail case mapping, result not reported.")
		b.bump(func(s *schemas.ReportingSummary) { s.Skipped++ })
		return
	}

	run, err := b.ensureRun(ctx)
	if err != nil {
		log.Error("Could not create TestRail run, result dropped.", zap.Error(err))
		b.bump(func(s *schemas.ReportingSummary) { s.Failed++ })
		return
	}

	if err := b.client.AddResultForCase(ctx, run.ID, caseID, toResult(res)); err != nil {
		var re *schemas.ReportingError
		if errors.As(err, &re) && re.IsAuthFailure() {
			log.Error("TestRail rejected the API credentials.", zap.Error(err))
		} else {
			log.Error("Failed to report result.", zap.Int("case_id", caseID), zap.Error(err))
		}
		b.bump(func(s *schemas.ReportingSummary) { s.Failed++ })
		return
	}

	log.Debug("Result reported.", zap.Int("case_id", caseID), zap.String("status", string(res.Status)))
	b.bump(func(s *schemas.ReportingSummary) { s.Reported++ })
}

// Summary returns the reporting counters accumulated so far.
func (b *Bridge) Summary() schemas.ReportingSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary
}

// ensureRun creates the TestRail run exactly once per process. A failed
// creation is cached too, so a dead server costs one API call, not one per
// scenario.
func (b *Bridge) ensureRun(ctx context.Context) (*Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run != nil || b.runErr != nil {
		return b.run, b.runErr
	}

	name := fmt.Sprintf("%s %s", b.cfg.RunPrefix, time.Now().UTC().Format(time.RFC3339))
	run, err := b.client.AddRun(ctx, b.cfg.ProjectID, b.cfg.SuiteID, name)
	if err != nil {
		b.runErr = err
		return nil, err
	}
	b.run = run
	b.logger.Info("TestRail run created.", zap.Int("run_id", run.ID), zap.String("name", name))
	return run, nil
}

// DeleteCases removes the given cases from the suite, best-effort per case.
// It returns the IDs that could not be deleted.
func (b *Bridge) DeleteCases(ctx context.Context, caseIDs []int) []int {
	var failed []int
	for _, id := range caseIDs {
		if err := b.client.DeleteCase(ctx, id); err != nil {
			b.logger.Error("Failed to delete case.", zap.Int("case_id", id), zap.Error(err))
			failed = append(failed, id)
			continue
		}
		b.logger.Info("Case deleted.", zap.Int("case_id", id))
	}
	return failed
}

// ListSections fetches the suite's section tree.
func (b *Bridge) ListSections(ctx context.Context) ([]Section, error) {
	return b.client.GetSections(ctx, b.cfg.ProjectID, b.cfg.SuiteID)
}

func (b *Bridge) bump(apply func(*schemas.ReportingSummary)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	apply(&b.summary)
}

// toResult maps a scenario outcome onto TestRail's status vocabulary. Both
// failed and errored scenarios land as failed; the comment carries the
// distinction.
func toResult(res schemas.ScenarioResult) Result {
	r := Result{
		StatusID: statusFailed,
		Elapsed:  elapsed(res.Duration),
	}
	switch res.Status {
	case schemas.StatusPassed:
		r.StatusID = statusPassed
		r.Comment = "Scenario passed."
	case schemas.StatusFailed:
		r.Comment = "Assertion failed: " + res.FailureDetail
	default:
		r.Comment = "Scenario errored: " + res.FailureDetail
	}
	return r
}

// elapsed renders a duration in TestRail's "30s" / "2m 5s" format. TestRail
// rejects "0s", so sub-second runs round up.
func elapsed(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
