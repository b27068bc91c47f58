// Package runner fans scenarios out over a bounded worker pool and folds the
// results into a single run report.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/scenario"
)

// Executor runs one scenario to completion. Satisfied by scenario.Executor.
type Executor interface {
	Run(ctx context.Context, sc scenario.Scenario) schemas.ScenarioResult
}

// Runner executes a suite of scenarios with bounded concurrency. Each result
// is handed to the sink as soon as it exists, so reporting overlaps with
// execution.
type Runner struct {
	exec        Executor
	sink        schemas.ResultSink
	concurrency int
	logger      *zap.Logger
}

// New builds a runner. Concurrency below one is clamped to serial execution.
func New(exec Executor, sink schemas.ResultSink, concurrency int, logger *zap.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		exec:        exec,
		sink:        sink,
		concurrency: concurrency,
		logger:      logger.Named("runner"),
	}
}

// Run executes every scenario in the suite and returns the aggregated report.
// A cancelled context stops scheduling new scenarios; in-flight scenarios
// still produce results. Results keep the suite's declaration order
// regardless of completion order.
func (r *Runner) Run(ctx context.Context, suite *scenario.Suite) schemas.RunReport {
	report := schemas.RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	r.logger.Info("Run starting.",
		zap.String("run_id", report.RunID),
		zap.Int("scenarios", len(suite.Scenarios)),
		zap.Int("concurrency", r.concurrency),
	)

	var mu sync.Mutex
	indexed := make(map[int]schemas.ScenarioResult, len(suite.Scenarios))

	g, runCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, sc := range suite.Scenarios {
		i, sc := i, sc
		if runCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := r.exec.Run(runCtx, sc)
			r.sink.Report(runCtx, res)

			mu.Lock()
			indexed[i] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	keys := make([]int, 0, len(indexed))
	for k := range indexed {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		report.Results = append(report.Results, indexed[k])
	}

	report.Duration = time.Since(report.StartedAt)
	report.Reporting = r.sink.Summary()

	r.logger.Info("Run finished.",
		zap.String("run_id", report.RunID),
		zap.Duration("duration", report.Duration),
		zap.Bool("failed", report.Failed()),
	)
	return report
}

// WriteReport serializes the report as indented JSON to the given path.
func WriteReport(report schemas.RunReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}
