package runner

import (
	"context"
	"sync"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
)

var _ schemas.ResultSink = (*DiscardSink)(nil)

// DiscardSink counts results without sending them anywhere. It stands in for
// the reporting bridge when external reporting is disabled, so the rest of
// the pipeline never branches on it.
type DiscardSink struct {
	mu      sync.Mutex
	skipped int
}

// NewDiscardSink returns a sink that drops every result.
func NewDiscardSink() *DiscardSink {
	return &DiscardSink{}
}

// Report drops the result.
func (s *DiscardSink) Report(ctx context.Context, res schemas.ScenarioResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

// Summary reports everything as skipped.
func (s *DiscardSink) Summary() schemas.ReportingSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schemas.ReportingSummary{Skipped: s.skipped}
}
