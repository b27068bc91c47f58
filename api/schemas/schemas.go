// Package schemas holds the data contracts shared between the browser,
// scenario, and reporting layers. It is intentionally dependency-free.
package schemas

import "time"

// Status classifies the outcome of a scenario run.
type Status string

const (
	// StatusPassed means every step executed and every assertion matched.
	StatusPassed Status = "passed"
	// StatusFailed means all steps executed but an assertion did not match.
	StatusFailed Status = "failed"
	// StatusError means a step aborted the scenario (element not found,
	// authentication failure, driver error).
	StatusError Status = "error"
)

// Session describes an authenticated browser session. It is produced by the
// authentication flow and owned by the scenario that requested it.
type Session struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	EstablishedAt time.Time `json:"established_at"`
}

// ElementQuery describes how to locate a control. It never stores a resolved
// handle; resolution happens fresh on every use because the underlying
// markup is dynamic.
type ElementQuery struct {
	Primary string `json:"primary" yaml:"primary"`
	// Fallbacks are tried in order after Primary, each with its own
	// bounded wait.
	Fallbacks []string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
	// Scope optionally restricts matching to a container selector.
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`
	// Options selects the popup entries of a composite widget. Empty means
	// the resolver default ([role="option"]).
	Options string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Chain returns the full ordered selector chain, primary first.
func (q ElementQuery) Chain() []string {
	chain := make([]string, 0, len(q.Fallbacks)+1)
	chain = append(chain, q.Primary)
	chain = append(chain, q.Fallbacks...)
	return chain
}

// Element is a transient handle to a resolved control. It is valid only until
// the next interaction that may mutate the surrounding markup.
type Element struct {
	// Selector re-locates this exact element within the live document.
	Selector string
	Tag      string
	Role     string
	Visible  bool
	Disabled bool
}

// Actionable reports whether the element qualifies for interaction.
func (e Element) Actionable() bool {
	return e.Visible && !e.Disabled
}

// ScenarioResult is the single, immutable outcome of one scenario run.
type ScenarioResult struct {
	ScenarioID    string        `json:"scenario_id"`
	Status        Status        `json:"status"`
	Duration      time.Duration `json:"duration"`
	FailureDetail string        `json:"failure_detail,omitempty"`
	Artifacts     []string      `json:"artifacts,omitempty"`
}

// ReportingSummary aggregates the reporting bridge's per-call outcomes.
// Reporting failures are surfaced here, never as scenario failures.
type ReportingSummary struct {
	Reported int `json:"reported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// RunReport is the process's final structured output.
type RunReport struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Results   []ScenarioResult `json:"results"`
	Reporting ReportingSummary `json:"reporting"`
}

// Failed reports whether any scenario ended in a non-passed state.
func (r RunReport) Failed() bool {
	for _, res := range r.Results {
		if res.Status != StatusPassed {
			return true
		}
	}
	return false
}
