package schemas

import (
	"context"
	"time"
)

// DriverSession is the narrow browser-automation contract the core consumes.
// Implementations own one isolated browser tab. All operations block until
// the underlying driver completes or the bounded wait elapses; no two steps
// of the same scenario may call into a session concurrently.
type DriverSession interface {
	ID() string

	// Navigate loads a URL and waits for the document to become ready.
	Navigate(ctx context.Context, url string) error

	// Query returns every element matching selector, optionally scoped to a
	// container selector. An invalid selector yields zero matches, not an
	// error, so speculative fallback selectors stay cheap.
	Query(ctx context.Context, selector, scope string) ([]Element, error)

	Fill(ctx context.Context, el Element, text string) error
	Click(ctx context.Context, el Element) error

	// TextOf returns the element's visible text, or its value for form
	// controls.
	TextOf(ctx context.Context, el Element) (string, error)

	// WaitVisible suspends until the selector has a visible match or the
	// timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	Screenshot(ctx context.Context, path string) error
	PageContent(ctx context.Context) (string, error)

	Close(ctx context.Context) error
}

// SessionManager owns the browser process and hands out isolated sessions.
type SessionManager interface {
	NewSession(ctx context.Context) (DriverSession, error)
	Shutdown(ctx context.Context) error
}

// ResultSink consumes scenario results. Implementations must never let a
// reporting failure escape: errors are counted and surfaced via Summary.
type ResultSink interface {
	Report(ctx context.Context, result ScenarioResult)
	Summary() ReportingSummary
}
