package schemas

import (
	"fmt"
	"strings"
)

// NavigationError indicates the target URL was unreachable or did not load
// within the bounded wait.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// AuthenticationError indicates the login flow terminated in its failed
// state: rejected credentials, a rejected challenge code, or a verification
// timeout.
type AuthenticationError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed at %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed at %s: %s", e.Stage, e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ElementNotFoundError is returned when every selector in a fallback chain
// was exhausted. It carries the full attempted chain for diagnosability.
type ElementNotFoundError struct {
	Attempted []string
	Scope     string
}

func (e *ElementNotFoundError) Error() string {
	msg := fmt.Sprintf("no element matched after trying selectors [%s]", strings.Join(e.Attempted, ", "))
	if e.Scope != "" {
		msg += fmt.Sprintf(" within scope %q", e.Scope)
	}
	return msg
}

// AssertionMismatchError reports a divergence between an expected and an
// observed value at the end of a scenario step.
type AssertionMismatchError struct {
	Selector string
	Expected string
	Observed string
}

func (e *AssertionMismatchError) Error() string {
	return fmt.Sprintf("assertion on %s: expected %q, observed %q", e.Selector, e.Expected, e.Observed)
}

// ReportingError wraps a failed call against the external test-management
// API. It is always caught at the bridge boundary and never propagates into
// scenario execution.
type ReportingError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ReportingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("testrail %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("testrail %s failed: %v", e.Op, e.Err)
}

func (e *ReportingError) Unwrap() error { return e.Err }

// IsAuthFailure reports whether the wrapped API call was rejected for
// credentials rather than content (401/403 as opposed to 404 or 400).
func (e *ReportingError) IsAuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
