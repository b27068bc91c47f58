// Package resolve locates UI controls under uncertainty: asynchronous
// rendering, ambiguous markup, and custom widgets that rebuild their rows on
// interaction. Every interaction that can mutate surrounding markup is
// followed by a fresh resolution; stale handles are never reused across a
// mutating boundary.
package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/config"
)

// defaultOptionSelector finds the popup entries of composite widgets when a
// query does not name its own.
const defaultOptionSelector = `[role="option"]`

// Resolver resolves element queries against a driver session and performs
// interactions atomically with respect to that resolution.
type Resolver struct {
	drv    schemas.DriverSession
	cfg    config.ResolverConfig
	logger *zap.Logger
}

// New creates a resolver bound to one driver session.
func New(drv schemas.DriverSession, cfg config.ResolverConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		drv:    drv,
		cfg:    cfg,
		logger: logger.Named("resolver"),
	}
}

// Resolve walks the query's fallback chain in order. Each selector gets an
// immediate check followed by a bounded polling wait; the first selector
// with a visible, enabled match wins. When the whole chain is exhausted the
// returned error carries every attempted selector.
func (r *Resolver) Resolve(ctx context.Context, q schemas.ElementQuery) (schemas.Element, error) {
	chain := q.Chain()

	for _, selector := range chain {
		el, found, err := r.awaitMatch(ctx, selector, q.Scope)
		if err != nil {
			return schemas.Element{}, err
		}
		if found {
			return el, nil
		}
		r.logger.Debug("Selector exhausted its wait, moving to next fallback",
			zap.String("selector", selector))
	}

	return schemas.Element{}, &schemas.ElementNotFoundError{Attempted: chain, Scope: q.Scope}
}

// awaitMatch polls one selector until it yields an actionable match or the
// per-selector bound elapses. A selector matching only invisible or disabled
// elements counts as zero matches.
func (r *Resolver) awaitMatch(ctx context.Context, selector, scope string) (schemas.Element, bool, error) {
	deadline := time.Now().Add(r.cfg.WaitBound)

	for {
		if err := ctx.Err(); err != nil {
			return schemas.Element{}, false, err
		}

		matches, err := r.drv.Query(ctx, selector, scope)
		if err != nil {
			return schemas.Element{}, false, err
		}
		for _, el := range matches {
			if el.Actionable() {
				return el, true, nil
			}
		}

		if time.Now().After(deadline) {
			return schemas.Element{}, false, nil
		}

		select {
		case <-ctx.Done():
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// Fill resolves the query and types text into the match.
func (r *Resolver) Fill(ctx context.Context, q schemas.ElementQuery, text string) error {
	el, err := r.Resolve(ctx, q)
	if err != nil {
		return err
	}
	return r.drv.Fill(ctx, el, text)
}

// Click resolves the query and clicks the match.
func (r *Resolver) Click(ctx context.Context, q schemas.ElementQuery) error {
	el, err := r.Resolve(ctx, q)
	if err != nil {
		return err
	}
	return r.drv.Click(ctx, el)
}

// Text resolves the query and reads the match's visible text or value.
func (r *Resolver) Text(ctx context.Context, q schemas.ElementQuery) (string, error) {
	el, err := r.Resolve(ctx, q)
	if err != nil {
		return "", err
	}
	return r.drv.TextOf(ctx, el)
}

// SelectOption sets a selection control to the option with the given visible
// text. Native select elements take the value directly. Composite widgets
// (role="combobox" controls backed by a popup list) need the full dance:
// open the popup, click the matching option, then re-resolve the original
// query to confirm the displayed value, because opening the popup may have
// replaced the row's markup.
func (r *Resolver) SelectOption(ctx context.Context, q schemas.ElementQuery, value string) error {
	el, err := r.Resolve(ctx, q)
	if err != nil {
		return err
	}

	if !isComposite(el) {
		// Typing the option text into a native select picks that option.
		return r.drv.Fill(ctx, el, value)
	}

	if err := r.drv.Click(ctx, el); err != nil {
		return fmt.Errorf("failed to open popup of %s: %w", el.Selector, err)
	}

	optionSelector := q.Options
	if optionSelector == "" {
		optionSelector = defaultOptionSelector
	}
	option, err := r.awaitOption(ctx, optionSelector, value)
	if err != nil {
		return err
	}
	if err := r.drv.Click(ctx, option); err != nil {
		return fmt.Errorf("failed to click option %q: %w", value, err)
	}

	// The popup interaction may have rebuilt the row. Resolve afresh and
	// confirm the displayed value actually changed.
	el, err = r.Resolve(ctx, q)
	if err != nil {
		return fmt.Errorf("control disappeared after selecting %q: %w", value, err)
	}
	displayed, err := r.drv.TextOf(ctx, el)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.TrimSpace(displayed), value) {
		return &schemas.AssertionMismatchError{
			Selector: q.Primary,
			Expected: value,
			Observed: displayed,
		}
	}
	return nil
}

// awaitOption polls the open popup for the option whose visible text equals
// the wanted value.
func (r *Resolver) awaitOption(ctx context.Context, selector, value string) (schemas.Element, error) {
	deadline := time.Now().Add(r.cfg.WaitBound)

	for {
		if err := ctx.Err(); err != nil {
			return schemas.Element{}, err
		}

		options, err := r.drv.Query(ctx, selector, "")
		if err != nil {
			return schemas.Element{}, err
		}
		for _, opt := range options {
			if !opt.Actionable() {
				continue
			}
			text, err := r.drv.TextOf(ctx, opt)
			if err != nil {
				continue
			}
			if strings.TrimSpace(text) == value {
				return opt, nil
			}
		}

		if time.Now().After(deadline) {
			return schemas.Element{}, &schemas.ElementNotFoundError{
				Attempted: []string{fmt.Sprintf("%s with text %q", selector, value)},
			}
		}

		select {
		case <-ctx.Done():
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// isComposite reports whether the element is a custom widget backed by a
// popup list rather than a native form control.
func isComposite(el schemas.Element) bool {
	if el.Tag == "select" {
		return false
	}
	return el.Role == "combobox" || el.Role == "listbox"
}
