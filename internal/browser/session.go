// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/config"
)

// opTimeout bounds individual driver operations that carry no explicit wait.
const opTimeout = 15 * time.Second

// handleAttr is the temporary attribute used to pin down queried elements so
// follow-up interactions address exactly the node that was inspected.
const handleAttr = "data-vt-handle"

var _ schemas.DriverSession = (*Session)(nil)

// Session manages a single, isolated browser tab.
type Session struct {
	id         string
	cfg        config.BrowserConfig
	logger     *zap.Logger
	authHeader string

	allocatorContext context.Context
	sessionContext   context.Context
	sessionCancel    context.CancelFunc

	queries  atomic.Int64
	isClosed bool
	mu       sync.Mutex
}

func newSession(allocCtx context.Context, cfg config.BrowserConfig, authHeader string, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:               id,
		cfg:              cfg,
		logger:           logger.With(zap.String("session_id", id[:8])),
		authHeader:       authHeader,
		allocatorContext: allocCtx,
	}
}

// init creates the browser tab and applies session-wide network settings.
func (s *Session) init(ctx context.Context) error {
	s.mu.Lock()
	if s.sessionContext != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already initialized")
	}
	sessionCtx, cancel := chromedp.NewContext(s.allocatorContext)
	s.sessionContext = sessionCtx
	s.sessionCancel = cancel
	s.mu.Unlock()

	err := s.run(ctx, opTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return err
			}
			if s.cfg.DisableCache {
				if err := network.SetCacheDisabled(true).Do(ctx); err != nil {
					return err
				}
			}
			if s.authHeader != "" {
				headers := network.Headers{"Authorization": s.authHeader}
				return network.SetExtraHTTPHeaders(headers).Do(ctx)
			}
			return nil
		}),
	)
	if err != nil {
		s.Close(ctx)
		return fmt.Errorf("failed to configure session network state: %w", err)
	}

	s.logger.Debug("Browser session initialized.")
	return nil
}

// run executes chromedp actions on the session context, bounded by the given
// timeout and released early if the caller's context is cancelled.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	sessionCtx := s.sessionContext
	closed := s.isClosed
	s.mu.Unlock()
	if closed || sessionCtx == nil {
		return fmt.Errorf("session is closed")
	}

	runCtx, cancel := context.WithTimeout(sessionCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string {
	return s.id
}

// Navigate loads a URL and waits for the document to become ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.PostLoadWait),
	)
	if err != nil {
		return &schemas.NavigationError{URL: url, Err: err}
	}
	return nil
}

// nodeInfo mirrors the object built per match inside the query script.
type nodeInfo struct {
	Handle   string `json:"handle"`
	Tag      string `json:"tag"`
	Role     string `json:"role"`
	Visible  bool   `json:"visible"`
	Disabled bool   `json:"disabled"`
}

// queryScript tags every match with a unique handle attribute and reports its
// interactability. Invalid selectors yield zero matches rather than an error
// so speculative fallback selectors stay cheap.
const queryScript = `(() => {
	const mark = %q;
	const scopeSel = %q;
	const sel = %q;
	let root = document;
	if (scopeSel) {
		try { root = document.querySelector(scopeSel); } catch (e) { root = null; }
	}
	if (!root) { return []; }
	let nodes;
	try { nodes = root.querySelectorAll(sel); } catch (e) { return []; }
	const out = [];
	let i = 0;
	for (const n of nodes) {
		const tag = mark + '-' + i;
		n.setAttribute('%s', tag);
		const style = window.getComputedStyle(n);
		const rect = n.getBoundingClientRect();
		out.push({
			handle: tag,
			tag: n.tagName.toLowerCase(),
			role: n.getAttribute('role') || '',
			visible: style.visibility !== 'hidden' && style.display !== 'none' && rect.width > 0 && rect.height > 0,
			disabled: n.disabled === true || n.getAttribute('aria-disabled') === 'true',
		});
		i++;
	}
	return out;
})()`

// Query returns every element matching selector, optionally scoped to a
// container. Each returned handle is only valid until the next interaction
// that may rebuild the surrounding markup.
func (s *Session) Query(ctx context.Context, selector, scope string) ([]schemas.Element, error) {
	mark := fmt.Sprintf("%s-q%d", s.id[:8], s.queries.Add(1))
	script := fmt.Sprintf(queryScript, mark, scope, selector, handleAttr)

	var nodes []nodeInfo
	if err := s.run(ctx, opTimeout, chromedp.Evaluate(script, &nodes)); err != nil {
		return nil, fmt.Errorf("element query %q failed: %w", selector, err)
	}

	elements := make([]schemas.Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, schemas.Element{
			Selector: fmt.Sprintf(`[%s=%q]`, handleAttr, n.Handle),
			Tag:      n.Tag,
			Role:     n.Role,
			Visible:  n.Visible,
			Disabled: n.Disabled,
		})
	}
	return elements, nil
}

// Fill clears the element and types the given text into it.
func (s *Session) Fill(ctx context.Context, el schemas.Element, text string) error {
	return s.run(ctx, opTimeout,
		chromedp.Clear(el.Selector, chromedp.ByQuery),
		chromedp.SendKeys(el.Selector, text, chromedp.ByQuery),
	)
}

// Click clicks the element.
func (s *Session) Click(ctx context.Context, el schemas.Element) error {
	return s.run(ctx, opTimeout, chromedp.Click(el.Selector, chromedp.ByQuery))
}

// textScript prefers a form control's value over its rendered text.
const textScript = `(() => {
	let n;
	try { n = document.querySelector(%q); } catch (e) { n = null; }
	if (!n) { return ''; }
	if (typeof n.value === 'string' && n.value !== '') { return n.value; }
	return (n.innerText || n.textContent || '').trim();
})()`

// TextOf returns the element's visible text, or its value for form controls.
func (s *Session) TextOf(ctx context.Context, el schemas.Element) (string, error) {
	var text string
	script := fmt.Sprintf(textScript, el.Selector)
	if err := s.run(ctx, opTimeout, chromedp.Evaluate(script, &text)); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", el.Selector, err)
	}
	return text, nil
}

// WaitVisible suspends until the selector has a visible match or the timeout
// elapses.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Screenshot captures the viewport into the given file path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, opTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	return nil
}

// PageContent returns the full serialized markup of the current document.
func (s *Session) PageContent(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, opTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// Close safely terminates the browser tab.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	sessionCancel := s.sessionCancel
	sessionContext := s.sessionContext
	s.mu.Unlock()

	if sessionCancel != nil {
		sessionCancel()
	}
	if sessionContext == nil {
		return nil
	}

	// Wait for the tab to terminate, respecting the caller's deadline.
	waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
	defer cancelWait()

	select {
	case <-sessionContext.Done():
		s.logger.Debug("Browser session closed gracefully.")
	case <-waitCtx.Done():
		s.logger.Warn("Deadline exceeded waiting for browser session to close.", zap.Error(waitCtx.Err()))
	}
	return nil
}
