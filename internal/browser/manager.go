// File: internal/browser/manager.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veritrail-cli/api/schemas"
	"github.com/xkilldash9x/veritrail-cli/internal/config"
)

// Manager handles the lifecycle of the headless browser process. Scenario
// sessions (tabs) are derived from the single allocator it owns.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// allocatorCtx manages the entire browser process. All session contexts
	// are derived from this.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// authHeader is the optional basic-auth header applied to every session.
	authHeader string

	// wg tracks active sessions for a graceful shutdown.
	wg sync.WaitGroup
}

var _ schemas.SessionManager = (*Manager)(nil)

// NewManager launches the browser process and verifies it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}

	if cfg.Environment.BasicAuthUser != "" {
		pair := cfg.Environment.BasicAuthUser + ":" + cfg.Environment.BasicAuthPass
		m.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(pair))
	}

	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser prepares allocator options and starts the browser process.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...")

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	// Verify the browser starts and is responsive before handing out sessions.
	testCtx, cancelTest := context.WithTimeout(allocCtx, 30*time.Second)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	defer cancelTestCtx()
	defer cancelTest()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the flags for the browser instance.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Browser.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.Browser.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Browser.Headless),
	)

	// Custom arguments from the config file.
	for _, arg := range m.cfg.Browser.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers (e.g. CI runners).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// NewSession creates a new, fully isolated browser tab.
func (m *Manager) NewSession(ctx context.Context) (schemas.DriverSession, error) {
	s := newSession(m.allocatorCtx, m.cfg.Browser, m.authHeader, m.logger)

	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize browser session: %w", err)
	}

	m.wg.Add(1)
	return &sessionWrapper{DriverSession: s, wg: &m.wg}, nil
}

// Shutdown waits for all active sessions to complete and then terminates the
// browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions have completed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.logger.Info("Shutting down main browser process...")
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}

// sessionWrapper decorates a DriverSession so the Manager's WaitGroup is
// decremented exactly once when the session closes.
type sessionWrapper struct {
	schemas.DriverSession
	wg     *sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

func (sw *sessionWrapper) Close(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return nil
	}

	err := sw.DriverSession.Close(ctx)
	sw.closed = true
	sw.wg.Done()
	return err
}
