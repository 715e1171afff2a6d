// Package browser provides isolated go-rod browser sessions for purchase
// workers. One session maps to one worker and one backup code; everything
// site-specific beyond launching, signing in and liveness lives behind the
// engine's Executor seam.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/khaledrokaya2/goldpin/internal/engine"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Options configures session launches.
type Options struct {
	// StoreURL is the storefront page each session opens after launch.
	StoreURL string
	// ProfileDir is the base directory for per-worker browser profiles. The
	// profile carries the account's sign-in cookies; each worker gets its own
	// subdirectory so concurrent sessions do not fight over the singleton
	// lock.
	ProfileDir string
	Headless   bool
	UserAgent  string
}

// Factory launches sessions.
type Factory struct {
	opts   Options
	logger *slog.Logger
}

func NewFactory(opts Options, logger *slog.Logger) *Factory {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Factory{opts: opts, logger: logger}
}

// New launches an isolated browser session for the given worker.
func (f *Factory) New(ctx context.Context, workerID string) (*Session, error) {
	// Leakless deadlocks on Windows, see go-rod/rod#853.
	l := launcher.New().
		Leakless(runtime.GOOS != "windows").
		Headless(f.opts.Headless)

	if f.opts.ProfileDir != "" {
		l = l.UserDataDir(filepath.Join(f.opts.ProfileDir, workerID))
	}
	if chromePath, ok := launcher.LookPath(); ok {
		l = l.Bin(chromePath)
	}

	url, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(url).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("create stealth page: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.opts.UserAgent}); err != nil {
		f.logger.Warn("failed to set user agent",
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()),
		)
	}

	return &Session{
		opts:     f.opts,
		launcher: l,
		browser:  b,
		page:     page,
		logger:   f.logger.With(slog.String("worker_id", workerID)),
	}, nil
}

// Session is one live browser bound to a single worker.
type Session struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	logger   *slog.Logger
}

var _ engine.Session = (*Session)(nil)

// Login opens the storefront and waits for it to settle. The account
// authentication itself rides on the cookies persisted in the worker's
// profile directory; filling sign-in forms is site-specific and belongs to
// the executor boundary.
func (s *Session) Login(ctx context.Context) error {
	page := s.page.Context(ctx)
	if err := page.Navigate(s.opts.StoreURL); err != nil {
		return fmt.Errorf("navigate to storefront: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("load storefront: %w", err)
	}
	return nil
}

// Alive probes the browser and its page. A false answer means the session
// can no longer be driven (crashed, closed by the user, connection lost).
func (s *Session) Alive() bool {
	if s.browser == nil {
		return false
	}
	if _, err := s.browser.Version(); err != nil {
		s.logger.Debug("browser version probe failed", slog.String("error", err.Error()))
		return false
	}
	if s.page != nil {
		if _, err := s.page.Info(); err != nil {
			s.logger.Debug("page info probe failed", slog.String("error", err.Error()))
			return false
		}
	}
	return true
}

// Page exposes the session's page to executor implementations.
func (s *Session) Page() *rod.Page { return s.page }

// Close tears the session down: page, browser, then launcher state.
func (s *Session) Close() {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
		s.launcher = nil
	}
}
