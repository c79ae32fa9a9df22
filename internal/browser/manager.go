// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/d3xf/scenic/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the Chrome process lifecycle and hands out isolated sessions
// (tabs). The underlying exec allocator starts lazily with the first session.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	allocCtx    context.Context
	allocCancel context.CancelFunc

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup

	initOnce sync.Once
}

// NewManager creates a new browser manager. Initialization is deferred until
// the first session is requested.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
	m.logger.Debug("Browser manager created (initialization deferred).")
	return m
}

// execAllocatorOptions translates the application config into chromedp
// allocator options.
func execAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	// Start with chromedp defaults.
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		// Recommended for stability in containers/headless envs.
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.DisableCache {
		opts = append(opts, chromedp.Flag("disable-application-cache", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	opts = append(opts, chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)))

	// Add additional flags from the config file's 'args' slice.
	for _, arg := range cfg.Args {
		key, value := parseArgFlag(arg)
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// parseArgFlag splits a raw command-line style argument into the name and
// value chromedp.Flag expects. Bare arguments become boolean flags.
func parseArgFlag(arg string) (string, interface{}) {
	arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
	if key, value, found := strings.Cut(arg, "="); found {
		return key, value
	}
	return arg, true
}

// initialize starts the exec allocator for the Chrome process. Allocator
// construction cannot fail; a broken Chrome binary surfaces on the first tab
// creation instead.
func (m *Manager) initialize(ctx context.Context) {
	m.initOnce.Do(func() {
		m.logger.Info("Starting browser allocator.",
			zap.Bool("headless", m.cfg.Browser.Headless))

		// The allocator must outlive any single session request, so it hangs
		// off the caller's values only.
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(Detach(ctx), execAllocatorOptions(m.cfg.Browser)...)
	})
}

// NewSession creates a fresh tab and returns it ready for navigation.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.initialize(ctx)

	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)

	session, err := NewSession(tabCtx, tabCancel, m.cfg, m.logger)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to create session structure: %w", err)
	}

	m.wg.Add(1)
	session.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.sessions, session.ID())
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", session.ID()))
	}

	if err := session.Initialize(ctx); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		session.Close(cleanupCtx)
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", session.ID()))
	return session, nil
}

// Session returns an open session by id.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Shutdown gracefully closes all sessions and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.RLock()
	sessionsToClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessionsToClose = append(sessionsToClose, s)
	}
	m.mu.RUnlock()

	for _, s := range sessionsToClose {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error during session close in shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions closed gracefully.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Grace period elapsed waiting for sessions to close.")
	}

	if m.allocCancel != nil {
		m.allocCancel()
	}

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
