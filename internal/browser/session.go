// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d3xf/scenic/api/schemas"
	"github.com/d3xf/scenic/internal/config"
)

// Session represents an active browser tab and implements schemas.Driver.
// Scoped operations honor the current iframe scope, which persists until
// changed or cleared.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	scopeMu sync.RWMutex
	scope   string

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.Driver = (*Session)(nil)

// NewSession creates a new Session instance wrapper.
func NewSession(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()
	return &Session{
		id:     sessionID,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(zap.String("session_id", sessionID)),
		cfg:    cfg,
	}, nil
}

// Initialize connects the tab and applies the configured viewport.
func (s *Session) Initialize(ctx context.Context) error {
	initCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	// Ensure the target (tab) is created and CDP is connected.
	if err := chromedp.Run(initCtx,
		chromedp.EmulateViewport(s.cfg.Browser.ViewportWidth, s.cfg.Browser.ViewportHeight),
	); err != nil {
		return fmt.Errorf("failed to initialize browser target connection: %w", err)
	}
	return nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Scope returns the active iframe scope selector, empty for the main frame.
func (s *Session) Scope() string {
	s.scopeMu.RLock()
	defer s.scopeMu.RUnlock()
	return s.scope
}

// Close terminates the browser session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// runActions executes chromedp actions, ensuring they respect both the
// session lifetime (s.ctx) and the incoming request context (ctx).
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Prefer the caller's deadline over chromedp's wrapped error so the
		// dispatcher can classify timeouts.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) eval(ctx context.Context, script string, res interface{}) error {
	return s.runActions(ctx, chromedp.Evaluate(script, res))
}

// -- Driver: Navigation --

// Navigate loads the specified URL and waits for the document to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating to URL.", zap.String("url", url))

	navTimeout := s.cfg.Browser.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := s.runActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		if navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// -- Driver: Element interaction --

// Click interacts with the element matching the selector. Direct clicks (and
// any click inside an iframe scope) bypass visibility checks and invoke the
// DOM click() method.
func (s *Session) Click(ctx context.Context, selector string, direct bool) error {
	scope := s.Scope()
	if direct || scope != "" {
		var ok bool
		if err := s.eval(ctx, clickScript(scope, selector), &ok); err != nil {
			return fmt.Errorf("click failed for selector %q: %w", selector, err)
		}
		return nil
	}

	action := chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	}
	if err := s.runActions(ctx, action); err != nil {
		return fmt.Errorf("click failed for selector %q: %w", selector, err)
	}
	return nil
}

// Type inputs text into the element matching the selector.
func (s *Session) Type(ctx context.Context, selector, text string, direct bool) error {
	scope := s.Scope()
	if direct || scope != "" {
		var ok bool
		if err := s.eval(ctx, typeScript(scope, selector, text), &ok); err != nil {
			return fmt.Errorf("type failed for selector %q: %w", selector, err)
		}
		return nil
	}

	action := chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	}
	if err := s.runActions(ctx, action); err != nil {
		return fmt.Errorf("type failed for selector %q: %w", selector, err)
	}
	return nil
}

// Hover dispatches synthetic mouse-over events to the element.
func (s *Session) Hover(ctx context.Context, selector string) error {
	var ok bool
	if err := s.eval(ctx, hoverScript(s.Scope(), selector), &ok); err != nil {
		return fmt.Errorf("hover failed for selector %q: %w", selector, err)
	}
	return nil
}

// PressKey sends a keyboard event to the focused element.
func (s *Session) PressKey(ctx context.Context, key string) error {
	resolved, err := resolveKey(key)
	if err != nil {
		return err
	}
	if err := s.runActions(ctx, chromedp.KeyEvent(resolved)); err != nil {
		return fmt.Errorf("key press %q failed: %w", key, err)
	}
	return nil
}

// SelectOption picks a dropdown option by index or by value.
func (s *Session) SelectOption(ctx context.Context, selector string, index *int, value *string) error {
	scope := s.Scope()
	var script string
	switch {
	case index != nil:
		script = selectByIndexScript(scope, selector, *index)
	case value != nil:
		script = selectByValueScript(scope, selector, *value)
	default:
		return fmt.Errorf("dropdown selection needs an index or a value")
	}

	var ok bool
	if err := s.eval(ctx, script, &ok); err != nil {
		return fmt.Errorf("dropdown selection failed for selector %q: %w", selector, err)
	}
	return nil
}

// ScrollTo scrolls the element into view, then waits for the scroll to
// settle.
func (s *Session) ScrollTo(ctx context.Context, selector string, settle time.Duration) error {
	var ok bool
	if err := s.eval(ctx, scrollScript(s.Scope(), selector), &ok); err != nil {
		return fmt.Errorf("scroll failed for selector %q: %w", selector, err)
	}
	if settle > 0 {
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// -- Driver: Waiting --

// poll evaluates expr repeatedly until it is true or ctx expires.
func (s *Session) poll(ctx context.Context, expr string) error {
	ticker := time.NewTicker(schemas.DefaultPollInterval)
	defer ticker.Stop()

	for {
		var found bool
		// Evaluation errors are tolerated while polling; the page may be
		// mid-navigation.
		if err := s.eval(ctx, expr, &found); err == nil && found {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForSelector blocks until an element matching selector appears in the
// current scope.
func (s *Session) WaitForSelector(ctx context.Context, selector string) error {
	return s.poll(ctx, selectorFoundExpr(s.Scope(), selector))
}

// WaitForFunction blocks until the expression evaluates truthy.
func (s *Session) WaitForFunction(ctx context.Context, code string) error {
	expr := fmt.Sprintf("Boolean(%s)", wrapInScope(s.Scope(), code))
	return s.poll(ctx, expr)
}

// WaitForLoadState blocks until the main document reaches the given state.
func (s *Session) WaitForLoadState(ctx context.Context, state string) error {
	return s.poll(ctx, loadStateExpr(state))
}

// -- Driver: Evaluation --

// Evaluate runs code in the current scope and returns the JSON-decoded
// result. Undefined results come back as nil.
func (s *Session) Evaluate(ctx context.Context, code string) (interface{}, error) {
	script := fmt.Sprintf(`(function() {
const r = (%s);
return r === undefined ? null : r;
})()`, wrapInScope(s.Scope(), code))

	var res interface{}
	if err := s.eval(ctx, script, &res); err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return res, nil
}

// -- Driver: Cookies --

// Cookies returns all cookies visible to the browser.
func (s *Session) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var raw []*network.Cookie
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}

	cookies := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, schemas.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
			Secure:  c.Secure,
		})
	}
	return cookies, nil
}

// GetCookie looks up a cookie by name, optionally narrowed to a domain.
func (s *Session) GetCookie(ctx context.Context, name, domain string) (string, bool, error) {
	cookies, err := s.Cookies(ctx)
	if err != nil {
		return "", false, err
	}
	for _, c := range cookies {
		if c.Name == name && hostMatchesCookieDomain(domain, c.Domain) {
			return c.Value, true, nil
		}
	}
	return "", false, nil
}

// -- Driver: Frames and viewport --

// SetIframeScope points subsequent scoped operations at the iframe matching
// selector. An empty selector restores the main frame.
func (s *Session) SetIframeScope(ctx context.Context, selector string) error {
	if selector != "" {
		var ok bool
		if err := s.eval(ctx, iframeProbeScript(selector), &ok); err != nil {
			return fmt.Errorf("cannot scope to iframe %q: %w", selector, err)
		}
	}

	s.scopeMu.Lock()
	s.scope = selector
	s.scopeMu.Unlock()

	s.logger.Debug("Iframe scope changed.", zap.String("scope", selector))
	return nil
}

// RemoveIframes deletes every iframe from the current scope's document.
func (s *Session) RemoveIframes(ctx context.Context) error {
	var removed int
	if err := s.eval(ctx, removeIframesScript(s.Scope()), &removed); err != nil {
		return fmt.Errorf("failed to remove iframes: %w", err)
	}
	s.logger.Debug("Iframes removed.", zap.Int("count", removed))
	return nil
}

// SetViewport resizes the emulated viewport.
func (s *Session) SetViewport(ctx context.Context, width, height int64) error {
	if err := s.runActions(ctx, chromedp.EmulateViewport(width, height)); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}
	return nil
}
