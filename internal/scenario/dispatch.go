package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/d3xf/scenic/api/schemas"
)

// handlerFunc executes one leaf action. The passed context already carries
// the action's timeout.
type handlerFunc func(ctx context.Context, act *schemas.Action, rc *RunContext) error

// Dispatcher routes a leaf action to its handler. It is the single point
// where the per-action timeout is enforced around the handler call and where
// ignoreErrors decides whether a handler failure propagates.
type Dispatcher struct {
	driver schemas.Driver
	solver schemas.CaptchaSolver
	logger *zap.Logger

	// defaultTimeout applies to actions that carry no explicit timeout.
	defaultTimeout time.Duration

	// sleep is injectable so tests never block on real waits.
	sleep func(ctx context.Context, d time.Duration) error

	handlers map[schemas.ActionKind]handlerFunc
}

// NewDispatcher builds the fixed kind-to-handler table. The solver may be nil
// when no solving backend is configured; solve_captcha actions then fail as
// ordinary action failures. A non-positive defaultTimeout falls back to the
// built-in 60s.
func NewDispatcher(driver schemas.Driver, solver schemas.CaptchaSolver, defaultTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = schemas.DefaultActionTimeout
	}
	d := &Dispatcher{
		driver:         driver,
		solver:         solver,
		logger:         logger.Named("dispatcher"),
		defaultTimeout: defaultTimeout,
		sleep:          sleepCtx,
	}
	d.handlers = map[schemas.ActionKind]handlerFunc{
		schemas.ActionClick:            d.handleClick,
		schemas.ActionType:             d.handleType,
		schemas.ActionGoto:             d.handleGoto,
		schemas.ActionWait:             d.handleWait,
		schemas.ActionWaitForSelector:  d.handleWaitForSelector,
		schemas.ActionWaitForFunction:  d.handleWaitForFunction,
		schemas.ActionWaitForLoadState: d.handleWaitForLoadState,
		schemas.ActionWaitForCookie:    d.handleWaitForCookie,
		schemas.ActionExecuteJS:        d.handleExecuteJS,
		schemas.ActionScroll:           d.handleScroll,
		schemas.ActionHover:            d.handleHover,
		schemas.ActionKeyboard:         d.handleKeyboard,
		schemas.ActionDropdown:         d.handleDropdown,
		schemas.ActionSwitchIframe:     d.handleSwitchIframe,
		schemas.ActionSetViewport:      d.handleSetViewport,
		schemas.ActionSolveCaptcha:     d.handleSolveCaptcha,
		schemas.ActionDiscordLogin:     d.handleDiscordLogin,
		schemas.ActionRemoveIframes:    d.handleRemoveIframes,
	}
	return d
}

// Dispatch runs one resolved leaf action, records its outcome on the run
// context, and returns a non-nil error only when the failure must abort the
// scenario.
func (d *Dispatcher) Dispatch(ctx context.Context, act *schemas.Action, rc *RunContext, path string) error {
	handler, ok := d.handlers[act.Kind]
	if !ok {
		// Unreachable after validation; kept as a guard against table drift.
		return &ValidationError{Path: path, Field: "type", Msg: fmt.Sprintf("no handler for kind %q", act.Kind)}
	}

	started := time.Now()
	d.logger.Debug("Dispatching action.",
		zap.String("path", path),
		zap.String("type", string(act.Kind)),
		zap.Duration("timeout", d.timeoutFor(act)))

	err := d.invoke(ctx, handler, act, rc)
	if err == nil {
		rc.record(path, act.Kind, schemas.StatusCompleted, started, nil)
		return nil
	}

	if act.IgnoreErrors {
		rc.record(path, act.Kind, schemas.StatusIgnored, started, err)
		d.logger.Warn("Action failed; continuing (ignoreErrors).",
			zap.String("path", path),
			zap.String("type", string(act.Kind)),
			zap.Error(err))
		return nil
	}

	rc.record(path, act.Kind, schemas.StatusFailed, started, err)
	return err
}

// invoke applies the timeout as a hard upper bound: when the deadline
// elapses, the handler is abandoned and the action reports a TimeoutError
// even if the underlying driver call has not yet returned.
func (d *Dispatcher) invoke(ctx context.Context, handler handlerFunc, act *schemas.Action, rc *RunContext) error {
	timeout := d.timeoutFor(act)
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler(tctx, act, rc)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Kind: act.Kind, Timeout: timeout}
		}
		var subErr *SubstitutionError
		if errors.As(err, &subErr) {
			return err
		}
		return &ActionFailure{Kind: act.Kind, Err: err}
	case <-tctx.Done():
		if ctx.Err() != nil {
			// The run itself was cancelled, not this action's budget.
			return &ActionFailure{Kind: act.Kind, Err: ctx.Err()}
		}
		return &TimeoutError{Kind: act.Kind, Timeout: timeout}
	}
}

// timeoutFor resolves an action's timeout: its own when set, otherwise the
// configured default.
func (d *Dispatcher) timeoutFor(act *schemas.Action) time.Duration {
	if act.TimeoutMs > 0 {
		return act.Timeout()
	}
	return d.defaultTimeout
}

// -- Leaf Handlers --

func (d *Dispatcher) handleClick(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.driver.Click(ctx, act.CSSSelector, act.Direct)
}

func (d *Dispatcher) handleType(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.driver.Type(ctx, act.CSSSelector, act.Text, act.Direct)
}

func (d *Dispatcher) handleGoto(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.driver.Navigate(ctx, act.URL)
}

func (d *Dispatcher) handleWait(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.sleep(ctx, act.WaitDuration())
}

func (d *Dispatcher) handleWaitForSelector(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.driver.WaitForSelector(ctx, act.CSSSelector)
}

func (d *Dispatcher) handleWaitForFunction(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.driver.WaitForFunction(ctx, act.Code)
}

func (d *Dispatcher) handleWaitForLoadState(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	state := act.State
	if state == "" {
		state = "load"
	}
	return d.driver.WaitForLoadState(ctx, state)
}

// handleWaitForCookie polls the driver at the action's poll interval until
// the cookie appears or the timeout context expires. The first satisfying
// poll short-circuits the wait and refreshes the context's cookie snapshot.
func (d *Dispatcher) handleWaitForCookie(ctx context.Context, act *schemas.Action, rc *RunContext) error {
	check := func() (bool, error) {
		_, found, err := d.driver.GetCookie(ctx, act.CookieName, act.CookieDomain)
		if err != nil {
			return false, err
		}
		return found, nil
	}

	// Immediate first check so an already-present cookie costs no wait.
	found, err := check()
	if err != nil {
		return err
	}
	for !found {
		if err := d.sleep(ctx, act.PollInterval()); err != nil {
			return fmt.Errorf("cookie %q did not appear: %w", act.CookieName, err)
		}
		if found, err = check(); err != nil {
			return err
		}
	}

	snapshot, err := d.driver.Cookies(ctx)
	if err != nil {
		d.logger.Debug("Could not refresh cookie snapshot.", zap.Error(err))
		return nil
	}
	rc.SetCookies(snapshot)
	return nil
}

func (d *Dispatcher) handleExecuteJS(ctx context.Context, act *schemas.Action, rc *RunContext) error {
	value, err := d.driver.Evaluate(ctx, act.Code)
	if err != nil {
		return err
	}
	if !act.DontReturnValue {
		rc.AppendReturn(value)
	}
	return nil
}

func (d *Dispatcher) handleScroll(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.driver.ScrollTo(ctx, act.CSSSelector, act.ScrollDelay())
}

func (d *Dispatcher) handleHover(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.driver.Hover(ctx, act.CSSSelector)
}

func (d *Dispatcher) handleKeyboard(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.driver.PressKey(ctx, act.Key)
}

func (d *Dispatcher) handleDropdown(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	return d.driver.SelectOption(ctx, act.CSSSelector, act.Index, act.Value)
}

func (d *Dispatcher) handleSwitchIframe(ctx context.Context, act *schemas.Action, rc *RunContext) error {
	if err := d.driver.SetIframeScope(ctx, act.CSSSelector); err != nil {
		return err
	}
	rc.SetIframeScope(act.CSSSelector)
	return nil
}

func (d *Dispatcher) handleSetViewport(ctx context.Context, act *schemas.Action, rc *RunContext) error {
	w, h := act.ViewportSize()
	if err := d.driver.SetViewport(ctx, w, h); err != nil {
		return err
	}
	rc.SetViewport(w, h)
	return nil
}

func (d *Dispatcher) handleSolveCaptcha(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	if d.solver == nil {
		return errors.New("no captcha solver configured")
	}
	req := schemas.CaptchaRequest{
		Kind:        act.Captcha,
		WebsiteURL:  act.WebsiteURL,
		WebsiteKey:  act.WebsiteKey,
		CSSSelector: act.CSSSelector,
		CoreName:    act.CoreName,
		Data:        act.CaptchaData,
	}
	token, err := d.solver.Solve(ctx, req)
	if err != nil {
		return err
	}
	d.logger.Debug("Captcha solved.",
		zap.String("kind", string(act.Captcha)),
		zap.Int("token_length", len(token)))
	return nil
}

// handleDiscordLogin composes driver primitives: load the login page, plant
// the token in local storage the way the web client reads it, then reload so
// the client picks it up.
func (d *Dispatcher) handleDiscordLogin(ctx context.Context, act *schemas.Action, _ *RunContext) error {
	const loginURL = "https://discord.com/login"

	if err := d.driver.Navigate(ctx, loginURL); err != nil {
		return fmt.Errorf("could not open login page: %w", err)
	}

	setToken := fmt.Sprintf(`(function() {
		const iframe = document.createElement("iframe");
		document.body.appendChild(iframe);
		iframe.contentWindow.localStorage.setItem("token", JSON.stringify(%q));
		iframe.remove();
		return true;
	})()`, act.Token)
	if _, err := d.driver.Evaluate(ctx, setToken); err != nil {
		return fmt.Errorf("could not store token: %w", err)
	}

	if err := d.driver.Navigate(ctx, "https://discord.com/channels/@me"); err != nil {
		return fmt.Errorf("could not reload with token: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleRemoveIframes(ctx context.Context, _ *schemas.Action, _ *RunContext) error {
	return d.driver.RemoveIframes(ctx)
}

// sleepCtx blocks for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
