package schemas

import (
	"context"
	"time"
)

// -- Boundary Interfaces --
//
// The interpreter core never talks to a browser, a JS engine, or a solving
// backend directly. It consumes these three capabilities, which keeps the
// control-flow core testable with in-memory fakes.

// Driver provides the primitive page operations the dispatcher invokes.
// Every call must respect ctx cancellation: the dispatcher wraps each call in
// the action's timeout and expects the operation to be abandoned when the
// deadline elapses.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string, direct bool) error
	Type(ctx context.Context, selector, text string, direct bool) error
	Hover(ctx context.Context, selector string) error
	PressKey(ctx context.Context, key string) error
	SelectOption(ctx context.Context, selector string, index *int, value *string) error
	ScrollTo(ctx context.Context, selector string, settle time.Duration) error

	WaitForSelector(ctx context.Context, selector string) error
	WaitForFunction(ctx context.Context, code string) error
	WaitForLoadState(ctx context.Context, state string) error

	// Evaluate runs a script in the current iframe scope and returns its
	// JSON-decoded result.
	Evaluate(ctx context.Context, code string) (interface{}, error)

	// GetCookie returns the cookie value and whether it is present. An empty
	// domain matches any cookie with the given name.
	GetCookie(ctx context.Context, name, domain string) (string, bool, error)
	Cookies(ctx context.Context) ([]Cookie, error)

	// SetIframeScope points all subsequent scoped operations at the iframe
	// matching selector. An empty selector restores the main frame.
	SetIframeScope(ctx context.Context, selector string) error
	RemoveIframes(ctx context.Context) error

	SetViewport(ctx context.Context, width, height int64) error
}

// Evaluator evaluates a caller-supplied condition expression against live
// page state. The interpreter never inspects the expression text beyond
// placeholder substitution.
type Evaluator interface {
	EvaluateCondition(ctx context.Context, expr string) (bool, error)
}

// CaptchaSolver resolves a captcha challenge to a token. Failures and
// timeouts surface as ordinary action failures under the node's ignoreErrors.
type CaptchaSolver interface {
	Solve(ctx context.Context, req CaptchaRequest) (string, error)
}

// RunStore persists a completed run's records. Persistence is optional; a nil
// store means report-only runs.
type RunStore interface {
	PersistRun(ctx context.Context, res *RunResult) error
}
