package scenario

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d3xf/scenic/api/schemas"
)

// RunContext is the mutable state of exactly one scenario run. It is owned
// exclusively by that run and discarded when the run ends; nothing in it
// survives across runs, so concurrent runs cannot observe each other.
type RunContext struct {
	runID  string
	logger *zap.Logger

	// capturedReturns grows append-only in execution order, which is what
	// {javascriptReturn[i]} placeholders index into.
	capturedReturns []interface{}

	// iframeScope is the current frame selector ("" = main frame). It is a
	// single reference, not a stack: a switch_iframe persists across sibling
	// and parent boundaries until the next switch_iframe in the same run.
	iframeScope string

	viewport schemas.Viewport

	// cookies is the snapshot last refreshed by wait_for_cookie polling.
	cookies []schemas.Cookie

	records []schemas.ActionRecord
}

// NewRunContext creates the state for a fresh run.
func NewRunContext(logger *zap.Logger) *RunContext {
	id := uuid.New().String()
	return &RunContext{
		runID:  id,
		logger: logger.With(zap.String("run_id", id)),
		viewport: schemas.Viewport{
			Width:  schemas.DefaultViewportWidth,
			Height: schemas.DefaultViewportHeight,
		},
	}
}

// RunID returns the unique identifier of this run.
func (rc *RunContext) RunID() string { return rc.runID }

// AppendReturn records a captured execute_js result.
func (rc *RunContext) AppendReturn(v interface{}) {
	rc.capturedReturns = append(rc.capturedReturns, v)
}

// Returns exposes the captured values collected so far, in execution order.
func (rc *RunContext) Returns() []interface{} { return rc.capturedReturns }

// IframeScope returns the current frame selector ("" = main frame).
func (rc *RunContext) IframeScope() string { return rc.iframeScope }

// SetIframeScope overwrites the current frame scope.
func (rc *RunContext) SetIframeScope(selector string) { rc.iframeScope = selector }

// Viewport returns the last-applied viewport.
func (rc *RunContext) Viewport() schemas.Viewport { return rc.viewport }

// SetViewport updates the tracked viewport.
func (rc *RunContext) SetViewport(w, h int64) {
	rc.viewport = schemas.Viewport{Width: w, Height: h}
}

// Cookies returns the last cookie snapshot taken by wait_for_cookie.
func (rc *RunContext) Cookies() []schemas.Cookie { return rc.cookies }

// SetCookies replaces the cookie snapshot.
func (rc *RunContext) SetCookies(cookies []schemas.Cookie) { rc.cookies = cookies }

// Records returns the per-action execution records collected so far.
func (rc *RunContext) Records() []schemas.ActionRecord { return rc.records }

func (rc *RunContext) record(path string, kind schemas.ActionKind, status schemas.ActionStatus, started time.Time, err error) {
	rec := schemas.ActionRecord{
		Path:       path,
		Kind:       kind,
		Status:     status,
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	rc.records = append(rc.records, rec)
}
