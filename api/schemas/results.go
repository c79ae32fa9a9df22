package schemas

import (
	"time"
)

// -- Run Result Schemas --

// ActionStatus describes the outcome of a single visited action.
type ActionStatus string

const (
	// StatusCompleted: the handler (or condition evaluation) succeeded.
	StatusCompleted ActionStatus = "completed"
	// StatusFailed: the action failed and aborted the run.
	StatusFailed ActionStatus = "failed"
	// StatusIgnored: the action failed but carried ignoreErrors, so the run
	// continued at the next sibling.
	StatusIgnored ActionStatus = "ignored"
	// StatusSkipped: the action was not executed (phase mismatch).
	StatusSkipped ActionStatus = "skipped"
)

// ActionRecord is the per-action execution record exposed to the caller,
// sufficient to report which actions ran, were skipped, or failed and why.
type ActionRecord struct {
	// Path addresses the action in the tree, e.g. "[2].then[0]".
	Path       string       `json:"path"`
	Kind       ActionKind   `json:"type"`
	Status     ActionStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	DurationMs int64        `json:"durationMs"`
}

// Viewport is the last-applied emulated page size.
type Viewport struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// Cookie is the slice of browser cookie state the interpreter observes
// through the driver when polling.
type Cookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain"`
	Path    string  `json:"path"`
	Expires float64 `json:"expires"`
	Secure  bool    `json:"secure"`
}

// RunResult is the caller-facing summary of one scenario run: the captured
// script returns in execution order plus the per-action records.
type RunResult struct {
	RunID      string    `json:"runId"`
	SessionID  string    `json:"sessionId,omitempty"`
	TargetURL  string    `json:"url,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Success    bool      `json:"success"`

	// FailedPath and Error are set when the run aborted.
	FailedPath string `json:"failedPath,omitempty"`
	Error      string `json:"error,omitempty"`

	// CapturedReturns holds one entry per executed execute_js action that did
	// not set dontReturnValue, in execution order.
	CapturedReturns []interface{} `json:"javascriptReturns"`

	Records []ActionRecord `json:"records"`
}

// EncodeResult renders a single run result as indented JSON.
func EncodeResult(res *RunResult) ([]byte, error) {
	return json.MarshalIndent(res, "", "  ")
}

// EncodeResults renders a batch of run results as indented JSON. This is the
// CLI's output format for a `run` invocation.
func EncodeResults(results []*RunResult) ([]byte, error) {
	return json.MarshalIndent(results, "", "  ")
}
