// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from ctx1 that also ends when ctx2 ends.
// Values come from ctx1 only. chromedp needs this split: the session context
// (ctx1) holds the CDP target, while a per-call context (ctx2) holds the
// deadline, and a chromedp.Run must observe both.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)

	// Propagate ctx2 cancellation; the goroutine exits once either side ends.
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext keeps a parent's values (the CDP target among them) while
// reporting no deadline and no cancellation of its own.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach strips cancellation from ctx, keeping its values. Cleanup work that
// has to finish after the triggering request is cancelled runs on such a
// context.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
