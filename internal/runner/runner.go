// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/d3xf/scenic/api/schemas"
	"github.com/d3xf/scenic/internal/browser"
	"github.com/d3xf/scenic/internal/config"
	"github.com/d3xf/scenic/internal/evaluator"
	"github.com/d3xf/scenic/internal/scenario"
)

// sessionCloseTimeout bounds tab teardown after a run, even when the run's
// own context is already cancelled.
const sessionCloseTimeout = 10 * time.Second

// Session is the slice of a browser session the runner needs.
type Session interface {
	schemas.Driver
	ID() string
	Close(ctx context.Context) error
}

// SessionProvider hands out browser sessions. *browser.Manager satisfies it
// through the Sessions adapter.
type SessionProvider interface {
	NewSession(ctx context.Context) (Session, error)
	Session(id string) (Session, bool)
}

type managerProvider struct {
	m *browser.Manager
}

// Sessions adapts a browser manager to the SessionProvider seam.
func Sessions(m *browser.Manager) SessionProvider {
	return managerProvider{m: m}
}

func (p managerProvider) NewSession(ctx context.Context) (Session, error) {
	return p.m.NewSession(ctx)
}

func (p managerProvider) Session(id string) (Session, bool) {
	s, ok := p.m.Session(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// Runner executes scenario documents end to end: session acquisition, the
// beforeload/navigate/afterload sequence, result assembly and optional
// persistence. Solver and store are optional; a nil solver makes
// solve_captcha actions fail at dispatch, a nil store disables persistence.
type Runner struct {
	sessions SessionProvider
	solver   schemas.CaptchaSolver
	store    schemas.RunStore
	cfg      *config.Config
	logger   *zap.Logger
}

// New creates a runner. solver and store may be nil.
func New(sessions SessionProvider, solver schemas.CaptchaSolver, store schemas.RunStore, cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		sessions: sessions,
		solver:   solver,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("runner"),
	}
}

// RunDocument executes one scenario document and returns its result. The
// returned error is the run's outcome error (nil on success); infrastructure
// failures before a run could start (session acquisition, unknown pinned
// session) return a nil result.
func (r *Runner) RunDocument(ctx context.Context, doc *schemas.Document) (*schemas.RunResult, error) {
	sess, owned, err := r.acquireSession(ctx, doc)
	if err != nil {
		return nil, err
	}
	if owned {
		defer func() {
			closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), sessionCloseTimeout)
			defer cancel()
			if cerr := sess.Close(closeCtx); cerr != nil {
				r.logger.Warn("Error closing session after run.",
					zap.String("session_id", sess.ID()), zap.Error(cerr))
			}
		}()
	}

	startedAt := time.Now().UTC()
	rc := scenario.NewRunContext(r.logger)
	disp := scenario.NewDispatcher(sess, r.solver, r.cfg.Interpreter.ActionTimeout, r.logger)
	it := scenario.New(disp, evaluator.New(sess, r.logger), r.logger)

	log := r.logger.With(
		zap.String("run_id", rc.RunID()),
		zap.String("session_id", sess.ID()),
		zap.String("url", doc.URL))
	log.Info("Starting scenario run.", zap.Int("actions", len(doc.BrowserActions)))

	runErr := r.execute(ctx, it, sess, doc, rc)

	res := &schemas.RunResult{
		RunID:           rc.RunID(),
		SessionID:       sess.ID(),
		TargetURL:       doc.URL,
		StartedAt:       startedAt,
		FinishedAt:      time.Now().UTC(),
		Success:         runErr == nil,
		CapturedReturns: rc.Returns(),
		Records:         rc.Records(),
	}
	if runErr != nil {
		res.Error = runErr.Error()
		res.FailedPath = failedPath(runErr)
		log.Warn("Scenario run failed.",
			zap.String("failed_path", res.FailedPath), zap.Error(runErr))
	} else {
		log.Info("Scenario run succeeded.",
			zap.Int("records", len(res.Records)),
			zap.Int("captured_returns", len(res.CapturedReturns)))
	}

	r.persist(ctx, res)
	return res, runErr
}

// execute runs the phase sequence for one document. Documents without a URL
// run their whole scenario in a single pass against the session's current
// page.
func (r *Runner) execute(ctx context.Context, it *scenario.Interpreter, sess Session, doc *schemas.Document, rc *scenario.RunContext) error {
	if doc.URL == "" {
		return it.Run(ctx, doc.BrowserActions, rc)
	}
	if err := it.RunPhase(ctx, doc.BrowserActions, rc, schemas.WhenBeforeLoad); err != nil {
		return err
	}
	if err := sess.Navigate(ctx, doc.URL); err != nil {
		return fmt.Errorf("navigation to %s: %w", doc.URL, err)
	}
	return it.RunPhase(ctx, doc.BrowserActions, rc, schemas.WhenAfterLoad)
}

// acquireSession resolves the document's session: a pinned session is
// borrowed (caller keeps ownership), otherwise a fresh one is created and
// owned by this run.
func (r *Runner) acquireSession(ctx context.Context, doc *schemas.Document) (Session, bool, error) {
	if doc.Session != "" {
		sess, ok := r.sessions.Session(doc.Session)
		if !ok {
			return nil, false, fmt.Errorf("unknown session %q", doc.Session)
		}
		return sess, false, nil
	}
	sess, err := r.sessions.NewSession(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire session: %w", err)
	}
	return sess, true, nil
}

// persist writes the result through the configured store. Persistence
// failures are logged, never surfaced: the run's outcome already exists and
// must not be masked by a storage hiccup.
func (r *Runner) persist(ctx context.Context, res *schemas.RunResult) {
	if r.store == nil || !r.cfg.Runner.Persist {
		return
	}
	if err := r.store.PersistRun(ctx, res); err != nil {
		r.logger.Error("Failed to persist run result.",
			zap.String("run_id", res.RunID), zap.Error(err))
	}
}

// RunDocuments executes a batch of documents with bounded concurrency.
// Scenario failures land in their result entry and do not abort the batch;
// only infrastructure failures (no result produced) propagate and cancel the
// remaining runs.
func (r *Runner) RunDocuments(ctx context.Context, docs []*schemas.Document) ([]*schemas.RunResult, error) {
	results := make([]*schemas.RunResult, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	limit := r.cfg.Runner.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, doc := range docs {
		g.Go(func() error {
			res, err := r.RunDocument(gctx, doc)
			if res == nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// failedPath extracts the tree path of the failing action, if the error
// carries one.
func failedPath(err error) string {
	var re *scenario.RunError
	if errors.As(err, &re) {
		return re.Path
	}
	var ve *scenario.ValidationError
	if errors.As(err, &ve) {
		return ve.Path
	}
	return ""
}
