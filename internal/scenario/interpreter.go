package scenario

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/d3xf/scenic/api/schemas"
)

// Interpreter walks a scenario tree depth-first, left-to-right, applying the
// phase filter, timeout and error-tolerance policy uniformly, and
// implementing the control-flow kinds itself. Leaf kinds go through the
// dispatcher. Execution within one run is strictly sequential: the effects of
// action n are fully applied before action n+1 is considered.
type Interpreter struct {
	dispatcher *Dispatcher
	evaluator  schemas.Evaluator
	logger     *zap.Logger
}

// New wires the interpreter to its dispatcher and condition evaluator.
func New(dispatcher *Dispatcher, evaluator schemas.Evaluator, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		dispatcher: dispatcher,
		evaluator:  evaluator,
		logger:     logger.Named("interpreter"),
	}
}

// Run validates the whole tree, then executes it with no phase filter (every
// action is treated as afterload). On abort it returns a *RunError naming the
// failing action's path; the partial records and captured returns stay
// available on rc.
func (it *Interpreter) Run(ctx context.Context, sc schemas.Scenario, rc *RunContext) error {
	return it.RunPhase(ctx, sc, rc, "")
}

// RunPhase behaves like Run but executes only top-level-and-below actions
// whose `when` matches phase. It is how a navigating caller splits one
// scenario around the page-load boundary. An empty phase disables filtering.
func (it *Interpreter) RunPhase(ctx context.Context, sc schemas.Scenario, rc *RunContext, phase schemas.When) error {
	if err := Validate(sc); err != nil {
		return err
	}
	return it.runList(ctx, sc, rc, phase, "")
}

func (it *Interpreter) runList(ctx context.Context, sc schemas.Scenario, rc *RunContext, phase schemas.When, path string) error {
	for i := range sc {
		if err := ctx.Err(); err != nil {
			return &RunError{Path: fmt.Sprintf("%s[%d]", path, i), Err: err}
		}
		if err := it.runNode(ctx, &sc[i], rc, phase, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func (it *Interpreter) runNode(ctx context.Context, act *schemas.Action, rc *RunContext, phase schemas.When, path string) error {
	if phase != "" && act.EffectiveWhen() != phase {
		rc.record(path, act.Kind, schemas.StatusSkipped, time.Now(), nil)
		return nil
	}

	// Control-flow nodes substitute their condition themselves: a while
	// condition must be re-resolved on every iteration, not frozen at the
	// value the captures had when the node was first reached.
	switch act.Kind {
	case schemas.ActionIf:
		return it.runIf(ctx, act, rc, phase, path)
	case schemas.ActionWhile:
		return it.runWhile(ctx, act, rc, phase, path)
	}

	resolved, err := resolveAction(act, rc)
	if err != nil {
		started := time.Now()
		if act.IgnoreErrors {
			rc.record(path, act.Kind, schemas.StatusIgnored, started, err)
			it.logger.Warn("Placeholder resolution failed; continuing (ignoreErrors).",
				zap.String("path", path), zap.Error(err))
			return nil
		}
		rc.record(path, act.Kind, schemas.StatusFailed, started, err)
		return &RunError{Path: path, Err: err}
	}

	if err := it.dispatcher.Dispatch(ctx, resolved, rc, path); err != nil {
		return &RunError{Path: path, Err: err}
	}
	return nil
}

// runIf evaluates the condition and recurses into the taken branch. A branch
// that is absent is a no-op, not an error. A condition-evaluation failure is
// an action failure subject to this node's own ignoreErrors; when ignored,
// the branch is treated as not taken.
func (it *Interpreter) runIf(ctx context.Context, act *schemas.Action, rc *RunContext, phase schemas.When, path string) error {
	started := time.Now()

	taken, err := it.evalSubstitutedCondition(ctx, act, rc)
	if err != nil {
		if act.IgnoreErrors {
			rc.record(path, act.Kind, schemas.StatusIgnored, started, err)
			it.logger.Warn("Condition evaluation failed; skipping branch (ignoreErrors).",
				zap.String("path", path), zap.Error(err))
			return nil
		}
		rc.record(path, act.Kind, schemas.StatusFailed, started, err)
		return &RunError{Path: path, Err: err}
	}
	rc.record(path, act.Kind, schemas.StatusCompleted, started, nil)

	if taken {
		return it.runList(ctx, act.Then, rc, phase, path+".then")
	}
	return it.runList(ctx, act.Or, rc, phase, path+".or")
}

// runWhile re-evaluates the condition before every iteration and runs the
// body once per true result. maxAttempts is a safety bound, not a failure
// condition: reaching it stops the loop without error, and the bound is only
// checked between iterations, so an in-flight iteration always finishes.
func (it *Interpreter) runWhile(ctx context.Context, act *schemas.Action, rc *RunContext, phase schemas.When, path string) error {
	started := time.Now()
	attempts := 0

	for {
		// Re-substitute each evaluation: the body may have captured new
		// returns the condition refers to.
		taken, err := it.evalSubstitutedCondition(ctx, act, rc)
		if err == nil && !taken {
			break
		}
		if err != nil {
			if act.IgnoreErrors {
				rc.record(path, act.Kind, schemas.StatusIgnored, started, err)
				it.logger.Warn("Loop condition failed; terminating loop (ignoreErrors).",
					zap.String("path", path), zap.Error(err))
				return nil
			}
			rc.record(path, act.Kind, schemas.StatusFailed, started, err)
			return &RunError{Path: path, Err: err}
		}

		if err := it.runList(ctx, act.Then, rc, phase, path+".then"); err != nil {
			return err
		}

		attempts++
		if act.MaxAttempts > 0 && attempts >= act.MaxAttempts {
			it.logger.Debug("Loop bound reached.",
				zap.String("path", path), zap.Int("attempts", attempts))
			break
		}
	}

	rc.record(path, act.Kind, schemas.StatusCompleted, started, nil)
	return nil
}

// evalSubstitutedCondition resolves placeholders in the condition text, then
// runs the expression evaluator under this node's timeout.
func (it *Interpreter) evalSubstitutedCondition(ctx context.Context, act *schemas.Action, rc *RunContext) (bool, error) {
	cond, err := Substitute(act.Condition, rc)
	if err != nil {
		return false, err
	}

	timeout := it.dispatcher.timeoutFor(act)
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	taken, err := it.evaluator.EvaluateCondition(tctx, cond)
	if err != nil {
		if tctx.Err() != nil && ctx.Err() == nil {
			return false, &TimeoutError{Kind: act.Kind, Timeout: timeout}
		}
		return false, &ConditionEvaluationError{Expr: cond, Err: err}
	}
	return taken, nil
}
