// Package evaluator adapts the driver's script execution into the condition
// evaluation capability the interpreter consumes.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/d3xf/scenic/api/schemas"
)

// PageEvaluator evaluates condition expressions against live page state by
// delegating to the driver. The expression text is never inspected or
// transformed beyond JS truthiness coercion.
type PageEvaluator struct {
	driver schemas.Driver
	logger *zap.Logger
}

var _ schemas.Evaluator = (*PageEvaluator)(nil)

// New creates an evaluator bound to one driver (and therefore one session).
func New(driver schemas.Driver, logger *zap.Logger) *PageEvaluator {
	return &PageEvaluator{
		driver: driver,
		logger: logger.Named("evaluator"),
	}
}

// EvaluateCondition runs expr in the page and coerces the result with JS
// truthiness, so conditions like "document.title" behave the way their
// authors expect from the browser console.
func (e *PageEvaluator) EvaluateCondition(ctx context.Context, expr string) (bool, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return false, fmt.Errorf("empty condition expression")
	}

	wrapped := fmt.Sprintf("Boolean((function() { return (%s); })())", trimmed)
	value, err := e.driver.Evaluate(ctx, wrapped)
	if err != nil {
		return false, fmt.Errorf("condition evaluation failed: %w", err)
	}

	result, ok := value.(bool)
	if !ok {
		// Boolean() guarantees a bool from a healthy page; anything else
		// means the evaluation itself went sideways.
		return false, fmt.Errorf("condition produced %T, expected boolean", value)
	}

	e.logger.Debug("Condition evaluated.", zap.String("expr", trimmed), zap.Bool("result", result))
	return result, nil
}
