package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/d3xf/scenic/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// evalOnlyDriver implements just the Evaluate surface; everything else panics
// so a test reaching for it fails loudly.
type evalOnlyDriver struct {
	schemas.Driver
	evaluateFn func(ctx context.Context, code string) (interface{}, error)
}

func (d *evalOnlyDriver) Evaluate(ctx context.Context, code string) (interface{}, error) {
	return d.evaluateFn(ctx, code)
}

func TestEvaluateCondition_TruthyAndFalsy(t *testing.T) {
	var seen string
	driver := &evalOnlyDriver{evaluateFn: func(_ context.Context, code string) (interface{}, error) {
		seen = code
		return true, nil
	}}
	ev := New(driver, zap.NewNop())

	result, err := ev.EvaluateCondition(context.Background(), "document.title === 'home'")
	require.NoError(t, err)
	assert.True(t, result)
	assert.Contains(t, seen, "Boolean(")
	assert.Contains(t, seen, "document.title === 'home'")

	driver.evaluateFn = func(_ context.Context, _ string) (interface{}, error) {
		return false, nil
	}
	result, err = ev.EvaluateCondition(context.Background(), "!!window.__missing")
	require.NoError(t, err)
	assert.False(t, result)
}

func TestEvaluateCondition_EmptyExpression(t *testing.T) {
	driver := &evalOnlyDriver{evaluateFn: func(_ context.Context, _ string) (interface{}, error) {
		t.Fatal("driver must not be reached for an empty expression")
		return nil, nil
	}}
	ev := New(driver, zap.NewNop())

	_, err := ev.EvaluateCondition(context.Background(), "   ")
	require.Error(t, err)
}

func TestEvaluateCondition_DriverError(t *testing.T) {
	boom := errors.New("execution context destroyed")
	driver := &evalOnlyDriver{evaluateFn: func(_ context.Context, _ string) (interface{}, error) {
		return nil, boom
	}}
	ev := New(driver, zap.NewNop())

	_, err := ev.EvaluateCondition(context.Background(), "1 === 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestEvaluateCondition_NonBooleanResult(t *testing.T) {
	driver := &evalOnlyDriver{evaluateFn: func(_ context.Context, _ string) (interface{}, error) {
		return "yes", nil
	}}
	ev := New(driver, zap.NewNop())

	_, err := ev.EvaluateCondition(context.Background(), "window.flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected boolean")
}
