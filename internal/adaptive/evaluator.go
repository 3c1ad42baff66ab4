package adaptive

import (
	"context"
	"fmt"
	"time"
)

// Conventional contributions. Evaluators may return any finite non-negative
// value; these are the named steps most of them use.
const (
	RiskNone   = 0.0
	RiskSmall  = 0.3
	RiskMedium = 0.5
	RiskHigh   = 1.0
)

// Evaluator scores one aspect of an attempt from the available context.
//
// Type is the stable capability tag used for weights, configuration and the
// audit trail. Requires lists the context tags Evaluate reads; the engine
// does not call Evaluate when any of them is missing. Evaluate must not
// mutate shared state and must return the same value for the same set.
type Evaluator interface {
	Type() string
	Requires() []ContextType
	Evaluate(ctx context.Context, set ContextSet) (float64, error)
}

type funcEvaluator struct {
	tag      string
	requires []ContextType
	fn       func(ctx context.Context, set ContextSet) (float64, error)
}

// NewEvaluatorFunc wraps fn as an Evaluator.
func NewEvaluatorFunc(tag string, requires []ContextType, fn func(ctx context.Context, set ContextSet) (float64, error)) Evaluator {
	return &funcEvaluator{tag: tag, requires: requires, fn: fn}
}

func (f *funcEvaluator) Type() string            { return f.tag }
func (f *funcEvaluator) Requires() []ContextType { return f.requires }

func (f *funcEvaluator) Evaluate(ctx context.Context, set ContextSet) (float64, error) {
	return f.fn(ctx, set)
}

// runWithTimeout runs fn with its own deadline and returns as soon as either
// fn finishes or the deadline (or parent cancellation) fires. The derived
// context is always cancelled on return, which is the signal for fn to
// release whatever it holds. Panics inside fn come back as errors.
func runWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
