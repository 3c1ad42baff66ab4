package adaptive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// OutcomeStatus classifies how one evaluator fared for one attempt.
type OutcomeStatus string

const (
	OutcomeOK             OutcomeStatus = "ok"
	OutcomeMissingContext OutcomeStatus = "missing_context"
	OutcomeFailed         OutcomeStatus = "failed"
	OutcomeTimeout        OutcomeStatus = "timeout"
	OutcomeCircuitOpen    OutcomeStatus = "circuit_open"
)

// Failed reports whether the evaluator did not produce its own contribution.
func (s OutcomeStatus) Failed() bool {
	return s == OutcomeFailed || s == OutcomeTimeout || s == OutcomeCircuitOpen
}

// FailureMode selects the contribution substituted for a failed evaluator.
type FailureMode string

const (
	// FailOpen substitutes RiskNone.
	FailOpen FailureMode = "open"
	// FailClosed substitutes RiskHigh.
	FailClosed FailureMode = "closed"
)

// ParseFailureMode parses "open" or "closed".
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown evaluator failure mode %q", s)
	}
}

// Outcome is the audit record of one evaluator invocation.
type Outcome struct {
	Evaluator    string        `json:"evaluator"`
	Type         string        `json:"type"`
	Status       OutcomeStatus `json:"status"`
	Contribution float64       `json:"contribution"`
	Weight       float64       `json:"weight"`
	Missing      []ContextType `json:"missing,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`

	// interrupted is set when the attempt context ended before the
	// evaluator reported.
	interrupted bool
}

// Breaker short-circuits evaluators that keep failing.
// *guard.CircuitBreaker satisfies it.
type Breaker interface {
	Check(ctx context.Context, key string) domain.GuardResult
	RecordSuccess(key string)
	RecordFailure(key string)
}

// EngineOptions configures an Engine. Zero values select the defaults.
type EngineOptions struct {
	Aggregator         Aggregator
	Weights            map[string]float64
	EvaluatorTimeout   time.Duration
	FailureMode        FailureMode
	MissingContextHigh []string
	MaxConcurrency     int
	Breaker            Breaker
}

// Engine runs evaluators against a context set and aggregates their
// contributions. It holds no per-attempt state and is safe for concurrent use.
type Engine struct {
	aggregator       Aggregator
	weights          map[string]float64
	evaluatorTimeout time.Duration
	failureMode      FailureMode
	missingHigh      map[string]bool
	maxConcurrency   int
	breaker          Breaker
	logger           *slog.Logger
}

// DefaultEvaluatorTimeout bounds a single evaluator when none is configured.
const DefaultEvaluatorTimeout = 200 * time.Millisecond

// NewEngine validates opts and builds an Engine.
func NewEngine(opts EngineOptions, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		aggregator:       opts.Aggregator,
		weights:          make(map[string]float64, len(opts.Weights)),
		evaluatorTimeout: opts.EvaluatorTimeout,
		failureMode:      opts.FailureMode,
		missingHigh:      make(map[string]bool, len(opts.MissingContextHigh)),
		maxConcurrency:   opts.MaxConcurrency,
		breaker:          opts.Breaker,
		logger:           logger,
	}
	if e.aggregator == nil {
		e.aggregator = SumAggregator{}
	}
	if e.evaluatorTimeout <= 0 {
		e.evaluatorTimeout = DefaultEvaluatorTimeout
	}
	switch e.failureMode {
	case "":
		e.failureMode = FailOpen
	case FailOpen, FailClosed:
	default:
		return nil, fmt.Errorf("unknown evaluator failure mode %q", e.failureMode)
	}
	for tag, w := range opts.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("weight for %q must be a finite non-negative number, got %v", tag, w)
		}
		e.weights[tag] = w
	}
	for _, tag := range opts.MissingContextHigh {
		e.missingHigh[tag] = true
	}
	return e, nil
}

// Aggregation returns the name of the configured strategy.
func (e *Engine) Aggregation() string { return e.aggregator.Name() }

// FailureMode returns the configured failure mode.
func (e *Engine) FailureMode() FailureMode { return e.failureMode }

// Weight returns the weight of an evaluator tag, 1 when unconfigured.
func (e *Engine) Weight(tag string) float64 {
	if w, ok := e.weights[tag]; ok {
		return w
	}
	return 1
}

// Assessment is the engine's result for one attempt.
type Assessment struct {
	Score       float64       `json:"score"`
	Aggregation string        `json:"aggregation"`
	Outcomes    []Outcome     `json:"outcomes"`
	ContextUsed []ContextType `json:"context_used"`
}

// UsedEvaluators lists the evaluators invoked, in registration order.
// Failed evaluators are included when includeFailed is set.
func (a *Assessment) UsedEvaluators(includeFailed bool) []string {
	used := make([]string, 0, len(a.Outcomes))
	for _, o := range a.Outcomes {
		if o.Status.Failed() && !includeFailed {
			continue
		}
		used = append(used, o.Evaluator)
	}
	return used
}

// Failed returns the outcomes of evaluators that did not report.
func (a *Assessment) Failed() []Outcome {
	var failed []Outcome
	for _, o := range a.Outcomes {
		if o.Status.Failed() {
			failed = append(failed, o)
		}
	}
	return failed
}

// EvaluateRisk invokes every evaluator against set and aggregates the
// contributions. Evaluator failures never fail the call; they are recorded on
// the outcome and contribute according to the failure mode. The only error is
// ErrAggregationTimeout (or the parent's cancellation) when ctx ends before
// every evaluator has reported. An attempt whose evaluators all reported is
// returned even if ctx ended right after.
func (e *Engine) EvaluateRisk(ctx context.Context, set ContextSet, evaluators []Evaluator) (*Assessment, error) {
	outcomes := make([]Outcome, len(evaluators))
	names := outcomeNames(evaluators)

	g := new(errgroup.Group)
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	for i, ev := range evaluators {
		g.Go(func() error {
			outcomes[i] = e.invoke(ctx, names[i], ev, set)
			return nil
		})
	}
	_ = g.Wait()

	if n := interrupted(outcomes); n > 0 {
		if err := ctx.Err(); !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d of %d evaluators unfinished", ErrAggregationTimeout, n, len(evaluators))
	}

	contributions := make([]Contribution, len(outcomes))
	consulted := NewContextSet()
	for i, o := range outcomes {
		contributions[i] = Contribution{Evaluator: o.Type, Value: o.Contribution, Weight: o.Weight}
		if o.Status == OutcomeOK {
			for _, t := range evaluators[i].Requires() {
				if v, ok := set.Get(t); ok {
					consulted.add(v)
				}
			}
		}

		metrics.EvaluatorOutcomesTotal.WithLabelValues(o.Type, string(o.Status)).Inc()
		if o.Status.Failed() {
			e.logger.Warn("risk evaluator failed",
				"evaluator", o.Evaluator,
				"status", o.Status,
				"error", o.Error,
				"substituted", o.Contribution,
			)
		}
	}

	score := e.aggregator.Aggregate(contributions)
	switch {
	case math.IsNaN(score) || score < 0:
		score = 0
	case math.IsInf(score, 1):
		score = math.MaxFloat64
	}

	return &Assessment{
		Score:       score,
		Aggregation: e.aggregator.Name(),
		Outcomes:    outcomes,
		ContextUsed: consulted.Types(),
	}, nil
}

func (e *Engine) invoke(ctx context.Context, name string, ev Evaluator, set ContextSet) Outcome {
	tag := ev.Type()
	out := Outcome{Evaluator: name, Type: tag, Weight: e.Weight(tag)}

	if err := ctx.Err(); err != nil {
		return e.interruptedOutcome(out, err)
	}

	if missing := set.Missing(ev.Requires()...); len(missing) > 0 {
		out.Status = OutcomeMissingContext
		out.Missing = missing
		if e.missingHigh[tag] {
			out.Contribution = RiskHigh
		}
		return out
	}

	if e.breaker != nil {
		if res := e.breaker.Check(ctx, name); !res.Allowed {
			out.Status = OutcomeCircuitOpen
			out.Error = res.Reason
			out.Contribution = e.failureContribution()
			return out
		}
	}

	start := time.Now()
	value, err := runWithTimeout(ctx, e.evaluatorTimeout, func(ctx context.Context) (float64, error) {
		return ev.Evaluate(ctx, set)
	})
	out.Duration = time.Since(start)

	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0) || value < 0) {
		err = fmt.Errorf("invalid contribution %v", value)
	}
	if err != nil {
		// An ended attempt is not an evaluator failure.
		if ctx.Err() != nil {
			return e.interruptedOutcome(out, err)
		}
		if e.breaker != nil {
			e.breaker.RecordFailure(name)
		}
		return e.failedOutcome(out, err)
	}

	if e.breaker != nil {
		e.breaker.RecordSuccess(name)
	}
	out.Status = OutcomeOK
	out.Contribution = value
	return out
}

func (e *Engine) failedOutcome(out Outcome, err error) Outcome {
	out.Status = OutcomeFailed
	if errors.Is(err, context.DeadlineExceeded) {
		out.Status = OutcomeTimeout
	}
	out.Error = fmt.Errorf("%w: %w", ErrEvaluatorUnavailable, err).Error()
	out.Contribution = e.failureContribution()
	return out
}

func (e *Engine) interruptedOutcome(out Outcome, err error) Outcome {
	out = e.failedOutcome(out, err)
	out.interrupted = true
	return out
}

func interrupted(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.interrupted {
			n++
		}
	}
	return n
}

func (e *Engine) failureContribution() float64 {
	if e.failureMode == FailClosed {
		return RiskHigh
	}
	return RiskNone
}

// outcomeNames gives each evaluator a stable audit name: its tag, suffixed
// with #n for the second and later instances of the same tag.
func outcomeNames(evaluators []Evaluator) []string {
	seen := make(map[string]int, len(evaluators))
	names := make([]string, len(evaluators))
	for i, ev := range evaluators {
		tag := ev.Type()
		seen[tag]++
		if n := seen[tag]; n > 1 {
			names[i] = fmt.Sprintf("%s#%d", tag, n)
		} else {
			names[i] = tag
		}
	}
	return names
}
