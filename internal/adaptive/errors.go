package adaptive

import "errors"

var (
	// ErrEvaluatorUnavailable marks an evaluator that failed, panicked, timed
	// out or returned an invalid contribution. It never leaves the engine; it
	// is recorded on the evaluator's outcome.
	ErrEvaluatorUnavailable = errors.New("risk evaluator unavailable")

	// ErrContextUnavailable is returned by a provider that could not produce
	// any context value for the attempt.
	ErrContextUnavailable = errors.New("context unavailable")

	// ErrInvalidThresholds marks a risk level table that is empty, does not
	// start at zero or is not strictly increasing.
	ErrInvalidThresholds = errors.New("invalid risk level thresholds")

	// ErrAggregationTimeout is returned when the per-attempt budget runs out
	// before every evaluator has reported.
	ErrAggregationTimeout = errors.New("risk aggregation timed out")

	// ErrAlreadyEvaluated is returned when a second evaluation is written to an
	// attempt's risk state.
	ErrAlreadyEvaluated = errors.New("risk state already evaluated")

	// ErrRegistryFrozen is returned when registering after startup.
	ErrRegistryFrozen = errors.New("registry is frozen")
)
