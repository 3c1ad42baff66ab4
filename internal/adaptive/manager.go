package adaptive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/metrics"
	"github.com/attaboy/adaptiveauth/internal/traces"
)

// Recorder persists an evaluated attempt for audit. Failures are logged and
// never affect the login.
type Recorder interface {
	Record(ctx context.Context, attempt *domain.LoginAttempt, snap Snapshot) error
}

// ManagerConfig wires a Manager. Evaluators, Providers, Engine and Levels are
// required.
type ManagerConfig struct {
	Evaluators      EvaluatorSource
	Providers       ProviderSource
	Engine          *Engine
	Levels          *LevelTable
	ProviderTimeout time.Duration
	AttemptTimeout  time.Duration
	MaxConcurrency  int
	// AuditFailedEvaluators keeps failed evaluators in the used set.
	AuditFailedEvaluators bool
	Recorder              Recorder
	RecordTimeout         time.Duration
	Logger                *slog.Logger
}

// Manager is the facade the login flow calls once per attempt.
type Manager struct {
	evaluators      EvaluatorSource
	providers       ProviderSource
	engine          *Engine
	levels          *LevelTable
	providerTimeout time.Duration
	attemptTimeout  time.Duration
	maxConcurrency  int
	auditFailed     bool
	recorder        Recorder
	recordTimeout   time.Duration
	logger          *slog.Logger
}

const (
	DefaultProviderTimeout = 300 * time.Millisecond
	DefaultAttemptTimeout  = time.Second
	defaultRecordTimeout   = 2 * time.Second
)

// NewManager validates cfg and builds a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Evaluators == nil || cfg.Providers == nil {
		return nil, errors.New("manager requires evaluator and provider sources")
	}
	if cfg.Engine == nil {
		return nil, errors.New("manager requires an engine")
	}
	if cfg.Levels == nil {
		return nil, fmt.Errorf("%w: no level table", ErrInvalidThresholds)
	}
	m := &Manager{
		evaluators:      cfg.Evaluators,
		providers:       cfg.Providers,
		engine:          cfg.Engine,
		levels:          cfg.Levels,
		providerTimeout: cfg.ProviderTimeout,
		attemptTimeout:  cfg.AttemptTimeout,
		maxConcurrency:  cfg.MaxConcurrency,
		auditFailed:     cfg.AuditFailedEvaluators,
		recorder:        cfg.Recorder,
		recordTimeout:   cfg.RecordTimeout,
		logger:          cfg.Logger,
	}
	if m.providerTimeout <= 0 {
		m.providerTimeout = DefaultProviderTimeout
	}
	if m.attemptTimeout <= 0 {
		m.attemptTimeout = DefaultAttemptTimeout
	}
	if m.recordTimeout <= 0 {
		m.recordTimeout = defaultRecordTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// Levels returns the threshold table.
func (m *Manager) Levels() *LevelTable { return m.levels }

// Engine returns the aggregation engine.
func (m *Manager) Engine() *Engine { return m.engine }

// Classify maps a score to its level.
func (m *Manager) Classify(score float64) Level { return m.levels.Classify(score) }

// Evaluate runs collect, aggregate and classify for one attempt and returns
// its evaluated RiskState. When the attempt budget runs out the returned state
// is still unevaluated and the error wraps ErrAggregationTimeout.
func (m *Manager) Evaluate(ctx context.Context, attempt *domain.LoginAttempt) (*RiskState, error) {
	if attempt == nil {
		return nil, errors.New("nil login attempt")
	}
	state := NewRiskState(attempt.ID)
	start := time.Now()

	ctx, span := traces.StartSpan(ctx, "risk.evaluate",
		traces.AttemptID(attempt.ID.String()),
		traces.Realm(attempt.Realm),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
	defer cancel()

	set, reports := collectContext(ctx, m.providers.Providers(), attempt, m.providerTimeout, m.maxConcurrency, m.logger)

	evaluators := m.evaluators.Evaluators()
	span.SetAttributes(traces.EvaluatorCount(len(evaluators)))

	assessment, err := m.engine.EvaluateRisk(ctx, set, evaluators)
	if err != nil {
		result := "error"
		if errors.Is(err, ErrAggregationTimeout) {
			result = "timeout"
		}
		metrics.RiskEvaluationsTotal.WithLabelValues(result).Inc()
		traces.RecordError(span, err)
		m.logger.Error("risk evaluation aborted",
			"attempt_id", attempt.ID,
			"evaluators", len(evaluators),
			"error", err,
		)
		return state, err
	}

	level := m.levels.Classify(assessment.Score)
	if err := state.record(assessment, level, reports, m.auditFailed, time.Now()); err != nil {
		return state, err
	}

	elapsed := time.Since(start)
	metrics.RiskEvaluationsTotal.WithLabelValues(level.Name).Inc()
	metrics.RiskScore.Observe(assessment.Score)
	metrics.RiskEvaluationDuration.Observe(elapsed.Seconds())
	span.SetAttributes(
		traces.RiskScore(assessment.Score),
		traces.RiskLevel(level.Name),
		traces.FailedEvaluators(len(assessment.Failed())),
	)
	m.logger.Debug("risk evaluated",
		"attempt_id", attempt.ID,
		"score", assessment.Score,
		"level", level.Name,
		"aggregation", assessment.Aggregation,
		"duration_ms", elapsed.Milliseconds(),
	)

	m.record(ctx, attempt, state)
	return state, nil
}

func (m *Manager) record(ctx context.Context, attempt *domain.LoginAttempt, state *RiskState) {
	if m.recorder == nil {
		return
	}
	// Audit must not inherit the attempt deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.recordTimeout)
	defer cancel()
	if err := m.recorder.Record(ctx, attempt, state.Snapshot()); err != nil {
		m.logger.Warn("risk assessment audit failed",
			"attempt_id", attempt.ID,
			"error", err,
		)
	}
}
