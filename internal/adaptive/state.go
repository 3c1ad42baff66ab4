package adaptive

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle position of a RiskState.
type Phase string

const (
	PhaseUnevaluated Phase = "unevaluated"
	PhaseEvaluated   Phase = "evaluated"
)

// RiskState is the per-attempt risk record. It starts unevaluated, is written
// exactly once by the Manager and is read-only afterwards. A new attempt gets
// a new RiskState.
type RiskState struct {
	mu          sync.RWMutex
	attemptID   uuid.UUID
	phase       Phase
	score       float64
	level       Level
	aggregation string
	used        []string
	context     []ContextType
	outcomes    []Outcome
	providers   []ProviderReport
	evaluatedAt time.Time
}

// NewRiskState creates an unevaluated state for an attempt.
func NewRiskState(attemptID uuid.UUID) *RiskState {
	return &RiskState{attemptID: attemptID, phase: PhaseUnevaluated}
}

// record writes the single evaluation of the attempt. Score, level and the
// used sets come from the same assessment, so the level always matches the
// score it was classified from.
func (s *RiskState) record(a *Assessment, level Level, providers []ProviderReport, includeFailed bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseEvaluated {
		return ErrAlreadyEvaluated
	}
	s.score = a.Score
	s.level = level
	s.aggregation = a.Aggregation
	s.used = a.UsedEvaluators(includeFailed)
	s.context = append([]ContextType(nil), a.ContextUsed...)
	s.outcomes = append([]Outcome(nil), a.Outcomes...)
	s.providers = append([]ProviderReport(nil), providers...)
	s.evaluatedAt = at
	s.phase = PhaseEvaluated
	return nil
}

func (s *RiskState) AttemptID() uuid.UUID { return s.attemptID }

func (s *RiskState) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Score returns the risk score; ok is false until evaluated.
func (s *RiskState) Score() (score float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.score, s.phase == PhaseEvaluated
}

// Level returns the risk level; ok is false until evaluated.
func (s *RiskState) Level() (level Level, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level, s.phase == PhaseEvaluated
}

// UsedEvaluators returns the evaluators consulted for this attempt.
func (s *RiskState) UsedEvaluators() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.used...)
}

// UsedContext returns the context tags consulted by evaluators that reported.
func (s *RiskState) UsedContext() []ContextType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ContextType(nil), s.context...)
}

// Outcomes returns every evaluator outcome, failed ones included.
func (s *RiskState) Outcomes() []Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Outcome(nil), s.outcomes...)
}

// ProviderReports returns the context collection report.
func (s *RiskState) ProviderReports() []ProviderReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ProviderReport(nil), s.providers...)
}

func (s *RiskState) EvaluatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluatedAt
}

// Snapshot is the serialisable view of an evaluated state.
type Snapshot struct {
	AttemptID      uuid.UUID        `json:"attempt_id"`
	Phase          Phase            `json:"phase"`
	Score          float64          `json:"score"`
	Level          string           `json:"level"`
	Aggregation    string           `json:"aggregation"`
	UsedEvaluators []string         `json:"used_evaluators"`
	UsedContext    []ContextType    `json:"used_context"`
	Outcomes       []Outcome        `json:"outcomes"`
	Providers      []ProviderReport `json:"providers"`
	EvaluatedAt    time.Time        `json:"evaluated_at"`
}

// Snapshot copies the state.
func (s *RiskState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		AttemptID:      s.attemptID,
		Phase:          s.phase,
		Score:          s.score,
		Level:          s.level.Name,
		Aggregation:    s.aggregation,
		UsedEvaluators: append([]string(nil), s.used...),
		UsedContext:    append([]ContextType(nil), s.context...),
		Outcomes:       append([]Outcome(nil), s.outcomes...),
		Providers:      append([]ProviderReport(nil), s.providers...),
		EvaluatedAt:    s.evaluatedAt,
	}
}

// FailedEvaluators returns the names of evaluators recorded as failed.
func (s Snapshot) FailedEvaluators() []string {
	var failed []string
	for _, o := range s.Outcomes {
		if o.Status.Failed() {
			failed = append(failed, o.Evaluator)
		}
	}
	return failed
}
