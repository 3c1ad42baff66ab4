package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/repository"
	"github.com/google/uuid"
)

// RiskAuditService writes and reads the risk assessment trail. It is the
// Manager's Recorder.
type RiskAuditService struct {
	db          DB
	assessments repository.RiskAssessmentRepository
	outbox      repository.OutboxRepository
	logger      *slog.Logger
}

var _ adaptive.Recorder = (*RiskAuditService)(nil)

// NewRiskAuditService creates a new RiskAuditService.
func NewRiskAuditService(db DB, assessments repository.RiskAssessmentRepository, outbox repository.OutboxRepository, logger *slog.Logger) *RiskAuditService {
	return &RiskAuditService{db: db, assessments: assessments, outbox: outbox, logger: logger}
}

// Record writes the risk_assessments row and an auth.risk.assessed event in
// one transaction, plus one auth.risk.evaluator.failed event per failed
// evaluator.
func (s *RiskAuditService) Record(ctx context.Context, attempt *domain.LoginAttempt, snap adaptive.Snapshot) error {
	if snap.Phase != adaptive.PhaseEvaluated {
		return fmt.Errorf("attempt %s not evaluated", attempt.ID)
	}
	outcomes, err := json.Marshal(snap.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	providers, err := json.Marshal(snap.Providers)
	if err != nil {
		return fmt.Errorf("encode providers: %w", err)
	}

	row := &domain.RiskAssessment{
		AttemptID:        attempt.ID,
		Email:            attempt.Email,
		Realm:            attempt.Realm,
		IPAddress:        attempt.IPAddress,
		Score:            snap.Score,
		Level:            snap.Level,
		Aggregation:      snap.Aggregation,
		UsedEvaluators:   snap.UsedEvaluators,
		UsedContext:      contextTags(snap.UsedContext),
		FailedEvaluators: snap.FailedEvaluators(),
		Outcomes:         outcomes,
		Providers:        providers,
		EvaluatedAt:      snap.EvaluatedAt,
	}
	if attempt.KnownUser() {
		id := attempt.UserID
		row.UserID = &id
	}

	partition := attempt.UserID.String()
	drafts := make([]domain.OutboxDraft, 0, 1+len(row.FailedEvaluators))
	assessed, err := domain.NewOutboxDraft(domain.AggregateAttempt, attempt.ID.String(), domain.EventRiskAssessed, partition,
		map[string]any{
			"attempt_id":        attempt.ID,
			"user_id":           row.UserID,
			"realm":             attempt.Realm,
			"score":             snap.Score,
			"level":             snap.Level,
			"aggregation":       snap.Aggregation,
			"used_evaluators":   snap.UsedEvaluators,
			"failed_evaluators": row.FailedEvaluators,
		})
	if err != nil {
		return fmt.Errorf("build assessed event: %w", err)
	}
	drafts = append(drafts, assessed)
	for _, o := range snap.Outcomes {
		if !o.Status.Failed() {
			continue
		}
		d, err := domain.NewOutboxDraft(domain.AggregateAttempt, attempt.ID.String(), domain.EventRiskEvaluatorFailed, partition,
			map[string]any{
				"attempt_id": attempt.ID,
				"evaluator":  o.Evaluator,
				"status":     o.Status,
				"error":      o.Error,
			})
		if err != nil {
			return fmt.Errorf("build evaluator event: %w", err)
		}
		drafts = append(drafts, d)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.assessments.Insert(ctx, tx, row); err != nil {
		return err
	}
	if err := s.outbox.InsertBatch(ctx, tx, drafts); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.logger.Debug("risk assessment recorded", "attempt_id", attempt.ID, "events", len(drafts))
	return nil
}

// ListByUser returns a user's assessments, newest first.
func (s *RiskAuditService) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.RiskAssessment, error) {
	list, err := s.assessments.ListByUser(ctx, s.db, userID, limit)
	if err != nil {
		return nil, domain.ErrInternal("list risk assessments", err)
	}
	if list == nil {
		list = []domain.RiskAssessment{}
	}
	return list, nil
}

// Find returns one assessment by attempt ID.
func (s *RiskAuditService) Find(ctx context.Context, attemptID uuid.UUID) (*domain.RiskAssessment, error) {
	a, err := s.assessments.FindByAttempt(ctx, s.db, attemptID)
	if err != nil {
		return nil, domain.ErrInternal("find risk assessment", err)
	}
	if a == nil {
		return nil, domain.ErrNotFound("risk assessment", attemptID.String())
	}
	return a, nil
}

func contextTags(types []adaptive.ContextType) []string {
	tags := make([]string, len(types))
	for i, t := range types {
		tags[i] = string(t)
	}
	return tags
}
