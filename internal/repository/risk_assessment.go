package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type riskAssessmentRepo struct{}

// NewRiskAssessmentRepository returns a pgx-backed RiskAssessmentRepository.
func NewRiskAssessmentRepository() RiskAssessmentRepository {
	return &riskAssessmentRepo{}
}

const riskAssessmentColumns = `attempt_id, user_id, email, realm, COALESCE(ip_address, ''), score, level,
	aggregation, used_evaluators, used_context, failed_evaluators, outcomes, providers,
	evaluated_at, created_at`

func (r *riskAssessmentRepo) Insert(ctx context.Context, db DBTX, a *domain.RiskAssessment) error {
	_, err := db.Exec(ctx, `
		INSERT INTO risk_assessments
		  (attempt_id, user_id, email, realm, ip_address, score, level, aggregation,
		   used_evaluators, used_context, failed_evaluators, outcomes, providers, evaluated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.AttemptID, a.UserID, a.Email, a.Realm, a.IPAddress, a.Score, a.Level, a.Aggregation,
		nonNil(a.UsedEvaluators), nonNil(a.UsedContext), nonNil(a.FailedEvaluators),
		a.Outcomes, a.Providers, a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert risk assessment: %w", err)
	}
	return nil
}

func (r *riskAssessmentRepo) FindByAttempt(ctx context.Context, db DBTX, attemptID uuid.UUID) (*domain.RiskAssessment, error) {
	rows, err := db.Query(ctx,
		`SELECT `+riskAssessmentColumns+` FROM risk_assessments WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query risk assessment: %w", err)
	}
	a, err := pgx.CollectOneRow(rows, scanRiskAssessment)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan risk assessment: %w", err)
	}
	return &a, nil
}

func (r *riskAssessmentRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.RiskAssessment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.Query(ctx,
		`SELECT `+riskAssessmentColumns+` FROM risk_assessments
		 WHERE user_id = $1
		 ORDER BY evaluated_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query risk assessments: %w", err)
	}
	return pgx.CollectRows(rows, scanRiskAssessment)
}

func scanRiskAssessment(row pgx.CollectableRow) (domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	err := row.Scan(&a.AttemptID, &a.UserID, &a.Email, &a.Realm, &a.IPAddress, &a.Score, &a.Level,
		&a.Aggregation, &a.UsedEvaluators, &a.UsedContext, &a.FailedEvaluators, &a.Outcomes, &a.Providers,
		&a.EvaluatedAt, &a.CreatedAt)
	return a, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
