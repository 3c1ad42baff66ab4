package repository

import (
	"context"
	"time"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// AuthUserRepository provides access to auth_users and user_roles.
type AuthUserRepository interface {
	// FindByEmail returns an auth user with roles, or nil if not found.
	FindByEmail(ctx context.Context, db DBTX, email string) (*domain.AuthUser, error)

	// Create inserts a new auth user and its roles.
	Create(ctx context.Context, db DBTX, user *domain.AuthUser) error

	// Roles returns the roles of a user, sorted.
	Roles(ctx context.Context, db DBTX, userID uuid.UUID) ([]string, error)
}

// LoginAttemptRepository provides access to login_attempts.
type LoginAttemptRepository interface {
	// Insert records the outcome of an attempt.
	Insert(ctx context.Context, db DBTX, attempt *domain.LoginAttempt, success bool) error

	// CountFailures counts failed attempts for an email in a realm since a time.
	CountFailures(ctx context.Context, db DBTX, email, realm string, since time.Time) (int, error)
}

// DeviceRepository provides access to known_devices.
type DeviceRepository interface {
	// IsKnown reports whether the device has completed an allowed login for the user.
	IsKnown(ctx context.Context, db DBTX, userID uuid.UUID, deviceID string) (bool, error)

	// Remember upserts the device for the user.
	Remember(ctx context.Context, db DBTX, userID uuid.UUID, deviceID string) error
}

// RiskAssessmentRepository provides access to risk_assessments.
type RiskAssessmentRepository interface {
	// Insert writes the audit row of one evaluated attempt.
	Insert(ctx context.Context, db DBTX, a *domain.RiskAssessment) error

	// FindByAttempt returns one assessment, or nil if not found.
	FindByAttempt(ctx context.Context, db DBTX, attemptID uuid.UUID) (*domain.RiskAssessment, error)

	// ListByUser returns a user's assessments, newest first.
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.RiskAssessment, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes one outbox event.
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// InsertBatch writes several events inside tx, e.g. alongside an audit row.
	InsertBatch(ctx context.Context, tx pgx.Tx, drafts []domain.OutboxDraft) error

	// Pending counts events the relay has not yet published.
	Pending(ctx context.Context, db DBTX) (int, error)

	// FetchUnpublished returns unpublished events for the outbox poller.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxRow, error)

	// MarkPublished deletes published events.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}
