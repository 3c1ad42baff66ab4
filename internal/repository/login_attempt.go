package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/google/uuid"
)

// PgLoginAttemptRepository implements LoginAttemptRepository using pgx.
type PgLoginAttemptRepository struct{}

// NewPgLoginAttemptRepository creates a new PgLoginAttemptRepository.
func NewPgLoginAttemptRepository() *PgLoginAttemptRepository {
	return &PgLoginAttemptRepository{}
}

// Insert records the outcome of an attempt.
func (r *PgLoginAttemptRepository) Insert(ctx context.Context, db DBTX, a *domain.LoginAttempt, success bool) error {
	var userID *uuid.UUID
	if a.KnownUser() {
		userID = &a.UserID
	}
	_, err := db.Exec(ctx, `
		INSERT INTO login_attempts (id, user_id, email, realm, ip_address, user_agent, device_id, success)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		ON CONFLICT (id) DO UPDATE SET success = EXCLUDED.success`,
		a.ID, userID, a.Email, a.Realm, a.IPAddress, a.UserAgent, a.DeviceID, success)
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// CountFailures counts failed attempts for an email in a realm since a time.
func (r *PgLoginAttemptRepository) CountFailures(ctx context.Context, db DBTX, email, realm string, since time.Time) (int, error) {
	var count int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = $1 AND realm = $2 AND success = false
		  AND created_at > $3`,
		email, realm, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}
	return count, nil
}
