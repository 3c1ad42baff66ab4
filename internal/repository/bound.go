package repository

import (
	"context"
	"time"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/google/uuid"
)

// The stores below bind a repository to a connection so collaborators that
// only ever read from the pool (guards, risk factors) need not carry a DBTX.

// AttemptStore serves guard.Lockout and the login-failures factor.
type AttemptStore struct {
	DB   DBTX
	Repo LoginAttemptRepository
}

func (s AttemptStore) Record(ctx context.Context, attempt *domain.LoginAttempt, success bool) error {
	return s.Repo.Insert(ctx, s.DB, attempt, success)
}

func (s AttemptStore) CountFailures(ctx context.Context, email, realm string, since time.Time) (int, error) {
	return s.Repo.CountFailures(ctx, s.DB, email, realm, since)
}

// RoleStore serves the user-roles factor.
type RoleStore struct {
	DB   DBTX
	Repo AuthUserRepository
}

func (s RoleStore) Roles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return s.Repo.Roles(ctx, s.DB, userID)
}

// DeviceStore serves the known-device factor.
type DeviceStore struct {
	DB   DBTX
	Repo DeviceRepository
}

func (s DeviceStore) IsKnown(ctx context.Context, userID uuid.UUID, deviceID string) (bool, error) {
	return s.Repo.IsKnown(ctx, s.DB, userID, deviceID)
}

func (s DeviceStore) Remember(ctx context.Context, userID uuid.UUID, deviceID string) error {
	return s.Repo.Remember(ctx, s.DB, userID, deviceID)
}
