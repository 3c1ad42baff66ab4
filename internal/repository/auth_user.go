package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PgAuthUserRepository implements AuthUserRepository using pgx.
type PgAuthUserRepository struct{}

// NewPgAuthUserRepository creates a new PgAuthUserRepository.
func NewPgAuthUserRepository() *PgAuthUserRepository {
	return &PgAuthUserRepository{}
}

// FindByEmail returns an auth user by email, or nil if not found.
func (r *PgAuthUserRepository) FindByEmail(ctx context.Context, db DBTX, email string) (*domain.AuthUser, error) {
	row := db.QueryRow(ctx,
		`SELECT u.id, u.email, u.password_hash, u.created_at, u.updated_at,
		        COALESCE(array_agg(ur.role ORDER BY ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
		 FROM auth_users u
		 LEFT JOIN user_roles ur ON ur.user_id = u.id
		 WHERE u.email = $1
		 GROUP BY u.id`, email)

	u := &domain.AuthUser{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &u.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts a new auth user and its roles. Call inside a transaction.
func (r *PgAuthUserRepository) Create(ctx context.Context, db DBTX, user *domain.AuthUser) error {
	_, err := db.Exec(ctx,
		`INSERT INTO auth_users (id, email, password_hash) VALUES ($1, $2, $3)`,
		user.ID, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert auth user: %w", err)
	}
	for _, role := range user.Roles {
		_, err := db.Exec(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			user.ID, role)
		if err != nil {
			return fmt.Errorf("insert role %s: %w", role, err)
		}
	}
	return nil
}

// Roles returns the roles of a user.
func (r *PgAuthUserRepository) Roles(ctx context.Context, db DBTX, userID uuid.UUID) ([]string, error) {
	rows, err := db.Query(ctx,
		`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
