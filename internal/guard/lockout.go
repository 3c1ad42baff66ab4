package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/attaboy/adaptiveauth/internal/domain"
)

const (
	MaxAttempts   = 5
	LockoutWindow = 15 * time.Minute
)

// AttemptStore persists login attempts. repository.LoginAttemptRepo
// implements it.
type AttemptStore interface {
	Record(ctx context.Context, attempt *domain.LoginAttempt, success bool) error
	CountFailures(ctx context.Context, email, realm string, since time.Time) (int, error)
}

// Lockout blocks an account after too many failed logins within the window.
type Lockout struct {
	store       AttemptStore
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger
}

// NewLockout creates a lockout guard with the default limits.
func NewLockout(store AttemptStore, logger *slog.Logger) *Lockout {
	return &Lockout{store: store, maxAttempts: MaxAttempts, window: LockoutWindow, logger: logger}
}

// RecordAttempt stores the attempt outcome. Errors are logged, not returned.
func (l *Lockout) RecordAttempt(ctx context.Context, attempt *domain.LoginAttempt, success bool) {
	if err := l.store.Record(ctx, attempt, success); err != nil {
		l.logger.Warn("record login attempt failed", "attempt_id", attempt.ID, "error", err)
	}
}

// CheckLocked returns ErrAccountLocked if the account has >= MaxAttempts
// failed logins within the lockout window.
func (l *Lockout) CheckLocked(ctx context.Context, email, realm string) error {
	count, err := l.store.CountFailures(ctx, email, realm, time.Now().Add(-l.window))
	if err != nil {
		// fail open on DB error
		l.logger.Warn("lockout check failed", "email", email, "error", err)
		return nil
	}
	if count >= l.maxAttempts {
		return domain.ErrAccountLocked("too many failed login attempts, try again later")
	}
	return nil
}

// Window returns the lockout window.
func (l *Lockout) Window() time.Duration { return l.window }
