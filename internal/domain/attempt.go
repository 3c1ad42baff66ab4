package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuthUser holds credentials and role assignments from auth_users.
type AuthUser struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LoginAttempt is the handle for a single authentication attempt. It is the
// input every context provider reads from; nothing on it changes once the
// attempt has started.
type LoginAttempt struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"` // uuid.Nil until credentials resolve to a user
	Email     string    `json:"email"`
	Realm     string    `json:"realm"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// NewLoginAttempt starts an attempt with a fresh ID.
func NewLoginAttempt(userID uuid.UUID, email, realm, ip, userAgent, deviceID string) *LoginAttempt {
	return &LoginAttempt{
		ID:        uuid.New(),
		UserID:    userID,
		Email:     email,
		Realm:     realm,
		IPAddress: ip,
		UserAgent: userAgent,
		DeviceID:  deviceID,
		StartedAt: time.Now(),
	}
}

// KnownUser reports whether the attempt is bound to a resolved user.
func (a *LoginAttempt) KnownUser() bool {
	return a.UserID != uuid.Nil
}

// GuardResult is the outcome of a guard check.
type GuardResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Guard   string `json:"guard,omitempty"` // which guard blocked
}
