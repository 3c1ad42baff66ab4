package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/auth"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/guard"
	"github.com/attaboy/adaptiveauth/internal/metrics"
	"github.com/attaboy/adaptiveauth/internal/policy"
	"github.com/attaboy/adaptiveauth/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// DB is the pool surface services use: plain queries plus transactions.
// *pgxpool.Pool implements it.
type DB interface {
	repository.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RiskAssessor evaluates one login attempt. *adaptive.Manager implements it.
type RiskAssessor interface {
	Evaluate(ctx context.Context, attempt *domain.LoginAttempt) (*adaptive.RiskState, error)
}

// DeviceRememberer stores a device after an allowed login.
type DeviceRememberer interface {
	Remember(ctx context.Context, userID uuid.UUID, deviceID string) error
}

// AuthServiceConfig wires an AuthService. Devices may be nil.
type AuthServiceConfig struct {
	DB      DB
	Users   repository.AuthUserRepository
	Outbox  repository.OutboxRepository
	Lockout *guard.Lockout
	Risk    RiskAssessor
	Actions *policy.ActionPolicy
	Devices DeviceRememberer
	JWT     *auth.JWTManager
	Logger  *slog.Logger
}

// AuthService handles registration and risk-aware login.
type AuthService struct {
	db      DB
	users   repository.AuthUserRepository
	outbox  repository.OutboxRepository
	lockout *guard.Lockout
	risk    RiskAssessor
	actions *policy.ActionPolicy
	devices DeviceRememberer
	jwtMgr  *auth.JWTManager
	logger  *slog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg AuthServiceConfig) *AuthService {
	return &AuthService{
		db:      cfg.DB,
		users:   cfg.Users,
		outbox:  cfg.Outbox,
		lockout: cfg.Lockout,
		risk:    cfg.Risk,
		actions: cfg.Actions,
		devices: cfg.Devices,
		jwtMgr:  cfg.JWT,
		logger:  cfg.Logger,
	}
}

// RegisterInput holds the registration request fields.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResult is returned on successful registration. Registration never
// issues a token; the first login goes through risk evaluation.
type RegisterResult struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Roles  []string  `json:"roles"`
}

// Register creates a user-realm account.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	return s.CreateUser(ctx, input.Email, input.Password, []string{auth.RoleUser})
}

// CreateUser creates an account with the given roles and an
// auth.user.registered event in a single transaction.
func (s *AuthService) CreateUser(ctx context.Context, email, password string, roles []string) (*RegisterResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := domain.ValidateEmail(email); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidatePassword(password); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}

	existing, err := s.users.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, domain.ErrInternal("find user", err)
	}
	if existing != nil {
		return nil, domain.ErrConflict("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.ErrInternal("hash password", err)
	}

	user := &domain.AuthUser{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		Roles:        roles,
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, domain.ErrInternal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := s.users.Create(ctx, tx, user); err != nil {
		return nil, domain.ErrInternal("create auth user", err)
	}

	draft, err := domain.NewOutboxDraft(domain.AggregateUser, user.ID.String(), domain.EventUserRegistered, user.ID.String(),
		map[string]any{"user_id": user.ID, "email": user.Email, "roles": user.Roles})
	if err != nil {
		return nil, domain.ErrInternal("build event", err)
	}
	if err := s.outbox.Insert(ctx, tx, draft); err != nil {
		return nil, domain.ErrInternal("insert outbox event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.ErrInternal("commit tx", err)
	}

	s.logger.Info("user registered", "user_id", user.ID, "roles", user.Roles)
	return &RegisterResult{UserID: user.ID, Email: user.Email, Roles: user.Roles}, nil
}

// LoginInput holds the login request fields. The client fields are filled
// from the request, not the body.
type LoginInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Realm     string `json:"realm"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
	DeviceID  string `json:"-"`
}

// LoginResult is returned for allowed and challenged logins. Token is only
// set when Action is allow.
type LoginResult struct {
	Action    policy.Action `json:"action"`
	Token     string        `json:"token,omitempty"`
	UserID    uuid.UUID     `json:"user_id"`
	Email     string        `json:"email"`
	AttemptID uuid.UUID     `json:"attempt_id"`
	RiskLevel string        `json:"risk_level,omitempty"`
	RiskScore *float64      `json:"risk_score,omitempty"`
}

// Login authenticates credentials, evaluates the attempt's risk and applies
// the action policy. A denied login returns ErrLoginDenied.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return nil, domain.ErrValidation("email and password are required")
	}
	realm, err := auth.ParseRealm(input.Realm)
	if err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidateDeviceID(input.DeviceID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	if err := s.lockout.CheckLocked(ctx, email, string(realm)); err != nil {
		return nil, err
	}

	attempt := domain.NewLoginAttempt(uuid.Nil, email, string(realm), input.IPAddress, input.UserAgent, input.DeviceID)

	user, err := s.users.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, domain.ErrInternal("find user", err)
	}
	if user == nil {
		s.lockout.RecordAttempt(ctx, attempt, false)
		return nil, domain.ErrUnauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.lockout.RecordAttempt(ctx, attempt, false)
		return nil, domain.ErrUnauthorized("invalid credentials")
	}

	role := ""
	if realm == auth.RealmAdmin {
		if role = auth.HighestAdminRole(user.Roles); role == "" {
			s.lockout.RecordAttempt(ctx, attempt, false)
			return nil, domain.ErrForbidden("account has no admin role")
		}
	}
	attempt.UserID = user.ID

	result := &LoginResult{UserID: user.ID, Email: user.Email, AttemptID: attempt.ID}

	var action policy.Action
	state, err := s.risk.Evaluate(ctx, attempt)
	switch {
	case err == nil:
		level, _ := state.Level()
		score, _ := state.Score()
		action = s.actions.Decide(level)
		result.RiskLevel = level.Name
		result.RiskScore = &score
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil, domain.ErrInternal("login cancelled", err)
	default:
		action = s.actions.TimeoutAction()
		s.logger.Warn("risk evaluation unavailable, applying timeout action",
			"attempt_id", attempt.ID,
			"action", action,
			"error", err,
		)
		if action == policy.ActionDeny {
			s.finish(ctx, attempt, action, result, false)
			return nil, domain.ErrRiskUnavailable(err)
		}
	}
	result.Action = action

	switch action {
	case policy.ActionAllow:
		var claims *auth.RiskClaims
		if result.RiskScore != nil {
			claims = &auth.RiskClaims{AttemptID: attempt.ID, Level: result.RiskLevel, Score: *result.RiskScore}
		}
		token, err := s.jwtMgr.GenerateToken(realm, user.ID, user.Email, role, claims)
		if err != nil {
			return nil, domain.ErrInternal("generate token", err)
		}
		result.Token = token
		if s.devices != nil && attempt.DeviceID != "" {
			if err := s.devices.Remember(ctx, user.ID, attempt.DeviceID); err != nil {
				s.logger.Warn("remember device failed", "user_id", user.ID, "error", err)
			}
		}
		s.finish(ctx, attempt, action, result, true)
		return result, nil

	case policy.ActionChallenge:
		s.finish(ctx, attempt, action, result, false)
		return result, nil

	default:
		s.finish(ctx, attempt, action, result, false)
		return nil, domain.ErrLoginDenied(result.RiskLevel)
	}
}

// finish records the attempt for the lockout guard (challenged attempts are
// not counted as failures), emits the decision event and counts it.
func (s *AuthService) finish(ctx context.Context, attempt *domain.LoginAttempt, action policy.Action, result *LoginResult, success bool) {
	if success || action == policy.ActionDeny {
		s.lockout.RecordAttempt(ctx, attempt, success)
	}

	level := result.RiskLevel
	if level == "" {
		level = "unavailable"
	}
	metrics.LoginDecisionsTotal.WithLabelValues(string(action), level).Inc()

	evt := domain.EventLoginDenied
	switch action {
	case policy.ActionAllow:
		evt = domain.EventLoginAllowed
	case policy.ActionChallenge:
		evt = domain.EventLoginChallenged
	}
	draft, err := domain.NewOutboxDraft(domain.AggregateAttempt, attempt.ID.String(), evt, attempt.UserID.String(),
		map[string]any{
			"attempt_id": attempt.ID,
			"user_id":    attempt.UserID,
			"realm":      attempt.Realm,
			"action":     action,
			"risk_level": result.RiskLevel,
			"risk_score": result.RiskScore,
		})
	if err == nil {
		err = s.outbox.Insert(ctx, s.db, draft)
	}
	if err != nil {
		s.logger.Warn("login event not written", "attempt_id", attempt.ID, "event", evt, "error", err)
	}

	s.logger.Info("login decided",
		"attempt_id", attempt.ID,
		"user_id", attempt.UserID,
		"realm", attempt.Realm,
		"action", action,
		"risk_level", result.RiskLevel,
	)
}
