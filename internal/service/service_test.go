package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/auth"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/guard"
	"github.com/attaboy/adaptiveauth/internal/policy"
	"github.com/attaboy/adaptiveauth/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- fakes ---

type fakeDB struct {
	mu      sync.Mutex
	commits int
}

func (d *fakeDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (d *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("fakeDB: query not supported")
}

func (d *fakeDB) QueryRow(context.Context, string, ...interface{}) pgx.Row { return nil }

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) { return &fakeTx{db: d}, nil }

func (d *fakeDB) Commits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits
}

// fakeTx embeds pgx.Tx so only the methods the services call are implemented.
type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (t *fakeTx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakeUsers struct {
	byEmail map[string]*domain.AuthUser
}

func (f *fakeUsers) FindByEmail(_ context.Context, _ repository.DBTX, email string) (*domain.AuthUser, error) {
	return f.byEmail[email], nil
}

func (f *fakeUsers) Create(_ context.Context, _ repository.DBTX, u *domain.AuthUser) error {
	f.byEmail[u.Email] = u
	return nil
}

func (f *fakeUsers) Roles(_ context.Context, _ repository.DBTX, id uuid.UUID) ([]string, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u.Roles, nil
		}
	}
	return nil, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	drafts []domain.OutboxDraft
}

func (f *fakeOutbox) Insert(_ context.Context, _ repository.DBTX, d domain.OutboxDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, d)
	return nil
}

func (f *fakeOutbox) InsertBatch(_ context.Context, _ pgx.Tx, drafts []domain.OutboxDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, drafts...)
	return nil
}

func (f *fakeOutbox) Pending(context.Context, repository.DBTX) (int, error) { return 0, nil }

func (f *fakeOutbox) FetchUnpublished(context.Context, repository.DBTX, int) ([]domain.OutboxRow, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(context.Context, repository.DBTX, []int64) error { return nil }

func (f *fakeOutbox) Events() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, len(f.drafts))
	for i, d := range f.drafts {
		out[i] = d.EventType
	}
	return out
}

type recordedAttempt struct {
	attempt *domain.LoginAttempt
	success bool
}

type fakeAttempts struct {
	mu       sync.Mutex
	attempts []recordedAttempt
}

func (f *fakeAttempts) Record(_ context.Context, a *domain.LoginAttempt, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, recordedAttempt{a, success})
	return nil
}

func (f *fakeAttempts) CountFailures(_ context.Context, email, realm string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.attempts {
		if !r.success && r.attempt.Email == email && r.attempt.Realm == realm && !r.attempt.StartedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type fakeDevices struct {
	remembered map[string]uuid.UUID
}

func (f *fakeDevices) Remember(_ context.Context, userID uuid.UUID, deviceID string) error {
	f.remembered[deviceID] = userID
	return nil
}

type fakeAssessor struct {
	err error
}

func (f fakeAssessor) Evaluate(_ context.Context, a *domain.LoginAttempt) (*adaptive.RiskState, error) {
	return adaptive.NewRiskState(a.ID), f.err
}

// --- harness ---

type harness struct {
	svc      *AuthService
	db       *fakeDB
	users    *fakeUsers
	outbox   *fakeOutbox
	attempts *fakeAttempts
	devices  *fakeDevices
	jwt      *auth.JWTManager
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// scoreManager returns a Manager whose only evaluator contributes score.
func scoreManager(t *testing.T, score float64) *adaptive.Manager {
	t.Helper()
	reg := adaptive.NewRegistry()
	require.NoError(t, reg.RegisterEvaluator(adaptive.NewEvaluatorFunc("fixed", nil,
		func(context.Context, adaptive.ContextSet) (float64, error) { return score, nil })))
	reg.Freeze()
	engine, err := adaptive.NewEngine(adaptive.EngineOptions{}, testLogger())
	require.NoError(t, err)
	m, err := adaptive.NewManager(adaptive.ManagerConfig{
		Evaluators: reg, Providers: reg, Engine: engine, Levels: adaptive.DefaultLevelTable(), Logger: testLogger(),
	})
	require.NoError(t, err)
	return m
}

func newHarness(t *testing.T, risk RiskAssessor, timeoutAction string) *harness {
	t.Helper()
	actions, err := policy.ParseActionPolicy(adaptive.DefaultLevelTable(), "LOW:allow,MEDIUM:challenge,HIGH:deny", timeoutAction)
	require.NoError(t, err)

	h := &harness{
		db:       &fakeDB{},
		users:    &fakeUsers{byEmail: map[string]*domain.AuthUser{}},
		outbox:   &fakeOutbox{},
		attempts: &fakeAttempts{},
		devices:  &fakeDevices{remembered: map[string]uuid.UUID{}},
		jwt:      auth.NewJWTManager("test-secret", time.Hour, time.Hour),
	}
	h.svc = NewAuthService(AuthServiceConfig{
		DB:      h.db,
		Users:   h.users,
		Outbox:  h.outbox,
		Lockout: guard.NewLockout(h.attempts, testLogger()),
		Risk:    risk,
		Actions: actions,
		Devices: h.devices,
		JWT:     h.jwt,
		Logger:  testLogger(),
	})
	return h
}

func (h *harness) seedUser(t *testing.T, email, password string, roles ...string) *domain.AuthUser {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &domain.AuthUser{ID: uuid.New(), Email: email, PasswordHash: string(hash), Roles: roles}
	h.users.byEmail[email] = u
	return u
}

func login(email, password string) LoginInput {
	return LoginInput{Email: email, Password: password, IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0", DeviceID: "device-0001"}
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *domain.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

// --- Login ---

func TestLogin_LowRiskAllows(t *testing.T) {
	h := newHarness(t, scoreManager(t, adaptive.RiskNone), "challenge")
	user := h.seedUser(t, "alice@example.com", "password123", "user")

	res, err := h.svc.Login(context.Background(), login("Alice@Example.com", "password123"))
	require.NoError(t, err)

	assert.Equal(t, policy.ActionAllow, res.Action)
	assert.Equal(t, "LOW", res.RiskLevel)
	require.NotNil(t, res.RiskScore)
	assert.Zero(t, *res.RiskScore)
	require.NotEmpty(t, res.Token)

	claims, err := h.jwt.ValidateTokenForRealm(res.Token, auth.RealmUser)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)
	assert.Equal(t, "LOW", claims.RiskLevel)
	assert.Equal(t, res.AttemptID.String(), claims.AttemptID)

	assert.Equal(t, user.ID, h.devices.remembered["device-0001"])
	require.Len(t, h.attempts.attempts, 1)
	assert.True(t, h.attempts.attempts[0].success)
	assert.Equal(t, []domain.EventType{domain.EventLoginAllowed}, h.outbox.Events())
}

func TestLogin_MediumRiskChallenges(t *testing.T) {
	h := newHarness(t, scoreManager(t, adaptive.RiskMedium), "challenge")
	h.seedUser(t, "bob@example.com", "password123", "user")

	res, err := h.svc.Login(context.Background(), login("bob@example.com", "password123"))
	require.NoError(t, err)

	assert.Equal(t, policy.ActionChallenge, res.Action)
	assert.Equal(t, "MEDIUM", res.RiskLevel)
	assert.Empty(t, res.Token)
	assert.Empty(t, h.devices.remembered)
	assert.Empty(t, h.attempts.attempts, "challenged attempts do not count toward lockout")
	assert.Equal(t, []domain.EventType{domain.EventLoginChallenged}, h.outbox.Events())
}

func TestLogin_HighRiskDenies(t *testing.T) {
	h := newHarness(t, scoreManager(t, adaptive.RiskHigh), "challenge")
	h.seedUser(t, "carol@example.com", "password123", "user")

	res, err := h.svc.Login(context.Background(), login("carol@example.com", "password123"))
	assert.Nil(t, res)
	assert.Equal(t, "LOGIN_DENIED", appCode(t, err))

	require.Len(t, h.attempts.attempts, 1)
	assert.False(t, h.attempts.attempts[0].success)
	assert.Equal(t, []domain.EventType{domain.EventLoginDenied}, h.outbox.Events())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t, scoreManager(t, 0), "challenge")
	h.seedUser(t, "dave@example.com", "password123", "user")

	t.Run("wrong password", func(t *testing.T) {
		_, err := h.svc.Login(context.Background(), login("dave@example.com", "nope-nope"))
		assert.Equal(t, "UNAUTHORIZED", appCode(t, err))
	})
	t.Run("unknown user", func(t *testing.T) {
		_, err := h.svc.Login(context.Background(), login("nobody@example.com", "password123"))
		assert.Equal(t, "UNAUTHORIZED", appCode(t, err))
	})
	t.Run("missing fields", func(t *testing.T) {
		_, err := h.svc.Login(context.Background(), LoginInput{Email: "dave@example.com"})
		assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
	})
	t.Run("bad device id", func(t *testing.T) {
		in := login("dave@example.com", "password123")
		in.DeviceID = "x"
		_, err := h.svc.Login(context.Background(), in)
		assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
	})

	assert.Len(t, h.attempts.attempts, 2)
}

func TestLogin_LockoutAfterFailures(t *testing.T) {
	h := newHarness(t, scoreManager(t, 0), "challenge")
	h.seedUser(t, "erin@example.com", "password123", "user")

	for i := 0; i < guard.MaxAttempts; i++ {
		_, err := h.svc.Login(context.Background(), login("erin@example.com", fmt.Sprintf("wrong-%d", i)))
		require.Error(t, err)
	}

	_, err := h.svc.Login(context.Background(), login("erin@example.com", "password123"))
	assert.Equal(t, "ACCOUNT_LOCKED", appCode(t, err))
}

func TestLogin_AdminRealm(t *testing.T) {
	h := newHarness(t, scoreManager(t, 0), "challenge")
	h.seedUser(t, "root@example.com", "password123", "user", "admin")
	h.seedUser(t, "plain@example.com", "password123", "user")

	in := login("root@example.com", "password123")
	in.Realm = "admin"
	res, err := h.svc.Login(context.Background(), in)
	require.NoError(t, err)
	claims, err := h.jwt.ValidateTokenForRealm(res.Token, auth.RealmAdmin)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	in = login("plain@example.com", "password123")
	in.Realm = "admin"
	_, err = h.svc.Login(context.Background(), in)
	assert.Equal(t, "FORBIDDEN", appCode(t, err))

	in.Realm = "affiliate"
	_, err = h.svc.Login(context.Background(), in)
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestLogin_RiskTimeoutAppliesTimeoutAction(t *testing.T) {
	timeout := fmt.Errorf("%w: 1s", adaptive.ErrAggregationTimeout)

	t.Run("challenge", func(t *testing.T) {
		h := newHarness(t, fakeAssessor{err: timeout}, "challenge")
		h.seedUser(t, "fay@example.com", "password123", "user")

		res, err := h.svc.Login(context.Background(), login("fay@example.com", "password123"))
		require.NoError(t, err)
		assert.Equal(t, policy.ActionChallenge, res.Action)
		assert.Empty(t, res.RiskLevel)
		assert.Nil(t, res.RiskScore)
	})

	t.Run("allow issues token without risk claims", func(t *testing.T) {
		h := newHarness(t, fakeAssessor{err: timeout}, "allow")
		h.seedUser(t, "gus@example.com", "password123", "user")

		res, err := h.svc.Login(context.Background(), login("gus@example.com", "password123"))
		require.NoError(t, err)
		claims, err := h.jwt.ValidateToken(res.Token)
		require.NoError(t, err)
		assert.Empty(t, claims.RiskLevel)
	})

	t.Run("deny", func(t *testing.T) {
		h := newHarness(t, fakeAssessor{err: timeout}, "deny")
		h.seedUser(t, "hal@example.com", "password123", "user")

		_, err := h.svc.Login(context.Background(), login("hal@example.com", "password123"))
		assert.Equal(t, "RISK_UNAVAILABLE", appCode(t, err))
		assert.ErrorIs(t, err, adaptive.ErrAggregationTimeout)
	})
}

func TestLogin_CallerCancelled(t *testing.T) {
	h := newHarness(t, fakeAssessor{err: context.Canceled}, "allow")
	h.seedUser(t, "ivy@example.com", "password123", "user")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.Login(ctx, login("ivy@example.com", "password123"))
	assert.Equal(t, "INTERNAL_ERROR", appCode(t, err))
	assert.Empty(t, h.outbox.Events())
}

// --- Register ---

func TestRegister(t *testing.T) {
	h := newHarness(t, scoreManager(t, 0), "challenge")

	res, err := h.svc.Register(context.Background(), RegisterInput{Email: " New@Example.com ", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", res.Email)
	assert.Equal(t, []string{auth.RoleUser}, res.Roles)
	assert.Equal(t, 1, h.db.Commits())
	assert.Equal(t, []domain.EventType{domain.EventUserRegistered}, h.outbox.Events())

	stored := h.users.byEmail["new@example.com"]
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("password123")))

	_, err = h.svc.Register(context.Background(), RegisterInput{Email: "new@example.com", Password: "password123"})
	assert.Equal(t, "CONFLICT", appCode(t, err))

	_, err = h.svc.Register(context.Background(), RegisterInput{Email: "bad", Password: "password123"})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))

	_, err = h.svc.Register(context.Background(), RegisterInput{Email: "short@example.com", Password: "short"})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

// --- RiskAuditService ---

type fakeAssessments struct {
	rows []*domain.RiskAssessment
}

func (f *fakeAssessments) Insert(_ context.Context, _ repository.DBTX, a *domain.RiskAssessment) error {
	f.rows = append(f.rows, a)
	return nil
}

func (f *fakeAssessments) FindByAttempt(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.RiskAssessment, error) {
	for _, r := range f.rows {
		if r.AttemptID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeAssessments) ListByUser(_ context.Context, _ repository.DBTX, userID uuid.UUID, _ int) ([]domain.RiskAssessment, error) {
	var out []domain.RiskAssessment
	for _, r := range f.rows {
		if r.UserID != nil && *r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func TestRiskAuditService_RecordsThroughManager(t *testing.T) {
	db := &fakeDB{}
	assessments := &fakeAssessments{}
	outbox := &fakeOutbox{}
	audit := NewRiskAuditService(db, assessments, outbox, testLogger())

	reg := adaptive.NewRegistry()
	require.NoError(t, reg.RegisterEvaluator(adaptive.NewEvaluatorFunc("ok", nil,
		func(context.Context, adaptive.ContextSet) (float64, error) { return adaptive.RiskMedium, nil })))
	require.NoError(t, reg.RegisterEvaluator(adaptive.NewEvaluatorFunc("broken", nil,
		func(context.Context, adaptive.ContextSet) (float64, error) { return 0, errors.New("upstream down") })))
	reg.Freeze()
	engine, err := adaptive.NewEngine(adaptive.EngineOptions{}, testLogger())
	require.NoError(t, err)
	m, err := adaptive.NewManager(adaptive.ManagerConfig{
		Evaluators: reg, Providers: reg, Engine: engine, Levels: adaptive.DefaultLevelTable(),
		AuditFailedEvaluators: true, Recorder: audit, Logger: testLogger(),
	})
	require.NoError(t, err)

	attempt := domain.NewLoginAttempt(uuid.New(), "jo@example.com", "user", "203.0.113.7", "Mozilla", "")
	_, err = m.Evaluate(context.Background(), attempt)
	require.NoError(t, err)

	require.Len(t, assessments.rows, 1)
	row := assessments.rows[0]
	assert.Equal(t, attempt.ID, row.AttemptID)
	require.NotNil(t, row.UserID)
	assert.Equal(t, attempt.UserID, *row.UserID)
	assert.Equal(t, "MEDIUM", row.Level)
	assert.InDelta(t, 0.5, row.Score, 1e-9)
	assert.Equal(t, []string{"ok", "broken"}, row.UsedEvaluators)
	assert.Equal(t, []string{"broken"}, row.FailedEvaluators)
	assert.Equal(t, 1, db.Commits())
	assert.Equal(t, []domain.EventType{domain.EventRiskAssessed, domain.EventRiskEvaluatorFailed}, outbox.Events())

	list, err := audit.ListByUser(context.Background(), attempt.UserID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	found, err := audit.Find(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, "MEDIUM", found.Level)

	_, err = audit.Find(context.Background(), uuid.New())
	assert.Equal(t, "NOT_FOUND", appCode(t, err))
}

func TestRiskAuditService_RejectsUnevaluated(t *testing.T) {
	audit := NewRiskAuditService(&fakeDB{}, &fakeAssessments{}, &fakeOutbox{}, testLogger())
	attempt := domain.NewLoginAttempt(uuid.New(), "jo@example.com", "user", "", "", "")
	err := audit.Record(context.Background(), attempt, adaptive.NewRiskState(attempt.ID).Snapshot())
	assert.Error(t, err)
}
