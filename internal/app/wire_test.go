package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/auth"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/handler"
	"github.com/attaboy/adaptiveauth/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoDB = errors.New("no database in unit tests")

type offlineDB struct{ pingErr error }

type errRow struct{}

func (errRow) Scan(...interface{}) error { return errNoDB }

func (offlineDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errNoDB
}

func (offlineDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errNoDB
}

func (offlineDB) QueryRow(context.Context, string, ...interface{}) pgx.Row { return errRow{} }

func (offlineDB) Begin(context.Context) (pgx.Tx, error) { return nil, errNoDB }

func (d offlineDB) Ping(context.Context) error { return d.pingErr }

func testRiskConfig() infra.RiskConfig {
	return infra.RiskConfig{
		Levels:                "LOW:0,MEDIUM:0.5,HIGH:1.0",
		Aggregation:           "sum",
		EvaluatorTimeout:      200 * time.Millisecond,
		ProviderTimeout:       300 * time.Millisecond,
		AttemptTimeout:        time.Second,
		EvaluatorFailureMode:  "open",
		AuditFailedEvaluators: true,
		MaxConcurrency:        8,
		CircuitFailThreshold:  5,
		CircuitResetTimeout:   30 * time.Second,
		Actions:               "LOW:allow,MEDIUM:challenge,HIGH:deny",
		TimeoutAction:         "challenge",
		PrivilegedRoles:       []string{"admin", "superadmin"},
	}
}

func noopLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewRiskStack_RegistersBundledFactors(t *testing.T) {
	stack, err := NewRiskStack(offlineDB{}, testRiskConfig(), noopLogger())
	require.NoError(t, err)

	assert.True(t, stack.Registry.Frozen())
	assert.Equal(t, []string{"user_agent", "user_roles", "login_failures", "request_velocity", "known_device"},
		stack.Registry.EvaluatorTypes())

	view := stack.ConfigView()
	assert.Equal(t, "sum", view.Aggregation)
	assert.Equal(t, adaptive.FailOpen, view.FailureMode)
	assert.Len(t, view.Levels, 3)
	assert.Len(t, view.Providers, 5)
	assert.Equal(t, "200ms", view.EvaluatorTimeout)
}

func TestNewRiskStack_RejectsInvalidThresholds(t *testing.T) {
	cfg := testRiskConfig()
	cfg.Levels = "LOW:0,HIGH:0.5,MEDIUM:0.4"
	_, err := NewRiskStack(offlineDB{}, cfg, noopLogger())
	assert.ErrorIs(t, err, adaptive.ErrInvalidThresholds)
}

// An unreachable database degrades every DB-backed factor to missing context
// or failure; the attempt is still evaluated.
func TestNewRiskStack_EvaluatesWithDatabaseDown(t *testing.T) {
	stack, err := NewRiskStack(offlineDB{}, testRiskConfig(), noopLogger())
	require.NoError(t, err)

	attempt := adaptiveAttempt("curl/8.0")
	state, err := stack.Manager.Evaluate(context.Background(), attempt)
	require.NoError(t, err)

	score, ok := state.Score()
	require.True(t, ok)
	assert.InDelta(t, adaptive.RiskSmall, score, 1e-9)
	level, _ := state.Level()
	assert.Equal(t, "LOW", level.Name)
}

func TestNewRouter(t *testing.T) {
	stack, err := NewRiskStack(offlineDB{}, testRiskConfig(), noopLogger())
	require.NoError(t, err)
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour, time.Hour)
	router := NewRouter(RouterDeps{
		DB:          offlineDB{},
		JWTMgr:      jwtMgr,
		Risk:        stack,
		CORSOrigins: "*",
		Logger:      noopLogger(),
	})

	do := func(method, path, body, token string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	t.Run("health", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/health", "", "").Code)
	})

	t.Run("metrics", func(t *testing.T) {
		w := do(http.MethodGet, "/metrics", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "adaptiveauth_")
	})

	t.Run("login rejects bad body", func(t *testing.T) {
		w := do(http.MethodPost, "/auth/login", "{", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})

	t.Run("admin config requires admin token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/admin/risk/config", "", "").Code)

		userToken, err := jwtMgr.GenerateToken(auth.RealmUser, uuid.New(), "u@example.com", "", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/admin/risk/config", "", userToken).Code)

		adminToken, err := jwtMgr.GenerateToken(auth.RealmAdmin, uuid.New(), "a@example.com", auth.RoleViewer, nil)
		require.NoError(t, err)
		w := do(http.MethodGet, "/admin/risk/config", "", adminToken)
		require.Equal(t, http.StatusOK, w.Code)

		var view handler.RiskConfigView
		require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
		assert.Equal(t, "challenge", string(view.TimeoutAction))
		assert.Len(t, view.Actions, 3)
	})
}

func adaptiveAttempt(userAgent string) *domain.LoginAttempt {
	return domain.NewLoginAttempt(uuid.New(), "user@example.com", "user", "203.0.113.9", userAgent, "device-0001")
}
