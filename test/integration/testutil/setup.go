//go:build integration

package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/attaboy/adaptiveauth/internal/app"
	"github.com/attaboy/adaptiveauth/internal/auth"
	"github.com/attaboy/adaptiveauth/internal/infra"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	TestJWTSecret = "integration-test-secret"
	TestDBHost    = "localhost"
	TestDBPort    = 5435
	TestDBUser    = "adaptiveauth"
	TestDBPass    = "adaptiveauth"
	TestDBName    = "adaptiveauth_test"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server *httptest.Server
	Pool   *pgxpool.Pool
	JWTMgr *auth.JWTManager
	Risk   *app.RiskStack
	t      *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "adaptiveauth")
}

func ensureTestDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}

	if !exists {
		if _, err = bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName)); err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}
	return nil
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolCfg, err := pgxpool.ParseConfig(testDSN())
		if err != nil {
			poolErr = fmt.Errorf("parse pool config: %w", err)
			return
		}
		poolCfg.MaxConns = 10
		poolCfg.MinConns = 1

		sharedPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			poolErr = fmt.Errorf("create pool: %w", err)
			return
		}

		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		if err := infra.RunMigrations(testDSN(), infra.FindMigrationDir(), quiet); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			sharedPool.Close()
			sharedPool = nil
			return
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// DefaultRiskConfig mirrors the RISK_* defaults.
func DefaultRiskConfig() infra.RiskConfig {
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

// NewTestEnv creates a test environment with an httptest.Server backed by
// the real router, the default risk configuration and the test DB.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	return NewTestEnvWithRisk(t, DefaultRiskConfig())
}

// NewTestEnvWithRisk is NewTestEnv with a custom risk configuration.
func NewTestEnvWithRisk(t *testing.T, cfg infra.RiskConfig) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)

	jwtMgr := auth.NewJWTManager(TestJWTSecret, 24*time.Hour, 8*time.Hour)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	risk, err := app.NewRiskStack(pool, cfg, logger)
	if err != nil {
		t.Fatalf("NewRiskStack: %v", err)
	}

	router := app.NewRouter(app.RouterDeps{
		DB:          pool,
		JWTMgr:      jwtMgr,
		Risk:        risk,
		CORSOrigins: "*",
		Logger:      logger,
	})

	server := httptest.NewServer(router)

	env := &TestEnv{
		Server: server,
		Pool:   pool,
		JWTMgr: jwtMgr,
		Risk:   risk,
		t:      t,
	}

	t.Cleanup(func() {
		server.Close()
		env.CleanAll()
	})

	// Clean before test to ensure isolation
	env.CleanAll()

	return env
}
