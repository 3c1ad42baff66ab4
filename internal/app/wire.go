package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/adaptive/factors"
	"github.com/attaboy/adaptiveauth/internal/auth"
	"github.com/attaboy/adaptiveauth/internal/guard"
	"github.com/attaboy/adaptiveauth/internal/handler"
	"github.com/attaboy/adaptiveauth/internal/infra"
	"github.com/attaboy/adaptiveauth/internal/metrics"
	"github.com/attaboy/adaptiveauth/internal/repository"
	"github.com/attaboy/adaptiveauth/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// velocityWindow is the span over which per-IP login attempts are counted.
const velocityWindow = time.Minute

// DB is what the app needs from the pool. *pgxpool.Pool implements it.
type DB interface {
	service.DB
	infra.Pinger
}

// RiskStack is the assembled risk engine with the pieces the router and
// admin endpoints read from.
type RiskStack struct {
	Manager  *adaptive.Manager
	Registry *adaptive.Registry
	Breaker  *guard.CircuitBreaker
	Audit    *service.RiskAuditService
	Settings *infra.RiskSettings
	Config   infra.RiskConfig
}

// NewRiskStack validates the risk configuration, registers the bundled
// factors and freezes the registry.
func NewRiskStack(db DB, cfg infra.RiskConfig, logger *slog.Logger) (*RiskStack, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	attempts := repository.AttemptStore{DB: db, Repo: repository.NewPgLoginAttemptRepository()}
	reg := adaptive.NewRegistry()
	err = factors.Register(reg, factors.Deps{
		Roles:           repository.RoleStore{DB: db, Repo: repository.NewPgAuthUserRepository()},
		PrivilegedRoles: cfg.PrivilegedRoles,
		Failures:        attempts,
		FailureWindow:   guard.LockoutWindow,
		Velocity:        guard.NewSlidingWindow(0, velocityWindow),
		Devices:         repository.DeviceStore{DB: db, Repo: repository.NewPgDeviceRepository()},
	})
	if err != nil {
		return nil, fmt.Errorf("register risk factors: %w", err)
	}
	reg.Freeze()

	breaker := guard.NewCircuitBreaker(cfg.CircuitFailThreshold, cfg.CircuitResetTimeout)
	engine, err := adaptive.NewEngine(adaptive.EngineOptions{
		Aggregator:         settings.Aggregator,
		Weights:            cfg.Weights,
		EvaluatorTimeout:   cfg.EvaluatorTimeout,
		FailureMode:        settings.FailureMode,
		MissingContextHigh: cfg.MissingContextHigh,
		MaxConcurrency:     cfg.MaxConcurrency,
		Breaker:            breaker,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("risk engine: %w", err)
	}

	audit := service.NewRiskAuditService(db, repository.NewRiskAssessmentRepository(), repository.NewOutboxRepository(), logger)
	manager, err := adaptive.NewManager(adaptive.ManagerConfig{
		Evaluators:            reg,
		Providers:             reg,
		Engine:                engine,
		Levels:                settings.Levels,
		ProviderTimeout:       cfg.ProviderTimeout,
		AttemptTimeout:        cfg.AttemptTimeout,
		MaxConcurrency:        cfg.MaxConcurrency,
		AuditFailedEvaluators: cfg.AuditFailedEvaluators,
		Recorder:              audit,
		Logger:                logger,
	})
	if err != nil {
		return nil, fmt.Errorf("risk manager: %w", err)
	}

	logger.Info("risk engine ready",
		"evaluators", reg.EvaluatorTypes(),
		"levels", settings.Levels.String(),
		"aggregation", engine.Aggregation(),
		"failure_mode", engine.FailureMode(),
	)

	return &RiskStack{
		Manager:  manager,
		Registry: reg,
		Breaker:  breaker,
		Audit:    audit,
		Settings: settings,
		Config:   cfg,
	}, nil
}

// ConfigView reports the effective configuration for GET /admin/risk/config.
func (s *RiskStack) ConfigView() handler.RiskConfigView {
	providers := s.Registry.Providers()
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	return handler.RiskConfigView{
		Levels:           s.Settings.Levels.Levels(),
		Aggregation:      s.Settings.Aggregator.Name(),
		FailureMode:      s.Settings.FailureMode,
		Weights:          s.Config.Weights,
		EvaluatorTimeout: s.Config.EvaluatorTimeout.String(),
		ProviderTimeout:  s.Config.ProviderTimeout.String(),
		AttemptTimeout:   s.Config.AttemptTimeout.String(),
		Evaluators:       s.Registry.EvaluatorTypes(),
		Providers:        names,
		Actions:          s.Settings.Actions.Rules(),
		TimeoutAction:    s.Settings.Actions.TimeoutAction(),
		OpenCircuits:     s.Breaker.States(),
	}
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	DB          DB
	JWTMgr      *auth.JWTManager
	Risk        *RiskStack
	CORSOrigins string
	Logger      *slog.Logger
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	db := deps.DB
	jwtMgr := deps.JWTMgr
	logger := deps.Logger

	// Repositories
	authUserRepo := repository.NewPgAuthUserRepository()
	attemptRepo := repository.NewPgLoginAttemptRepository()
	deviceRepo := repository.NewPgDeviceRepository()
	outboxRepo := repository.NewOutboxRepository()

	// Services
	authSvc := service.NewAuthService(service.AuthServiceConfig{
		DB:      db,
		Users:   authUserRepo,
		Outbox:  outboxRepo,
		Lockout: guard.NewLockout(repository.AttemptStore{DB: db, Repo: attemptRepo}, logger),
		Risk:    deps.Risk.Manager,
		Actions: deps.Risk.Settings.Actions,
		Devices: repository.DeviceStore{DB: db, Repo: deviceRepo},
		JWT:     jwtMgr,
		Logger:  logger,
	})

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	riskAdmin := handler.NewAdminRiskHandler(deps.Risk.Audit, deps.Risk.ConfigView)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handler.RequestLogger(logger))
	r.Use(metrics.Middleware)
	r.Use(handler.CORSWithOrigins(deps.CORSOrigins))

	// Health and metrics (no auth)
	r.Get("/health", handler.HealthHandler(db, deps.Risk.Breaker.States))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)

		// Auth routes (no auth)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		// Admin-authenticated routes
		r.Route("/admin/risk", func(r chi.Router) {
			r.Use(auth.AuthenticateAdmin(jwtMgr))
			r.Use(auth.RequireAtLeast(auth.RoleViewer))

			r.Get("/assessments", riskAdmin.ListAssessments)
			r.Get("/assessments/{attemptID}", riskAdmin.GetAssessment)
			r.Get("/config", riskAdmin.Config)
		})
	})

	return r
}
