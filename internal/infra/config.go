package infra

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/policy"
	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL   string `env:"DATABASE_URL"`
	PGHost        string `env:"PGHOST" envDefault:"localhost"`
	PGPort        int    `env:"PGPORT" envDefault:"5435"`
	PGUser        string `env:"PGUSER" envDefault:"adaptiveauth"`
	PGPassword    string `env:"PGPASSWORD" envDefault:"adaptiveauth"`
	PGDatabase    string `env:"PGDATABASE" envDefault:"adaptiveauth"`
	MigrationsDir string `env:"MIGRATIONS_DIR"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	DBStatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" envDefault:"5s"`

	// JWT
	JWTSecret      string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTUserExpiry  time.Duration `env:"JWT_USER_EXPIRY" envDefault:"24h"`
	JWTAdminExpiry time.Duration `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`

	// Server
	ServiceName string `env:"SERVICE_NAME" envDefault:"adaptiveauth"`
	APIPort     int    `env:"API_PORT" envDefault:"3100"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Kafka
	KafkaBrokers     string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled     bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopicPrefix string        `env:"KAFKA_TOPIC_PREFIX" envDefault:"adaptiveauth"`
	OutboxInterval   time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	OutboxBatchSize  int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// Tracing
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	Risk RiskConfig `envPrefix:"RISK_"`
}

// RiskConfig configures the risk engine and the login decision policy.
type RiskConfig struct {
	Levels                string             `env:"LEVELS" envDefault:"LOW:0,MEDIUM:0.5,HIGH:1.0"`
	Aggregation           string             `env:"AGGREGATION" envDefault:"sum"`
	Weights               map[string]float64 `env:"WEIGHTS"`
	EvaluatorTimeout      time.Duration      `env:"EVALUATOR_TIMEOUT" envDefault:"200ms"`
	ProviderTimeout       time.Duration      `env:"PROVIDER_TIMEOUT" envDefault:"300ms"`
	AttemptTimeout        time.Duration      `env:"ATTEMPT_TIMEOUT" envDefault:"1s"`
	EvaluatorFailureMode  string             `env:"EVALUATOR_FAILURE_MODE" envDefault:"open"`
	MissingContextHigh    []string           `env:"MISSING_CONTEXT_HIGH"`
	AuditFailedEvaluators bool               `env:"AUDIT_FAILED_EVALUATORS" envDefault:"true"`
	MaxConcurrency        int                `env:"MAX_CONCURRENCY" envDefault:"8"`
	CircuitFailThreshold  int                `env:"CIRCUIT_FAIL_THRESHOLD" envDefault:"5"`
	CircuitResetTimeout   time.Duration      `env:"CIRCUIT_RESET_TIMEOUT" envDefault:"30s"`
	Actions               string             `env:"ACTIONS" envDefault:"LOW:allow,MEDIUM:challenge,HIGH:deny"`
	TimeoutAction         string             `env:"TIMEOUT_ACTION" envDefault:"challenge"`
	PrivilegedRoles       []string           `env:"PRIVILEGED_ROLES" envDefault:"admin,superadmin"`
}

// RiskSettings is the parsed, validated form of RiskConfig.
type RiskSettings struct {
	Levels      *adaptive.LevelTable
	Aggregator  adaptive.Aggregator
	FailureMode adaptive.FailureMode
	Actions     *policy.ActionPolicy
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for insecure or ill-defined configuration that must not
// run. Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local
// dev only); the risk configuration is always checked.
func (c *Config) Validate() error {
	if _, err := c.Risk.Settings(); err != nil {
		return err
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// Settings parses the threshold table, aggregation strategy, failure mode and
// action policy. An invalid threshold table wraps adaptive.ErrInvalidThresholds.
func (r RiskConfig) Settings() (*RiskSettings, error) {
	levels, err := adaptive.ParseLevelTable(r.Levels)
	if err != nil {
		return nil, fmt.Errorf("RISK_LEVELS: %w", err)
	}
	agg, err := adaptive.NewAggregator(r.Aggregation)
	if err != nil {
		return nil, fmt.Errorf("RISK_AGGREGATION: %w", err)
	}
	mode, err := adaptive.ParseFailureMode(r.EvaluatorFailureMode)
	if err != nil {
		return nil, fmt.Errorf("RISK_EVALUATOR_FAILURE_MODE: %w", err)
	}
	for tag, w := range r.Weights {
		if w < 0 {
			return nil, fmt.Errorf("RISK_WEIGHTS: weight for %s is negative", tag)
		}
	}
	actions, err := policy.ParseActionPolicy(levels, r.Actions, r.TimeoutAction)
	if err != nil {
		return nil, fmt.Errorf("RISK_ACTIONS: %w", err)
	}
	switch {
	case r.EvaluatorTimeout <= 0, r.ProviderTimeout <= 0, r.AttemptTimeout <= 0:
		return nil, fmt.Errorf("risk timeouts must be positive")
	case r.EvaluatorTimeout > r.AttemptTimeout:
		return nil, fmt.Errorf("RISK_EVALUATOR_TIMEOUT (%s) exceeds RISK_ATTEMPT_TIMEOUT (%s)", r.EvaluatorTimeout, r.AttemptTimeout)
	}
	return &RiskSettings{Levels: levels, Aggregator: agg, FailureMode: mode, Actions: actions}, nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
