package factors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/guard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoles map[uuid.UUID][]string

func (f fakeRoles) Roles(_ context.Context, id uuid.UUID) ([]string, error) { return f[id], nil }

type fakeFailures struct {
	n   int
	err error
}

func (f fakeFailures) CountFailures(context.Context, string, string, time.Time) (int, error) {
	return f.n, f.err
}

type fakeDevices map[string]bool

func (f fakeDevices) IsKnown(_ context.Context, _ uuid.UUID, id string) (bool, error) {
	return f[id], nil
}

func evaluate(t *testing.T, e adaptive.Evaluator, values ...adaptive.ContextValue) float64 {
	t.Helper()
	v, err := e.Evaluate(context.Background(), adaptive.NewContextSet(values...))
	require.NoError(t, err)
	return v
}

func collect(t *testing.T, p adaptive.ContextProvider, a *domain.LoginAttempt) []adaptive.ContextValue {
	t.Helper()
	values, err := p.Collect(context.Background(), a)
	require.NoError(t, err)
	return values
}

func attempt(userAgent string) *domain.LoginAttempt {
	return domain.NewLoginAttempt(uuid.New(), "user@example.com", "user", "203.0.113.9", userAgent, "device-0001")
}

func TestUserAgent(t *testing.T) {
	tests := []struct {
		ua   string
		want float64
	}{
		{"Mozilla/5.0 (X11; Linux x86_64)", adaptive.RiskNone},
		{"AppleWebKit Safari/605.1.15", adaptive.RiskNone},
		{"curl/8.4.0", adaptive.RiskSmall},
		{"python-requests/2.31", adaptive.RiskSmall},
		{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", adaptive.RiskSmall},
		{"Mozilla/5.0 (compatible; bingbot/2.0)", adaptive.RiskSmall},
		{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 HeadlessChrome/120.0 Safari/537.36", adaptive.RiskSmall},
	}
	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			values := collect(t, UserAgentProvider{}, attempt(tt.ua))
			assert.Equal(t, tt.want, evaluate(t, UserAgentEvaluator(), values...))
		})
	}
}

func TestParseUserAgent_Family(t *testing.T) {
	assert.Equal(t, "Mozilla", ParseUserAgent("Mozilla/5.0 (Macintosh) Firefox/128.0").Family)
	assert.Equal(t, "Chrome", ParseUserAgent("Chrome/120.0").Family)

	bot := ParseUserAgent("Mozilla/5.0 (compatible; Googlebot/2.1)")
	assert.False(t, bot.Known())
	assert.Equal(t, "Mozilla/5.0 (compatible; Googlebot/2.1)", bot.Raw)
}

func TestUserAgentProvider_EmptyHeader(t *testing.T) {
	_, err := UserAgentProvider{}.Collect(context.Background(), attempt("  "))
	assert.ErrorIs(t, err, adaptive.ErrContextUnavailable)
}

func TestRoles(t *testing.T) {
	a := attempt("Mozilla")
	admin := attempt("Mozilla")
	p := NewRoleProvider(fakeRoles{a.UserID: {"user"}, admin.UserID: {"user", "admin"}})
	e := RoleEvaluator([]string{"admin", "superadmin"})

	assert.Equal(t, adaptive.RiskNone, evaluate(t, e, collect(t, p, a)...))
	assert.Equal(t, adaptive.RiskMedium, evaluate(t, e, collect(t, p, admin)...))

	_, err := p.Collect(context.Background(), &domain.LoginAttempt{})
	assert.ErrorIs(t, err, adaptive.ErrContextUnavailable)
}

func TestFailures(t *testing.T) {
	e := FailureEvaluator()
	for n, want := range map[int]float64{0: adaptive.RiskNone, 2: adaptive.RiskNone, 3: adaptive.RiskMedium, 5: adaptive.RiskMedium, 6: adaptive.RiskHigh} {
		values := collect(t, NewFailureProvider(fakeFailures{n: n}, 0), attempt("Mozilla"))
		assert.Equal(t, want, evaluate(t, e, values...), "failures=%d", n)
	}

	_, err := NewFailureProvider(fakeFailures{err: errors.New("db down")}, time.Minute).Collect(context.Background(), attempt("Mozilla"))
	assert.Error(t, err)
}

func TestVelocity(t *testing.T) {
	p := NewVelocityProvider(guard.NewSlidingWindow(1000, time.Minute))
	e := VelocityEvaluator()
	a := attempt("Mozilla")

	var last []adaptive.ContextValue
	for i := 0; i < 11; i++ {
		last = collect(t, p, a)
	}
	assert.Equal(t, adaptive.RiskSmall, evaluate(t, e, last...))

	for i := 0; i < 20; i++ {
		last = collect(t, p, a)
	}
	assert.Equal(t, adaptive.RiskMedium, evaluate(t, e, last...))

	other := attempt("Mozilla")
	other.IPAddress = "198.51.100.1"
	assert.Equal(t, adaptive.RiskNone, evaluate(t, e, collect(t, p, other)...))
}

func TestDevice(t *testing.T) {
	p := NewDeviceProvider(fakeDevices{"device-0001": true})
	e := DeviceEvaluator()

	known := attempt("Mozilla")
	assert.Equal(t, adaptive.RiskNone, evaluate(t, e, collect(t, p, known)...))

	unknown := attempt("Mozilla")
	unknown.DeviceID = "device-9999"
	assert.Equal(t, adaptive.RiskMedium, evaluate(t, e, collect(t, p, unknown)...))

	noDevice := attempt("Mozilla")
	noDevice.DeviceID = ""
	_, err := p.Collect(context.Background(), noDevice)
	assert.ErrorIs(t, err, adaptive.ErrContextUnavailable)
}

func TestRegister_WiresIntoManager(t *testing.T) {
	reg := adaptive.NewRegistry()
	a := attempt("curl/8.4.0")
	a.DeviceID = "device-new1"
	require.NoError(t, Register(reg, Deps{
		Roles:           fakeRoles{a.UserID: {"admin"}},
		PrivilegedRoles: []string{"admin"},
		Failures:        fakeFailures{n: 3},
		Velocity:        guard.NewSlidingWindow(100, time.Minute),
		Devices:         fakeDevices{},
	}))
	reg.Freeze()

	assert.Equal(t, []string{"user_agent", "user_roles", "login_failures", "request_velocity", "known_device"}, reg.EvaluatorTypes())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := adaptive.NewEngine(adaptive.EngineOptions{}, logger)
	require.NoError(t, err)
	m, err := adaptive.NewManager(adaptive.ManagerConfig{
		Evaluators: reg, Providers: reg, Engine: engine, Levels: adaptive.DefaultLevelTable(), Logger: logger,
	})
	require.NoError(t, err)

	state, err := m.Evaluate(context.Background(), a)
	require.NoError(t, err)

	// SMALL agent + MEDIUM role + MEDIUM failures + MEDIUM device
	score, _ := state.Score()
	assert.InDelta(t, 1.8, score, 1e-9)
	level, _ := state.Level()
	assert.Equal(t, "HIGH", level.Name)
}

func TestRegister_OptionalFactors(t *testing.T) {
	reg := adaptive.NewRegistry()
	require.NoError(t, Register(reg, Deps{}))
	assert.Equal(t, []string{"user_agent"}, reg.EvaluatorTypes())
}
