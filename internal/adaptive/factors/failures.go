package factors

import (
	"context"
	"fmt"
	"time"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/guard"
)

// FailureProvider counts failed logins for the attempt's email in the window.
type FailureProvider struct {
	failures FailureCounter
	window   time.Duration
}

// NewFailureProvider defaults the window to the lockout window.
func NewFailureProvider(failures FailureCounter, window time.Duration) *FailureProvider {
	if window <= 0 {
		window = guard.LockoutWindow
	}
	return &FailureProvider{failures: failures, window: window}
}

func (p *FailureProvider) Name() string { return "login_failures" }

func (p *FailureProvider) Collect(ctx context.Context, a *domain.LoginAttempt) ([]adaptive.ContextValue, error) {
	if a.Email == "" {
		return nil, adaptive.ErrContextUnavailable
	}
	n, err := p.failures.CountFailures(ctx, a.Email, a.Realm, a.StartedAt.Add(-p.window))
	if err != nil {
		return nil, fmt.Errorf("count failures: %w", err)
	}
	return []adaptive.ContextValue{adaptive.NewValue(ContextLoginFailures, n)}, nil
}

// FailureEvaluator: more than 5 recent failures is HIGH, more than 2 MEDIUM.
func FailureEvaluator() adaptive.Evaluator {
	return adaptive.NewEvaluatorFunc(string(ContextLoginFailures), []adaptive.ContextType{ContextLoginFailures},
		func(_ context.Context, cs adaptive.ContextSet) (float64, error) {
			n, _ := adaptive.Lookup[int](cs, ContextLoginFailures)
			switch {
			case n > 5:
				return adaptive.RiskHigh, nil
			case n > 2:
				return adaptive.RiskMedium, nil
			default:
				return adaptive.RiskNone, nil
			}
		})
}
