package factors

import (
	"context"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/domain"
	"github.com/attaboy/adaptiveauth/internal/guard"
)

// VelocityProvider counts login attempts per client IP in a sliding window.
// Every collected attempt is counted, so the value includes the current one.
type VelocityProvider struct {
	window *guard.SlidingWindow
}

func NewVelocityProvider(window *guard.SlidingWindow) *VelocityProvider {
	return &VelocityProvider{window: window}
}

func (p *VelocityProvider) Name() string { return "request_velocity" }

func (p *VelocityProvider) Collect(_ context.Context, a *domain.LoginAttempt) ([]adaptive.ContextValue, error) {
	if a.IPAddress == "" {
		return nil, adaptive.ErrContextUnavailable
	}
	n := p.window.Observe("ip:" + a.IPAddress)
	return []adaptive.ContextValue{adaptive.NewValue(ContextRequestVelocity, n)}, nil
}

// VelocityEvaluator: more than 30 attempts in the window is MEDIUM, more than 10 SMALL.
func VelocityEvaluator() adaptive.Evaluator {
	return adaptive.NewEvaluatorFunc(string(ContextRequestVelocity), []adaptive.ContextType{ContextRequestVelocity},
		func(_ context.Context, cs adaptive.ContextSet) (float64, error) {
			n, _ := adaptive.Lookup[int](cs, ContextRequestVelocity)
			switch {
			case n > 30:
				return adaptive.RiskMedium, nil
			case n > 10:
				return adaptive.RiskSmall, nil
			default:
				return adaptive.RiskNone, nil
			}
		})
}
