package factors

import (
	"context"
	"fmt"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/domain"
)

// DeviceProvider checks the client-supplied device ID against the user's
// known devices.
type DeviceProvider struct {
	devices DeviceLookup
}

func NewDeviceProvider(devices DeviceLookup) *DeviceProvider {
	return &DeviceProvider{devices: devices}
}

func (p *DeviceProvider) Name() string { return "known_device" }

func (p *DeviceProvider) Collect(ctx context.Context, a *domain.LoginAttempt) ([]adaptive.ContextValue, error) {
	if !a.KnownUser() || a.DeviceID == "" {
		return nil, adaptive.ErrContextUnavailable
	}
	known, err := p.devices.IsKnown(ctx, a.UserID, a.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("lookup device: %w", err)
	}
	return []adaptive.ContextValue{adaptive.NewValue(ContextKnownDevice, known)}, nil
}

// DeviceEvaluator scores an unknown device MEDIUM.
func DeviceEvaluator() adaptive.Evaluator {
	return adaptive.NewEvaluatorFunc(string(ContextKnownDevice), []adaptive.ContextType{ContextKnownDevice},
		func(_ context.Context, cs adaptive.ContextSet) (float64, error) {
			known, ok := adaptive.Lookup[bool](cs, ContextKnownDevice)
			if !ok || known {
				return adaptive.RiskNone, nil
			}
			return adaptive.RiskMedium, nil
		})
}
