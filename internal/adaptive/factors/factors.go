// Package factors holds the bundled context providers and risk evaluators.
//
// Each factor pairs one provider with one evaluator sharing a context tag:
// the provider does the I/O, the evaluator is a pure function of the value.
package factors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/guard"
	"github.com/google/uuid"
)

// Context tags produced by the bundled providers.
const (
	ContextUserAgent       adaptive.ContextType = "user_agent"
	ContextUserRoles       adaptive.ContextType = "user_roles"
	ContextLoginFailures   adaptive.ContextType = "login_failures"
	ContextRequestVelocity adaptive.ContextType = "request_velocity"
	ContextKnownDevice     adaptive.ContextType = "known_device"
)

// RoleLookup loads a user's roles.
type RoleLookup interface {
	Roles(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// FailureCounter counts recent failed logins.
type FailureCounter interface {
	CountFailures(ctx context.Context, email, realm string, since time.Time) (int, error)
}

// DeviceLookup reports whether a device is known for a user.
type DeviceLookup interface {
	IsKnown(ctx context.Context, userID uuid.UUID, deviceID string) (bool, error)
}

// Deps are the collaborators of the bundled factors. A nil store leaves its
// factor unregistered.
type Deps struct {
	Roles           RoleLookup
	PrivilegedRoles []string
	Failures        FailureCounter
	FailureWindow   time.Duration
	Velocity        *guard.SlidingWindow
	Devices         DeviceLookup
}

// Register adds every factor whose dependency is present.
func Register(reg *adaptive.Registry, deps Deps) error {
	var errs []error
	add := func(p adaptive.ContextProvider, e adaptive.Evaluator) {
		errs = append(errs, reg.RegisterProvider(p), reg.RegisterEvaluator(e))
	}

	add(UserAgentProvider{}, UserAgentEvaluator())
	if deps.Roles != nil {
		add(NewRoleProvider(deps.Roles), RoleEvaluator(deps.PrivilegedRoles))
	}
	if deps.Failures != nil {
		add(NewFailureProvider(deps.Failures, deps.FailureWindow), FailureEvaluator())
	}
	if deps.Velocity != nil {
		add(NewVelocityProvider(deps.Velocity), VelocityEvaluator())
	}
	if deps.Devices != nil {
		add(NewDeviceProvider(deps.Devices), DeviceEvaluator())
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("register risk factors: %w", err)
	}
	return nil
}
