package factors

import (
	"context"
	"fmt"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/domain"
)

// RoleProvider loads the roles of the user behind the attempt.
type RoleProvider struct {
	roles RoleLookup
}

func NewRoleProvider(roles RoleLookup) *RoleProvider {
	return &RoleProvider{roles: roles}
}

func (p *RoleProvider) Name() string { return "user_roles" }

func (p *RoleProvider) Collect(ctx context.Context, a *domain.LoginAttempt) ([]adaptive.ContextValue, error) {
	if !a.KnownUser() {
		return nil, adaptive.ErrContextUnavailable
	}
	roles, err := p.roles.Roles(ctx, a.UserID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	if roles == nil {
		roles = []string{}
	}
	return []adaptive.ContextValue{adaptive.NewValue(ContextUserRoles, roles)}, nil
}

// RoleEvaluator scores users holding any privileged role MEDIUM.
func RoleEvaluator(privileged []string) adaptive.Evaluator {
	set := make(map[string]bool, len(privileged))
	for _, r := range privileged {
		set[r] = true
	}
	return adaptive.NewEvaluatorFunc(string(ContextUserRoles), []adaptive.ContextType{ContextUserRoles},
		func(_ context.Context, cs adaptive.ContextSet) (float64, error) {
			roles, _ := adaptive.Lookup[[]string](cs, ContextUserRoles)
			for _, r := range roles {
				if set[r] {
					return adaptive.RiskMedium, nil
				}
			}
			return adaptive.RiskNone, nil
		})
}
