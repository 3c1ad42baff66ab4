package factors

import (
	"context"
	"strings"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
	"github.com/attaboy/adaptiveauth/internal/domain"
)

// KnownAgents are the browser families treated as ordinary clients.
var KnownAgents = []string{"Mozilla", "Chrome", "Safari"}

// automatedMarkers identify crawlers and headless clients that borrow a
// browser's product token. Matched case-insensitively.
var automatedMarkers = []string{"bot/", "bot;", "crawler", "spider", "headless", "+http"}

// UserAgent is the request's User-Agent and the known family it matched.
type UserAgent struct {
	Raw    string
	Family string // empty when no known family matched
}

// Known reports whether the agent matched a known browser family.
func (u UserAgent) Known() bool { return u.Family != "" }

// ParseUserAgent matches raw against KnownAgents. Agents carrying an
// automated marker never match a family.
func ParseUserAgent(raw string) UserAgent {
	ua := UserAgent{Raw: raw}
	lower := strings.ToLower(raw)
	for _, marker := range automatedMarkers {
		if strings.Contains(lower, marker) {
			return ua
		}
	}
	for _, family := range KnownAgents {
		if strings.Contains(raw, family) {
			ua.Family = family
			break
		}
	}
	return ua
}

// UserAgentProvider reads the User-Agent header captured on the attempt.
type UserAgentProvider struct{}

func (UserAgentProvider) Name() string { return "header_user_agent" }

func (UserAgentProvider) Collect(_ context.Context, a *domain.LoginAttempt) ([]adaptive.ContextValue, error) {
	raw := strings.TrimSpace(a.UserAgent)
	if raw == "" {
		return nil, adaptive.ErrContextUnavailable
	}
	return []adaptive.ContextValue{adaptive.NewValue(ContextUserAgent, ParseUserAgent(raw))}, nil
}

// UserAgentEvaluator scores known browser families NONE and anything else SMALL.
func UserAgentEvaluator() adaptive.Evaluator {
	return adaptive.NewEvaluatorFunc(string(ContextUserAgent), []adaptive.ContextType{ContextUserAgent},
		func(_ context.Context, set adaptive.ContextSet) (float64, error) {
			ua, ok := adaptive.Lookup[UserAgent](set, ContextUserAgent)
			if !ok {
				return adaptive.RiskNone, nil
			}
			if ua.Known() {
				return adaptive.RiskNone, nil
			}
			return adaptive.RiskSmall, nil
		})
}
