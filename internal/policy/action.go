package policy

import (
	"fmt"
	"strings"

	"github.com/attaboy/adaptiveauth/internal/adaptive"
)

// Action is what the login flow does with an evaluated attempt.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionChallenge Action = "challenge"
	ActionDeny      Action = "deny"
)

// ParseAction parses allow, challenge or deny.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAllow, ActionChallenge, ActionDeny:
		return a, nil
	default:
		return "", fmt.Errorf("unknown login action %q", s)
	}
}

// ActionPolicy maps risk levels to login actions. Every level of the table
// must be mapped, and actions may not get more permissive as risk rises.
type ActionPolicy struct {
	byLevel map[string]Action
	levels  *adaptive.LevelTable
	timeout Action
}

// ActionRule pairs a level name with its action.
type ActionRule struct {
	Level  string `json:"level"`
	Action Action `json:"action"`
}

// NewActionPolicy validates rules against the level table.
func NewActionPolicy(levels *adaptive.LevelTable, rules []ActionRule, timeout Action) (*ActionPolicy, error) {
	p := &ActionPolicy{byLevel: make(map[string]Action, len(rules)), levels: levels, timeout: timeout}
	for _, r := range rules {
		if _, ok := levels.Lookup(r.Level); !ok {
			return nil, fmt.Errorf("action for unknown risk level %q", r.Level)
		}
		if _, err := ParseAction(string(r.Action)); err != nil {
			return nil, err
		}
		p.byLevel[r.Level] = r.Action
	}
	prev := ActionAllow
	for _, l := range levels.Levels() {
		a, ok := p.byLevel[l.Name]
		if !ok {
			return nil, fmt.Errorf("no action configured for risk level %s", l.Name)
		}
		if severity(a) < severity(prev) {
			return nil, fmt.Errorf("action %s for level %s is weaker than %s for a lower level", a, l.Name, prev)
		}
		prev = a
	}
	if _, err := ParseAction(string(timeout)); err != nil {
		return nil, fmt.Errorf("timeout action: %w", err)
	}
	return p, nil
}

// ParseActionPolicy parses "LOW:allow,MEDIUM:challenge,HIGH:deny".
func ParseActionPolicy(levels *adaptive.LevelTable, raw, timeout string) (*ActionPolicy, error) {
	var rules []ActionRule
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, action, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%q is not LEVEL:ACTION", part)
		}
		a, err := ParseAction(action)
		if err != nil {
			return nil, err
		}
		rules = append(rules, ActionRule{Level: strings.TrimSpace(name), Action: a})
	}
	t, err := ParseAction(timeout)
	if err != nil {
		return nil, fmt.Errorf("timeout action: %w", err)
	}
	return NewActionPolicy(levels, rules, t)
}

// Decide returns the action for an evaluated level.
func (p *ActionPolicy) Decide(level adaptive.Level) Action {
	if a, ok := p.byLevel[level.Name]; ok {
		return a
	}
	return ActionDeny
}

// TimeoutAction is applied when risk evaluation could not complete.
func (p *ActionPolicy) TimeoutAction() Action { return p.timeout }

// Rules returns the mapping in level order.
func (p *ActionPolicy) Rules() []ActionRule {
	levels := p.levels.Levels()
	rules := make([]ActionRule, len(levels))
	for i, l := range levels {
		rules[i] = ActionRule{Level: l.Name, Action: p.byLevel[l.Name]}
	}
	return rules
}

func severity(a Action) int {
	switch a {
	case ActionAllow:
		return 0
	case ActionChallenge:
		return 1
	default:
		return 2
	}
}
