package adaptive

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Level is a named risk level with an inclusive lower bound on the score.
// Rank orders levels from 0 (lowest) upwards.
type Level struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	Rank      int     `json:"rank"`
}

// AtLeast reports whether l is the same as or above other.
func (l Level) AtLeast(other Level) bool { return l.Rank >= other.Rank }

func (l Level) String() string { return l.Name }

// LevelTable is a validated, immutable threshold table covering [0, +inf).
type LevelTable struct {
	levels []Level
	byName map[string]Level
}

// NewLevelTable validates levels and builds a table. The first level must
// start at 0 and thresholds must be finite and strictly increasing; names
// must be non-empty and unique. Violations wrap ErrInvalidThresholds.
func NewLevelTable(levels ...Level) (*LevelTable, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: no levels", ErrInvalidThresholds)
	}
	t := &LevelTable{
		levels: make([]Level, len(levels)),
		byName: make(map[string]Level, len(levels)),
	}
	for i, l := range levels {
		name := strings.TrimSpace(l.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("%w: level %d has no name", ErrInvalidThresholds, i)
		case math.IsNaN(l.Threshold) || math.IsInf(l.Threshold, 0):
			return nil, fmt.Errorf("%w: level %s threshold %v is not finite", ErrInvalidThresholds, name, l.Threshold)
		case i == 0 && l.Threshold != 0:
			return nil, fmt.Errorf("%w: lowest level %s must start at 0, got %v", ErrInvalidThresholds, name, l.Threshold)
		case i > 0 && l.Threshold <= t.levels[i-1].Threshold:
			return nil, fmt.Errorf("%w: level %s threshold %v is not above %s (%v)",
				ErrInvalidThresholds, name, l.Threshold, t.levels[i-1].Name, t.levels[i-1].Threshold)
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate level %s", ErrInvalidThresholds, name)
		}
		lvl := Level{Name: name, Threshold: l.Threshold, Rank: i}
		t.levels[i] = lvl
		t.byName[name] = lvl
	}
	return t, nil
}

// ParseLevelTable parses "LOW:0,MEDIUM:0.5,HIGH:1.0" in ascending order.
func ParseLevelTable(s string) (*LevelTable, error) {
	var levels []Level
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not NAME:THRESHOLD", ErrInvalidThresholds, part)
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: level %s: %v", ErrInvalidThresholds, name, err)
		}
		levels = append(levels, Level{Name: name, Threshold: threshold})
	}
	return NewLevelTable(levels...)
}

// DefaultLevelTable returns LOW:0, MEDIUM:0.5, HIGH:1.0.
func DefaultLevelTable() *LevelTable {
	t, err := NewLevelTable(
		Level{Name: "LOW", Threshold: 0},
		Level{Name: "MEDIUM", Threshold: RiskMedium},
		Level{Name: "HIGH", Threshold: RiskHigh},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Classify returns the highest level whose threshold is <= score. Negative or
// NaN scores fall into the lowest level.
func (t *LevelTable) Classify(score float64) Level {
	if math.IsNaN(score) || score <= 0 {
		return t.levels[0]
	}
	// first level whose threshold exceeds score, minus one
	i := sort.Search(len(t.levels), func(i int) bool { return t.levels[i].Threshold > score })
	return t.levels[i-1]
}

// Levels returns a copy of the table in ascending order.
func (t *LevelTable) Levels() []Level {
	out := make([]Level, len(t.levels))
	copy(out, t.levels)
	return out
}

// Lowest returns the level starting at 0.
func (t *LevelTable) Lowest() Level { return t.levels[0] }

// Lookup finds a level by name.
func (t *LevelTable) Lookup(name string) (Level, bool) {
	l, ok := t.byName[strings.TrimSpace(name)]
	return l, ok
}

func (t *LevelTable) String() string {
	parts := make([]string, len(t.levels))
	for i, l := range t.levels {
		parts[i] = l.Name + ":" + strconv.FormatFloat(l.Threshold, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
