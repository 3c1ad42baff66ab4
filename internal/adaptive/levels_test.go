package adaptive

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelTable_Classify(t *testing.T) {
	table := DefaultLevelTable()

	tests := []struct {
		name  string
		score float64
		want  string
	}{
		{"zero", 0, "LOW"},
		{"below medium", 0.49, "LOW"},
		{"medium boundary is inclusive", 0.5, "MEDIUM"},
		{"between", 0.8, "MEDIUM"},
		{"high boundary is inclusive", 1.0, "HIGH"},
		{"far above", 42, "HIGH"},
		{"negative", -1, "LOW"},
		{"nan", math.NaN(), "LOW"},
		{"inf", math.Inf(1), "HIGH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Classify(tt.score).Name)
		})
	}
}

func TestLevelTable_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		levels []Level
	}{
		{"empty", nil},
		{"not starting at zero", []Level{{Name: "LOW", Threshold: 0.1}}},
		{"decreasing", []Level{{Name: "LOW", Threshold: 0}, {Name: "MEDIUM", Threshold: 0.4}, {Name: "HIGH", Threshold: 0.3}}},
		{"equal", []Level{{Name: "LOW", Threshold: 0}, {Name: "HIGH", Threshold: 0}}},
		{"infinite", []Level{{Name: "LOW", Threshold: 0}, {Name: "HIGH", Threshold: math.Inf(1)}}},
		{"nan", []Level{{Name: "LOW", Threshold: 0}, {Name: "HIGH", Threshold: math.NaN()}}},
		{"unnamed", []Level{{Name: " ", Threshold: 0}}},
		{"duplicate", []Level{{Name: "LOW", Threshold: 0}, {Name: "LOW", Threshold: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLevelTable(tt.levels...)
			assert.ErrorIs(t, err, ErrInvalidThresholds)
		})
	}
}

func TestParseLevelTable(t *testing.T) {
	table, err := ParseLevelTable("LOW:0, ELEVATED:0.3 ,HIGH:1.5")
	require.NoError(t, err)

	levels := table.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, Level{Name: "ELEVATED", Threshold: 0.3, Rank: 1}, levels[1])
	assert.Equal(t, "LOW:0,ELEVATED:0.3,HIGH:1.5", table.String())

	high, ok := table.Lookup("HIGH")
	require.True(t, ok)
	assert.True(t, high.AtLeast(levels[1]))
	assert.False(t, table.Lowest().AtLeast(high))
}

func TestParseLevelTable_Errors(t *testing.T) {
	for _, raw := range []string{"", "LOW", "LOW:x", "LOW:0,MEDIUM:0.4,HIGH:0.3"} {
		_, err := ParseLevelTable(raw)
		assert.ErrorIs(t, err, ErrInvalidThresholds, raw)
	}
}

func TestLevelTable_LevelsIsCopy(t *testing.T) {
	table := DefaultLevelTable()
	levels := table.Levels()
	levels[0].Name = "mutated"
	assert.Equal(t, "LOW", table.Lowest().Name)
}
