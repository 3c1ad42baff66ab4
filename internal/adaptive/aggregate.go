package adaptive

import (
	"fmt"
	"strings"
)

// Contribution is one evaluator's effective value as seen by an Aggregator.
type Contribution struct {
	Evaluator string
	Value     float64
	Weight    float64
}

// Aggregator folds the contributions of one attempt into a single score.
// Implementations receive every evaluator of the attempt, including failed
// ones at their substituted value, and must return a non-negative result for
// non-negative inputs.
type Aggregator interface {
	Name() string
	Aggregate(contributions []Contribution) float64
}

// Aggregation strategy names accepted by NewAggregator.
const (
	AggregationSum             = "sum"
	AggregationWeightedSum     = "weighted_sum"
	AggregationWeightedAverage = "weighted_average"
	AggregationMax             = "max"
)

// NewAggregator returns the strategy registered under name.
func NewAggregator(name string) (Aggregator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", AggregationSum:
		return SumAggregator{}, nil
	case AggregationWeightedSum:
		return WeightedSumAggregator{}, nil
	case AggregationWeightedAverage:
		return WeightedAverageAggregator{}, nil
	case AggregationMax:
		return MaxAggregator{}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation strategy %q", name)
	}
}

// SumAggregator adds contributions and ignores weights.
type SumAggregator struct{}

func (SumAggregator) Name() string { return AggregationSum }

func (SumAggregator) Aggregate(cs []Contribution) float64 {
	var total float64
	for _, c := range cs {
		total += c.Value
	}
	return total
}

// WeightedSumAggregator adds value*weight.
type WeightedSumAggregator struct{}

func (WeightedSumAggregator) Name() string { return AggregationWeightedSum }

func (WeightedSumAggregator) Aggregate(cs []Contribution) float64 {
	var total float64
	for _, c := range cs {
		total += c.Value * c.Weight
	}
	return total
}

// WeightedAverageAggregator divides the weighted sum by the total weight.
// With no weight at all the score is zero.
type WeightedAverageAggregator struct{}

func (WeightedAverageAggregator) Name() string { return AggregationWeightedAverage }

func (WeightedAverageAggregator) Aggregate(cs []Contribution) float64 {
	var total, weights float64
	for _, c := range cs {
		total += c.Value * c.Weight
		weights += c.Weight
	}
	if weights <= 0 {
		return 0
	}
	return total / weights
}

// MaxAggregator takes the largest weighted contribution.
type MaxAggregator struct{}

func (MaxAggregator) Name() string { return AggregationMax }

func (MaxAggregator) Aggregate(cs []Contribution) float64 {
	var highest float64
	for _, c := range cs {
		if v := c.Value * c.Weight; v > highest {
			highest = v
		}
	}
	return highest
}
