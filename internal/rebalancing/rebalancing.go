// Package rebalancing compares a current allocation with a target one.
package rebalancing

import (
	"math"
	"sort"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
)

const (
	DefaultThreshold = 5.0
	MinThreshold     = 1.0
	MaxThreshold     = 20.0
)

// ComputeDrift returns one record per category present in either map,
// sorted by absolute drift descending. A category missing from one side
// counts as 0 there.
func ComputeDrift(current, target map[string]float64) []model.CategoryDrift {
	categories := make([]string, 0, len(current)+len(target))
	seen := make(map[string]struct{}, len(current)+len(target))
	for _, m := range []map[string]float64{current, target} {
		for category := range m {
			if _, ok := seen[category]; ok {
				continue
			}
			seen[category] = struct{}{}
			categories = append(categories, category)
		}
	}
	// map iteration is random, sort by name so ties stay deterministic
	sort.Strings(categories)

	drifts := make([]model.CategoryDrift, 0, len(categories))
	for _, category := range categories {
		cur := current[category]
		tgt := target[category]
		drift := cur - tgt
		drifts = append(drifts, model.CategoryDrift{
			Category: category,
			Current:  cur,
			Target:   tgt,
			Drift:    drift,
			AbsDrift: math.Abs(drift),
		})
	}

	sort.SliceStable(drifts, func(i, j int) bool {
		return drifts[i].AbsDrift > drifts[j].AbsDrift
	})

	return drifts
}

func ClassifyStatus(maxDrift, threshold float64) model.RebalanceStatus {
	switch {
	case maxDrift < threshold:
		return model.StatusInBalance
	case maxDrift < 2*threshold:
		return model.StatusMonitor
	default:
		return model.StatusRebalance
	}
}

func ComputeRebalancingStatus(current, target map[string]float64, threshold float64) model.RebalancingStatus {
	drifts := ComputeDrift(current, target)

	maxDrift := 0.0
	if len(drifts) > 0 {
		maxDrift = drifts[0].AbsDrift
	}

	return model.RebalancingStatus{
		Status:    ClassifyStatus(maxDrift, threshold),
		MaxDrift:  maxDrift,
		Threshold: threshold,
		Drifts:    drifts,
	}
}

// ClampThreshold keeps a user supplied threshold inside [MinThreshold, MaxThreshold].
func ClampThreshold(threshold float64) float64 {
	if math.IsNaN(threshold) {
		return DefaultThreshold
	}
	return math.Min(MaxThreshold, math.Max(MinThreshold, threshold))
}

// ComputeValueGaps returns, per category, the amount to buy (negative: sell)
// to bring the category back to its target at the given total value.
func ComputeValueGaps(drifts []model.CategoryDrift, totalValue float64) map[string]float64 {
	gaps := make(map[string]float64, len(drifts))
	for _, d := range drifts {
		gaps[d.Category] = -d.Drift / 100 * totalValue
	}
	return gaps
}
