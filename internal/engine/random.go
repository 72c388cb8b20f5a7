package engine

import "github.com/flowbot-app/flowbot/internal/flow"

// pickUniform draws one of count outcomes with exactly equal probability.
// Count is clamped to [2, 10]. The returned index may exceed the authored
// outcome list; callers treat that as a dead-end branch.
func pickUniform(r RandomSource, count int) int {
	if count < 2 {
		count = 2
	}
	if count > 10 {
		count = 10
	}

	return int(r.Float64() * float64(count))
}

// pickWeighted selects an outcome proportionally to its raw weight. Weights
// need not sum to 100. A non-positive total yields no selection (-1): the
// caller terminates the chain instead of crashing.
func pickWeighted(r RandomSource, outcomes []flow.Outcome) int {
	var total float64
	for _, outcome := range outcomes {
		if outcome.Weight > 0 {
			total += outcome.Weight
		}
	}

	if total <= 0 {
		return -1
	}

	draw := r.Float64() * total
	for i, outcome := range outcomes {
		if outcome.Weight <= 0 {
			continue
		}
		draw -= outcome.Weight
		if draw <= 0 {
			return i
		}
	}

	// Floating-point residue: fall back to the last weighted outcome.
	for i := len(outcomes) - 1; i >= 0; i-- {
		if outcomes[i].Weight > 0 {
			return i
		}
	}

	return -1
}
