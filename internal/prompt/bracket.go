// Package prompt implements the SYNAPSE prompt-layer pipeline: bracket
// computation from conversation depth, bounded-concurrency layer
// loading, and final rule-block assembly under a token budget.
package prompt

import "math"

// Bracket classifies remaining context budget into one of four bands.
type Bracket string

const (
	BracketFresh    Bracket = "FRESH"
	BracketModerate Bracket = "MODERATE"
	BracketDepleted Bracket = "DEPLETED"
	BracketCritical Bracket = "CRITICAL"
)

// Layer names the eight priority-ordered rule layers.
type Layer string

const (
	LayerConstitution Layer = "constitution"
	LayerGlobal       Layer = "global"
	LayerAgent        Layer = "agent"
	LayerWorkflow     Layer = "workflow"
	LayerTask         Layer = "task"
	LayerSquad        Layer = "squad"
	LayerKeyword      Layer = "keyword"
	LayerStarCommand  Layer = "star-command"
)

// activeLayers is the fixed bracket-to-layer-set mapping spec.md §4.9
// requires implementers to adopt verbatim.
var activeLayers = map[Bracket][]Layer{
	BracketFresh: {LayerConstitution, LayerGlobal, LayerAgent, LayerStarCommand},
	BracketModerate: {
		LayerConstitution, LayerGlobal, LayerAgent, LayerWorkflow,
		LayerTask, LayerSquad, LayerKeyword, LayerStarCommand,
	},
	BracketDepleted: {
		LayerConstitution, LayerGlobal, LayerAgent, LayerWorkflow,
		LayerTask, LayerSquad, LayerKeyword, LayerStarCommand,
	},
	BracketCritical: {LayerConstitution, LayerAgent},
}

// ActiveLayers returns the layers that should run for a given bracket.
func ActiveLayers(b Bracket) []Layer {
	return append([]Layer(nil), activeLayers[b]...)
}

// AllowsMemoryHints reports whether a bracket permits the memory-hints
// section (only DEPLETED does, per spec §4.9).
func AllowsMemoryHints(b Bracket) bool {
	return b == BracketDepleted
}

// EstimateContextPercent is a monotone-decreasing function of prompt
// count yielding 0-100 (spec §4.9, §8 "bracket monotonicity"). The
// curve halves remaining budget every 20 prompts, which is steep
// enough to reach CRITICAL within a typical long session without
// collapsing to zero on the first few turns. Implementation-defined
// per spec; this is the decision recorded for this repo.
func EstimateContextPercent(promptCount int) int {
	if promptCount <= 0 {
		return 100
	}
	const halfLife = 20.0
	remaining := 100.0 * math.Pow(2, -float64(promptCount)/halfLife)
	pct := int(remaining)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// CalculateBracket maps a 0-100 percent into one of the four bands
// (spec §4.9).
func CalculateBracket(percent int) Bracket {
	switch {
	case percent >= 70:
		return BracketFresh
	case percent >= 40:
		return BracketModerate
	case percent >= 15:
		return BracketDepleted
	default:
		return BracketCritical
	}
}
