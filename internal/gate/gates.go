package gate

import (
	"context"
	"fmt"
	"sort"

	"github.com/synapse-ids/ids/internal/decision"
)

// Opportunity is one entry in G1/G2's opportunities list.
type Opportunity struct {
	Entity         string  `json:"entity"`
	Relevance      float64 `json:"relevance"`
	Recommendation string  `json:"recommendation"`
	Reason         string  `json:"reason"`
}

// epicGate is G1: advisory check run before epic creation, querying
// the Decision Engine by the epic's full intent text.
type epicGate struct {
	engine *decision.Engine
}

// NewEpicGate builds G1.
func NewEpicGate(engine *decision.Engine) Verifier {
	return &epicGate{engine: engine}
}

func (g *epicGate) Name() string        { return "G1" }
func (g *epicGate) DisplayName() string { return "epic-creation" }
func (g *epicGate) Blocking() bool      { return false }

func (g *epicGate) DoVerify(ctx context.Context, input map[string]interface{}) (Result, error) {
	intent, _ := input["intent"].(string)
	if intent == "" {
		return Result{}, fmt.Errorf("G1 requires an intent")
	}

	result := g.engine.Analyze(intent, decision.Context{})
	opportunities := toOpportunities(result.Recommendations)

	return Result{
		Passed: true,
		Data: map[string]interface{}{
			"opportunities": opportunities,
			"decision":      result.Summary.Decision,
		},
	}, nil
}

// storyGate is G2: advisory check run before story creation, querying
// the Decision Engine twice (task-typed, template-typed candidates)
// and merging by relevance.
type storyGate struct {
	engine *decision.Engine
}

// NewStoryGate builds G2.
func NewStoryGate(engine *decision.Engine) Verifier {
	return &storyGate{engine: engine}
}

func (g *storyGate) Name() string        { return "G2" }
func (g *storyGate) DisplayName() string { return "story-creation" }
func (g *storyGate) Blocking() bool      { return false }

func (g *storyGate) DoVerify(ctx context.Context, input map[string]interface{}) (Result, error) {
	intent, _ := input["intent"].(string)
	criteria, _ := input["acceptanceCriteria"].(string)
	if intent == "" {
		return Result{}, fmt.Errorf("G2 requires an intent")
	}

	enriched := intent
	if criteria != "" {
		enriched = intent + " " + criteria
	}

	taskResult := g.engine.Analyze(enriched, decision.Context{Type: "task"})
	templateResult := g.engine.Analyze(enriched, decision.Context{Type: "template"})

	merged := append(append([]decision.Recommendation{}, taskResult.Recommendations...), templateResult.Recommendations...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].RelevanceScore > merged[j].RelevanceScore })

	return Result{
		Passed: true,
		Data: map[string]interface{}{
			"opportunities": toOpportunities(merged),
		},
	}, nil
}

// checklistGate is G3: advisory check run before checklist creation.
type checklistGate struct {
	engine *decision.Engine
}

// NewChecklistGate builds G3.
func NewChecklistGate(engine *decision.Engine) Verifier {
	return &checklistGate{engine: engine}
}

func (g *checklistGate) Name() string        { return "G3" }
func (g *checklistGate) DisplayName() string { return "checklist-creation" }
func (g *checklistGate) Blocking() bool      { return false }

func (g *checklistGate) DoVerify(ctx context.Context, input map[string]interface{}) (Result, error) {
	intent, _ := input["intent"].(string)
	if intent == "" {
		return Result{}, fmt.Errorf("G3 requires an intent")
	}
	result := g.engine.Analyze(intent, decision.Context{Category: "checklists"})
	return Result{
		Passed: true,
		Data: map[string]interface{}{
			"opportunities": toOpportunities(result.Recommendations),
		},
	}, nil
}

// agentGate is G4: advisory check run before agent/module creation.
type agentGate struct {
	engine *decision.Engine
}

// NewAgentGate builds G4.
func NewAgentGate(engine *decision.Engine) Verifier {
	return &agentGate{engine: engine}
}

func (g *agentGate) Name() string        { return "G4" }
func (g *agentGate) DisplayName() string { return "agent-creation" }
func (g *agentGate) Blocking() bool      { return false }

func (g *agentGate) DoVerify(ctx context.Context, input map[string]interface{}) (Result, error) {
	intent, _ := input["intent"].(string)
	if intent == "" {
		return Result{}, fmt.Errorf("G4 requires an intent")
	}
	result := g.engine.Analyze(intent, decision.Context{Category: "agents"})
	return Result{
		Passed: true,
		Data: map[string]interface{}{
			"opportunities": toOpportunities(result.Recommendations),
			"justification": result.Justification,
		},
	}, nil
}

func toOpportunities(recs []decision.Recommendation) []Opportunity {
	out := make([]Opportunity, 0, len(recs))
	for _, r := range recs {
		out = append(out, Opportunity{
			Entity:         r.EntityID,
			Relevance:      r.RelevanceScore,
			Recommendation: string(r.Decision),
			Reason:         r.Rationale,
		})
	}
	return out
}
