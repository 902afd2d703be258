package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSynapseRules_EmitsSectionsInCanonicalOrder(t *testing.T) {
	in := FormatInput{
		Bracket:   BracketModerate,
		Percent:   55,
		SessionID: "sess-1",
		LayerResults: []LayerResult{
			{Layer: LayerConstitution, Rules: "constitution text", Status: StatusOK},
			{Layer: LayerWorkflow, Rules: "workflow text", Status: StatusOK},
			{Layer: LayerTask, Rules: "task text", Status: StatusOK},
		},
		StarCommands: "/plan /build",
	}
	out := FormatSynapseRules(in)

	require.True(t, strings.HasPrefix(out, "<synapse-rules>\n"))
	require.True(t, strings.HasSuffix(out, "</synapse-rules>"))

	idxConstitution := strings.Index(out, "<CONSTITUTION>")
	idxWorkflow := strings.Index(out, "<WORKFLOW>")
	idxTask := strings.Index(out, "<TASK>")
	idxStar := strings.Index(out, "<STAR_COMMANDS>")
	idxSummary := strings.Index(out, "<SUMMARY>")

	assert.True(t, idxConstitution < idxWorkflow)
	assert.True(t, idxWorkflow < idxTask)
	assert.True(t, idxTask < idxStar)
	assert.True(t, idxStar < idxSummary)
}

func TestFormatSynapseRules_SkipsErroredAndEmptyLayers(t *testing.T) {
	in := FormatInput{
		Bracket: BracketFresh,
		Percent: 90,
		LayerResults: []LayerResult{
			{Layer: LayerAgent, Rules: "", Status: StatusOK},
			{Layer: LayerConstitution, Rules: "kept", Status: StatusOK},
			{Layer: LayerGlobal, Rules: "would have shown", Status: StatusError},
		},
	}
	out := FormatSynapseRules(in)
	assert.NotContains(t, out, "would have shown")
	assert.Contains(t, out, "kept")
}

func TestFormatSynapseRules_MemoryHintsOnlyUnderDepleted(t *testing.T) {
	base := FormatInput{Percent: 20, MemoryHints: "recall prior decisions"}

	base.Bracket = BracketDepleted
	assert.Contains(t, FormatSynapseRules(base), "MEMORY_HINTS")

	base.Bracket = BracketModerate
	assert.NotContains(t, FormatSynapseRules(base), "MEMORY_HINTS")
}

// TestFormatSynapseRules_DropsLeastEssentialSectionsFirst covers
// scenario 6: under a tight token budget, sections are dropped in the
// documented order while the three protected sections always survive.
func TestFormatSynapseRules_DropsLeastEssentialSectionsFirst(t *testing.T) {
	in := FormatInput{
		Bracket: BracketModerate,
		Percent: 55,
		LayerResults: []LayerResult{
			{Layer: LayerConstitution, Rules: "must survive constitution text", Status: StatusOK},
			{Layer: LayerAgent, Rules: "must survive agent text", Status: StatusOK},
			{Layer: LayerWorkflow, Rules: strings.Repeat("workflow word ", 50), Status: StatusOK},
			{Layer: LayerTask, Rules: strings.Repeat("task word ", 50), Status: StatusOK},
			{Layer: LayerSquad, Rules: strings.Repeat("squad word ", 50), Status: StatusOK},
			{Layer: LayerKeyword, Rules: strings.Repeat("keyword word ", 50), Status: StatusOK},
		},
		StarCommands: strings.Repeat("star ", 50),
		Budget:       5,
	}
	out := FormatSynapseRules(in)

	assert.Contains(t, out, "CONTEXT_BRACKET")
	assert.Contains(t, out, "must survive constitution text")
	assert.Contains(t, out, "must survive agent text")
	assert.NotContains(t, out, "keyword word")
	assert.NotContains(t, out, "squad word")
}

func TestFormatSynapseRules_NeverDropsProtectedSectionsEvenUnderExtremeBudget(t *testing.T) {
	in := FormatInput{
		Bracket: BracketFresh,
		Percent: 90,
		LayerResults: []LayerResult{
			{Layer: LayerConstitution, Rules: strings.Repeat("constitution ", 200), Status: StatusOK},
			{Layer: LayerAgent, Rules: strings.Repeat("agent ", 200), Status: StatusOK},
		},
		Budget: 1,
	}
	out := FormatSynapseRules(in)
	assert.Contains(t, out, "CONSTITUTION")
	assert.Contains(t, out, "AGENT")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("one"))
	assert.Greater(t, EstimateTokens("one two three four"), 4)
}
