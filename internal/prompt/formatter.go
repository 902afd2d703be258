package prompt

import (
	"fmt"
	"strings"

	"github.com/synapse-ids/ids/internal/logging"
)

// Section names the eleven canonical output sections, in emission
// order (spec §4.10).
type Section string

const (
	SectionContextBracket Section = "CONTEXT_BRACKET"
	SectionConstitution   Section = "CONSTITUTION"
	SectionAgent          Section = "AGENT"
	SectionWorkflow       Section = "WORKFLOW"
	SectionTask           Section = "TASK"
	SectionSquad          Section = "SQUAD"
	SectionKeyword        Section = "KEYWORD"
	SectionMemoryHints    Section = "MEMORY_HINTS"
	SectionStarCommands   Section = "STAR_COMMANDS"
	SectionDevmode        Section = "DEVMODE"
	SectionSummary        Section = "SUMMARY"
)

// canonicalOrder is the fixed section order the formatter must honor.
var canonicalOrder = []Section{
	SectionContextBracket, SectionConstitution, SectionAgent, SectionWorkflow,
	SectionTask, SectionSquad, SectionKeyword, SectionMemoryHints,
	SectionStarCommands, SectionDevmode, SectionSummary,
}

// protectedSections are never dropped under budget pressure.
var protectedSections = map[Section]bool{
	SectionContextBracket: true,
	SectionConstitution:   true,
	SectionAgent:          true,
}

// dropOrder is the order sections are removed in when over budget
// (spec §4.10), least to most essential.
var dropOrder = []Section{
	SectionSummary, SectionKeyword, SectionMemoryHints, SectionSquad,
	SectionStarCommands, SectionDevmode, SectionTask, SectionWorkflow,
}

// FormatInput carries everything the formatter needs to assemble one
// rule block.
type FormatInput struct {
	Bracket        Bracket
	Percent        int
	SessionID      string
	LayerResults   []LayerResult
	StarCommands   string
	MemoryHints    string
	Devmode        bool
	DevmodeMetrics map[string]interface{}
	Warning        string
	Budget         int
}

// layerToSection maps a pipeline Layer to its output Section.
var layerToSection = map[Layer]Section{
	LayerConstitution: SectionConstitution,
	LayerGlobal:       SectionAgent,
	LayerAgent:        SectionAgent,
	LayerWorkflow:     SectionWorkflow,
	LayerTask:         SectionTask,
	LayerSquad:        SectionSquad,
	LayerKeyword:      SectionKeyword,
	LayerStarCommand:  SectionStarCommands,
}

// FormatSynapseRules assembles the final `<synapse-rules>` block:
// canonical section order, protected sections, word-count token
// budgeting with the documented drop order (spec §4.10). Grounded on
// the reference codebase's TokenCounter (internal/context/tokens.go),
// generalized from a characters-per-token heuristic over Mangle facts
// to a word-count heuristic over rendered prose, per spec's explicit
// allowance that "word-count heuristic is acceptable".
func FormatSynapseRules(in FormatInput) string {
	content := buildSectionContent(in)

	if in.Budget > 0 {
		dropUntilWithinBudget(content, in.Budget)
	}

	var b strings.Builder
	b.WriteString("<synapse-rules>\n")
	for _, section := range canonicalOrder {
		if text, ok := content[section]; ok && text != "" {
			fmt.Fprintf(&b, "<%s>\n%s\n</%s>\n", section, text, section)
		}
	}
	b.WriteString("</synapse-rules>")

	logging.FormatterDebug("rendered synapse-rules: %d sections, ~%d tokens", len(content), EstimateTokens(b.String()))
	return b.String()
}

func buildSectionContent(in FormatInput) map[Section]string {
	content := make(map[Section]string)

	content[SectionContextBracket] = fmt.Sprintf("bracket=%s percent=%d", in.Bracket, in.Percent)

	for _, res := range in.LayerResults {
		if res.Status != StatusOK || res.Rules == "" {
			continue
		}
		section, ok := layerToSection[res.Layer]
		if !ok {
			continue
		}
		if existing, present := content[section]; present {
			content[section] = existing + "\n" + res.Rules
		} else {
			content[section] = res.Rules
		}
	}

	if AllowsMemoryHints(in.Bracket) && in.MemoryHints != "" {
		content[SectionMemoryHints] = in.MemoryHints
	}
	if in.StarCommands != "" {
		content[SectionStarCommands] = in.StarCommands
	}
	if in.Devmode {
		content[SectionDevmode] = formatMetrics(in.DevmodeMetrics)
	}
	if len(content) > 0 {
		content[SectionSummary] = buildSummary(in)
	}

	return content
}

func buildSummary(in FormatInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "bracket=%s percent=%d", in.Bracket, in.Percent)
	if in.Warning != "" {
		fmt.Fprintf(&b, " warning=%q", in.Warning)
	}
	return b.String()
}

func formatMetrics(metrics map[string]interface{}) string {
	if len(metrics) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range metrics {
		fmt.Fprintf(&b, "%s=%v\n", k, v)
	}
	return strings.TrimRight(b.String(), "\n")
}

// dropUntilWithinBudget mutates content in place, removing droppable
// sections in dropOrder until the rendered estimate fits budget or
// only protected sections remain.
func dropUntilWithinBudget(content map[Section]string, budget int) {
	for estimateTotal(content) > budget {
		dropped := false
		for _, section := range dropOrder {
			if _, present := content[section]; present {
				delete(content, section)
				dropped = true
				break
			}
		}
		if !dropped {
			return
		}
	}
}

func estimateTotal(content map[Section]string) int {
	total := 0
	for _, text := range content {
		total += EstimateTokens(text)
	}
	return total
}

// EstimateTokens is the word-count token heuristic: roughly 1.3 tokens
// per whitespace-delimited word, which tracks common subword
// tokenizers closely enough for budget enforcement.
func EstimateTokens(text string) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	return (len(words)*13 + 5) / 10
}
