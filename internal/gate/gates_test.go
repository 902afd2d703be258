package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapse-ids/ids/internal/config"
	"github.com/synapse-ids/ids/internal/decision"
	"github.com/synapse-ids/ids/internal/registry"
)

type fakeSnapshotter struct{ doc *registry.Document }

func (f *fakeSnapshotter) Snapshot() *registry.Document { return f.doc }

func newTestDocWithTask() *registry.Document {
	doc := registry.NewDocument()
	doc.Entities[registry.CategoryTasks]["tasks/login.md"] = &registry.Entity{
		ID: "tasks/login.md", Category: registry.CategoryTasks, Type: "task",
		Purpose: "validate login credentials", Keywords: []string{"validate", "login", "credentials"},
	}
	return doc
}

func newTestEngine(doc *registry.Document) *decision.Engine {
	return decision.NewEngine(&fakeSnapshotter{doc: doc}, config.DefaultConfig().Decision)
}

func TestEpicGate_RequiresIntent(t *testing.T) {
	g := NewEpicGate(newTestEngine(newTestDocWithTask()))
	_, err := g.DoVerify(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestEpicGate_ReturnsOpportunitiesAndDecision(t *testing.T) {
	g := NewEpicGate(newTestEngine(newTestDocWithTask()))
	res, err := g.DoVerify(context.Background(), map[string]interface{}{"intent": "validate login credentials"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	require.Contains(t, res.Data, "opportunities")
	require.Contains(t, res.Data, "decision")
}

func TestStoryGate_MergesTaskAndTemplateResultsByRelevance(t *testing.T) {
	doc := registry.NewDocument()
	doc.Entities[registry.CategoryTasks]["tasks/a.md"] = &registry.Entity{
		ID: "tasks/a.md", Category: registry.CategoryTasks, Type: "task",
		Purpose: "ship release notes", Keywords: []string{"ship", "release", "notes"},
	}
	doc.Entities[registry.CategoryTemplates]["templates/b.md"] = &registry.Entity{
		ID: "templates/b.md", Category: registry.CategoryTemplates, Type: "template",
		Purpose: "ship release notes", Keywords: []string{"ship", "release", "notes"},
	}

	g := NewStoryGate(newTestEngine(doc))
	res, err := g.DoVerify(context.Background(), map[string]interface{}{
		"intent": "ship release notes", "acceptanceCriteria": "notes are accurate",
	})
	require.NoError(t, err)
	opps, ok := res.Data["opportunities"].([]Opportunity)
	require.True(t, ok)
	assert.NotEmpty(t, opps)
}

func TestStoryGate_RequiresIntent(t *testing.T) {
	g := NewStoryGate(newTestEngine(newTestDocWithTask()))
	_, err := g.DoVerify(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestChecklistGate_FiltersToChecklistsCategory(t *testing.T) {
	doc := registry.NewDocument()
	doc.Entities[registry.CategoryChecklists]["checklists/c.md"] = &registry.Entity{
		ID: "checklists/c.md", Category: registry.CategoryChecklists, Type: "checklist",
		Purpose: "pre-release verification steps", Keywords: []string{"pre-release", "verification"},
	}
	doc.Entities[registry.CategoryTasks]["tasks/d.md"] = &registry.Entity{
		ID: "tasks/d.md", Category: registry.CategoryTasks, Type: "task",
		Purpose: "pre-release verification steps", Keywords: []string{"pre-release", "verification"},
	}

	g := NewChecklistGate(newTestEngine(doc))
	res, err := g.DoVerify(context.Background(), map[string]interface{}{"intent": "pre-release verification steps"})
	require.NoError(t, err)
	opps := res.Data["opportunities"].([]Opportunity)
	for _, o := range opps {
		assert.Equal(t, "checklists/c.md", o.Entity)
	}
}

func TestAgentGate_IncludesJustificationWhenCreateRecommended(t *testing.T) {
	g := NewAgentGate(newTestEngine(registry.NewDocument()))
	res, err := g.DoVerify(context.Background(), map[string]interface{}{"intent": "an entirely novel agent capability"})
	require.NoError(t, err)
	assert.NotNil(t, res.Data["justification"])
}

func TestGates_AreAllNonBlocking(t *testing.T) {
	engine := newTestEngine(newTestDocWithTask())
	for _, g := range []Verifier{
		NewEpicGate(engine), NewStoryGate(engine), NewChecklistGate(engine), NewAgentGate(engine),
	} {
		assert.False(t, g.Blocking(), g.Name())
	}
}
