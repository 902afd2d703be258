package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapse-ids/ids/internal/config"
	"github.com/synapse-ids/ids/internal/registry"
)

type fakeSnapshotter struct {
	doc *registry.Document
}

func (f *fakeSnapshotter) Snapshot() *registry.Document { return f.doc }

func newTestEngine(doc *registry.Document) *Engine {
	cfg := config.DefaultConfig().Decision
	return NewEngine(&fakeSnapshotter{doc: doc}, cfg)
}

// put stores an entity keyed by its own id, matching the registry's
// convention that the map key and Entity.ID always agree.
func put(doc *registry.Document, e *registry.Entity) {
	doc.Entities[e.Category][e.ID] = e
}

// TestAnalyze_ReuseWhenNearlyIdenticalEntityExists covers scenario 2 from
// the end-to-end scenario list: a near-exact keyword/purpose match
// should be recommended for REUSE with high confidence.
func TestAnalyze_ReuseWhenNearlyIdenticalEntityExists(t *testing.T) {
	doc := registry.NewDocument()
	put(doc, &registry.Entity{
		ID: "tasks/validate-login.md", Category: registry.CategoryTasks, Type: "tasks",
		Purpose:  "validate user login credentials against the auth service",
		Keywords: []string{"validate", "login", "credentials", "auth"},
	})

	engine := newTestEngine(doc)
	result := engine.Analyze("validate login credentials auth", Context{})

	require.NotEmpty(t, result.Recommendations)
	assert.Equal(t, DecisionReuse, result.Summary.Decision)
	assert.Equal(t, ConfidenceHigh, result.Recommendations[0].Confidence)
}

// TestAnalyze_AdaptVsCreateOnImpact covers scenario 3: a moderately
// relevant, adaptable entity with low blast radius should be ADAPT; the
// same entity wired into a large fan-in graph should flip to CREATE.
func TestAnalyze_AdaptVsCreateOnImpact(t *testing.T) {
	doc := registry.NewDocument()
	put(doc, &registry.Entity{
		ID: "tasks/base.md", Category: registry.CategoryTasks, Type: "tasks",
		Purpose:      "process incoming webhook payloads",
		Keywords:     []string{"process", "webhook", "payload"},
		Adaptability: registry.Adaptability{Score: 0.8},
	})

	engine := newTestEngine(doc)
	result := engine.Analyze("process webhook payload data", Context{})
	require.NotEmpty(t, result.Recommendations)
	if result.Recommendations[0].RelevanceScore >= engine.cfg.ReuseThreshold {
		t.Skip("scoring landed in reuse range; impact branch not exercised by this fixture")
	}
	assert.Equal(t, DecisionAdapt, result.Recommendations[0].Decision)

	// Now give it many consumers so BFS impact crosses the threshold.
	callerIDs := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id := "tasks/caller" + string(rune('a'+i)) + ".md"
		callerIDs = append(callerIDs, id)
		put(doc, &registry.Entity{ID: id, Category: registry.CategoryTasks, Type: "tasks"})
	}
	doc.Entities[registry.CategoryTasks]["tasks/base.md"].UsedBy = callerIDs

	engine.ClearCache()
	result = engine.Analyze("process webhook payload data", Context{})
	require.NotEmpty(t, result.Recommendations)
	assert.Equal(t, DecisionCreate, result.Recommendations[0].Decision)
}

func TestAnalyze_CreateWhenNoCandidateMeetsThreshold(t *testing.T) {
	doc := registry.NewDocument()
	put(doc, &registry.Entity{
		ID: "tasks/unrelated.md", Category: registry.CategoryTasks,
		Purpose: "rotate log files", Keywords: []string{"rotate", "logs"},
	})

	engine := newTestEngine(doc)
	result := engine.Analyze("compress video frames for streaming", Context{})
	assert.Empty(t, result.Recommendations)
	assert.Equal(t, DecisionCreate, result.Summary.Decision)
	require.NotNil(t, result.Justification)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), result.Justification.ReviewScheduled, time.Hour)
}

func TestAnalyze_ContextFiltersByTypeAndCategory(t *testing.T) {
	doc := registry.NewDocument()
	put(doc, &registry.Entity{
		ID: "tasks/a.md", Category: registry.CategoryTasks, Type: "tasks",
		Purpose: "deploy service to production", Keywords: []string{"deploy", "service"},
	})
	put(doc, &registry.Entity{
		ID: "agents/b.md", Category: registry.CategoryAgents, Type: "agents",
		Purpose: "deploy service to production", Keywords: []string{"deploy", "service"},
	})

	engine := newTestEngine(doc)
	result := engine.Analyze("deploy service", Context{Category: string(registry.CategoryAgents)})
	require.NotEmpty(t, result.Recommendations)
	for _, r := range result.Recommendations {
		assert.Equal(t, "agents/b.md", r.EntityID)
	}
}

// TestAnalyze_IsMonotoneInRelevance is the spec §8 testable property:
// higher relevance score never yields a "weaker" decision ordering
// (CREATE < ADAPT < REUSE).
func TestAnalyze_IsMonotoneInRelevance(t *testing.T) {
	rank := map[Decision]int{DecisionCreate: 0, DecisionAdapt: 1, DecisionReuse: 2}

	doc := registry.NewDocument()
	put(doc, &registry.Entity{
		ID: "tasks/weak.md", Category: registry.CategoryTasks,
		Purpose: "export metrics to dashboard", Keywords: []string{"export", "metrics"},
	})
	put(doc, &registry.Entity{
		ID: "tasks/strong.md", Category: registry.CategoryTasks,
		Purpose: "export metrics to dashboard in real time", Keywords: []string{"export", "metrics", "dashboard", "realtime"},
	})

	engine := newTestEngine(doc)
	result := engine.Analyze("export metrics to dashboard in real time", Context{})
	require.Len(t, result.Recommendations, 2)

	byID := map[string]Recommendation{}
	for _, r := range result.Recommendations {
		byID[r.EntityID] = r
	}
	weak, strong := byID["tasks/weak.md"], byID["tasks/strong.md"]
	if weak.RelevanceScore < strong.RelevanceScore {
		assert.LessOrEqual(t, rank[weak.Decision], rank[strong.Decision])
	}
}

func TestReviewCreateDecisions_ClassifiesByUsedByCount(t *testing.T) {
	doc := registry.NewDocument()
	put(doc, &registry.Entity{
		ID: "tasks/candidate.md", Category: registry.CategoryTasks,
		UsedBy:              []string{"a", "b", "c"},
		CreateJustification: &registry.CreateJustification{ReviewScheduled: time.Now()},
	})
	put(doc, &registry.Entity{
		ID: "tasks/monitoring.md", Category: registry.CategoryTasks,
		UsedBy:              []string{"a"},
		CreateJustification: &registry.CreateJustification{ReviewScheduled: time.Now()},
	})
	put(doc, &registry.Entity{
		ID: "tasks/untouched.md", Category: registry.CategoryTasks,
		CreateJustification: &registry.CreateJustification{ReviewScheduled: time.Now().AddDate(0, 0, -100)},
	})
	put(doc, &registry.Entity{
		ID: "tasks/notcreated.md", Category: registry.CategoryTasks,
	})

	engine := newTestEngine(doc)
	reviews := engine.ReviewCreateDecisions()

	byID := map[string]PromotionStatus{}
	for _, r := range reviews {
		byID[r.EntityID] = r.Status
	}
	assert.Equal(t, PromotionCandidate, byID["tasks/candidate.md"])
	assert.Equal(t, PromotionMonitoring, byID["tasks/monitoring.md"])
	assert.Equal(t, PromotionDeprecation, byID["tasks/untouched.md"])
	_, ok := byID["tasks/notcreated.md"]
	assert.False(t, ok)
}

func TestGetPromotionStatus_UnknownEntityReturnsFalse(t *testing.T) {
	doc := registry.NewDocument()
	engine := newTestEngine(doc)
	_, ok := engine.GetPromotionStatus("tasks/ghost.md")
	assert.False(t, ok)
}

func TestAnalyze_CachesResultWithinTTL(t *testing.T) {
	doc := registry.NewDocument()
	put(doc, &registry.Entity{
		ID: "tasks/a.md", Category: registry.CategoryTasks,
		Purpose: "sync inventory counts", Keywords: []string{"sync", "inventory"},
	})
	engine := newTestEngine(doc)

	first := engine.Analyze("sync inventory counts", Context{})
	require.NotEmpty(t, first.Recommendations)

	doc.Entities[registry.CategoryTasks]["tasks/a.md"].Purpose = "completely different purpose now"
	second := engine.Analyze("sync inventory counts", Context{})
	assert.Equal(t, first, second)

	engine.ClearCache()
	third := engine.Analyze("sync inventory counts", Context{})
	require.NotEmpty(t, third.Recommendations)
	assert.Equal(t, "completely different purpose now", third.Recommendations[0].EntityPurpose)
	assert.NotEqual(t, first.Recommendations[0].EntityPurpose, third.Recommendations[0].EntityPurpose)
}
