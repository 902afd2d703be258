package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUpdater(t *testing.T, repoRoot string) (*Updater, *Store) {
	t.Helper()
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "registry.json"))
	audit := NewAuditLog(filepath.Join(dir, "audit.jsonl"), filepath.Join(dir, "backups"), 5*1024*1024)
	cfg := UpdaterConfig{LockStale: 10 * time.Second, LockRetries: 3}
	updater := NewUpdater(store, filepath.Join(dir, "registry.lock"), cfg, audit, repoRoot, DefaultKeywordConfig())
	return updater, store
}

// TestAddModifyDeleteCycle covers scenario 1 from the spec's end-to-end
// scenario list: add, then modify, then delete.
func TestAddModifyDeleteCycle(t *testing.T) {
	repoRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, "tasks"), 0755))
	filePath := filepath.Join(repoRoot, "tasks", "foo.md")

	updater, store := newTestUpdater(t, repoRoot)

	require.NoError(t, os.WriteFile(filePath, []byte("# validate the thing\n"), 0644))
	result, err := updater.ProcessChanges([]Change{{Action: ActionAdd, Path: filePath, Category: CategoryTasks}})
	require.NoError(t, err)
	require.Len(t, result.Added, 1)

	doc := store.Snapshot()
	entity, _, ok := doc.FindByID("tasks/foo.md")
	require.True(t, ok)
	assert.Contains(t, entity.Keywords, "validate")
	checksumAfterAdd := entity.Checksum

	require.NoError(t, os.WriteFile(filePath, []byte("# verify the thing\n"), 0644))
	result, err = updater.ProcessChanges([]Change{{Action: ActionChange, Path: filePath, Category: CategoryTasks}})
	require.NoError(t, err)
	require.Len(t, result.Changed, 1)

	doc = store.Snapshot()
	entity, _, ok = doc.FindByID("tasks/foo.md")
	require.True(t, ok)
	assert.Contains(t, entity.Keywords, "verify")
	assert.NotEqual(t, checksumAfterAdd, entity.Checksum)

	require.NoError(t, os.Remove(filePath))
	result, err = updater.ProcessChanges([]Change{{Action: ActionUnlink, Path: filePath, Category: CategoryTasks}})
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)

	doc = store.Snapshot()
	_, _, ok = doc.FindByID("tasks/foo.md")
	assert.False(t, ok)
	for _, e := range doc.AllEntities() {
		assert.NotContains(t, e.UsedBy, "tasks/foo.md")
	}
}

func TestProcessChanges_RebuildsUsedBy(t *testing.T) {
	repoRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, "tasks"), 0755))

	basePath := filepath.Join(repoRoot, "tasks", "base.md")
	callerPath := filepath.Join(repoRoot, "tasks", "caller.md")
	require.NoError(t, os.WriteFile(basePath, []byte("# base task\n"), 0644))
	require.NoError(t, os.WriteFile(callerPath, []byte("# calls tasks/base.md\n"), 0644))

	updater, store := newTestUpdater(t, repoRoot)
	_, err := updater.ProcessChanges([]Change{
		{Action: ActionAdd, Path: basePath, Category: CategoryTasks},
		{Action: ActionAdd, Path: callerPath, Category: CategoryTasks},
	})
	require.NoError(t, err)

	doc := store.Snapshot()
	base, _, ok := doc.FindByID("tasks/base.md")
	require.True(t, ok)
	assert.Contains(t, base.UsedBy, "tasks/caller.md")
}

func TestProcessChanges_RejectsMalformedChangeEntries(t *testing.T) {
	repoRoot := t.TempDir()
	updater, store := newTestUpdater(t, repoRoot)

	result, err := updater.ProcessChanges([]Change{{Action: "bogus", Path: "", Category: CategoryTasks}})
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	require.Len(t, result.Skipped, 1)

	doc := store.Snapshot()
	assert.Equal(t, 0, doc.Count())
}

func TestProcessChanges_DuplicateIDInAnotherCategorySkipped(t *testing.T) {
	repoRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, "tasks"), 0755))
	filePath := filepath.Join(repoRoot, "tasks", "foo.md")
	require.NoError(t, os.WriteFile(filePath, []byte("# validate\n"), 0644))

	updater, store := newTestUpdater(t, repoRoot)
	_, err := updater.ProcessChanges([]Change{{Action: ActionAdd, Path: filePath, Category: CategoryTasks}})
	require.NoError(t, err)

	// same path ingested again under a different category must not
	// create a second entity with the same id
	result, err := updater.ProcessChanges([]Change{{Action: ActionAdd, Path: filePath, Category: CategoryScripts}})
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	require.Len(t, result.Skipped, 1)

	doc := store.Snapshot()
	assert.Equal(t, 1, doc.Count())
	_, cat, ok := doc.FindByID("tasks/foo.md")
	require.True(t, ok)
	assert.Equal(t, CategoryTasks, cat)
}

func TestOnAgentTaskComplete_ClassifiesArtifactsAndAudits(t *testing.T) {
	repoRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, "tasks"), 0755))
	keptPath := filepath.Join(repoRoot, "tasks", "kept.md")
	gonePath := filepath.Join(repoRoot, "tasks", "gone.md")
	require.NoError(t, os.WriteFile(keptPath, []byte("# kept artifact\n"), 0644))
	require.NoError(t, os.WriteFile(gonePath, []byte("# gone artifact\n"), 0644))

	updater, store := newTestUpdater(t, repoRoot)
	_, err := updater.ProcessChanges([]Change{
		{Action: ActionAdd, Path: keptPath, Category: CategoryTasks},
		{Action: ActionAdd, Path: gonePath, Category: CategoryTasks},
	})
	require.NoError(t, err)
	require.NoError(t, os.Remove(gonePath))

	result, err := updater.OnAgentTaskComplete("task-42", "builder", []Artifact{
		{Path: keptPath, Category: CategoryTasks},
		{Path: gonePath, Category: CategoryTasks},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Changed, "tasks/kept.md")
	assert.Contains(t, result.Removed, "tasks/gone.md")

	doc := store.Snapshot()
	_, _, ok := doc.FindByID("tasks/gone.md")
	assert.False(t, ok)

	entries, err := updater.QueryAuditLog(func(e map[string]interface{}) bool {
		return e["trigger"] == "agent-task-complete"
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "task-42", entries[0]["taskId"])
	assert.Equal(t, "builder", entries[0]["agent"])
}

func TestProcessChanges_IdempotentOnSameBatch(t *testing.T) {
	repoRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, "tasks"), 0755))
	filePath := filepath.Join(repoRoot, "tasks", "foo.md")
	require.NoError(t, os.WriteFile(filePath, []byte("# validate\n"), 0644))

	updater, store := newTestUpdater(t, repoRoot)
	batch := []Change{{Action: ActionAdd, Path: filePath, Category: CategoryTasks}}

	_, err := updater.ProcessChanges(batch)
	require.NoError(t, err)
	first := store.Snapshot()

	_, err = updater.ProcessChanges(batch)
	require.NoError(t, err)
	second := store.Snapshot()

	assert.Equal(t, first.Count(), second.Count())
	e1, _, _ := first.FindByID("tasks/foo.md")
	e2, _, _ := second.FindByID("tasks/foo.md")
	assert.Equal(t, e1.Checksum, e2.Checksum)
}
