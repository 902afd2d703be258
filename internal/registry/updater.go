package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/synapse-ids/ids/internal/logging"
)

var changeValidator = validator.New()

// UpdaterConfig bounds the updater's lock discipline.
type UpdaterConfig struct {
	LockStale   time.Duration
	LockRetries int
}

// Updater owns the single write path into the registry: it applies a
// batch of add/change/unlink actions under the cross-process lock,
// rebuilds usedBy, refreshes metadata, and records every batch to the
// audit log (spec §4.3).
type Updater struct {
	store    *Store
	lock     *FileLock
	audit    *AuditLog
	repoRoot string
	kwCfg    KeywordConfig
}

// NewUpdater wires a store, a lock file, and an audit log into an
// updater bound to repoRoot for resolving entity paths.
func NewUpdater(store *Store, lockPath string, cfg UpdaterConfig, audit *AuditLog, repoRoot string, kwCfg KeywordConfig) *Updater {
	return &Updater{
		store:    store,
		lock:     NewFileLock(lockPath, cfg.LockStale, cfg.LockRetries),
		audit:    audit,
		repoRoot: repoRoot,
		kwCfg:    kwCfg,
	}
}

// BatchResult summarizes one process_changes call.
type BatchResult struct {
	Added   []string
	Changed []string
	Removed []string
	Skipped []string
}

// ProcessChanges applies a batch of changes to the registry under the
// write lock, then rebuilds the usedBy reverse index and metadata
// counts exactly once for the whole batch (spec §4.3 "Post-batch
// rebuild").
func (u *Updater) ProcessChanges(changes []Change) (BatchResult, error) {
	var result BatchResult
	if len(changes) == 0 {
		return result, nil
	}

	unlock, err := u.lock.Acquire()
	if err != nil {
		logging.UpdaterWarn("process_changes: lock acquisition failed: %v", err)
		return result, err
	}
	defer unlock()

	doc, err := u.store.Load()
	if err != nil {
		return result, fmt.Errorf("load registry: %w", err)
	}
	doc = doc.Clone()

	knownIDs := make([]string, 0, doc.Count())
	for _, e := range doc.AllEntities() {
		knownIDs = append(knownIDs, e.ID)
	}

	for _, ch := range changes {
		if err := changeValidator.Struct(ch); err != nil {
			logging.UpdaterWarn("process_changes: rejecting malformed change %+v: %v", ch, err)
			result.Skipped = append(result.Skipped, ch.Path)
			continue
		}
		switch ch.Action {
		case ActionUnlink:
			id := u.removeEntity(doc, ch)
			if id != "" {
				result.Removed = append(result.Removed, id)
			}
		case ActionAdd, ActionChange:
			id, created, err := u.upsertEntity(doc, ch, knownIDs)
			if err != nil {
				logging.UpdaterWarn("process_changes: skipping %s: %v", ch.Path, err)
				result.Skipped = append(result.Skipped, ch.Path)
				continue
			}
			if created {
				result.Added = append(result.Added, id)
				knownIDs = append(knownIDs, id)
			} else {
				result.Changed = append(result.Changed, id)
			}
		}
	}

	rebuildUsedBy(doc)
	refreshMetadata(doc)

	if err := u.store.Replace(doc); err != nil {
		logging.UpdaterWarn("process_changes: write failed: %v", err)
		return result, err
	}

	u.audit.Append(map[string]interface{}{
		"event":   "process_changes",
		"added":   result.Added,
		"changed": result.Changed,
		"removed": result.Removed,
		"skipped": result.Skipped,
	})

	return result, nil
}

// removeEntity locates the entity by (id, path) in any category, not
// just the one the event arrived under, since a file may have been
// ingested before a category root was reconfigured.
func (u *Updater) removeEntity(doc *Document, ch Change) string {
	id := entityIDForPath(ch.Path, u.repoRoot)
	e, cat, ok := doc.FindByID(id)
	if !ok || e.Path != relPath(u.repoRoot, ch.Path) {
		return ""
	}
	delete(doc.Entities[cat], id)
	return id
}

func (u *Updater) upsertEntity(doc *Document, ch Change, knownIDs []string) (string, bool, error) {
	data, err := os.ReadFile(ch.Path)
	if err != nil {
		return "", false, err
	}
	text := string(data)
	id := entityIDForPath(ch.Path, u.repoRoot)
	checksum := ChecksumBytes(data)

	m := doc.Entities[ch.Category]
	if m == nil {
		m = make(map[string]*Entity)
		doc.Entities[ch.Category] = m
	}

	existing, created := m[id], false
	if existing == nil {
		if _, otherCat, found := doc.FindByID(id); found {
			return "", false, fmt.Errorf("id %q already registered under category %s", id, otherCat)
		}
		created = true
		existing = &Entity{ID: id, Category: ch.Category, Type: strings.TrimSuffix(string(ch.Category), "s")}
		m[id] = existing
	} else if existing.Checksum == checksum {
		existing.LastVerified = time.Now().UTC()
		return id, false, nil
	}

	existing.Path = relPath(u.repoRoot, ch.Path)
	existing.Checksum = checksum
	existing.Purpose = ExtractPurpose(text)
	existing.Keywords = ExtractKeywords(text, u.kwCfg)
	existing.Dependencies = DetectDependencies(text, id, knownIDs)
	existing.LastVerified = time.Now().UTC()

	return id, created, nil
}

func entityIDForPath(path, repoRoot string) string {
	return relPath(repoRoot, path)
}

func relPath(root, path string) string {
	if root == "" {
		return path
	}
	if r, err := filepath.Rel(root, path); err == nil {
		return r
	}
	return path
}

// rebuildUsedBy recomputes every entity's UsedBy from the current
// Dependencies edges. UsedBy is never authoritative (spec §3).
func rebuildUsedBy(doc *Document) {
	reverse := make(map[string][]string)
	for _, e := range doc.AllEntities() {
		for _, dep := range e.Dependencies {
			reverse[dep] = append(reverse[dep], e.ID)
		}
	}
	for _, e := range doc.AllEntities() {
		e.UsedBy = reverse[e.ID]
	}
}

func refreshMetadata(doc *Document) {
	doc.Metadata.LastUpdated = time.Now().UTC()
	doc.Metadata.EntityCount = doc.Count()
	descs := make([]CategoryDescriptor, 0, len(AllCategories))
	for _, c := range AllCategories {
		descs = append(descs, CategoryDescriptor{Name: c, Count: len(doc.Entities[c])})
	}
	doc.Metadata.Categories = descs
}

// Artifact is one file an agent task produced or removed.
type Artifact struct {
	Path     string
	Category Category
}

// OnAgentTaskComplete is the hook an orchestrating agent calls after
// finishing a task, so artifacts it produced are folded into the
// registry without waiting on the filesystem watcher's debounce
// window. Each artifact is classified as change when the file exists
// and unlink when it does not, and the whole batch gets one
// agent-task-complete audit entry (spec §4.3).
func (u *Updater) OnAgentTaskComplete(taskID, agent string, artifacts []Artifact) (BatchResult, error) {
	changes := make([]Change, 0, len(artifacts))
	for _, a := range artifacts {
		action := ActionChange
		if _, err := os.Stat(a.Path); err != nil {
			action = ActionUnlink
		}
		changes = append(changes, Change{Action: action, Path: a.Path, Category: a.Category})
	}

	result, err := u.ProcessChanges(changes)

	u.audit.Append(map[string]interface{}{
		"trigger":   "agent-task-complete",
		"taskId":    taskID,
		"agent":     agent,
		"artifacts": len(artifacts),
		"added":     result.Added,
		"changed":   result.Changed,
		"removed":   result.Removed,
	})
	return result, err
}

// QueryAuditLog returns every audit entry matching filter; a nil
// filter matches everything.
func (u *Updater) QueryAuditLog(filter func(map[string]interface{}) bool) ([]map[string]interface{}, error) {
	return u.audit.Query(filter)
}
