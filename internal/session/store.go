// Package session implements the per-session JSON document store: one
// file per session uuid, deep-merge updates, stale eviction, and title
// generation from a user's first prompt.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/synapse-ids/ids/internal/logging"
)

// CurrentSchemaVersion is the schema version this store writes and
// accepts. A document written by an older or newer schema is treated
// as absent rather than partially trusted (spec §3, §7 "schema
// mismatch").
const CurrentSchemaVersion = 1

// History holds the three append-only usage arrays spec §3 names.
type History struct {
	StarCommandsUsed  []string `json:"star_commands_used,omitempty"`
	DomainsLoadedLast []string `json:"domains_loaded_last,omitempty"`
	AgentsActivated   []string `json:"agents_activated,omitempty"`
}

// Document is one session's persisted state (spec §3 "Session").
type Document struct {
	UUID           string                 `json:"uuid"`
	SchemaVersion  int                    `json:"schema_version"`
	Started        time.Time              `json:"started"`
	LastActivity   time.Time              `json:"last_activity"`
	CWD            string                 `json:"cwd,omitempty"`
	Label          string                 `json:"label,omitempty"`
	Title          string                 `json:"title,omitempty"`
	PromptCount    int                    `json:"prompt_count"`
	ActiveAgent    map[string]interface{} `json:"active_agent,omitempty"`
	ActiveWorkflow map[string]interface{} `json:"active_workflow,omitempty"`
	ActiveTask     map[string]interface{} `json:"active_task,omitempty"`
	ActiveSquad    map[string]interface{} `json:"active_squad,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Overrides      map[string]interface{} `json:"overrides,omitempty"`
	History        History                `json:"history,omitempty"`
}

// Store owns every session document under a single directory. Grounded
// on the registry package's write-then-rename discipline (store.go),
// reused here because it is this repo's established idiom for durable
// JSON documents, not a new mechanism per package.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore binds a store to dir, without touching disk yet.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// resolvePath validates uuid and resolves it to a file path that must
// stay under the sessions directory (spec §4.8).
func (s *Store) resolvePath(uuid string) (string, error) {
	if uuid == "" || strings.ContainsAny(uuid, `/\`) || strings.Contains(uuid, "..") {
		return "", fmt.Errorf("invalid session uuid: %q", uuid)
	}
	path := filepath.Join(s.dir, uuid+".json")
	absDir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("session uuid escapes sessions directory: %q", uuid)
	}
	return path, nil
}

// ensureGitignore writes a .gitignore beside the sessions directory the
// first time a session is created, so per-session state never gets
// committed accidentally.
func (s *Store) ensureGitignore() {
	parent := filepath.Dir(s.dir)
	path := filepath.Join(parent, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return
	}
	_ = os.MkdirAll(parent, 0755)
	_ = os.WriteFile(path, []byte(filepath.Base(s.dir)+"/\n"), 0644)
}

// Load returns the parsed document, or nil if it is missing, malformed,
// or fails schema validation (spec §4.8 "load").
func (s *Store) Load(uuid string) *Document {
	path, err := s.resolvePath(uuid)
	if err != nil {
		logging.SessionWarn("load rejected: %v", err)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.SessionWarn("session %s malformed, treating as absent: %v", uuid, err)
		return nil
	}
	if doc.UUID == "" {
		return nil
	}
	if doc.SchemaVersion != CurrentSchemaVersion {
		logging.SessionWarn("session %s schema mismatch (got %d, want %d), treating as absent", uuid, doc.SchemaVersion, CurrentSchemaVersion)
		return nil
	}
	return &doc
}

// Create starts a new session document for uuid, failing if one
// already exists or uuid is unsafe.
func (s *Store) Create(uuid, cwd, label string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.resolvePath(uuid)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("session already exists: %q", uuid)
	}

	s.ensureGitignore()
	now := time.Now().UTC()
	doc := &Document{
		UUID:          uuid,
		SchemaVersion: CurrentSchemaVersion,
		Started:       now,
		LastActivity:  now,
		CWD:           cwd,
		Label:         label,
	}
	if err := s.writeLocked(path, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes uuid's session document. Missing is not an error.
func (s *Store) Delete(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.resolvePath(uuid)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Update loads uuid (or starts a fresh document if absent), deep-merges
// updates per spec §4.8's per-field rules, bumps prompt_count and
// last_activity, and atomically rewrites.
func (s *Store) Update(uuid string, updates map[string]interface{}) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.resolvePath(uuid)
	if err != nil {
		return nil, err
	}

	doc := s.Load(uuid)
	isNew := doc == nil
	if isNew {
		now := time.Now().UTC()
		doc = &Document{UUID: uuid, SchemaVersion: CurrentSchemaVersion, Started: now}
		s.ensureGitignore()
	}

	applyUpdates(doc, updates)
	doc.PromptCount++
	doc.LastActivity = time.Now().UTC()

	if err := s.writeLocked(path, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// writeLocked serializes doc to path via write-then-rename. Callers
// must already hold s.mu.
func (s *Store) writeLocked(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// applyUpdates merges updates into doc per spec §4.8: history arrays
// are set-unioned preserving order, overrides/context/active_agent are
// shallow-merged, everything else is replaced.
func applyUpdates(doc *Document, updates map[string]interface{}) {
	if title, ok := updates["title"].(string); ok {
		doc.Title = title
	}
	if cwd, ok := updates["cwd"].(string); ok {
		doc.CWD = cwd
	}
	if label, ok := updates["label"].(string); ok {
		doc.Label = label
	}
	if history, ok := updates["history"].(History); ok {
		doc.History = History{
			StarCommandsUsed:  unionPreserveOrder(doc.History.StarCommandsUsed, history.StarCommandsUsed),
			DomainsLoadedLast: unionPreserveOrder(doc.History.DomainsLoadedLast, history.DomainsLoadedLast),
			AgentsActivated:   unionPreserveOrder(doc.History.AgentsActivated, history.AgentsActivated),
		}
	}
	if overrides, ok := updates["overrides"].(map[string]interface{}); ok {
		doc.Overrides = shallowMerge(doc.Overrides, overrides)
	}
	if context, ok := updates["context"].(map[string]interface{}); ok {
		doc.Context = shallowMerge(doc.Context, context)
	}
	if activeAgent, ok := updates["active_agent"].(map[string]interface{}); ok {
		doc.ActiveAgent = shallowMerge(doc.ActiveAgent, activeAgent)
	}
	if activeWorkflow, ok := updates["active_workflow"].(map[string]interface{}); ok {
		doc.ActiveWorkflow = activeWorkflow
	}
	if activeTask, ok := updates["active_task"].(map[string]interface{}); ok {
		doc.ActiveTask = activeTask
	}
	if activeSquad, ok := updates["active_squad"].(map[string]interface{}); ok {
		doc.ActiveSquad = activeSquad
	}
}

func unionPreserveOrder(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, v := range existing {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range incoming {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func shallowMerge(existing, incoming map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// CleanStale deletes every session document whose last_activity is
// older than maxAge, tolerating corrupt files by skipping them (spec
// §4.8 "clean_stale").
func (s *Store) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		if doc.LastActivity.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// starCommandPrefixes mark prompts that never get an auto title.
var starCommandPrefixes = []string{"*", "/", "!"}

// GenerateTitle derives a session title from the first prompt,
// returning "" when the prompt is a star-command, a single word, or
// shorter than 3 characters (spec §4.8 "generate_title").
func GenerateTitle(prompt string, maxChars int) string {
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) < 3 {
		return ""
	}
	for _, p := range starCommandPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return ""
		}
	}
	if !strings.ContainsAny(trimmed, " \t\n") {
		return ""
	}

	if len(trimmed) <= maxChars {
		return trimmed
	}

	cut := trimmed[:maxChars]
	if idx := strings.LastIndexAny(cut, " \t\n"); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}
