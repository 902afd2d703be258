package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/synapse-ids/ids/internal/logging"
)

// ChangeAction mirrors the action field of process_changes (spec §4.3).
type ChangeAction string

const (
	ActionAdd    ChangeAction = "add"
	ActionChange ChangeAction = "change"
	ActionUnlink ChangeAction = "unlink"
)

// Change is one settled, debounced filesystem event.
type Change struct {
	Action   ChangeAction `validate:"required,oneof=add change unlink"`
	Path     string       `validate:"required"`
	Category Category     `validate:"required"`
}

// ignoredSuffixes are never treated as registry sources even when they
// live under a watched category root.
var ignoredSuffixes = []string{".test.js", ".spec.js"}

// ignoredNames are skipped regardless of directory.
var ignoredNames = map[string]bool{
	"README.md": true, "README": true,
}

// includedExtensions is the set of file types ingested as entities;
// anything else under a category root is ignored.
var includedExtensions = map[string]bool{
	".md": true, ".markdown": true,
	".js": true, ".mjs": true, ".cjs": true,
	".yaml": true, ".yml": true, ".json": true,
	".sh": true, ".txt": true, ".csv": true,
}

// Watcher watches every configured category root for filesystem churn
// and delivers debounced, categorized batches to a callback. Grounded
// on the reference codebase's MangleWatcher (debounce map + ticker
// driven flush loop), generalized from watching a single .mg directory
// to the category-rooted extension sets this registry tracks, and from
// a fixed validate/repair action to an arbitrary process-changes
// callback.
type Watcher struct {
	mu            sync.Mutex
	watcher       *fsnotify.Watcher
	roots         map[Category]string
	registryFile  string
	auditLog      string
	backupDir     string
	lockFile      string
	debounceMap   map[string]fsnotify.Op
	debounceTimes map[string]time.Time
	debounceDur   time.Duration
	onChanges     func([]Change) error
	stopCh        chan struct{}
	doneCh        chan struct{}
	running       bool
}

// NewWatcher builds a watcher over the given category roots. Paths
// that are the registry's own bookkeeping files (registryFile,
// auditLog, backupDir, lockFile) are always excluded from callbacks,
// even if they happen to live under a watched root (spec §4.3).
func NewWatcher(roots map[Category]string, registryFile, auditLog, backupDir, lockFile string, debounce time.Duration, onChanges func([]Change) error) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:       fw,
		roots:         roots,
		registryFile:  registryFile,
		auditLog:      auditLog,
		backupDir:     backupDir,
		lockFile:      lockFile,
		debounceMap:   make(map[string]fsnotify.Op),
		debounceTimes: make(map[string]time.Time),
		debounceDur:   debounce,
		onChanges:     onChanges,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for cat, root := range w.roots {
		if err := w.addTree(root); err != nil {
			logging.UpdaterWarn("watcher: failed to watch %s root %s: %v", cat, root, err)
		}
	}

	go w.run(ctx)
	return nil
}

// addTree walks root and adds every directory to the watcher,
// following symlinked directories (spec §4.3 "follows symlinks").
func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return nil
		}
		if info.IsDir() {
			if addErr := w.watcher.Add(path); addErr != nil {
				logging.UpdaterWarn("watcher: add dir failed %s: %v", path, addErr)
			}
		} else if info.Mode()&os.ModeSymlink != 0 {
			if target, resolveErr := filepath.EvalSymlinks(path); resolveErr == nil {
				if targetInfo, statErr := os.Stat(target); statErr == nil && targetInfo.IsDir() {
					return w.addTree(target)
				}
			}
		}
		return nil
	})
}

// Stop halts the watcher, waits for the run loop to exit, then flushes
// whatever is still pending so no settled event is lost on shutdown
// (spec §5 "watcher shutdown drains the current batch, flushes pending
// updates").
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
	w.flushAll()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounceDur / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.UpdaterWarn("watcher error: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watcher.Add(event.Name)
			return
		}
	}
	if w.shouldIgnore(event.Name) {
		return
	}

	w.mu.Lock()
	w.debounceMap[event.Name] = event.Op
	w.debounceTimes[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) shouldIgnore(path string) bool {
	if path == w.registryFile || path == w.auditLog || path == w.lockFile {
		return true
	}
	if w.backupDir != "" && strings.HasPrefix(path, w.backupDir) {
		return true
	}
	base := filepath.Base(path)
	if ignoredNames[base] {
		return true
	}
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	if !includedExtensions[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	return false
}

func (w *Watcher) flush() {
	w.flushOlderThan(w.debounceDur)
}

// flushAll delivers everything still pending, regardless of how
// recently it settled. Used on shutdown.
func (w *Watcher) flushAll() {
	w.flushOlderThan(0)
}

func (w *Watcher) flushOlderThan(minAge time.Duration) {
	w.mu.Lock()
	now := time.Now()
	toProcess := make(map[string]fsnotify.Op)
	for path, op := range w.debounceMap {
		if now.Sub(w.debounceTimes[path]) >= minAge {
			toProcess[path] = op
			delete(w.debounceMap, path)
			delete(w.debounceTimes, path)
		}
	}
	w.mu.Unlock()

	if len(toProcess) == 0 {
		return
	}

	changes := make([]Change, 0, len(toProcess))
	for path, op := range toProcess {
		cat, ok := w.categoryFor(path)
		if !ok {
			continue
		}
		changes = append(changes, Change{Action: actionFor(op, path), Path: path, Category: cat})
	}
	if len(changes) == 0 || w.onChanges == nil {
		return
	}
	if err := w.onChanges(changes); err != nil {
		// Keep the batch pending so the next flush retries; a failed
		// lock acquisition must never discard settled events (spec §5).
		logging.UpdaterWarn("watcher: batch deferred, will retry: %v", err)
		w.mu.Lock()
		for path, op := range toProcess {
			if _, exists := w.debounceMap[path]; !exists {
				w.debounceMap[path] = op
				w.debounceTimes[path] = now
			}
		}
		w.mu.Unlock()
	}
}

func (w *Watcher) categoryFor(path string) (Category, bool) {
	for cat, root := range w.roots {
		if strings.HasPrefix(path, root) {
			return cat, true
		}
	}
	return "", false
}

func actionFor(op fsnotify.Op, path string) ChangeAction {
	switch {
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return ActionUnlink
	case op&fsnotify.Create != 0:
		if _, err := os.Stat(path); err != nil {
			return ActionUnlink
		}
		return ActionAdd
	default:
		return ActionChange
	}
}
