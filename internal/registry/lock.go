package registry

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/synapse-ids/ids/internal/logging"
)

// FileLock is a cross-process advisory lock implemented as a lock file
// containing "<pid> <unix-nano>". A lock is considered stale, and
// therefore stealable, once its timestamp is older than staleAfter.
// This is the cross-process analogue of the reference codebase's
// in-process debounce map — there is no multi-process lock in the
// teacher codebase, so this mechanism is new, grounded on the same
// "own a file beside the data it protects" idiom its watcher and
// config layers use.
type FileLock struct {
	path       string
	staleAfter time.Duration
	retries    int
}

// NewFileLock returns a lock bound to path with the given staleness
// window and retry budget (spec §4.3: ~10s stale, ~3 retries).
func NewFileLock(path string, staleAfter time.Duration, retries int) *FileLock {
	return &FileLock{path: path, staleAfter: staleAfter, retries: retries}
}

// Acquire attempts to take the lock, retrying with jittered backoff up
// to l.retries times. It returns ErrLockTimeout if it never succeeds.
func (l *FileLock) Acquire() (func(), error) {
	for attempt := 0; attempt <= l.retries; attempt++ {
		if ok := l.tryAcquire(); ok {
			return func() { os.Remove(l.path) }, nil
		}
		if attempt == l.retries {
			break
		}
		backoff := time.Duration(50+rand.Intn(150)) * time.Millisecond
		time.Sleep(backoff)
	}
	return nil, ErrLockTimeout
}

func (l *FileLock) tryAcquire() bool {
	l.stealIfStale()
	content := fmt.Sprintf("%d %d", os.Getpid(), time.Now().UnixNano())
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return false
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return false
	}
	return true
}

// stealIfStale removes the lock file if its recorded timestamp is
// older than staleAfter, recovering automatically from a crashed
// holder (spec §5 "crash recovery is automatic").
func (l *FileLock) stealIfStale() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	parts := strings.Fields(string(data))
	if len(parts) != 2 {
		return
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}
	held := time.Unix(0, nanos)
	if time.Since(held) > l.staleAfter {
		logging.UpdaterWarn("stealing stale registry lock (held since %s)", held)
		os.Remove(l.path)
	}
}
