package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/synapse-ids/ids/internal/logging"
)

// AuditLog is an append-only JSON-lines writer with size-based
// rotation, shared by the updater's audit log and the healer's
// healing log (spec §4.3, §4.4). Grounded on the reference codebase's
// AuditLogger, with the Mangle-fact translation dropped since nothing
// in this repo derives from Mangle facts.
type AuditLog struct {
	path         string
	backupDir    string
	rotateBytes  int64
	mu           sync.Mutex
}

// NewAuditLog returns an audit log at path, rotating into backupDir
// once it exceeds rotateBytes.
func NewAuditLog(path, backupDir string, rotateBytes int64) *AuditLog {
	return &AuditLog{path: path, backupDir: backupDir, rotateBytes: rotateBytes}
}

// Append writes one JSON line. Failures never propagate (spec §4.3
// "Audit-log failures NEVER propagate") — they are logged and
// swallowed.
func (a *AuditLog) Append(entry map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := entry["timestamp"]; !ok {
		entry["timestamp"] = time.Now().UTC()
	}

	a.rotateIfNeededLocked()

	data, err := json.Marshal(entry)
	if err != nil {
		logging.UpdaterWarn("audit log marshal failed: %v", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		logging.UpdaterWarn("audit log mkdir failed: %v", err)
		return
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logging.UpdaterWarn("audit log open failed: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		logging.UpdaterWarn("audit log write failed: %v", err)
	}
}

func (a *AuditLog) rotateIfNeededLocked() {
	info, err := os.Stat(a.path)
	if err != nil {
		return
	}
	if info.Size() < a.rotateBytes {
		return
	}
	if err := os.MkdirAll(a.backupDir, 0755); err != nil {
		logging.UpdaterWarn("audit log backup mkdir failed: %v", err)
		return
	}
	stamp := time.Now().UTC().Format("20060102T150405.000000000Z")
	dest := filepath.Join(a.backupDir, fmt.Sprintf("%s.%s", filepath.Base(a.path), stamp))
	if err := os.Rename(a.path, dest); err != nil {
		logging.UpdaterWarn("audit log rotate failed: %v", err)
	}
}

// Query streams the log and returns entries for which filter returns
// true. Corrupt lines are skipped (spec §7 "Corrupt JSON").
func (a *AuditLog) Query(filter func(map[string]interface{}) bool) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []map[string]interface{}
	lines := splitLines(data)
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if filter == nil || filter(entry) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}
