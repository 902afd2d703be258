package gate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/synapse-ids/ids/internal/logging"
)

// GateMetric is one persisted gate invocation, the shape the
// diagnostics reader consumes.
type GateMetric struct {
	GateID              string    `json:"gateId"`
	GateName            string    `json:"gateName"`
	Passed              bool      `json:"passed"`
	Blocking            bool      `json:"blocking"`
	Warning             string    `json:"warning,omitempty"`
	ExecutionMs         int64     `json:"executionMs"`
	CircuitBreakerState string    `json:"circuitBreakerState"`
	Timestamp           time.Time `json:"timestamp"`
}

// MetricsRecorder persists gate results into the metrics directory as
// gate-metrics.json, keeping a bounded window of recent entries.
// Failures are logged and swallowed — recording must never affect the
// gate's advisory outcome.
type MetricsRecorder struct {
	dir        string
	maxEntries int
	mu         sync.Mutex
}

// NewMetricsRecorder binds a recorder to the metrics directory.
func NewMetricsRecorder(dir string) *MetricsRecorder {
	return &MetricsRecorder{dir: dir, maxEntries: 200}
}

// Record appends one entry for a finished gate verification.
func (m *MetricsRecorder) Record(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.dir, "gate-metrics.json")
	entries := m.read(path)

	entries = append(entries, GateMetric{
		GateID:              res.GateID,
		GateName:            res.GateName,
		Passed:              res.Passed,
		Blocking:            res.Blocking,
		Warning:             strings.Join(res.Warnings, "; "),
		ExecutionMs:         res.ExecutionMs,
		CircuitBreakerState: string(res.CircuitBreakerState),
		Timestamp:           res.Timestamp,
	})
	if len(entries) > m.maxEntries {
		entries = entries[len(entries)-m.maxEntries:]
	}

	if err := m.write(path, entries); err != nil {
		logging.GateWarn("gate metrics write failed: %v", err)
	}
}

func (m *MetricsRecorder) read(path string) []GateMetric {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []GateMetric
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func (m *MetricsRecorder) write(path string, entries []GateMetric) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".metrics-*.tmp")
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
	return os.Rename(tmpPath, path)
}
