package prompt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/synapse-ids/ids/internal/logging"
)

// LoaderMetric is one persisted per-layer outcome, the shape the
// diagnostics reader consumes.
type LoaderMetric struct {
	Layer      string    `json:"layer"`
	Status     string    `json:"status"`
	DurationMs int64     `json:"durationMs"`
	RuleCount  int       `json:"ruleCount"`
	Timestamp  time.Time `json:"timestamp"`
}

// MetricsWriter persists each pipeline run's per-layer outcomes into
// the metrics directory as loader-metrics.json, keeping a bounded
// window of recent entries. Failures are logged and swallowed — a
// metrics write must never fail the prompt path.
type MetricsWriter struct {
	dir        string
	maxEntries int
	mu         sync.Mutex
}

// NewMetricsWriter binds a writer to the metrics directory.
func NewMetricsWriter(dir string) *MetricsWriter {
	return &MetricsWriter{dir: dir, maxEntries: 200}
}

// RecordRun appends one entry per layer result.
func (m *MetricsWriter) RecordRun(results []LayerResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.dir, "loader-metrics.json")
	entries := readMetrics(path)

	now := time.Now().UTC()
	for _, res := range results {
		entries = append(entries, LoaderMetric{
			Layer:      string(res.Layer),
			Status:     string(res.Status),
			DurationMs: res.Duration.Milliseconds(),
			RuleCount:  res.RuleCount,
			Timestamp:  now,
		})
	}
	if len(entries) > m.maxEntries {
		entries = entries[len(entries)-m.maxEntries:]
	}

	if err := writeMetrics(path, entries); err != nil {
		logging.PipelineWarn("loader metrics write failed: %v", err)
	}
}

// readMetrics tolerates a missing or corrupt dump by starting over.
func readMetrics(path string) []LoaderMetric {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []LoaderMetric
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func writeMetrics(path string, entries []LoaderMetric) error {
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
