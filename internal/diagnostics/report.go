// Package diagnostics reads the metrics dumps the pipeline and gates
// persist and turns them into a summary report. It is read-only: it
// never writes to the metrics directory.
package diagnostics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// LoaderMetrics is one entry from the loader metrics dump.
type LoaderMetrics struct {
	Layer      string        `json:"layer"`
	Status     string        `json:"status"`
	DurationMs int64         `json:"durationMs"`
	RuleCount  int           `json:"ruleCount"`
	Timestamp  time.Time     `json:"timestamp"`
}

// GateMetrics is one entry from the per-gate metrics dump.
type GateMetrics struct {
	GateID              string    `json:"gateId"`
	GateName            string    `json:"gateName"`
	Passed              bool      `json:"passed"`
	Blocking            bool      `json:"blocking"`
	Warning             string    `json:"warning,omitempty"`
	ExecutionMs         int64     `json:"executionMs"`
	CircuitBreakerState string    `json:"circuitBreakerState"`
	Timestamp           time.Time `json:"timestamp"`
}

// Report summarizes both metrics documents as of the most recent read.
type Report struct {
	GeneratedAt  time.Time       `json:"generatedAt"`
	Loaders      []LoaderMetrics `json:"loaders"`
	Gates        []GateMetrics   `json:"gates"`
	LayerErrors  int             `json:"layerErrors"`
	LayerSkipped int             `json:"layerSkipped"`
	GateWarnings int             `json:"gateWarnings"`
}

// Reader loads metrics dumps from a directory (spec §6 "two JSON
// documents under a metrics directory summarizing loader and per-layer
// timings/statuses with a timestamp").
type Reader struct {
	dir string
}

// NewReader binds a reader to the metrics directory.
func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

// Read loads both dumps and produces a summary report. A missing file
// yields an empty slice for that document rather than an error, so a
// process without a recent pipeline run still reports cleanly.
func (r *Reader) Read() (Report, error) {
	loaders, err := r.readLoaders()
	if err != nil {
		return Report{}, err
	}
	gates, err := r.readGates()
	if err != nil {
		return Report{}, err
	}

	report := Report{GeneratedAt: time.Now().UTC(), Loaders: loaders, Gates: gates}
	for _, l := range loaders {
		switch l.Status {
		case "error":
			report.LayerErrors++
		case "skipped":
			report.LayerSkipped++
		}
	}
	for _, g := range gates {
		if g.Warning != "" {
			report.GateWarnings++
		}
	}

	sort.Slice(report.Loaders, func(i, j int) bool { return report.Loaders[i].Timestamp.After(report.Loaders[j].Timestamp) })
	sort.Slice(report.Gates, func(i, j int) bool { return report.Gates[i].Timestamp.After(report.Gates[j].Timestamp) })

	return report, nil
}

func (r *Reader) readLoaders() ([]LoaderMetrics, error) {
	var out []LoaderMetrics
	if err := readJSONFile(filepath.Join(r.dir, "loader-metrics.json"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reader) readGates() ([]GateMetrics, error) {
	var out []GateMetrics
	if err := readJSONFile(filepath.Join(r.dir, "gate-metrics.json"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func readJSONFile(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return nil
	}
	return nil
}
