package prompt

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/synapse-ids/ids/internal/breaker"
	"github.com/synapse-ids/ids/internal/logging"
)

// LayerStatus reports how a single loader's run went.
type LayerStatus string

const (
	StatusOK      LayerStatus = "ok"
	StatusSkipped LayerStatus = "skipped"
	StatusError   LayerStatus = "error"
)

// LayerResult is what every loader returns (spec §4.9 "{rules,
// metadata, status, duration, ruleCount}").
type LayerResult struct {
	Layer     Layer
	Rules     string
	Metadata  map[string]interface{}
	Status    LayerStatus
	Duration  time.Duration
	RuleCount int
}

// Loader fetches one layer's rule text for the given session/context.
type Loader interface {
	Load(ctx context.Context, sessionID string) (string, map[string]interface{}, error)
}

// LoaderFunc adapts a plain function to Loader.
type LoaderFunc func(ctx context.Context, sessionID string) (string, map[string]interface{}, error)

func (f LoaderFunc) Load(ctx context.Context, sessionID string) (string, map[string]interface{}, error) {
	return f(ctx, sessionID)
}

// layerRuntime pairs a loader with its own breaker, so one layer's
// instability never affects another's.
type layerRuntime struct {
	loader  Loader
	breaker *breaker.Breaker
}

// Pipeline runs the active layers for a bracket concurrently, each
// under its own timeout and circuit breaker. Grounded on the Decision
// Engine's BFS traversal style for explicit bounded iteration, and on
// x/sync/errgroup (already in this module's dependency set) for
// bounded fan-out instead of a hand-rolled worker pool.
type Pipeline struct {
	loaders map[Layer]*layerRuntime
	timeout time.Duration
}

// NewPipeline builds a pipeline with the given per-layer timeout.
func NewPipeline(timeout time.Duration) *Pipeline {
	return &Pipeline{loaders: make(map[Layer]*layerRuntime), timeout: timeout}
}

// Register binds a loader to a layer with its own breaker.
func (p *Pipeline) Register(layer Layer, loader Loader, br *breaker.Breaker) {
	p.loaders[layer] = &layerRuntime{loader: loader, breaker: br}
}

// Run executes every layer active for bracket, bounded by maxConcurrency
// simultaneous loaders, and returns one LayerResult per active layer in
// the canonical layer order.
func (p *Pipeline) Run(ctx context.Context, bracket Bracket, sessionID string, maxConcurrency int) []LayerResult {
	layers := ActiveLayers(bracket)
	results := make([]LayerResult, len(layers))

	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}

	for i, layer := range layers {
		i, layer := i, layer
		g.Go(func() error {
			results[i] = p.runOne(gctx, layer, sessionID)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pipeline) runOne(ctx context.Context, layer Layer, sessionID string) LayerResult {
	rt, ok := p.loaders[layer]
	if !ok {
		return LayerResult{Layer: layer, Status: StatusSkipped}
	}

	if !rt.breaker.IsAllowed() {
		logging.PipelineWarn("layer %s: breaker open, skipping", layer)
		return LayerResult{Layer: layer, Status: StatusSkipped}
	}

	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type loadOutcome struct {
		rules string
		meta  map[string]interface{}
		err   error
	}
	outcomeCh := make(chan loadOutcome, 1)

	go func() {
		rules, meta, err := rt.loader.Load(timeoutCtx, sessionID)
		outcomeCh <- loadOutcome{rules: rules, meta: meta, err: err}
	}()

	select {
	case out := <-outcomeCh:
		duration := time.Since(start)
		if out.err != nil {
			rt.breaker.RecordFailure()
			logging.PipelineWarn("layer %s: load failed: %v", layer, out.err)
			return LayerResult{Layer: layer, Status: StatusError, Duration: duration}
		}
		rt.breaker.RecordSuccess()
		return LayerResult{
			Layer:     layer,
			Rules:     out.rules,
			Metadata:  out.meta,
			Status:    StatusOK,
			Duration:  duration,
			RuleCount: countRules(out.rules),
		}

	case <-timeoutCtx.Done():
		rt.breaker.RecordFailure()
		logging.PipelineWarn("layer %s: timed out after %s", layer, p.timeout)
		return LayerResult{Layer: layer, Status: StatusSkipped, Duration: time.Since(start)}
	}
}

func countRules(rules string) int {
	if rules == "" {
		return 0
	}
	count := 1
	for _, r := range rules {
		if r == '\n' {
			count++
		}
	}
	return count
}
