// Package ids wires the registry plane, decision engine, verification
// gates, session store, and prompt-layer pipeline into one runtime
// handle. External CLIs and orchestrators consume this surface; the
// components underneath never reach around it to share state.
package ids

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/synapse-ids/ids/internal/breaker"
	"github.com/synapse-ids/ids/internal/config"
	"github.com/synapse-ids/ids/internal/decision"
	"github.com/synapse-ids/ids/internal/diagnostics"
	"github.com/synapse-ids/ids/internal/gate"
	"github.com/synapse-ids/ids/internal/logging"
	"github.com/synapse-ids/ids/internal/prompt"
	"github.com/synapse-ids/ids/internal/registry"
	"github.com/synapse-ids/ids/internal/session"
)

// Runtime owns one fully wired IDS instance.
type Runtime struct {
	cfg *config.Config

	Store       *registry.Store
	Updater     *registry.Updater
	Healer      *registry.Healer
	Engine      *decision.Engine
	Sessions    *session.Store
	Pipeline    *prompt.Pipeline
	Diagnostics *diagnostics.Reader

	loaderMetrics *prompt.MetricsWriter
	gateMetrics   *gate.MetricsRecorder
	gates         map[string]*gate.Gate
	watcher       *registry.Watcher
}

// New builds a runtime from cfg. The watcher is not started; callers
// that only need on-demand ingestion never pay for it (spec §6
// "a process must be able to run without the watcher").
func New(cfg *config.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	paths := resolvedPaths(cfg)
	kwCfg := registry.KeywordConfig{
		MaxKeywords:   cfg.Decision.MaxKeywords,
		MinKeywordLen: cfg.Decision.MinKeywordLen,
	}

	store := registry.NewStore(paths.registryFile)
	audit := registry.NewAuditLog(paths.auditLog, paths.backupDir, cfg.Updater.AuditRotateBytes())
	healingLog := registry.NewAuditLog(paths.healingLog, paths.backupDir, cfg.Updater.AuditRotateBytes())

	updater := registry.NewUpdater(store, paths.lockFile, registry.UpdaterConfig{
		LockStale:   cfg.Updater.LockStale(),
		LockRetries: cfg.Updater.LockRetries,
	}, audit, cfg.Paths.RepoRoot, kwCfg)

	healer := registry.NewHealer(store, healingLog, cfg.Paths.RepoRoot, paths.backupDir,
		cfg.Healer.Backups, cfg.Healer.StaleVerification(), kwCfg)

	engine := decision.NewEngine(store, cfg.Decision)

	r := &Runtime{
		cfg:           cfg,
		Store:         store,
		Updater:       updater,
		Healer:        healer,
		Engine:        engine,
		Sessions:      session.NewStore(paths.sessionsDir),
		Pipeline:      prompt.NewPipeline(cfg.Gate.Timeout()),
		Diagnostics:   diagnostics.NewReader(paths.metricsDir),
		loaderMetrics: prompt.NewMetricsWriter(paths.metricsDir),
		gateMetrics:   gate.NewMetricsRecorder(paths.metricsDir),
		gates:         make(map[string]*gate.Gate),
	}

	for _, v := range []gate.Verifier{
		gate.NewEpicGate(engine),
		gate.NewStoryGate(engine),
		gate.NewChecklistGate(engine),
		gate.NewAgentGate(engine),
	} {
		r.gates[v.Name()] = gate.New(v, r.newBreaker("gate-"+v.Name()), cfg.Gate.Timeout())
	}

	logging.Boot("runtime wired: registry=%s sessions=%s", paths.registryFile, paths.sessionsDir)
	return r, nil
}

func (r *Runtime) newBreaker(name string) *breaker.Breaker {
	return breaker.New(breaker.Config{
		Name:             name,
		FailureThreshold: uint32(r.cfg.Breaker.FailureThreshold),
		SuccessThreshold: uint32(r.cfg.Breaker.SuccessThreshold),
		ResetTimeout:     r.cfg.Breaker.ResetTimeout(),
	})
}

// VerifyGate runs one of G1-G4 by id and records the result into the
// gate metrics dump.
func (r *Runtime) VerifyGate(ctx context.Context, gateID string, input map[string]interface{}) (gate.Result, error) {
	g, ok := r.gates[gateID]
	if !ok {
		return gate.Result{}, fmt.Errorf("unknown gate %q", gateID)
	}
	res := g.Verify(ctx, input)
	r.gateMetrics.Record(res)
	return res, nil
}

// RegisterLayerLoader binds a loader to one of the eight rule layers,
// giving it a dedicated circuit breaker.
func (r *Runtime) RegisterLayerLoader(layer prompt.Layer, loader prompt.Loader) {
	r.Pipeline.Register(layer, loader, r.newBreaker("layer-"+string(layer)))
}

// PromptOptions tunes one HandlePrompt call.
type PromptOptions struct {
	Devmode        bool
	Budget         int
	StarCommands   string
	MemoryHints    string
	MaxConcurrency int
}

// HandlePrompt is the prompt path end to end (spec §2): bump the
// session, compute the bracket, run the active layers, persist loader
// metrics, and assemble the final rule block.
func (r *Runtime) HandlePrompt(ctx context.Context, sessionID string, opts PromptOptions) (string, error) {
	promptCount := 1
	if existing := r.Sessions.Load(sessionID); existing != nil {
		promptCount = existing.PromptCount + 1
	}
	percent := prompt.EstimateContextPercent(promptCount)
	bracket := prompt.CalculateBracket(percent)

	if _, err := r.Sessions.Update(sessionID, map[string]interface{}{
		"context": map[string]interface{}{
			"last_bracket":         string(bracket),
			"last_context_percent": percent,
		},
	}); err != nil {
		return "", fmt.Errorf("update session: %w", err)
	}

	results := r.Pipeline.Run(ctx, bracket, sessionID, opts.MaxConcurrency)
	r.loaderMetrics.RecordRun(results)

	var metrics map[string]interface{}
	if opts.Devmode {
		metrics = make(map[string]interface{}, len(results))
		for _, res := range results {
			metrics[string(res.Layer)] = fmt.Sprintf("%s/%dms", res.Status, res.Duration.Milliseconds())
		}
	}

	return prompt.FormatSynapseRules(prompt.FormatInput{
		Bracket:        bracket,
		Percent:        percent,
		SessionID:      sessionID,
		LayerResults:   results,
		StarCommands:   opts.StarCommands,
		MemoryHints:    opts.MemoryHints,
		Devmode:        opts.Devmode,
		DevmodeMetrics: metrics,
		Budget:         opts.Budget,
	}), nil
}

// StartWatcher begins watching every configured category root,
// delivering debounced batches into the updater. Idempotent.
func (r *Runtime) StartWatcher(ctx context.Context) error {
	if r.watcher != nil {
		return r.watcher.Start(ctx)
	}

	paths := resolvedPaths(r.cfg)
	roots := make(map[registry.Category]string, len(r.cfg.Paths.CategoryRoots))
	for name, root := range r.cfg.Paths.CategoryRoots {
		roots[registry.Category(name)] = joinRoot(r.cfg.Paths.RepoRoot, root)
	}

	w, err := registry.NewWatcher(roots, paths.registryFile, paths.auditLog, paths.backupDir,
		paths.lockFile, r.cfg.Updater.Debounce(), func(changes []registry.Change) error {
			_, err := r.Updater.ProcessChanges(changes)
			return err
		})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	r.watcher = w
	return w.Start(ctx)
}

// StopWatcher drains and stops the watcher if one is running.
func (r *Runtime) StopWatcher() {
	if r.watcher != nil {
		r.watcher.Stop()
		r.watcher = nil
	}
}

type runtimePaths struct {
	registryFile string
	auditLog     string
	healingLog   string
	backupDir    string
	lockFile     string
	sessionsDir  string
	metricsDir   string
}

func resolvedPaths(cfg *config.Config) runtimePaths {
	root := cfg.Paths.RepoRoot
	return runtimePaths{
		registryFile: joinRoot(root, cfg.Paths.RegistryFile),
		auditLog:     joinRoot(root, cfg.Paths.AuditLog),
		healingLog:   joinRoot(root, cfg.Paths.HealingLog),
		backupDir:    joinRoot(root, cfg.Paths.BackupDir),
		lockFile:     joinRoot(root, cfg.Paths.LockFile),
		sessionsDir:  joinRoot(root, cfg.Paths.SessionsDir),
		metricsDir:   joinRoot(root, cfg.Paths.MetricsDir),
	}
}

func joinRoot(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
