package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ".", cfg.Paths.RepoRoot)
	assert.Equal(t, ".ids/registry.json", cfg.Paths.RegistryFile)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, int64(30_000), cfg.Breaker.ResetTimeoutMs)
	assert.Equal(t, int64(2_000), cfg.Gate.TimeoutMs)
	assert.Equal(t, int64(100), cfg.Updater.DebounceMs)
	assert.Equal(t, 10, cfg.Healer.Backups)
	assert.Equal(t, 7, cfg.Healer.StaleVerificationDays)
	assert.Equal(t, 0.9, cfg.Decision.ReuseThreshold)
	assert.Equal(t, 0.6, cfg.Decision.AdaptMinScore)
	assert.Equal(t, 0.30, cfg.Decision.AdaptImpactThreshold)
	assert.Equal(t, 24, cfg.Session.StaleHours)
	assert.Equal(t, 50, cfg.Session.MaxTitleChars)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Paths.RegistryFile, cfg.Paths.RegistryFile)
}

func TestSaveAndLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.yaml")
	cfg := DefaultConfig()
	cfg.Paths.RepoRoot = "/srv/project"
	cfg.Decision.MaxResults = 42

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/project", loaded.Paths.RepoRoot)
	assert.Equal(t, 42, loaded.Decision.MaxResults)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("IDS_REPO_ROOT", "/env/root")
	t.Setenv("IDS_DEBUG", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/env/root", cfg.Paths.RepoRoot)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.RegistryFile = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Breaker.FailureThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Decision.RelevanceThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30.0, cfg.Breaker.ResetTimeout().Seconds())
	assert.Equal(t, 100e6, float64(cfg.Updater.Debounce().Nanoseconds()))
	assert.Equal(t, 168.0, cfg.Healer.StaleVerification().Hours())
	assert.Equal(t, 24.0, cfg.Session.StaleAge().Hours())
	assert.Equal(t, 300.0, cfg.Decision.CacheTTL().Seconds())
}
