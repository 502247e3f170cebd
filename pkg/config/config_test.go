package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jihwankim/tiermemctl/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsOverlappingTiers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Topology.DRAMNodes = []int{0, 1}
	cfg.Topology.NVRAMNodes = []int{1, 2}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node 1")
}

func TestValidateRejectsEmptyTier(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Topology.NVRAMNodes = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nvram_nodes")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  workers_max: 16\n"), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Tuning.WorkersMax)
	assert.Equal(t, config.DefaultConfig().Tuning.MaxNFind, cfg.Tuning.MaxNFind)
}

func TestLoadAcceptsDurationLiterals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"tuning:\n  memcheck_interval: 2s\n  clear_interval: 250ms\n"), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.Tuning.MemcheckInterval))
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.Tuning.ClearInterval))
}

func TestLoadRejectsInvalidDurationLiteral(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  memcheck_interval: not-a-duration\n"), 0644))

	_, err := config.Load(path)
	require.Error(t, err)
}
