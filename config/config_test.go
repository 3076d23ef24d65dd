package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, uint64(0), cfg.Execution.MaxCycles, "default is no cycle limit")
	assert.False(t, cfg.Execution.EnableTrace)
	assert.Equal(t, 1000, cfg.Debugger.HistorySize)
	assert.True(t, cfg.Debugger.ShowRegisters)
	assert.Equal(t, "dec", cfg.Display.NumberFormat)
	assert.Equal(t, "g", cfg.Display.FloatFormat)
}

func TestLoadFromMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Execution.MaxCycles = 5000
	cfg.Execution.EnableTrace = true
	cfg.Display.NumberFormat = "hex"
	cfg.Display.FloatFormat = "f"

	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), loaded.Execution.MaxCycles)
	assert.True(t, loaded.Execution.EnableTrace)
	assert.Equal(t, "hex", loaded.Display.NumberFormat)
	assert.Equal(t, "f", loaded.Display.FloatFormat)
}

func TestLoadFromPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[execution]\nmax_cycles = 77\n"), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	// Overridden value applies, everything else keeps its default.
	assert.Equal(t, uint64(77), cfg.Execution.MaxCycles)
	assert.Equal(t, 1000, cfg.Debugger.HistorySize)
}

func TestLoadFromRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0o644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}
