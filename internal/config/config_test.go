package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
market:
  symbols: [btcusdt, " ethusdt "]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9982", cfg.App.HTTPAddr)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Market.Symbols)
	assert.Equal(t, "5s", cfg.Market.PollInterval)
	assert.InDelta(t, 1000, cfg.Sim.InitialEquity, 1e-9)
	assert.InDelta(t, 0.02, cfg.Sim.RiskPerTrade, 1e-9)
	assert.Equal(t, 1, cfg.Sim.MaxOpenPositions)
	assert.Equal(t, "dynamic", cfg.Trailing.Mode)
	assert.Equal(t, 5, cfg.Trailing.IntervalSeconds)
	assert.InDelta(t, 0.35, cfg.Trailing.Dynamic.BasePct, 1e-9)
	assert.Equal(t, 50, cfg.Trailing.Dynamic.VolWindow)

	src := cfg.Market.ResolveActiveSource()
	assert.Equal(t, "binance", src.Name)
	assert.Equal(t, "https://fapi.binance.com", src.RESTBaseURL)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
sim:
  initial_equity: 5000
  risk_per_trade: 0.01
  max_open_positions: 3
trailing:
  mode: static
  trail_pct: 0.5
  interval_seconds: 30
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 5000, cfg.Sim.InitialEquity, 1e-9)
	assert.InDelta(t, 0.01, cfg.Sim.RiskPerTrade, 1e-9)
	assert.Equal(t, 3, cfg.Sim.MaxOpenPositions)
	assert.Equal(t, "static", cfg.Trailing.Mode)
	assert.InDelta(t, 0.5, cfg.Trailing.TrailPct, 1e-9)
	assert.Equal(t, 30, cfg.Trailing.IntervalSeconds)
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
sim:
  initial_equity: 2000
  tp_pct: 6
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
sim:
  tp_pct: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// base 提供缺省，主文件覆盖重叠键
	assert.InDelta(t, 2000, cfg.Sim.InitialEquity, 1e-9)
	assert.InDelta(t, 8, cfg.Sim.TpPct, 1e-9)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "bad_mode.yaml", `
trailing:
  mode: adaptive
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeFile(t, dir, "bad_interval.yaml", `
market:
  poll_interval: soon
`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
