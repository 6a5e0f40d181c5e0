package tpsl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"montrix/internal/config"
	"montrix/internal/position"
	"montrix/internal/store"
	"montrix/internal/types"
)

type fakePrices struct {
	prices map[string]float64
}

func (f fakePrices) LastPrice(_ context.Context, symbol string) (float64, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

type fakeVol struct {
	pct float64
	ok  bool
}

func (f fakeVol) VolatilityPct(context.Context, string, int) (float64, bool) {
	return f.pct, f.ok
}

type captureSink struct {
	fills []types.Fill
	err   error
}

func (s *captureSink) Append(fill types.Fill) error {
	if s.err != nil {
		return s.err
	}
	s.fills = append(s.fills, fill)
	return nil
}

func staticSettings() Settings {
	return Settings{Enabled: true, Mode: "static", TrailPct: 1.0}
}

func newTestController(t *testing.T, s Settings, prices fakePrices, sink *captureSink) (*Controller, *position.Manager) {
	t.Helper()
	loader, err := NewSettingsLoader("", s)
	require.NoError(t, err)
	book := position.NewManager(store.NewMemoryKV())
	cfg := config.TrailingConfig{Enabled: true, IntervalSeconds: 1, JoinTimeoutSec: 2}
	c := NewController(cfg, book, prices, nil, sink, loader)
	return c, book
}

func openPosition(ctx context.Context, book *position.Manager, symbol string, entry, tp, sl float64) {
	book.Upsert(ctx, types.Position{
		Symbol:       symbol,
		Side:         types.SideLong,
		Quantity:     2,
		EntryPrice:   entry,
		CurrentPrice: entry,
		MaxPrice:     entry,
		TakeProfit:   tp,
		StopLoss:     sl,
		OpenedAt:     time.Now().Add(-time.Minute),
	})
}

func TestTickRaisesStopMonotonically(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	c, book := newTestController(t, staticSettings(), fakePrices{prices: map[string]float64{"BTCUSDT": 103}}, sink)
	openPosition(ctx, book, "BTCUSDT", 100, 110, 97)

	require.NoError(t, c.tick(ctx))
	pos, ok := book.Get(ctx, "BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 103*0.99, pos.StopLoss, 1e-9)
	assert.InDelta(t, 103, pos.MaxPrice, 1e-9)

	// price pulls back: anchor and stop stay where they were
	c.prices = fakePrices{prices: map[string]float64{"BTCUSDT": 102}}
	require.NoError(t, c.tick(ctx))
	pos, _ = book.Get(ctx, "BTCUSDT")
	assert.InDelta(t, 103*0.99, pos.StopLoss, 1e-9)
	assert.InDelta(t, 103, pos.MaxPrice, 1e-9)
}

func TestTickSkipsClosingPosition(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	c, book := newTestController(t, staticSettings(), fakePrices{prices: map[string]float64{"BTCUSDT": 103}}, sink)
	openPosition(ctx, book, "BTCUSDT", 100, 110, 97)
	book.MarkClosing(ctx, "BTCUSDT", true)

	require.NoError(t, c.tick(ctx))
	pos, ok := book.Get(ctx, "BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 97, pos.StopLoss, 1e-9)
	assert.Empty(t, sink.fills)
}

func TestSetStopLossNoOpWhileClosing(t *testing.T) {
	ctx := context.Background()
	book := position.NewManager(store.NewMemoryKV())
	openPosition(ctx, book, "BTCUSDT", 100, 110, 97)
	book.MarkClosing(ctx, "BTCUSDT", true)

	book.SetStopLoss(ctx, "BTCUSDT", 99)
	pos, ok := book.Get(ctx, "BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 97, pos.StopLoss, 1e-9)
}

func TestTickClosesOnTakeProfit(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	c, book := newTestController(t, staticSettings(), fakePrices{prices: map[string]float64{"BTCUSDT": 111}}, sink)
	openPosition(ctx, book, "BTCUSDT", 100, 110, 97)

	require.NoError(t, c.tick(ctx))
	_, ok := book.Get(ctx, "BTCUSDT")
	assert.False(t, ok)
	require.Len(t, sink.fills, 1)
	fill := sink.fills[0]
	assert.Equal(t, "SELL", fill.Side)
	assert.Equal(t, types.CloseReasonTakeProfit, fill.Reason)
	assert.InDelta(t, (111.0-100.0)*2, fill.PnLCash, 1e-9)
	assert.Greater(t, fill.HoldSeconds, 0.0)
}

func TestTickClosesOnStopLoss(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	c, book := newTestController(t, staticSettings(), fakePrices{prices: map[string]float64{"BTCUSDT": 96.5}}, sink)
	openPosition(ctx, book, "BTCUSDT", 100, 110, 97)

	require.NoError(t, c.tick(ctx))
	_, ok := book.Get(ctx, "BTCUSDT")
	assert.False(t, ok)
	require.Len(t, sink.fills, 1)
	assert.Equal(t, types.CloseReasonStopLoss, sink.fills[0].Reason)
	assert.InDelta(t, (96.5-100.0)*2, sink.fills[0].PnLCash, 1e-9)
}

func TestTickSkipsMissingPrice(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{}
	c, book := newTestController(t, staticSettings(), fakePrices{prices: map[string]float64{}}, sink)
	openPosition(ctx, book, "BTCUSDT", 100, 110, 97)

	require.NoError(t, c.tick(ctx))
	pos, ok := book.Get(ctx, "BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 97, pos.StopLoss, 1e-9)
}

func TestTickJournalFailureSurfacesError(t *testing.T) {
	ctx := context.Background()
	sink := &captureSink{err: errors.New("disk full")}
	c, book := newTestController(t, staticSettings(), fakePrices{prices: map[string]float64{"BTCUSDT": 111}}, sink)
	openPosition(ctx, book, "BTCUSDT", 100, 110, 97)

	err := c.tick(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestHardStopFloorTracksHighWaterMark(t *testing.T) {
	ctx := context.Background()
	s := staticSettings()
	s.TrailPct = 0 // no trailing candidate, only the floor
	s.HardStopPct = 5
	sink := &captureSink{}
	prices := map[string]float64{"BTCUSDT": 120}
	c, book := newTestController(t, s, fakePrices{prices: prices}, sink)

	// floor follows the high-water mark: 120*(1-5%) = 114, lifting the old 97 stop
	openPosition(ctx, book, "BTCUSDT", 100, 130, 97)
	require.NoError(t, c.tick(ctx))
	pos, _ := book.Get(ctx, "BTCUSDT")
	assert.InDelta(t, 114, pos.StopLoss, 1e-9)

	// price pulls back but the high-water mark stays, so the floor never drops
	prices["BTCUSDT"] = 116
	require.NoError(t, c.tick(ctx))
	pos, _ = book.Get(ctx, "BTCUSDT")
	assert.InDelta(t, 114, pos.StopLoss, 1e-9)

	// stop already above the floor is left alone
	prices["BTCUSDT"] = 120
	book.SetStopLoss(ctx, "BTCUSDT", 118)
	require.NoError(t, c.tick(ctx))
	pos, _ = book.Get(ctx, "BTCUSDT")
	assert.InDelta(t, 118, pos.StopLoss, 1e-9)
}

func TestDynamicTrailPct(t *testing.T) {
	// vol=1.0 -> scale 1.0 -> base unchanged
	assert.InDelta(t, 0.35, dynamicTrailPct(0.35, 1.0, 0.20, 1.00), 1e-9)
	// low vol clamps scale at 0.5
	assert.InDelta(t, 0.20, dynamicTrailPct(0.35, 0.1, 0.20, 1.00), 1e-9)
	// high vol clamps scale at 2.0
	assert.InDelta(t, 0.70, dynamicTrailPct(0.35, 5.0, 0.20, 1.00), 1e-9)
	// result clamped into [min, max]
	assert.InDelta(t, 0.50, dynamicTrailPct(0.35, 5.0, 0.20, 0.50), 1e-9)
}

func TestDynamicModeUsesVolatility(t *testing.T) {
	ctx := context.Background()
	s := Settings{
		Enabled: true, Mode: "dynamic",
		DynamicBasePct: 1.0, DynamicMinPct: 0.5, DynamicMaxPct: 4.0, DynamicVolWindow: 50,
	}
	sink := &captureSink{}
	c, book := newTestController(t, s, fakePrices{prices: map[string]float64{"BTCUSDT": 104}}, sink)
	c.vol = fakeVol{pct: 2.0, ok: true} // scale 2.0 -> trail pct 2.0
	openPosition(ctx, book, "BTCUSDT", 100, 110, 97)

	require.NoError(t, c.tick(ctx))
	pos, _ := book.Get(ctx, "BTCUSDT")
	assert.InDelta(t, 104*(1-0.02), pos.StopLoss, 1e-9)
}

func TestDynamicModeFallsBackWithoutVolatility(t *testing.T) {
	s := Settings{
		Enabled: true, Mode: "dynamic",
		DynamicBasePct: 1.0, DynamicMinPct: 0.5, DynamicMaxPct: 4.0,
	}
	assert.InDelta(t, 1.0, s.trailPctFor(0, false), 1e-9)
}

func TestBackoffProgression(t *testing.T) {
	d := 5 * time.Second
	d = nextBackoff(d)
	assert.Equal(t, 10*time.Second, d)
	d = nextBackoff(d)
	assert.Equal(t, 20*time.Second, d)
	d = nextBackoff(d)
	assert.Equal(t, 40*time.Second, d)
	d = nextBackoff(d)
	assert.Equal(t, 60*time.Second, d)
	d = nextBackoff(d)
	assert.Equal(t, 60*time.Second, d)
}

func TestStartStopJoins(t *testing.T) {
	sink := &captureSink{}
	c, _ := newTestController(t, staticSettings(), fakePrices{prices: map[string]float64{}}, sink)

	c.Start(context.Background())
	assert.True(t, c.Stop())

	// stop is idempotent
	assert.True(t, c.Stop())
}

func TestDisabledSettingsSkipTick(t *testing.T) {
	ctx := context.Background()
	s := staticSettings()
	s.Enabled = false
	sink := &captureSink{}
	c, book := newTestController(t, s, fakePrices{prices: map[string]float64{"BTCUSDT": 111}}, sink)
	openPosition(ctx, book, "BTCUSDT", 100, 110, 97)

	require.NoError(t, c.tick(ctx))
	_, ok := book.Get(ctx, "BTCUSDT")
	assert.True(t, ok)
	assert.Empty(t, sink.fills)
}
