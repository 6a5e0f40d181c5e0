package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"montrix/internal/config"
	"montrix/internal/position"
	"montrix/internal/store"
	"montrix/internal/types"
)

func testSimConfig() config.SimConfig {
	return config.SimConfig{
		InitialEquity:    1000,
		RiskPerTrade:     0.02,
		TpPct:            4.0,
		SlPct:            3.0,
		TrailActivatePct: 2.0,
		TrailStepPct:     1.0,
		MaxOpenPositions: 1,
	}
}

func newTestEngine(t *testing.T, cfg config.SimConfig) (*Engine, *position.Manager) {
	t.Helper()
	book := position.NewManager(store.NewMemoryKV())
	eng := NewEngine(cfg, nil, book)
	return eng, book
}

func assertEquityConserved(t *testing.T, res *TickResult) {
	t.Helper()
	mv := 0.0
	for _, v := range res.Snapshot.Positions {
		mv += v.CurrentPrice * v.Quantity
	}
	assert.InDelta(t, res.Snapshot.Equity, res.Snapshot.Cash+mv, 1e-9)
}

func TestOpenLongRiskSizing(t *testing.T) {
	eng, book := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	res := eng.Process(ctx, "btcusdt", 100, Advice{Recommendation: "BUY"})
	require.NotNil(t, res)
	require.Len(t, res.Fills, 1)

	// equity=1000, risk=2% -> risk_cash=20; sl=97, per-unit risk=3 -> qty=6.667
	fill := res.Fills[0]
	assert.Equal(t, "BUY", fill.Side)
	assert.Equal(t, "BTCUSDT", fill.Symbol)
	assert.InDelta(t, 20.0/3.0, fill.Quantity, 1e-9)
	assert.InDelta(t, 1000-100*20.0/3.0, res.Snapshot.Cash, 1e-9)

	pos, ok := book.Get(ctx, "BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 97, pos.StopLoss, 1e-9)
	assert.InDelta(t, 104, pos.TakeProfit, 1e-9)
	assertEquityConserved(t, res)
}

func TestOpenSizesDownToAvailableCash(t *testing.T) {
	cfg := testSimConfig()
	cfg.RiskPerTrade = 0.5 // risk_cash=500, qty_by_risk=500/3≈166.7 > cash/entry=10
	eng, _ := newTestEngine(t, cfg)

	res := eng.Process(context.Background(), "ETHUSDT", 100, Advice{Signal: "BUY"})
	require.Len(t, res.Fills, 1)
	assert.InDelta(t, 10.0, res.Fills[0].Quantity, 1e-9)
	assert.InDelta(t, 0.0, res.Snapshot.Cash, 1e-9)
	assertEquityConserved(t, res)
}

func TestOpenSkipReasons(t *testing.T) {
	eng, _ := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	res := eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "HOLD"})
	assert.Empty(t, res.Fills)
	assert.Equal(t, "advice is not BUY", res.Skipped)

	res = eng.Process(ctx, "BTCUSDT", 0, Advice{Signal: "BUY"})
	assert.Empty(t, res.Fills)
	assert.Equal(t, "non-positive price", res.Skipped)
}

func TestOpenPositionCapIsGlobal(t *testing.T) {
	cfg := testSimConfig()
	cfg.MaxOpenPositions = 1
	eng, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	res := eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "BUY"})
	require.Len(t, res.Fills, 1)

	// cap is across all symbols, not per symbol
	res = eng.Process(ctx, "ETHUSDT", 50, Advice{Signal: "BUY"})
	assert.Empty(t, res.Fills)
	assert.Equal(t, "open position cap reached", res.Skipped)
}

func TestRecommendationOverridesSignal(t *testing.T) {
	eng, _ := newTestEngine(t, testSimConfig())

	res := eng.Process(context.Background(), "BTCUSDT", 100, Advice{Signal: "SELL", Recommendation: "BUY"})
	require.Len(t, res.Fills, 1)
	assert.Equal(t, "BUY", res.Fills[0].Side)
}

func TestTrailingActivationRaisesStop(t *testing.T) {
	eng, _ := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "BUY"})

	// +3% >= trigger 2% -> trailing on, candidate = 103*0.99 = 101.97 > 97
	res := eng.Process(ctx, "BTCUSDT", 103, Advice{})
	require.Len(t, res.Snapshot.Positions, 1)
	view := res.Snapshot.Positions[0]
	assert.True(t, view.TrailingActive)
	assert.InDelta(t, 103*0.99, view.StopLoss, 1e-9)

	// price falls back: trailing must never lower the stop
	res = eng.Process(ctx, "BTCUSDT", 102.5, Advice{})
	require.Len(t, res.Snapshot.Positions, 1)
	assert.GreaterOrEqual(t, res.Snapshot.Positions[0].StopLoss, 103*0.99-1e-9)
}

func TestStopLossCloseHasPriority(t *testing.T) {
	eng, book := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	open := eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "BUY"})
	qty := open.Fills[0].Quantity

	// price at 96 is below sl=97; SELL advice must not steal the close reason
	res := eng.Process(ctx, "BTCUSDT", 96, Advice{Signal: "SELL"})
	require.Len(t, res.Fills, 1)
	fill := res.Fills[0]
	assert.Equal(t, "SELL", fill.Side)
	assert.Equal(t, types.CloseReasonStopLoss, fill.Reason)
	assert.InDelta(t, (96.0-100.0)*qty, fill.PnLCash, 1e-9)

	require.Len(t, res.Snapshot.ClosedTrades, 1)
	assert.Equal(t, types.CloseReasonStopLoss, res.Snapshot.ClosedTrades[0].Reason)
	_, ok := book.Get(ctx, "BTCUSDT")
	assert.False(t, ok)
	assertEquityConserved(t, res)
}

func TestTakeProfitClose(t *testing.T) {
	eng, _ := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "BUY"})
	res := eng.Process(ctx, "BTCUSDT", 104, Advice{})
	require.Len(t, res.Fills, 1)
	assert.Equal(t, types.CloseReasonTakeProfit, res.Fills[0].Reason)
	assert.Greater(t, res.Fills[0].PnLCash, 0.0)
}

func TestSignalExitClose(t *testing.T) {
	eng, _ := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "BUY"})
	res := eng.Process(ctx, "BTCUSDT", 101, Advice{Recommendation: "SELL"})
	require.Len(t, res.Fills, 1)
	assert.Equal(t, types.CloseReasonSignalExit, res.Fills[0].Reason)
}

func TestOpenAndCloseNeverInSameTick(t *testing.T) {
	cfg := testSimConfig()
	cfg.SlPct = 3
	eng, _ := newTestEngine(t, cfg)

	// a freshly opened position is never re-checked for close in the same tick,
	// even though entry price trivially satisfies neither tp nor sl anyway
	res := eng.Process(context.Background(), "BTCUSDT", 100, Advice{Signal: "BUY"})
	require.Len(t, res.Fills, 1)
	assert.Equal(t, "BUY", res.Fills[0].Side)
	assert.Len(t, res.Snapshot.ClosedTrades, 0)
}

func TestEquityConservedAcrossTickSequence(t *testing.T) {
	eng, _ := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	prices := []float64{100, 101, 99.5, 103, 104.2, 96}
	for _, p := range prices {
		res := eng.Process(ctx, "BTCUSDT", p, Advice{Signal: "BUY"})
		assertEquityConserved(t, res)
	}
}

func TestDayRollover(t *testing.T) {
	eng, _ := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return now }
	eng.Reset()

	eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "BUY"})
	res := eng.Process(ctx, "BTCUSDT", 102, Advice{})
	sameDayBaseline := res.Snapshot.DayStartEquity
	assert.InDelta(t, 1000, sameDayBaseline, 1e-9)

	// second recompute within the same UTC day leaves the baseline alone
	res = eng.Process(ctx, "BTCUSDT", 102.5, Advice{})
	assert.InDelta(t, sameDayBaseline, res.Snapshot.DayStartEquity, 1e-9)

	// crossing midnight resets the baseline exactly once
	now = now.Add(20 * time.Minute)
	res = eng.Process(ctx, "BTCUSDT", 103, Advice{})
	rolled := res.Snapshot.DayStartEquity
	assert.InDelta(t, res.Snapshot.Equity, rolled, 1e-9)
	assert.InDelta(t, 0, res.Snapshot.DayPnLPct, 1e-9)

	now = now.Add(time.Minute)
	res = eng.Process(ctx, "BTCUSDT", 103, Advice{})
	assert.InDelta(t, rolled, res.Snapshot.DayStartEquity, 1e-9)
}

func TestResetClearsLedger(t *testing.T) {
	eng, _ := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "BUY"})
	eng.Reset()

	snap := eng.CurrentSnapshot()
	assert.Equal(t, 0, snap.OpenCount)
	assert.InDelta(t, 1000, snap.Equity, 1e-9)
	assert.InDelta(t, 1000, snap.Cash, 1e-9)
	assert.True(t, math.Abs(snap.TotalPnLPct) < 1e-9)
}

func TestFollowsExternalCloseInSharedBook(t *testing.T) {
	eng, book := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "BUY"})
	book.Close(ctx, "BTCUSDT", types.CloseReasonTakeProfit)

	res := eng.Process(ctx, "BTCUSDT", 101, Advice{})
	require.Len(t, res.Fills, 1)
	assert.Equal(t, "SELL", res.Fills[0].Side)
	assert.Equal(t, types.CloseReasonManual, res.Fills[0].Reason)
	assert.Equal(t, 0, res.Snapshot.OpenCount)
	assertEquityConserved(t, res)
}

func TestAdoptsStopRaisedInSharedBook(t *testing.T) {
	eng, book := newTestEngine(t, testSimConfig())
	ctx := context.Background()

	eng.Process(ctx, "BTCUSDT", 100, Advice{Signal: "BUY"})

	// background controller raised the stop through the shared book
	book.SetStopLoss(ctx, "BTCUSDT", 99)

	res := eng.Process(ctx, "BTCUSDT", 100.5, Advice{})
	require.Len(t, res.Snapshot.Positions, 1)
	assert.InDelta(t, 99, res.Snapshot.Positions[0].StopLoss, 1e-9)
}
