package sim

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"montrix/internal/config"
	"montrix/internal/journal"
	"montrix/internal/logger"
	"montrix/internal/types"
)

// Advice 是一次 tick 附带的方向建议。Recommendation 优先于原始信号，
// 为空时回退到 Signal。
type Advice struct {
	Signal         string `json:"signal,omitempty"`         // BUY | SELL | HOLD
	Recommendation string `json:"recommendation,omitempty"` // 上游顾问给出的最终方向
}

func (a Advice) effectiveSide() string {
	if s := strings.ToUpper(strings.TrimSpace(a.Recommendation)); s != "" {
		return s
	}
	return strings.ToUpper(strings.TrimSpace(a.Signal))
}

// Snapshot 是一次 tick 之后的组合快照。
type Snapshot struct {
	Timestamp      time.Time            `json:"ts"`
	Equity         float64              `json:"equity"`
	Cash           float64              `json:"cash"`
	OpenCount      int                  `json:"open_count"`
	TotalPnLPct    float64              `json:"total_pnl_pct"`
	DayPnLPct      float64              `json:"day_pnl_pct"`
	OpenPnLCash    float64              `json:"open_pnl_cash"`
	DayStartEquity float64              `json:"day_start_equity"`
	Positions      []types.PositionView `json:"positions"`
	ClosedTrades   []types.ClosedTrade  `json:"closed_trades"`
}

// TickResult 是 Process 的返回值。Skipped 非空表示这次 tick 没有产生
// 任何开/平仓动作，以及为什么——静默吞掉原因会让排查变得困难。
type TickResult struct {
	Snapshot Snapshot     `json:"snapshot"`
	Fills    []types.Fill `json:"fills,omitempty"`
	Skipped  string       `json:"skipped,omitempty"`
}

// Book 是引擎对外镜像持仓的出口。开仓 Upsert 到这里，行情更新走 Sync
// 合并写回，平仓走 Close，让 trailing 控制循环和 HTTP 消费方看到
// 同一份持仓。
type Book interface {
	Get(ctx context.Context, symbol string) (types.Position, bool)
	Upsert(ctx context.Context, pos types.Position)
	Sync(ctx context.Context, pos types.Position) (types.Position, bool)
	Close(ctx context.Context, symbol string, reason types.CloseReason) (types.Position, bool)
}

// Engine 把一次 (symbol, price, advice) tick 转成开/平仓决策并维护账本。
// 账本是实例私有的，只允许单个调用方驱动 Process；它不做内部加锁。
type Engine struct {
	cfg    config.SimConfig
	led    *ledger
	open   map[string]*types.Position
	closed []types.ClosedTrade

	sink journal.Sink
	book Book

	nowFn func() time.Time
}

func NewEngine(cfg config.SimConfig, sink journal.Sink, book Book) *Engine {
	if sink == nil {
		sink = journal.Discard{}
	}
	e := &Engine{
		cfg:   cfg,
		sink:  sink,
		book:  book,
		nowFn: time.Now,
	}
	e.reset(e.nowFn())
	return e
}

func (e *Engine) reset(now time.Time) {
	e.led = newLedger(e.cfg.InitialEquity, now)
	e.open = make(map[string]*types.Position)
	e.closed = nil
}

// Reset 清空账本和持仓，回到初始 equity。
func (e *Engine) Reset() {
	e.reset(e.nowFn())
}

// Process 处理一个市场 tick。固定顺序：行情更新 → 开仓判定 → 平仓判定
// → 账本重算。同一 tick 内新开的持仓不会立刻参与平仓检查。
func (e *Engine) Process(ctx context.Context, symbol string, lastPrice float64, advice Advice) *TickResult {
	now := e.nowFn()
	symbol = types.NormalizeSymbol(symbol)
	if symbol == "" {
		return &TickResult{Skipped: "empty symbol", Snapshot: e.snapshot(now)}
	}
	if lastPrice <= 0 {
		e.led.recompute(e.open, now)
		return &TickResult{Skipped: "non-positive price", Snapshot: e.snapshot(now)}
	}

	side := advice.effectiveSide()
	var fills []types.Fill
	skipped := ""

	if pos, ok := e.open[symbol]; ok {
		if e.closedOutside(ctx, symbol) {
			// trailing 控制循环（或手动操作）已经在共享持仓表里平掉了
			// 这笔仓位，引擎侧跟随出清，不再重新镜像回去。
			pos.CurrentPrice = lastPrice
			fills = append(fills, e.closePosition(ctx, pos, lastPrice, types.CloseReasonManual, now))
		} else {
			e.updateMarket(ctx, pos, lastPrice)
			if fill := e.maybeClose(ctx, pos, side, now); fill != nil {
				fills = append(fills, *fill)
			}
		}
	} else {
		fill, reason := e.tryOpen(ctx, symbol, lastPrice, side, now)
		if fill != nil {
			fills = append(fills, *fill)
		} else {
			skipped = reason
		}
	}

	e.led.recompute(e.open, now)
	return &TickResult{Snapshot: e.snapshot(now), Fills: fills, Skipped: skipped}
}

func (e *Engine) closedOutside(ctx context.Context, symbol string) bool {
	if e.book == nil {
		return false
	}
	_, ok := e.book.Get(ctx, symbol)
	return !ok
}

// updateMarket 刷新现价并评估 trailing 激活。candidate 只在高于当前
// 止损时采纳：trailing 永远不下调止损。
func (e *Engine) updateMarket(ctx context.Context, pos *types.Position, lastPrice float64) {
	pos.CurrentPrice = lastPrice
	if lastPrice > pos.MaxPrice {
		pos.MaxPrice = lastPrice
	}

	if pos.TrailingStepPct > 0 && pos.UnrealizedPnLPct() >= pos.TrailingTriggerPct {
		pos.TrailingActive = true
		candidate := pos.CurrentPrice * (1 - pos.TrailingStepPct/100)
		if candidate > pos.StopLoss {
			logger.Debugf("sim: %s trailing SL %.6f -> %.6f", pos.Symbol, pos.StopLoss, candidate)
			pos.StopLoss = candidate
		}
	}

	// trailing 控制循环可能同时在抬高共享持仓表里的止损。Sync 在一次
	// 加锁内取双方较高者写回，引擎侧采纳合并结果。
	if e.book != nil {
		if merged, ok := e.book.Sync(ctx, *pos); ok {
			pos.StopLoss = merged.StopLoss
			pos.MaxPrice = merged.MaxPrice
		}
	}
}

// tryOpen 按风险预算计算仓位并开 LONG。返回 (fill, skipReason)，
// fill 为 nil 时 skipReason 说明为什么没开。
func (e *Engine) tryOpen(ctx context.Context, symbol string, lastPrice float64, side string, now time.Time) (*types.Fill, string) {
	if side != "BUY" {
		return nil, "advice is not BUY"
	}
	if len(e.open) >= e.cfg.MaxOpenPositions {
		return nil, "open position cap reached"
	}

	stopLoss := lastPrice * (1 - e.cfg.SlPct/100)
	perUnitRisk := lastPrice - stopLoss
	if perUnitRisk <= 0 {
		return nil, "non-positive per-unit risk"
	}
	riskCash := e.led.equity * e.cfg.RiskPerTrade
	quantity := riskCash / perUnitRisk
	if byCash := e.led.cash / lastPrice; byCash < quantity {
		quantity = byCash
	}
	if quantity <= 0 {
		return nil, "no cash for entry"
	}

	pos := &types.Position{
		Symbol:             symbol,
		Side:               types.SideLong,
		Quantity:           quantity,
		EntryPrice:         lastPrice,
		CurrentPrice:       lastPrice,
		MaxPrice:           lastPrice,
		TakeProfit:         lastPrice * (1 + e.cfg.TpPct/100),
		StopLoss:           stopLoss,
		TrailingStepPct:    e.cfg.TrailStepPct,
		TrailingTriggerPct: e.cfg.TrailActivatePct,
		OpenedAt:           now,
	}
	e.led.cash -= quantity * lastPrice
	e.open[symbol] = pos
	if e.book != nil {
		e.book.Upsert(ctx, *pos)
	}
	logger.Infof("sim: opened %s qty=%.6f entry=%.6f tp=%.6f sl=%.6f",
		symbol, quantity, lastPrice, pos.TakeProfit, pos.StopLoss)

	fill := types.Fill{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      "BUY",
		Quantity:  quantity,
		Price:     lastPrice,
		Status:    types.FillStatusFilled,
		Timestamp: now,
	}
	if err := e.sink.Append(fill); err != nil {
		logger.Warnf("sim: journal append failed: %v", err)
	}
	return &fill, ""
}

// maybeClose 按固定优先级检查平仓条件：SL > TP > SIGNAL_EXIT。
func (e *Engine) maybeClose(ctx context.Context, pos *types.Position, side string, now time.Time) *types.Fill {
	var reason types.CloseReason
	switch {
	case pos.StopLoss > 0 && pos.CurrentPrice <= pos.StopLoss:
		reason = types.CloseReasonStopLoss
	case pos.TakeProfit > 0 && pos.CurrentPrice >= pos.TakeProfit:
		reason = types.CloseReasonTakeProfit
	case side == "SELL":
		reason = types.CloseReasonSignalExit
	default:
		return nil
	}
	fill := e.closePosition(ctx, pos, pos.CurrentPrice, reason, now)
	return &fill
}

func (e *Engine) closePosition(ctx context.Context, pos *types.Position, closePrice float64, reason types.CloseReason, now time.Time) types.Fill {
	realized := (closePrice - pos.EntryPrice) * pos.Quantity
	realizedPct := 0.0
	if pos.EntryPrice > 0 {
		realizedPct = (closePrice - pos.EntryPrice) / pos.EntryPrice * 100
	}
	hold := pos.HoldDuration(now).Seconds()

	e.led.cash += closePrice * pos.Quantity
	trade := types.ClosedTrade{
		Position:        *pos,
		ClosePrice:      closePrice,
		ClosedAt:        now,
		RealizedPnLCash: realized,
		RealizedPnLPct:  realizedPct,
		Reason:          reason,
		HoldSeconds:     hold,
	}
	e.closed = append(e.closed, trade)
	delete(e.open, pos.Symbol)
	if e.book != nil {
		e.book.Close(ctx, pos.Symbol, reason)
	}
	logger.Infof("sim: closed %s at %.6f (reason=%s pnl=%.4f)", pos.Symbol, closePrice, reason, realized)

	fill := types.Fill{
		ID:          uuid.NewString(),
		Symbol:      pos.Symbol,
		Side:        "SELL",
		Quantity:    pos.Quantity,
		Price:       closePrice,
		Status:      types.FillStatusFilled,
		Timestamp:   now,
		PnLCash:     realized,
		PnLPct:      realizedPct,
		Reason:      reason,
		HoldSeconds: hold,
	}
	if err := e.sink.Append(fill); err != nil {
		logger.Warnf("sim: journal append failed: %v", err)
	}
	return fill
}

func (e *Engine) snapshot(now time.Time) Snapshot {
	views := make([]types.PositionView, 0, len(e.open))
	openPnL := 0.0
	for _, pos := range e.open {
		views = append(views, pos.View(now))
		openPnL += (pos.CurrentPrice - pos.EntryPrice) * pos.Quantity
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Symbol < views[j].Symbol })

	closed := make([]types.ClosedTrade, len(e.closed))
	copy(closed, e.closed)

	return Snapshot{
		Timestamp:      now,
		Equity:         e.led.equity,
		Cash:           e.led.cash,
		OpenCount:      len(e.open),
		TotalPnLPct:    e.led.totalPnLPct(),
		DayPnLPct:      e.led.dayPnLPct(),
		OpenPnLCash:    openPnL,
		DayStartEquity: e.led.dayStartEquity,
		Positions:      views,
		ClosedTrades:   closed,
	}
}

// CurrentSnapshot 给只读消费方（HTTP 层）用，不推进任何状态。
func (e *Engine) CurrentSnapshot() Snapshot {
	return e.snapshot(e.nowFn())
}
