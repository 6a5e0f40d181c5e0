package types

import (
	"strings"
	"time"
)

// Side 表示持仓方向。模拟引擎目前只会开 LONG。
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// CloseReason 标记平仓原因，会随 SELL fill 一起写入成交日志。
type CloseReason string

const (
	CloseReasonTakeProfit CloseReason = "TAKE_PROFIT"
	CloseReasonStopLoss   CloseReason = "STOP_LOSS"
	CloseReasonSignalExit CloseReason = "SIGNAL_EXIT"
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonHardStop   CloseReason = "HARD_STOP"
)

// Position 是一笔未平仓敞口。trailing 参数在开仓时从配置拷贝，
// 之后修改配置不会回溯影响已开仓位。
type Position struct {
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	Quantity     float64 `json:"quantity"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`

	TakeProfit float64 `json:"take_profit,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`

	TrailingActive     bool    `json:"trailing_active"`
	TrailingStepPct    float64 `json:"trailing_step_pct"`
	TrailingTriggerPct float64 `json:"trailing_trigger_pct"`

	// MaxPrice 是持仓期间观察到的最高价（trailing 的锚点）。
	MaxPrice float64 `json:"max_price,omitempty"`

	// Closing 是协作式关闭锁：置位后 TP/SL/数量不再允许修改，
	// 只有平仓路径可以移除该持仓。
	Closing bool `json:"closing,omitempty"`

	OpenedAt time.Time `json:"opened_at"`
}

// UnrealizedPnLPct 返回按当前价计算的浮动盈亏百分比。
func (p Position) UnrealizedPnLPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	switch p.Side {
	case SideShort:
		return (p.EntryPrice - p.CurrentPrice) / p.EntryPrice * 100
	default:
		return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
	}
}

// HoldDuration 返回持仓时长。
func (p Position) HoldDuration(now time.Time) time.Duration {
	if p.OpenedAt.IsZero() || now.Before(p.OpenedAt) {
		return 0
	}
	return now.Sub(p.OpenedAt)
}

// ClosedTrade 是平仓时生成的不可变记录。
type ClosedTrade struct {
	Position

	ClosePrice      float64     `json:"close_price"`
	ClosedAt        time.Time   `json:"closed_at"`
	RealizedPnLCash float64     `json:"realized_pnl_cash"`
	RealizedPnLPct  float64     `json:"realized_pnl_pct"`
	Reason          CloseReason `json:"close_reason"`
	HoldSeconds     float64     `json:"hold_seconds"`
}

// Fill 是提交给成交日志的 BUY/SELL 事件。平仓 fill 会冗余携带
// PnL/原因字段，方便下游直接落盘。
type Fill struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"` // BUY | SELL
	Quantity  float64   `json:"qty"`
	Price     float64   `json:"price"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"ts"`

	PnLCash     float64     `json:"pnl_cash,omitempty"`
	PnLPct      float64     `json:"pnl_pct,omitempty"`
	Reason      CloseReason `json:"reason,omitempty"`
	HoldSeconds float64     `json:"hold_seconds,omitempty"`
}

const FillStatusFilled = "FILLED"

// PositionView 是对外快照（UI/journal 只读投影）。
type PositionView struct {
	Symbol           string  `json:"symbol"`
	Side             Side    `json:"side"`
	Quantity         float64 `json:"qty"`
	EntryPrice       float64 `json:"entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	TakeProfit       float64 `json:"tp"`
	StopLoss         float64 `json:"sl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	TrailingActive   bool    `json:"trailing_active"`
	HoldSeconds      float64 `json:"hold_seconds"`
}

// View projects the open position into its read-only snapshot form.
func (p Position) View(now time.Time) PositionView {
	return PositionView{
		Symbol:           p.Symbol,
		Side:             p.Side,
		Quantity:         p.Quantity,
		EntryPrice:       p.EntryPrice,
		CurrentPrice:     p.CurrentPrice,
		TakeProfit:       p.TakeProfit,
		StopLoss:         p.StopLoss,
		UnrealizedPnLPct: p.UnrealizedPnLPct(),
		TrailingActive:   p.TrailingActive,
		HoldSeconds:      p.HoldDuration(now).Seconds(),
	}
}

// NormalizeSymbol 统一 symbol 大小写/空白。
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
