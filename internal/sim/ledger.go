package sim

import (
	"time"

	"montrix/internal/types"
)

// ledger 是引擎私有的资金账本：cash 是未占用资金，equity 在每次
// 状态变更后重算为 cash + Σ(current_price × quantity)，不允许单独维护。
type ledger struct {
	cash           float64
	equity         float64
	initialEquity  float64
	dayStartEquity float64
	dayIndex       int64
}

func newLedger(initial float64, now time.Time) *ledger {
	return &ledger{
		cash:           initial,
		equity:         initial,
		initialEquity:  initial,
		dayStartEquity: initial,
		dayIndex:       dayIndexOf(now),
	}
}

// dayIndexOf 以 UTC 日为粒度给出整数日序号，用于检测跨日。
func dayIndexOf(now time.Time) int64 {
	return now.UTC().Unix() / 86400
}

// recompute 重算 equity 并处理跨日：日序号变化时把 day_start_equity
// 重置为当前 equity，同一天内重复调用不会改变基线。
func (l *ledger) recompute(open map[string]*types.Position, now time.Time) {
	marketValue := 0.0
	for _, pos := range open {
		marketValue += pos.CurrentPrice * pos.Quantity
	}
	l.equity = l.cash + marketValue

	if idx := dayIndexOf(now); idx != l.dayIndex {
		l.dayIndex = idx
		l.dayStartEquity = l.equity
	}
}

func (l *ledger) totalPnLPct() float64 {
	if l.initialEquity <= 0 {
		return 0
	}
	return (l.equity - l.initialEquity) / l.initialEquity * 100
}

func (l *ledger) dayPnLPct() float64 {
	if l.dayStartEquity <= 0 {
		return 0
	}
	return (l.equity - l.dayStartEquity) / l.dayStartEquity * 100
}
