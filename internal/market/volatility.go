package market

import (
	"context"
	"strings"

	"montrix/internal/logger"

	"github.com/markcheno/go-talib"
)

// VolatilityEstimator 用最近 window 根 K 线收盘价的百分比收益
// 标准差近似波动率。供 trailing 的 dynamic 模式消费。
type VolatilityEstimator struct {
	history  HistorySource
	interval string
}

var _ VolatilitySource = (*VolatilityEstimator)(nil)

func NewVolatilityEstimator(history HistorySource, interval string) *VolatilityEstimator {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		interval = "1m"
	}
	return &VolatilityEstimator{history: history, interval: interval}
}

func (v *VolatilityEstimator) VolatilityPct(ctx context.Context, symbol string, window int) (float64, bool) {
	if v == nil || v.history == nil {
		return 0, false
	}
	if window <= 1 {
		window = 50
	}
	candles, err := v.history.FetchHistory(ctx, symbol, v.interval, window+1)
	if err != nil {
		logger.Debugf("volatility: fetch %s failed: %v", symbol, err)
		return 0, false
	}
	returns := pctReturns(candles)
	if len(returns) < 2 {
		return 0, false
	}
	dev := talib.StdDev(returns, len(returns), 1)
	last := dev[len(dev)-1]
	if last < 0 {
		return 0, false
	}
	return last, true
}

// pctReturns 把收盘价序列折算成百分比收益序列。
func pctReturns(candles []Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		out = append(out, (candles[i].Close-prev)/prev*100)
	}
	return out
}
