package market

import "context"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// PriceSource 提供最新成交价。价格拿不到时返回 ok=false，
// 调用方按"本 tick 跳过该 symbol"处理，不视为错误。
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, bool)
}

// HistorySource 拉取最近的 K 线，用于波动率估计。
type HistorySource interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// VolatilitySource 返回给定回看窗口下的波动率百分比。
type VolatilitySource interface {
	VolatilityPct(ctx context.Context, symbol string, window int) (float64, bool)
}
