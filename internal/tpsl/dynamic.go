package tpsl

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
	decimalEps = decimal.NewFromFloat(1e-8)
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalGT(a, b float64) bool {
	return decFromFloat(a).Cmp(decFromFloat(b)) > 0
}

func decimalLT(a, b float64) bool {
	return decFromFloat(a).Cmp(decFromFloat(b)) < 0
}

// trailingStopFor 计算 anchor × (1 − pct/100)。pct 是百分比数值（0.35 = 0.35%）。
func trailingStopFor(anchor, pct float64) float64 {
	if anchor <= 0 || pct <= 0 {
		return 0
	}
	factor := decOne.Sub(decFromFloat(pct).Div(decHundred))
	return decToFloat(decFromFloat(anchor).Mul(factor))
}

// shouldRaiseStop 判断候选止损是否严格高于当前值（带 epsilon，
// 避免浮点噪声导致的来回写）。止损只升不降。
func shouldRaiseStop(candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	return decFromFloat(candidate).Cmp(decFromFloat(current).Add(decimalEps)) > 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// dynamicTrailPct 用波动率缩放基础步长：scale = clamp(vol/1.0, 0.5, 2.0)，
// 结果再夹在 [minPct, maxPct] 内。
func dynamicTrailPct(basePct, volPct, minPct, maxPct float64) float64 {
	scale := clamp(volPct/1.0, 0.5, 2.0)
	return clamp(basePct*scale, minPct, maxPct)
}
