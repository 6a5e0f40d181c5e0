package tpsl

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"montrix/internal/config"
	"montrix/internal/journal"
	"montrix/internal/logger"
	"montrix/internal/market"
	"montrix/internal/position"
	"montrix/internal/types"
)

const maxBackoff = 60 * time.Second

// Controller 是独立调度的 trailing-stop 循环：按固定间隔扫描共享持仓表，
// 价格突破 TP/SL 时平仓，否则按 static/dynamic 步长抬高止损。
// 出错时退避：间隔从基础值翻倍，封顶 60s，成功一轮后复位。
type Controller struct {
	book     *position.Manager
	prices   market.PriceSource
	vol      market.VolatilitySource
	sink     journal.Sink
	settings *SettingsLoader

	base        time.Duration
	joinTimeout time.Duration

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	nowFn func() time.Time
}

func NewController(cfg config.TrailingConfig, book *position.Manager, prices market.PriceSource,
	vol market.VolatilitySource, sink journal.Sink, settings *SettingsLoader) *Controller {
	base := time.Duration(cfg.IntervalSeconds) * time.Second
	if base <= 0 {
		base = 5 * time.Second
	}
	join := time.Duration(cfg.JoinTimeoutSec) * time.Second
	if join <= 0 {
		join = 10 * time.Second
	}
	if sink == nil {
		sink = journal.Discard{}
	}
	return &Controller{
		book:        book,
		prices:      prices,
		vol:         vol,
		sink:        sink,
		settings:    settings,
		base:        base,
		joinTimeout: join,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		nowFn:       time.Now,
	}
}

func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

// Stop 发出协作式停止信号，并等待后台循环退出（受 join 超时约束）。
// 返回 false 表示超时时仍有一轮 tick 在跑。
func (c *Controller) Stop() bool {
	c.stopOnce.Do(func() { close(c.stopCh) })
	select {
	case <-c.doneCh:
		return true
	case <-time.After(c.joinTimeout):
		logger.Warnf("tpsl: stop join timed out after %s", c.joinTimeout)
		return false
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.doneCh)
	delay := c.base
	logger.Infof("tpsl: controller started (interval=%s)", c.base)
	for {
		select {
		case <-c.stopCh:
			logger.Infof("tpsl: controller stopped")
			return
		case <-ctx.Done():
			logger.Infof("tpsl: context cancelled, controller stopped")
			return
		case <-time.After(delay):
		}
		if err := c.runTick(ctx); err != nil {
			delay = nextBackoff(delay)
			logger.Warnf("tpsl: tick failed, backing off %s: %v", delay, err)
		} else {
			delay = c.base
		}
	}
}

// nextBackoff 把当前间隔翻倍，封顶 60s。
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

func (c *Controller) runTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("tpsl: tick panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return c.tick(ctx)
}

// tick 扫一遍所有未平仓位。缺价、closing 中的仓位直接跳过，不算错误；
// 持久化/日志写入失败会聚合成 error 返回，驱动上层退避。
func (c *Controller) tick(ctx context.Context) error {
	s := c.settings.Snapshot()
	if !s.Enabled {
		return nil
	}

	var errs []error
	for _, pos := range c.book.List(ctx) {
		if pos.Closing {
			logger.Debugf("tpsl: %s is closing, skip", pos.Symbol)
			continue
		}
		price, ok := c.prices.LastPrice(ctx, pos.Symbol)
		if !ok || price <= 0 {
			continue
		}

		if pos.TakeProfit > 0 && decimalGT(price, pos.TakeProfit) {
			errs = append(errs, c.close(ctx, pos, price, types.CloseReasonTakeProfit))
			continue
		}
		if pos.StopLoss > 0 && decimalLT(price, pos.StopLoss) {
			errs = append(errs, c.close(ctx, pos, price, types.CloseReasonStopLoss))
			continue
		}

		anchor := pos.MaxPrice
		if decimalGT(price, anchor) {
			anchor = price
			c.book.UpdateMaxPrice(ctx, pos.Symbol, price)
		}

		volPct, volOK := 0.0, false
		if s.Mode == "dynamic" && c.vol != nil {
			volPct, volOK = c.vol.VolatilityPct(ctx, pos.Symbol, s.DynamicVolWindow)
		}
		pct := s.trailPctFor(volPct, volOK)

		stop := pos.StopLoss
		if candidate := trailingStopFor(anchor, pct); shouldRaiseStop(candidate, stop) {
			c.book.SetStopLoss(ctx, pos.Symbol, candidate)
			stop = candidate
		}

		// 可选硬止损地板：锚定在最高价上，随行情抬升，
		// 只把过低的止损抬到地板上，从不下调。
		if s.HardStopPct > 0 && anchor > 0 {
			floor := trailingStopFor(anchor, s.HardStopPct)
			if shouldRaiseStop(floor, stop) {
				c.book.SetStopLoss(ctx, pos.Symbol, floor)
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) close(ctx context.Context, pos types.Position, price float64, reason types.CloseReason) error {
	closed, ok := c.book.Close(ctx, pos.Symbol, reason)
	if !ok {
		return nil
	}
	now := c.nowFn()
	realized := (price - closed.EntryPrice) * closed.Quantity
	realizedPct := 0.0
	if closed.EntryPrice > 0 {
		realizedPct = (price - closed.EntryPrice) / closed.EntryPrice * 100
	}
	fill := types.Fill{
		ID:          uuid.NewString(),
		Symbol:      closed.Symbol,
		Side:        "SELL",
		Quantity:    closed.Quantity,
		Price:       price,
		Status:      types.FillStatusFilled,
		Timestamp:   now,
		PnLCash:     realized,
		PnLPct:      realizedPct,
		Reason:      reason,
		HoldSeconds: closed.HoldDuration(now).Seconds(),
	}
	if err := c.sink.Append(fill); err != nil {
		return fmt.Errorf("journal append for %s: %w", closed.Symbol, err)
	}
	logger.Infof("tpsl: closed %s at %.6f (reason=%s pnl=%.4f)", closed.Symbol, price, reason, realized)
	return nil
}
