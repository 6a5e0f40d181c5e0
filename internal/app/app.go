package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"montrix/internal/config"
	"montrix/internal/journal"
	"montrix/internal/logger"
	"montrix/internal/market"
	"montrix/internal/position"
	"montrix/internal/scheduler"
	"montrix/internal/sim"
	apihttp "montrix/internal/transport/http"
	"montrix/internal/tpsl"
	"montrix/internal/types"
)

// App 负责应用级编排：行情轮询驱动模拟引擎，trailing 控制循环
// 独立调度，HTTP 层暴露只读快照与管理入口。
type App struct {
	cfg *config.Config

	book       *position.Manager
	prices     market.PriceSource
	vol        market.VolatilitySource
	engine     *sim.Engine
	controller *tpsl.Controller
	settings   *tpsl.SettingsLoader
	httpSrv    *apihttp.Server
	sink       journal.Sink

	jsonl   *journal.JSONLWriter
	fills   *journal.FillStore
	kvClose func() error

	// snapshot 在每次 Process 后原子发布，HTTP 层只读这里，
	// 不直接碰引擎（引擎不做内部加锁）。
	snapshot atomic.Value

	adviceMu sync.Mutex
	advice   map[string]sim.Advice
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	a, err := buildApp(cfg)
	if err != nil {
		return nil, err
	}
	a.advice = make(map[string]sim.Advice)
	a.snapshot.Store(a.engine.CurrentSnapshot())
	return a, nil
}

// SetAdvice 记录某个 symbol 的最新方向建议，下一次行情 tick 消费后清除。
func (a *App) SetAdvice(symbol string, adv sim.Advice) {
	symbol = types.NormalizeSymbol(symbol)
	if symbol == "" {
		return
	}
	a.adviceMu.Lock()
	a.advice[symbol] = adv
	a.adviceMu.Unlock()
}

func (a *App) takeAdvice(symbol string) sim.Advice {
	a.adviceMu.Lock()
	defer a.adviceMu.Unlock()
	adv, ok := a.advice[symbol]
	if ok {
		delete(a.advice, symbol)
	}
	return adv
}

func (a *App) latestSnapshot() sim.Snapshot {
	if snap, ok := a.snapshot.Load().(sim.Snapshot); ok {
		return snap
	}
	return sim.Snapshot{}
}

// Run 启动全部服务，直到 ctx 取消或某个服务出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if a.cfg.Trailing.Enabled {
		a.controller.Start(ctx)
		group.Go(func() error {
			<-ctx.Done()
			a.controller.Stop()
			return nil
		})
	}

	group.Go(func() error {
		return a.runPollLoop(ctx)
	})

	err := group.Wait()
	a.close()
	return err
}

// runPollLoop 以固定间隔拉取各 symbol 的最新价并喂给模拟引擎。
func (a *App) runPollLoop(ctx context.Context) error {
	interval, ok := scheduler.ParseIntervalDuration(a.cfg.Market.PollInterval)
	if !ok {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Infof("app: price poll loop started (interval=%s, symbols=%v)", interval, a.cfg.Market.Symbols)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *App) pollOnce(ctx context.Context) {
	for _, raw := range a.cfg.Market.Symbols {
		symbol := types.NormalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		price, ok := a.prices.LastPrice(ctx, symbol)
		if !ok {
			logger.Debugf("app: no price for %s this tick", symbol)
			continue
		}
		res := a.engine.Process(ctx, symbol, price, a.takeAdvice(symbol))
		a.snapshot.Store(res.Snapshot)
	}
}

func (a *App) close() {
	if a.jsonl != nil {
		if err := a.jsonl.Close(); err != nil {
			logger.Warnf("app: close trade journal: %v", err)
		}
	}
	if a.fills != nil {
		if err := a.fills.Close(); err != nil {
			logger.Warnf("app: close fill store: %v", err)
		}
	}
	if a.kvClose != nil {
		if err := a.kvClose(); err != nil {
			logger.Warnf("app: close position store: %v", err)
		}
	}
}
