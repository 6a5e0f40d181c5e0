package app

import (
	"fmt"

	"montrix/internal/config"
	"montrix/internal/journal"
	"montrix/internal/market"
	"montrix/internal/market/binance"
	"montrix/internal/position"
	"montrix/internal/sim"
	"montrix/internal/store"
	sqlitestore "montrix/internal/store/sqlite"
	apihttp "montrix/internal/transport/http"
	"montrix/internal/tpsl"
)

// buildApp 手工装配全部依赖（存储 → 行情 → 账本/引擎 → 控制循环 → HTTP）。
func buildApp(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	// 持仓持久化后端：配置了路径走 SQLite，否则内存。
	var kv store.KV
	if cfg.Store.Path != "" {
		s, err := sqlitestore.NewSqliteKV(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open position store: %w", err)
		}
		a.kvClose = s.Close
		kv = s
	} else {
		kv = store.NewMemoryKV()
	}
	a.book = position.NewManager(kv)

	// 行情源
	src := cfg.Market.ResolveActiveSource()
	prices, err := binance.New(binance.Config{
		RESTBaseURL:  src.RESTBaseURL,
		ProxyEnabled: src.Proxy.Enabled,
		RESTProxyURL: src.Proxy.RESTURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init market source: %w", err)
	}
	a.prices = prices
	a.vol = market.NewVolatilityEstimator(prices, cfg.Market.VolInterval)

	// 成交日志：JSONL 追加 + SQLite 查询镜像
	sinks := journal.MultiSink{}
	if cfg.Journal.Path != "" {
		w, err := journal.NewJSONLWriter(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open trade journal: %w", err)
		}
		a.jsonl = w
		sinks = append(sinks, w)
	}
	if cfg.Journal.DBPath != "" {
		fs, err := journal.NewFillStore(cfg.Journal.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open fill store: %w", err)
		}
		a.fills = fs
		sinks = append(sinks, fs)
	}
	var sink journal.Sink = sinks
	if len(sinks) == 0 {
		sink = journal.Discard{}
	}
	a.sink = sink

	a.engine = sim.NewEngine(cfg.Sim, sink, a.book)

	// trailing 设置：独立 yaml，改文件即热生效
	settings, err := tpsl.NewSettingsLoader(cfg.Trailing.SettingsPath, trailingFallback(cfg.Trailing))
	if err != nil {
		return nil, fmt.Errorf("load trailing settings: %w", err)
	}
	a.settings = settings
	a.controller = tpsl.NewController(cfg.Trailing, a.book, a.prices, a.vol, sink, settings)

	srv, err := apihttp.NewServer(cfg.App.HTTPAddr, apihttp.Deps{
		Snapshot: a.latestSnapshot,
		Book:     a.book,
		Prices:   a.prices,
		Fills:    a.fills,
		Settings: settings,
		Sink:     sink,
		Advice:   a.SetAdvice,
	})
	if err != nil {
		return nil, err
	}
	a.httpSrv = srv
	return a, nil
}

// trailingFallback 把主配置里的 trailing 参数折算成设置文件的初始值。
func trailingFallback(t config.TrailingConfig) tpsl.Settings {
	return tpsl.Settings{
		Enabled:          t.Enabled,
		Mode:             t.Mode,
		TrailPct:         t.TrailPct,
		HardStopPct:      t.HardStopPct,
		DynamicBasePct:   t.Dynamic.BasePct,
		DynamicMinPct:    t.Dynamic.MinPct,
		DynamicMaxPct:    t.Dynamic.MaxPct,
		DynamicVolWindow: t.Dynamic.VolWindow,
	}
}
