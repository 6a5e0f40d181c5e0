package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9982"
	defaultAppLogPath  = "data/logs/montrix.log"

	defaultMarketName   = "binance"
	defaultMarketREST   = "https://fapi.binance.com"
	defaultMarketPoll   = "5s"
	defaultVolInterval  = "1m"

	defaultSimEquity        = 1000
	defaultSimRiskPerTrade  = 0.02
	defaultSimTpPct         = 4.0
	defaultSimSlPct         = 3.0
	defaultSimTrailActivate = 2.0
	defaultSimTrailStep     = 1.0
	defaultSimMaxOpen       = 1

	defaultTrailingInterval = 5
	defaultTrailingMode     = "dynamic"
	defaultTrailingJoinSec  = 5
	defaultTrailingPct      = 0.35
	defaultDynamicBasePct   = 0.35
	defaultDynamicMinPct    = 0.20
	defaultDynamicMaxPct    = 1.00
	defaultDynamicVolWindow = 50

	defaultJournalPath = "data/live/trades.jsonl"
	defaultJournalDB   = "data/live/fills.db"
	defaultStorePath   = "data/live/runtime.db"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Sim.applyDefaults(keys)
	c.Trailing.applyDefaults(keys)
	c.Journal.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.poll_interval", &m.PollInterval, defaultMarketPoll),
		stringFieldDefault("market.vol_interval", &m.VolInterval, defaultVolInterval),
	)
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
	normalized := make([]string, 0, len(m.Symbols))
	for _, sym := range m.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			normalized = append(normalized, sym)
		}
	}
	m.Symbols = normalized
}

func (s *SimConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "sim.initial_equity",
			need:  func() bool { return s.InitialEquity <= 0 },
			apply: func() { s.InitialEquity = defaultSimEquity },
		},
		fieldDefault{
			key:   "sim.risk_per_trade",
			need:  func() bool { return s.RiskPerTrade <= 0 || s.RiskPerTrade >= 1 },
			apply: func() { s.RiskPerTrade = defaultSimRiskPerTrade },
		},
		fieldDefault{
			key:   "sim.tp_pct",
			need:  func() bool { return s.TpPct <= 0 },
			apply: func() { s.TpPct = defaultSimTpPct },
		},
		fieldDefault{
			key:   "sim.sl_pct",
			need:  func() bool { return s.SlPct <= 0 },
			apply: func() { s.SlPct = defaultSimSlPct },
		},
		fieldDefault{
			key:   "sim.trail_activate_pct",
			need:  func() bool { return s.TrailActivatePct <= 0 },
			apply: func() { s.TrailActivatePct = defaultSimTrailActivate },
		},
		fieldDefault{
			key:   "sim.trail_step_pct",
			need:  func() bool { return s.TrailStepPct <= 0 },
			apply: func() { s.TrailStepPct = defaultSimTrailStep },
		},
		fieldDefault{
			key:   "sim.max_open_positions",
			need:  func() bool { return s.MaxOpenPositions <= 0 },
			apply: func() { s.MaxOpenPositions = defaultSimMaxOpen },
		},
	)
}

func (t *TrailingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("trailing.enabled", &t.Enabled, true),
		stringFieldDefault("trailing.mode", &t.Mode, defaultTrailingMode),
		fieldDefault{
			key:   "trailing.interval_seconds",
			need:  func() bool { return t.IntervalSeconds <= 0 },
			apply: func() { t.IntervalSeconds = defaultTrailingInterval },
		},
		fieldDefault{
			key:   "trailing.join_timeout_seconds",
			need:  func() bool { return t.JoinTimeoutSec <= 0 },
			apply: func() { t.JoinTimeoutSec = defaultTrailingJoinSec },
		},
		fieldDefault{
			key:   "trailing.trail_pct",
			need:  func() bool { return t.TrailPct <= 0 },
			apply: func() { t.TrailPct = defaultTrailingPct },
		},
	)
	if t.HardStopPct < 0 {
		t.HardStopPct = 0
	}
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
	t.Dynamic.applyDefaults(keys)
}

func (d *DynamicTrailing) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("trailing.dynamic.enabled", &d.Enabled, true),
		fieldDefault{
			key:   "trailing.dynamic.base_pct",
			need:  func() bool { return d.BasePct <= 0 },
			apply: func() { d.BasePct = defaultDynamicBasePct },
		},
		fieldDefault{
			key:   "trailing.dynamic.min_pct",
			need:  func() bool { return d.MinPct <= 0 },
			apply: func() { d.MinPct = defaultDynamicMinPct },
		},
		fieldDefault{
			key:   "trailing.dynamic.max_pct",
			need:  func() bool { return d.MaxPct <= 0 },
			apply: func() { d.MaxPct = defaultDynamicMaxPct },
		},
		fieldDefault{
			key:   "trailing.dynamic.vol_window",
			need:  func() bool { return d.VolWindow <= 0 },
			apply: func() { d.VolWindow = defaultDynamicVolWindow },
		},
	)
}

func (j *JournalConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("journal.path", &j.Path, defaultJournalPath),
		stringFieldDefault("journal.db_path", &j.DBPath, defaultJournalDB),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
