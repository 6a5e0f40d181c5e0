package config

import "strings"

// Config 是 Montrix 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Sim      SimConfig      `toml:"sim"`
	Trailing TrailingConfig `toml:"trailing"`
	Journal  JournalConfig  `toml:"journal"`
	Store    StoreConfig    `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	PollInterval string         `toml:"poll_interval"`
	Symbols      []string       `toml:"symbols"`
	VolInterval  string         `toml:"vol_interval"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// SimConfig 控制模拟引擎的风险预算与默认 TP/SL。
type SimConfig struct {
	InitialEquity    float64 `toml:"initial_equity"`
	RiskPerTrade     float64 `toml:"risk_per_trade"` // equity 的小数比例，0.02 = 2%
	TpPct            float64 `toml:"tp_pct"`
	SlPct            float64 `toml:"sl_pct"`
	TrailActivatePct float64 `toml:"trail_activate_pct"`
	TrailStepPct     float64 `toml:"trail_step_pct"`
	MaxOpenPositions int     `toml:"max_open_positions"`
}

// TrailingConfig 控制后台 trailing-stop 循环。
type TrailingConfig struct {
	Enabled         bool    `toml:"enabled"`
	IntervalSeconds int     `toml:"interval_seconds"`
	Mode            string  `toml:"mode"` // "static" | "dynamic"
	JoinTimeoutSec  int     `toml:"join_timeout_seconds"`
	TrailPct        float64 `toml:"trail_pct"`     // static 模式的固定步长
	HardStopPct     float64 `toml:"hard_stop_pct"` // 可选硬止损地板，0 表示关闭
	SettingsPath    string  `toml:"settings_path"` // 可热更新的设置文件（yaml）

	Dynamic DynamicTrailing `toml:"dynamic"`
}

// DynamicTrailing 是波动率缩放的 trailing 参数。
type DynamicTrailing struct {
	Enabled   bool    `toml:"enabled"`
	BasePct   float64 `toml:"base_pct"`
	MinPct    float64 `toml:"min_pct"`
	MaxPct    float64 `toml:"max_pct"`
	VolWindow int     `toml:"vol_window"`
}

type JournalConfig struct {
	Path   string `toml:"path"`    // trades.jsonl
	DBPath string `toml:"db_path"` // fills sqlite（供 HTTP 查询）
}

type StoreConfig struct {
	Path string `toml:"path"` // positions sqlite；为空则用内存后端
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
