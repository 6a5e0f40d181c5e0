package tpsl

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"montrix/internal/logger"
)

// Settings 是 trailing 循环运行期可调的参数，落在一个独立的 yaml 文件里，
// 改文件即生效，不需要重启循环。
type Settings struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Mode        string  `mapstructure:"mode" yaml:"mode" json:"mode"` // static | dynamic
	TrailPct    float64 `mapstructure:"trail_pct" yaml:"trail_pct" json:"trail_pct"`
	HardStopPct float64 `mapstructure:"hard_stop_pct" yaml:"hard_stop_pct" json:"hard_stop_pct"`

	DynamicBasePct   float64 `mapstructure:"dynamic_base_pct" yaml:"dynamic_base_pct" json:"dynamic_base_pct"`
	DynamicMinPct    float64 `mapstructure:"dynamic_min_pct" yaml:"dynamic_min_pct" json:"dynamic_min_pct"`
	DynamicMaxPct    float64 `mapstructure:"dynamic_max_pct" yaml:"dynamic_max_pct" json:"dynamic_max_pct"`
	DynamicVolWindow int     `mapstructure:"dynamic_vol_window" yaml:"dynamic_vol_window" json:"dynamic_vol_window"`
}

// trailPctFor 根据模式与波动率给出本 tick 的 trailing 百分比。
// volOK=false 时 dynamic 模式退化为 base 步长。
func (s Settings) trailPctFor(volPct float64, volOK bool) float64 {
	if s.Mode != "dynamic" {
		return s.TrailPct
	}
	if !volOK {
		return clamp(s.DynamicBasePct, s.DynamicMinPct, s.DynamicMaxPct)
	}
	return dynamicTrailPct(s.DynamicBasePct, volPct, s.DynamicMinPct, s.DynamicMaxPct)
}

// SettingsLoader 持有当前 Settings 快照，并在文件变更时热加载。
type SettingsLoader struct {
	mu      sync.RWMutex
	current Settings
	path    string
	v       *viper.Viper
}

// NewSettingsLoader 从 path 加载设置；文件不存在时用 fallback 写出初始文件。
// path 为空则退化为固定快照，不做任何监听。
func NewSettingsLoader(path string, fallback Settings) (*SettingsLoader, error) {
	l := &SettingsLoader{current: fallback, path: path}
	if path == "" {
		return l, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeSettingsFile(path, fallback); err != nil {
			return nil, fmt.Errorf("write initial trailing settings: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read trailing settings %s: %w", path, err)
	}
	l.v = v
	if err := l.reload(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("tpsl: settings reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("tpsl: settings reloaded from %s", path)
	})
	v.WatchConfig()
	return l, nil
}

func (l *SettingsLoader) reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		return err
	}
	var s Settings
	if err := l.v.Unmarshal(&s); err != nil {
		return err
	}
	if s.DynamicMinPct > s.DynamicMaxPct && s.DynamicMaxPct > 0 {
		return fmt.Errorf("dynamic_min_pct %v exceeds dynamic_max_pct %v", s.DynamicMinPct, s.DynamicMaxPct)
	}
	l.mu.Lock()
	l.current = s
	l.mu.Unlock()
	return nil
}

// Snapshot 返回当前设置的拷贝。
func (l *SettingsLoader) Snapshot() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Update 覆盖设置并写回文件（HTTP 管理接口用）。写回会触发
// watcher 的一次 reload，属预期行为。
func (l *SettingsLoader) Update(s Settings) error {
	if s.Mode != "static" && s.Mode != "dynamic" {
		return fmt.Errorf("mode must be static or dynamic, got %q", s.Mode)
	}
	if s.TrailPct < 0 || s.DynamicBasePct < 0 {
		return fmt.Errorf("trailing percentages must be >= 0")
	}
	l.mu.Lock()
	l.current = s
	l.mu.Unlock()
	if l.path == "" {
		return nil
	}
	return writeSettingsFile(l.path, s)
}

func writeSettingsFile(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
