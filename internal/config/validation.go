package config

import (
	"fmt"

	"montrix/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Sim.validate(); err != nil {
		return err
	}
	if err := c.Trailing.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if _, ok := scheduler.ParseIntervalDuration(m.PollInterval); !ok {
		return fmt.Errorf("market.poll_interval is invalid: %q", m.PollInterval)
	}
	if _, ok := scheduler.ParseIntervalDuration(m.VolInterval); !ok {
		return fmt.Errorf("market.vol_interval is invalid: %q", m.VolInterval)
	}
	return nil
}

func (s *SimConfig) validate() error {
	if s.RiskPerTrade <= 0 || s.RiskPerTrade >= 1 {
		return fmt.Errorf("sim.risk_per_trade must be in (0,1), got %v", s.RiskPerTrade)
	}
	if s.SlPct <= 0 || s.SlPct >= 100 {
		return fmt.Errorf("sim.sl_pct must be in (0,100), got %v", s.SlPct)
	}
	if s.TpPct <= 0 {
		return fmt.Errorf("sim.tp_pct must be > 0, got %v", s.TpPct)
	}
	if s.MaxOpenPositions <= 0 {
		return fmt.Errorf("sim.max_open_positions must be > 0, got %d", s.MaxOpenPositions)
	}
	return nil
}

func (t *TrailingConfig) validate() error {
	switch t.Mode {
	case "static", "dynamic":
	default:
		return fmt.Errorf("trailing.mode must be static or dynamic, got %q", t.Mode)
	}
	if t.TrailPct <= 0 {
		return fmt.Errorf("trailing.trail_pct must be > 0, got %v", t.TrailPct)
	}
	d := t.Dynamic
	if d.MinPct > d.MaxPct {
		return fmt.Errorf("trailing.dynamic.min_pct %v exceeds max_pct %v", d.MinPct, d.MaxPct)
	}
	if d.BasePct <= 0 {
		return fmt.Errorf("trailing.dynamic.base_pct must be > 0, got %v", d.BasePct)
	}
	return nil
}
