package config

import (
	"fmt"
	"strings"
	"time"

	"tradegate/internal/policy"
)

// validate 对配置进行基础校验。模式一致性是安全不变量，在这里提前失败。
func validate(c *Config) error {
	if err := c.Mode.validate(); err != nil {
		return err
	}
	if err := c.Profiles.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Loop.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Counterfactual.validate(); err != nil {
		return err
	}
	return nil
}

func (m *ModeConfig) validate() error {
	operating, err := policy.ParseMode(m.Operating)
	if err != nil {
		return fmt.Errorf("mode.operating_mode: %w", err)
	}
	portfolio, err := policy.ParseMode(m.Portfolio)
	if err != nil {
		return fmt.Errorf("mode.portfolio_mode: %w", err)
	}
	if _, err := policy.NewModeState(operating, portfolio, m.ActiveProfile); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	return nil
}

// ModeState rebuilds the validated mode state for callers.
func (m ModeConfig) ModeState() (policy.ModeState, error) {
	operating, err := policy.ParseMode(m.Operating)
	if err != nil {
		return policy.ModeState{}, err
	}
	portfolio, err := policy.ParseMode(m.Portfolio)
	if err != nil {
		return policy.ModeState{}, err
	}
	return policy.NewModeState(operating, portfolio, m.ActiveProfile)
}

func (p *ProfilesConfig) validate() error {
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("profiles.path cannot be empty")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.ReliabilityPath) == "" {
		return fmt.Errorf("store.reliability_path cannot be empty")
	}
	if strings.TrimSpace(s.LogPath) == "" {
		return fmt.Errorf("store.log_path cannot be empty")
	}
	if s.ReliabilityPath == s.LogPath {
		return fmt.Errorf("store.reliability_path and store.log_path must differ")
	}
	return nil
}

func (l *LoopConfig) validate() error {
	for key, raw := range map[string]string{
		"loop.router_interval":         l.RouterInterval,
		"loop.analyzer_interval":       l.AnalyzerInterval,
		"loop.counterfactual_interval": l.CounterfactualInterval,
	} {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d < time.Minute {
			return fmt.Errorf("%s must be >= 1m, got %s", key, d)
		}
	}
	if l.OffsetSeconds < 0 {
		return fmt.Errorf("loop.offset_seconds must be >= 0")
	}
	if l.BudgetSeconds <= 0 {
		return fmt.Errorf("loop.budget_seconds must be > 0")
	}
	if l.MaxBatch <= 0 {
		return fmt.Errorf("loop.max_batch must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.TimeoutSeconds <= 0 {
		return fmt.Errorf("market.timeout_seconds must be > 0")
	}
	return nil
}

func (c *CounterfactualConfig) validate() error {
	if c.MinAgeMinutes <= 0 {
		return fmt.Errorf("counterfactual.min_age_minutes must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("counterfactual.batch_size must be > 0")
	}
	return nil
}
