package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9981"
	defaultAppLogPath  = ""

	defaultOperatingMode = "LEARNING"
	defaultPortfolioMode = "LEARNING"
	defaultActiveProfile = "learning"

	defaultProfilesPath = "configs/profiles.yaml"

	defaultReliabilityPath = "data/db/reliability.db"
	defaultLogStorePath    = "data/db/tradegate.db"

	defaultRouterInterval         = "5m"
	defaultAnalyzerInterval       = "5m"
	defaultCounterfactualInterval = "15m"
	defaultLoopOffsetSeconds      = 10
	defaultLoopBudgetSeconds      = 120
	defaultLoopMaxBatch           = 50

	defaultMarketREST    = "https://fapi.binance.com"
	defaultMarketTimeout = 15

	defaultCFMinAgeMinutes = 60
	defaultCFBatchSize     = 20
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Mode.applyDefaults(keys)
	c.Profiles.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Loop.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Counterfactual.applyDefaults(keys)
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

func (m *ModeConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("mode.operating_mode", &m.Operating, defaultOperatingMode),
		stringFieldDefault("mode.portfolio_mode", &m.Portfolio, defaultPortfolioMode),
		stringFieldDefault("mode.active_profile", &m.ActiveProfile, defaultActiveProfile),
	)
}

func (p *ProfilesConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("profiles.path", &p.Path, defaultProfilesPath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.reliability_path", &s.ReliabilityPath, defaultReliabilityPath),
		stringFieldDefault("store.log_path", &s.LogPath, defaultLogStorePath),
	)
}

func (l *LoopConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("loop.router_interval", &l.RouterInterval, defaultRouterInterval),
		stringFieldDefault("loop.analyzer_interval", &l.AnalyzerInterval, defaultAnalyzerInterval),
		stringFieldDefault("loop.counterfactual_interval", &l.CounterfactualInterval, defaultCounterfactualInterval),
		intFieldDefault("loop.offset_seconds", &l.OffsetSeconds, defaultLoopOffsetSeconds),
		intFieldDefault("loop.budget_seconds", &l.BudgetSeconds, defaultLoopBudgetSeconds),
		intFieldDefault("loop.max_batch", &l.MaxBatch, defaultLoopMaxBatch),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
	)
}

func (c *CounterfactualConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("counterfactual.min_age_minutes", &c.MinAgeMinutes, defaultCFMinAgeMinutes),
		intFieldDefault("counterfactual.batch_size", &c.BatchSize, defaultCFBatchSize),
	)
}

func applyFieldDefaults(keys keySet, defaults ...fieldDefault) {
	for _, def := range defaults {
		if keys.isSet(def.key) {
			continue
		}
		if def.need == nil || def.need() {
			def.apply()
		}
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

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
