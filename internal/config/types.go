package config

import (
	"strings"
	"time"
)

// Config 是 tradegate 的主配置载体。
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Mode           ModeConfig           `mapstructure:"mode"`
	Profiles       ProfilesConfig       `mapstructure:"profiles"`
	Store          StoreConfig          `mapstructure:"store"`
	Loop           LoopConfig           `mapstructure:"loop"`
	Market         MarketConfig         `mapstructure:"market"`
	Counterfactual CounterfactualConfig `mapstructure:"counterfactual"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogPath  string `mapstructure:"log_path"`
}

// ModeConfig 进程模式声明。portfolio_mode 与 operating_mode 的一致性在
// validate 阶段强制检查，违反即启动失败。
type ModeConfig struct {
	Operating     string `mapstructure:"operating_mode"`
	Portfolio     string `mapstructure:"portfolio_mode"`
	ActiveProfile string `mapstructure:"active_profile"`
}

// ProfilesConfig 指定门限 profile 文件位置。
type ProfilesConfig struct {
	Path string `mapstructure:"path"`
}

type StoreConfig struct {
	ReliabilityPath string `mapstructure:"reliability_path"`
	LogPath         string `mapstructure:"log_path"`
}

// LoopConfig 三个调度任务的周期与执行预算。
type LoopConfig struct {
	RouterInterval         string `mapstructure:"router_interval"`
	AnalyzerInterval       string `mapstructure:"analyzer_interval"`
	CounterfactualInterval string `mapstructure:"counterfactual_interval"`
	OffsetSeconds          int    `mapstructure:"offset_seconds"`
	BudgetSeconds          int    `mapstructure:"budget_seconds"`
	RunImmediately         bool   `mapstructure:"run_immediately"`
	MaxBatch               int    `mapstructure:"max_batch"`
}

func (l LoopConfig) Offset() time.Duration { return time.Duration(l.OffsetSeconds) * time.Second }
func (l LoopConfig) Budget() time.Duration { return time.Duration(l.BudgetSeconds) * time.Second }

type MarketConfig struct {
	RESTBaseURL    string `mapstructure:"rest_base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (m MarketConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// CounterfactualConfig 被拒信号复盘的节奏控制。
type CounterfactualConfig struct {
	MinAgeMinutes int `mapstructure:"min_age_minutes"`
	BatchSize     int `mapstructure:"batch_size"`
}

func (c CounterfactualConfig) MinAge() time.Duration {
	return time.Duration(c.MinAgeMinutes) * time.Minute
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
