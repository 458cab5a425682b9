package app

import (
	"fmt"

	"tradegate/internal/bandit"
	"tradegate/internal/config"
	"tradegate/internal/config/loader"
	"tradegate/internal/gate"
	"tradegate/internal/gateway/binance"
	"tradegate/internal/logger"
	"tradegate/internal/loop"
	"tradegate/internal/outcome"
	"tradegate/internal/policy"
	"tradegate/internal/reliability"
	"tradegate/internal/store/sqlite"
	gatehttp "tradegate/internal/transport/http"
)

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	mode, err := cfg.Mode.ModeState()
	if err != nil {
		return nil, fmt.Errorf("mode state: %w", err)
	}

	relStore, err := reliability.Open(cfg.Store.ReliabilityPath)
	if err != nil {
		return nil, fmt.Errorf("opening reliability store failed: %w", err)
	}
	logStore, err := sqlite.NewSqliteStore(cfg.Store.LogPath)
	if err != nil {
		relStore.Close()
		return nil, fmt.Errorf("opening decision log failed: %w", err)
	}

	profiles, err := loader.NewProfileLoader(cfg.Profiles.Path)
	if err != nil {
		logStore.Close()
		relStore.Close()
		return nil, fmt.Errorf("loading threshold profiles failed: %w", err)
	}
	profiles.Subscribe(func(snap loader.ProfileSnapshot) {
		logger.Infof("门限 profile 热更新生效: version=%d profiles=%d", snap.Version, len(snap.Profiles))
	})
	resolver := policy.NewResolver(profiles)

	// 启动即解析一次：active profile 缺失或安全下限被击穿属于配置错误,
	// 直接拒绝启动而不是等第一个批次才暴露。
	if _, err := resolver.Resolve(mode, mode.ActiveProfile); err != nil {
		logStore.Close()
		relStore.Close()
		return nil, fmt.Errorf("resolving startup thresholds failed: %w", err)
	}

	selector := bandit.NewSelector(relStore)
	decisionGate := gate.New()
	updater := outcome.NewUpdater(relStore, logStore)
	prices := binance.New(binance.Config{
		RESTBaseURL: cfg.Market.RESTBaseURL,
		HTTPTimeout: cfg.Market.Timeout(),
	})

	httpServer, err := gatehttp.NewServer(gatehttp.ServerConfig{
		Addr:  cfg.App.HTTPAddr,
		Stats: relStore,
		Ranks: selector,
		Log:   logStore,
	})
	if err != nil {
		logStore.Close()
		relStore.Close()
		return nil, fmt.Errorf("building http server failed: %w", err)
	}

	return &App{
		cfg:            cfg,
		reliability:    relStore,
		log:            logStore,
		router:         loop.NewRouter(logStore, resolver, selector, decisionGate, mode, cfg.Loop.MaxBatch),
		analyzer:       loop.NewAnalyzer(logStore, updater, cfg.Loop.MaxBatch),
		counterfactual: loop.NewCounterfactual(logStore, prices, cfg.Counterfactual.MinAge(), cfg.Counterfactual.BatchSize),
		http:           httpServer,
	}, nil
}
