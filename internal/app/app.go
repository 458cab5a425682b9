package app

import (
	"context"
	"fmt"
	"time"

	"tradegate/internal/config"
	"tradegate/internal/logger"
	"tradegate/internal/loop"
	"tradegate/internal/reliability"
	"tradegate/internal/scheduler"
	"tradegate/internal/store/sqlite"
	gatehttp "tradegate/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动调度循环与 HTTP 服务。
type App struct {
	cfg *config.Config

	reliability *reliability.Store
	log         *sqlite.SqliteStore

	router         *loop.Router
	analyzer       *loop.Analyzer
	counterfactual *loop.Counterfactual
	http           *gatehttp.Server
}

// Run starts the three scheduled loops and the HTTP server, blocking until
// the context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	for _, job := range []struct {
		name     string
		interval string
		run      func(ctx context.Context) error
	}{
		{"router", a.cfg.Loop.RouterInterval, a.router.Run},
		{"analyzer", a.cfg.Loop.AnalyzerInterval, a.analyzer.Run},
		{"counterfactual", a.cfg.Loop.CounterfactualInterval, a.counterfactual.Run},
	} {
		job := job
		interval, err := time.ParseDuration(job.interval)
		if err != nil {
			return fmt.Errorf("loop %s: bad interval %q: %w", job.name, job.interval, err)
		}
		group.Go(func() error {
			sched := scheduler.NewAlignedScheduler(ctx, job.name, interval, a.cfg.Loop.Offset(), a.cfg.Loop.Budget())
			sched.RunImmediately = a.cfg.Loop.RunImmediately
			sched.Start(func(runCtx context.Context) {
				if err := job.run(runCtx); err != nil {
					logger.Errorf("loop %s: %v", job.name, err)
				}
			})
			return nil
		})
	}

	return group.Wait()
}

func (a *App) close() {
	if a.log != nil {
		if err := a.log.Close(); err != nil {
			logger.Warnf("closing decision log failed: %v", err)
		}
	}
	if a.reliability != nil {
		if err := a.reliability.Close(); err != nil {
			logger.Warnf("closing reliability store failed: %v", err)
		}
	}
}
