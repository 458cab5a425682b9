package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/store/model"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const priceFetchConcurrency = 4

// PriceSource delivers a current mark price for one symbol.
type PriceSource interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// CounterfactualLog 反事实批次的持久化依赖。
type CounterfactualLog interface {
	DueCounterfactuals(ctx context.Context, cutoff time.Time, limit int) ([]model.CounterfactualModel, error)
	MarkCounterfactualEvaluated(ctx context.Context, traceID string, hypotheticalPnl float64) error
	AppendPattern(ctx context.Context, rec model.PatternModel) error
}

// Counterfactual revisits rejected signals after a maturation window and
// prices the "what if approved" path. Price fetches fan out concurrently;
// the database writes stay on the run goroutine so a flaky feed can only
// cost fetches, never leave an entry half committed.
type Counterfactual struct {
	log    CounterfactualLog
	prices PriceSource
	minAge time.Duration
	batch  int
}

func NewCounterfactual(log CounterfactualLog, prices PriceSource, minAge time.Duration, batch int) *Counterfactual {
	if minAge <= 0 {
		minAge = time.Hour
	}
	if batch <= 0 {
		batch = 20
	}
	return &Counterfactual{log: log, prices: prices, minAge: minAge, batch: batch}
}

type pricedEntry struct {
	entry model.CounterfactualModel
	price float64
}

func (c *Counterfactual) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-c.minAge)
	due, err := c.log.DueCounterfactuals(ctx, cutoff, c.batch)
	if err != nil {
		return fmt.Errorf("loading due counterfactuals failed: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		priced []pricedEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(priceFetchConcurrency)
	for _, entry := range due {
		entry := entry
		if entry.RefPrice <= 0 {
			// 没有参考价就无从假设入场, 直接以 0 结案避免队列卡死。
			logger.Warnf("反事实批次: 条目 %s 缺少参考价, 按 0 结案", entry.TraceID)
			if err := c.log.MarkCounterfactualEvaluated(ctx, entry.TraceID, 0); err != nil {
				logger.Warnf("反事实批次: 条目 %s 结案失败: %v", entry.TraceID, err)
			}
			continue
		}
		g.Go(func() error {
			price, err := c.prices.MarkPrice(gctx, entry.Symbol)
			if err != nil {
				// 行情失败只跳过本轮, 条目下个周期再来。
				logger.Warnf("反事实批次: %s 取价失败: %v", entry.Symbol, err)
				return nil
			}
			mu.Lock()
			priced = append(priced, pricedEntry{entry: entry, price: price})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var evaluated int
	for _, p := range priced {
		// 假想以参考价做多持有至今。
		pnl := (p.price - p.entry.RefPrice) / p.entry.RefPrice * 100
		if err := c.log.MarkCounterfactualEvaluated(ctx, p.entry.TraceID, pnl); err != nil {
			logger.Warnf("反事实批次: 条目 %s 结案失败: %v", p.entry.TraceID, err)
			continue
		}
		if err := c.log.AppendPattern(ctx, counterfactualPattern(p.entry, p.price, pnl)); err != nil {
			logger.Warnf("反事实批次: 条目 %s 模式日志写入失败: %v", p.entry.TraceID, err)
		}
		evaluated++
	}

	logger.Infof("反事实批次完成: due=%d evaluated=%d", len(due), evaluated)
	return nil
}

func counterfactualPattern(entry model.CounterfactualModel, price, pnl float64) model.PatternModel {
	detail, _ := json.Marshal(map[string]any{
		"reason":        entry.Reason,
		"ref_price":     entry.RefPrice,
		"current_price": price,
		"rejected_at":   entry.RejectedAtUnix,
	})
	return model.PatternModel{
		Bucket:     model.PatternBucketCounterfactual,
		RefID:      entry.TraceID,
		Strategy:   entry.Strategy,
		Source:     entry.Source,
		PnlPercent: pnl,
		DetailJSON: datatypes.JSON(detail),
	}
}
