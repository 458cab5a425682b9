package loop

import (
	"context"
	"fmt"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/signal"
	"tradegate/internal/store/model"

	"github.com/shopspring/decimal"
)

// OutcomeQueue 分析批次对平仓队列的持久化依赖。
type OutcomeQueue interface {
	PendingOutcomes(ctx context.Context, limit int) ([]model.OutcomeQueueModel, error)
	MarkOutcomeProcessed(ctx context.Context, tradeID string) error
}

// Recorder applies one closed trade to the reliability state.
type Recorder interface {
	Record(ctx context.Context, o signal.TradeOutcome) error
}

// Analyzer drains queued closed trades and feeds them to the outcome
// updater. Application failures leave the trade queued so the next run
// retries; the updater's own trade-ID claim keeps a retry from double
// counting.
type Analyzer struct {
	queue    OutcomeQueue
	recorder Recorder
	maxBatch int
}

func NewAnalyzer(queue OutcomeQueue, recorder Recorder, maxBatch int) *Analyzer {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	return &Analyzer{queue: queue, recorder: recorder, maxBatch: maxBatch}
}

func (a *Analyzer) Run(ctx context.Context) error {
	pending, err := a.queue.PendingOutcomes(ctx, a.maxBatch)
	if err != nil {
		return fmt.Errorf("loading pending outcomes failed: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var applied, deferred, dropped int
	for _, rec := range pending {
		if ctx.Err() != nil {
			logger.Warnf("分析批次: 预算耗尽, 剩余 %d 条未处理", len(pending)-applied-deferred-dropped)
			break
		}

		out, err := fromOutcomeQueueModel(rec)
		if err != nil {
			// 数据质量问题不会因重试恢复, 出队并记录。
			logger.Warnf("分析批次: 丢弃畸形平仓记录 %s: %v", rec.TradeID, err)
			if err := a.queue.MarkOutcomeProcessed(ctx, rec.TradeID); err != nil {
				logger.Warnf("分析批次: 记录 %s 出队失败: %v", rec.TradeID, err)
			}
			dropped++
			continue
		}

		if err := a.recorder.Record(ctx, out); err != nil {
			logger.Warnf("分析批次: 记录 %s 应用失败, 留队重试: %v", out.TradeID, err)
			deferred++
			continue
		}
		if err := a.queue.MarkOutcomeProcessed(ctx, out.TradeID); err != nil {
			logger.Warnf("分析批次: 记录 %s 出队失败: %v", out.TradeID, err)
		}
		applied++
	}

	logger.Infof("分析批次完成: applied=%d deferred=%d dropped=%d", applied, deferred, dropped)
	return nil
}

func fromOutcomeQueueModel(rec model.OutcomeQueueModel) (signal.TradeOutcome, error) {
	if rec.TradeID == "" {
		return signal.TradeOutcome{}, fmt.Errorf("empty trade_id")
	}
	if rec.Strategy == "" || rec.Source == "" {
		return signal.TradeOutcome{}, fmt.Errorf("missing strategy or source")
	}
	pnl, err := decimal.NewFromString(rec.PnlPercent)
	if err != nil {
		return signal.TradeOutcome{}, fmt.Errorf("bad pnl_percent %q: %w", rec.PnlPercent, err)
	}
	return signal.TradeOutcome{
		TradeID:    rec.TradeID,
		Strategy:   rec.Strategy,
		Source:     rec.Source,
		PnlPercent: pnl,
		ClosedAt:   time.UnixMilli(rec.ClosedAtUnix),
	}, nil
}
