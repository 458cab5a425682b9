package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tradegate/internal/logger"
	"tradegate/internal/reliability"
	"tradegate/internal/signal"
	"tradegate/internal/store/model"
)

const (
	retryAttempts = 3
	retryBackoff  = 200 * time.Millisecond
)

// Stats is the mutation surface of the reliability store the updater needs.
type Stats interface {
	ApplyOutcome(ctx context.Context, kind reliability.Kind, key string, isWin bool) error
}

// Log 提供幂等声明与模式日志的持久化。
type Log interface {
	ClaimOutcome(ctx context.Context, rec model.OutcomeModel) (bool, error)
	Outcome(ctx context.Context, tradeID string) (model.OutcomeModel, error)
	MarkOutcomeStrategyApplied(ctx context.Context, tradeID string) error
	MarkOutcomeSourceApplied(ctx context.Context, tradeID string) error
	AppendPattern(ctx context.Context, rec model.PatternModel) error
}

// Updater consumes closed-trade records and feeds them back into the
// reliability state. Safe to invoke from overlapping scheduled runs: the
// trade-ID claim plus per-leg applied flags make re-processing apply only
// the legs that are still missing.
type Updater struct {
	stats Stats
	log   Log
}

func NewUpdater(stats Stats, log Log) *Updater {
	return &Updater{stats: stats, log: log}
}

// Record applies one closed trade. The strategy and source updates are two
// independent atomic operations; each one is flagged on the claim as soon as
// it commits. If either leg cannot be applied after retries, the claim stays
// in place with the flags it has, and the next run resumes from the missing
// leg instead of re-applying the whole trade.
func (u *Updater) Record(ctx context.Context, o signal.TradeOutcome) error {
	tradeID := strings.TrimSpace(o.TradeID)
	if tradeID == "" {
		return fmt.Errorf("outcome missing trade_id")
	}
	strategy := strings.TrimSpace(o.Strategy)
	source := strings.TrimSpace(o.Source)
	if strategy == "" || source == "" {
		return fmt.Errorf("outcome %s missing strategy or source", tradeID)
	}

	isWin := o.IsWin()
	pnl, _ := o.PnlPercent.Float64()
	closedAt := o.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}

	claim := model.OutcomeModel{
		TradeID:      tradeID,
		Strategy:     strategy,
		Source:       source,
		PnlPercent:   pnl,
		IsWin:        isWin,
		ClosedAtUnix: closedAt.UnixMilli(),
	}
	claimed, err := u.log.ClaimOutcome(ctx, claim)
	if err != nil {
		return fmt.Errorf("claiming outcome %s: %w", tradeID, err)
	}
	if !claimed {
		existing, err := u.log.Outcome(ctx, tradeID)
		if err != nil {
			return fmt.Errorf("reading claim for %s: %w", tradeID, err)
		}
		if existing.StrategyApplied && existing.SourceApplied {
			// Not an error: the same closed trade was submitted twice. Logged so
			// it stays distinguishable from a genuine new update.
			logger.Infof("outcome: duplicate trade_id=%s skipped (already applied)", tradeID)
			return nil
		}
		logger.Infof("outcome: resuming trade_id=%s strategy_applied=%v source_applied=%v",
			tradeID, existing.StrategyApplied, existing.SourceApplied)
		claim = existing
	}

	if !claim.StrategyApplied {
		if err := u.applyWithRetry(ctx, reliability.KindStrategy, strategy, isWin); err != nil {
			return fmt.Errorf("applying strategy outcome %s: %w", tradeID, err)
		}
		if err := u.log.MarkOutcomeStrategyApplied(ctx, tradeID); err != nil {
			return fmt.Errorf("flagging strategy leg for %s: %w", tradeID, err)
		}
	}
	if !claim.SourceApplied {
		if err := u.applyWithRetry(ctx, reliability.KindSource, source, isWin); err != nil {
			return fmt.Errorf("applying source outcome %s: %w", tradeID, err)
		}
		if err := u.log.MarkOutcomeSourceApplied(ctx, tradeID); err != nil {
			return fmt.Errorf("flagging source leg for %s: %w", tradeID, err)
		}
	}

	bucket := model.PatternBucketLoss
	if isWin {
		bucket = model.PatternBucketWin
	}
	detail, _ := json.Marshal(map[string]any{
		"trade_id":    tradeID,
		"pnl_percent": o.PnlPercent.String(),
		"closed_at":   closedAt.UTC().Format(time.RFC3339),
	})
	if err := u.log.AppendPattern(ctx, model.PatternModel{
		Bucket:     bucket,
		RefID:      tradeID,
		Strategy:   strategy,
		Source:     source,
		PnlPercent: pnl,
		DetailJSON: detail,
	}); err != nil {
		// Stats are already committed; the pattern log is retrieval-only.
		logger.Warnf("outcome: pattern log append failed trade_id=%s: %v", tradeID, err)
	}

	logger.Infof("outcome: applied trade_id=%s strategy=%s source=%s win=%v pnl=%s",
		tradeID, strategy, source, isWin, o.PnlPercent.StringFixed(2))
	return nil
}

func (u *Updater) applyWithRetry(ctx context.Context, kind reliability.Kind, key string, isWin bool) error {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = u.stats.ApplyOutcome(ctx, kind, key, isWin)
		if lastErr == nil {
			return nil
		}
		logger.Warnf("outcome: apply %s/%s attempt %d/%d failed: %v", kind, key, attempt, retryAttempts, lastErr)
		if attempt < retryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}
	return lastErr
}
