package sqlite

import (
	"context"
	"time"

	"tradegate/internal/store/model"

	"gorm.io/gorm/clause"
)

// ClaimOutcome inserts the idempotence record for a trade. Returns false when
// a claim for the trade ID already exists, which is either a duplicate
// submission or a partially applied trade resuming.
func (s *SqliteStore) ClaimOutcome(ctx context.Context, rec model.OutcomeModel) (bool, error) {
	if rec.AppliedAtUnix == 0 {
		rec.AppliedAtUnix = time.Now().UnixMilli()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "trade_id"}}, DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Outcome returns the claim record for one trade ID.
func (s *SqliteStore) Outcome(ctx context.Context, tradeID string) (model.OutcomeModel, error) {
	var rec model.OutcomeModel
	err := s.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		First(&rec).Error
	return rec, err
}

// MarkOutcomeStrategyApplied records that the strategy stat update for this
// trade has been committed, so a resumed run never re-applies it.
func (s *SqliteStore) MarkOutcomeStrategyApplied(ctx context.Context, tradeID string) error {
	return s.db.WithContext(ctx).
		Model(&model.OutcomeModel{}).
		Where("trade_id = ?", tradeID).
		Update("strategy_applied", true).Error
}

// MarkOutcomeSourceApplied records the source-leg commit, see above.
func (s *SqliteStore) MarkOutcomeSourceApplied(ctx context.Context, tradeID string) error {
	return s.db.WithContext(ctx).
		Model(&model.OutcomeModel{}).
		Where("trade_id = ?", tradeID).
		Update("source_applied", true).Error
}

// OutcomeApplied reports whether both stat legs of a trade have been applied.
func (s *SqliteStore) OutcomeApplied(ctx context.Context, tradeID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.OutcomeModel{}).
		Where("trade_id = ? AND strategy_applied = ? AND source_applied = ?", tradeID, true, true).
		Count(&count).Error
	return count > 0, err
}

// EnqueueOutcome 平仓记录入队。重复 trade_id 静默吸收，返回是否新条目。
func (s *SqliteStore) EnqueueOutcome(ctx context.Context, rec model.OutcomeQueueModel) (bool, error) {
	if rec.EnqueuedAtUnix == 0 {
		rec.EnqueuedAtUnix = time.Now().UnixMilli()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "trade_id"}}, DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// PendingOutcomes returns queued trades not yet fed to the updater, oldest
// first.
func (s *SqliteStore) PendingOutcomes(ctx context.Context, limit int) ([]model.OutcomeQueueModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.OutcomeQueueModel
	err := s.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("enqueued_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkOutcomeProcessed removes a trade from the pending set.
func (s *SqliteStore) MarkOutcomeProcessed(ctx context.Context, tradeID string) error {
	return s.db.WithContext(ctx).
		Model(&model.OutcomeQueueModel{}).
		Where("trade_id = ?", tradeID).
		Update("processed", true).Error
}

// AppendPattern appends one entry to the pattern log.
func (s *SqliteStore) AppendPattern(ctx context.Context, rec model.PatternModel) error {
	if rec.CreatedAtUnix == 0 {
		rec.CreatedAtUnix = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Patterns returns the newest entries of one bucket.
func (s *SqliteStore) Patterns(ctx context.Context, bucket string, limit int) ([]model.PatternModel, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []model.PatternModel
	err := s.db.WithContext(ctx).
		Where("bucket = ?", bucket).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// EnqueueCounterfactual records a rejected signal for later what-if pricing.
func (s *SqliteStore) EnqueueCounterfactual(ctx context.Context, rec model.CounterfactualModel) error {
	if rec.RejectedAtUnix == 0 {
		rec.RejectedAtUnix = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "trace_id"}}, DoNothing: true}).
		Create(&rec).Error
}

// DueCounterfactuals returns unevaluated entries rejected before the cutoff.
func (s *SqliteStore) DueCounterfactuals(ctx context.Context, cutoff time.Time, limit int) ([]model.CounterfactualModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.CounterfactualModel
	err := s.db.WithContext(ctx).
		Where("evaluated = ? AND rejected_at <= ?", false, cutoff.UnixMilli()).
		Order("rejected_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkCounterfactualEvaluated commits the what-if result for one entry.
func (s *SqliteStore) MarkCounterfactualEvaluated(ctx context.Context, traceID string, hypotheticalPnl float64) error {
	return s.db.WithContext(ctx).
		Model(&model.CounterfactualModel{}).
		Where("trace_id = ?", traceID).
		Updates(map[string]any{
			"evaluated":        true,
			"hypothetical_pnl": hypotheticalPnl,
			"evaluated_at":     time.Now().UnixMilli(),
		}).Error
}
