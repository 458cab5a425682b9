package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradegate/internal/gate"
	"tradegate/internal/signal"
	"tradegate/internal/store/model"

	"gorm.io/gorm/clause"
)

// EnqueueSignal inserts a candidate signal into the pending queue. Re-sending
// a signal ID already seen is a no-op; the first record wins.
func (s *SqliteStore) EnqueueSignal(ctx context.Context, sig signal.CandidateSignal, delib signal.Deliberation) (bool, error) {
	received := sig.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	rec := model.SignalModel{
		SignalID:           sig.ID,
		Symbol:             sig.Symbol,
		Source:             sig.Source,
		StrategyHint:       sig.StrategyHint,
		TrustScore:         sig.TrustScore,
		Confidence:         sig.Confidence,
		SignalScore:        sig.SignalScore,
		MarkPrice:          sig.MarkPrice,
		UpstreamVerdict:    delib.Verdict,
		UpstreamConfidence: delib.Confidence,
		Status:             model.SignalStatusPending,
		ReceivedAtUnix:     received.UnixMilli(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "signal_id"}}, DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// PendingSignals returns up to limit undecided signals, oldest first.
func (s *SqliteStore) PendingSignals(ctx context.Context, limit int) ([]model.SignalModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.SignalModel
	err := s.db.WithContext(ctx).
		Where("status = ?", model.SignalStatusPending).
		Order("received_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkSignalDecided flips a queued signal to decided.
func (s *SqliteStore) MarkSignalDecided(ctx context.Context, signalID string) error {
	res := s.db.WithContext(ctx).
		Model(&model.SignalModel{}).
		Where("signal_id = ? AND status = ?", signalID, model.SignalStatusPending).
		Updates(map[string]any{
			"status":     model.SignalStatusDecided,
			"decided_at": time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("signal %s not pending", signalID)
	}
	return nil
}

// SaveVerdict persists one gate verdict.
func (s *SqliteStore) SaveVerdict(ctx context.Context, v gate.Verdict, symbol, source, strategy string) error {
	tags, err := json.Marshal(v.Tags)
	if err != nil {
		return err
	}
	rec := model.VerdictModel{
		TraceID:        v.TraceID,
		SignalID:       v.SignalID,
		Symbol:         symbol,
		Source:         source,
		Strategy:       strategy,
		Outcome:        string(v.Outcome),
		SizeMultiplier: v.SizeMultiplier,
		Reason:         v.Reason,
		TagsJSON:       tags,
		Confidence:     v.Confidence,
		SourceScore:    v.SourceScore,
		DecidedAtUnix:  v.DecidedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// RecentVerdicts returns the newest verdicts first.
func (s *SqliteStore) RecentVerdicts(ctx context.Context, limit int) ([]model.VerdictModel, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []model.VerdictModel
	err := s.db.WithContext(ctx).
		Order("decided_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
