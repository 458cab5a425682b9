package outcome

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"tradegate/internal/reliability"
	"tradegate/internal/signal"
	"tradegate/internal/store/model"
	"tradegate/internal/store/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newFixtures(t *testing.T) (*reliability.Store, *sqlite.SqliteStore, *Updater) {
	t.Helper()
	dir := t.TempDir()
	stats, err := reliability.Open(filepath.Join(dir, "reliability.db"))
	require.NoError(t, err)
	t.Cleanup(func() { stats.Close() })
	log, err := sqlite.NewSqliteStore(filepath.Join(dir, "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return stats, log, NewUpdater(stats, log)
}

func closedTrade(id string, pnl float64) signal.TradeOutcome {
	return signal.TradeOutcome{
		TradeID:    id,
		Strategy:   "alpha-strat",
		Source:     "scanner-a",
		PnlPercent: decimal.NewFromFloat(pnl),
		ClosedAt:   time.Now(),
	}
}

func TestRecord_WinIncrementsAlphaOnly(t *testing.T) {
	stats, _, up := newFixtures(t)
	ctx := context.Background()

	require.NoError(t, up.Record(ctx, closedTrade("t-1", 12.0)))

	strat, err := stats.GetStrategy(ctx, "alpha-strat")
	require.NoError(t, err)
	assert.Equal(t, int64(2), strat.Alpha)
	assert.Equal(t, int64(1), strat.Beta)
	assert.Equal(t, int64(1), strat.Trades)

	src, err := stats.GetSource(ctx, "scanner-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.Wins)
	assert.Equal(t, int64(0), src.Losses)
}

func TestRecord_Idempotent(t *testing.T) {
	stats, log, up := newFixtures(t)
	ctx := context.Background()

	require.NoError(t, up.Record(ctx, closedTrade("t-dup", 12.0)))
	// Same trade identifier again: the store must change exactly once.
	require.NoError(t, up.Record(ctx, closedTrade("t-dup", 12.0)))

	strat, err := stats.GetStrategy(ctx, "alpha-strat")
	require.NoError(t, err)
	assert.Equal(t, int64(2), strat.Alpha)
	assert.Equal(t, int64(1), strat.Beta)

	applied, err := log.OutcomeApplied(ctx, "t-dup")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestRecord_LossGoesToLossBucket(t *testing.T) {
	stats, log, up := newFixtures(t)
	ctx := context.Background()

	require.NoError(t, up.Record(ctx, closedTrade("t-loss", -4.5)))

	strat, err := stats.GetStrategy(ctx, "alpha-strat")
	require.NoError(t, err)
	assert.Equal(t, int64(1), strat.Alpha)
	assert.Equal(t, int64(2), strat.Beta)

	patterns, err := log.Patterns(ctx, model.PatternBucketLoss, 10)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "t-loss", patterns[0].RefID)

	wins, err := log.Patterns(ctx, model.PatternBucketWin, 10)
	require.NoError(t, err)
	assert.Empty(t, wins)
}

func TestRecord_ZeroPnlIsLoss(t *testing.T) {
	stats, _, up := newFixtures(t)
	ctx := context.Background()
	require.NoError(t, up.Record(ctx, closedTrade("t-flat", 0)))
	strat, err := stats.GetStrategy(ctx, "alpha-strat")
	require.NoError(t, err)
	assert.Equal(t, int64(2), strat.Beta)
}

func TestRecord_RejectsIncompleteOutcome(t *testing.T) {
	_, _, up := newFixtures(t)
	ctx := context.Background()

	err := up.Record(ctx, signal.TradeOutcome{Strategy: "x", Source: "y"})
	assert.Error(t, err)

	err = up.Record(ctx, signal.TradeOutcome{TradeID: "t", Source: "y"})
	assert.Error(t, err)
}

type flakyStats struct {
	mock.Mock
}

func (m *flakyStats) ApplyOutcome(ctx context.Context, kind reliability.Kind, key string, isWin bool) error {
	args := m.Called(ctx, kind, key, isWin)
	return args.Error(0)
}

func TestRecord_StatsFailureKeepsTradeRetriable(t *testing.T) {
	_, log, _ := newFixtures(t)
	ctx := context.Background()

	stats := new(flakyStats)
	stats.On("ApplyOutcome", mock.Anything, reliability.KindStrategy, "alpha-strat", true).
		Return(fmt.Errorf("storage unavailable"))
	up := NewUpdater(stats, log)

	err := up.Record(ctx, closedTrade("t-fail", 3.0))
	require.Error(t, err)

	// The claim stays with no legs flagged so the next run retries the trade.
	applied, err := log.OutcomeApplied(ctx, "t-fail")
	require.NoError(t, err)
	assert.False(t, applied)

	// Every retry attempt hit the store.
	stats.AssertNumberOfCalls(t, "ApplyOutcome", 3)
}

// sourceFailingStats 策略腿直接落到真实存储，来源腿先失败 failures 次。
type sourceFailingStats struct {
	real          *reliability.Store
	failures      int
	strategyCalls int
	sourceCalls   int
}

func (s *sourceFailingStats) ApplyOutcome(ctx context.Context, kind reliability.Kind, key string, isWin bool) error {
	if kind == reliability.KindSource {
		s.sourceCalls++
		if s.sourceCalls <= s.failures {
			return fmt.Errorf("source stats unavailable")
		}
		return s.real.ApplyOutcome(ctx, kind, key, isWin)
	}
	s.strategyCalls++
	return s.real.ApplyOutcome(ctx, kind, key, isWin)
}

func TestRecord_ResumesOnlyMissingLegAfterPartialFailure(t *testing.T) {
	real, log, _ := newFixtures(t)
	ctx := context.Background()

	stats := &sourceFailingStats{real: real, failures: retryAttempts}
	up := NewUpdater(stats, log)

	// First run: the strategy leg commits, the source leg exhausts retries.
	err := up.Record(ctx, closedTrade("t-partial", 8.0))
	require.Error(t, err)
	applied, err := log.OutcomeApplied(ctx, "t-partial")
	require.NoError(t, err)
	assert.False(t, applied)

	// Second run resumes the claim and applies only the source leg.
	require.NoError(t, up.Record(ctx, closedTrade("t-partial", 8.0)))

	strat, err := real.GetStrategy(ctx, "alpha-strat")
	require.NoError(t, err)
	assert.Equal(t, int64(2), strat.Alpha)
	assert.Equal(t, int64(1), strat.Trades)
	assert.Equal(t, 1, stats.strategyCalls)

	src, err := real.GetSource(ctx, "scanner-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), src.Wins)

	applied, err = log.OutcomeApplied(ctx, "t-partial")
	require.NoError(t, err)
	assert.True(t, applied)

	wins, err := log.Patterns(ctx, model.PatternBucketWin, 10)
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.Equal(t, "t-partial", wins[0].RefID)
}
