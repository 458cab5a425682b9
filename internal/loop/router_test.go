package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradegate/internal/bandit"
	"tradegate/internal/gate"
	"tradegate/internal/policy"
	"tradegate/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignalQueue struct {
	pending    []model.SignalModel
	verdicts   []gate.Verdict
	strategies []string
	decided    []string
	counters   []model.CounterfactualModel
	saveErr    error
	pendErr    error
}

func (f *fakeSignalQueue) PendingSignals(ctx context.Context, limit int) ([]model.SignalModel, error) {
	if f.pendErr != nil {
		return nil, f.pendErr
	}
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeSignalQueue) MarkSignalDecided(ctx context.Context, signalID string) error {
	f.decided = append(f.decided, signalID)
	return nil
}

func (f *fakeSignalQueue) SaveVerdict(ctx context.Context, v gate.Verdict, symbol, source, strategy string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.verdicts = append(f.verdicts, v)
	f.strategies = append(f.strategies, strategy)
	return nil
}

func (f *fakeSignalQueue) EnqueueCounterfactual(ctx context.Context, rec model.CounterfactualModel) error {
	f.counters = append(f.counters, rec)
	return nil
}

type fakeRanker struct {
	scores   map[string]float64
	scoreErr error
	ranked   []bandit.RankedStrategy
}

func (f *fakeRanker) RankStrategies(ctx context.Context) ([]bandit.RankedStrategy, error) {
	return f.ranked, nil
}

func (f *fakeRanker) ScoreSource(ctx context.Context, name string) (float64, error) {
	if f.scoreErr != nil {
		return 0, f.scoreErr
	}
	return f.scores[name], nil
}

func learningResolver(t *testing.T) *policy.Resolver {
	t.Helper()
	return policy.NewResolver(policy.ProfileSourceFunc(func(name string) (policy.ThresholdProfile, bool) {
		if name != "learning" {
			return policy.ThresholdProfile{}, false
		}
		return policy.ThresholdProfile{
			Name:          "learning",
			MinTrust:      30,
			MinConfidence: 40,
			MinSignal:     30,
			Learning:      true,
		}, true
	}))
}

func learningMode(t *testing.T) policy.ModeState {
	t.Helper()
	mode, err := policy.NewModeState(policy.ModeLearning, policy.ModeLearning, "learning")
	require.NoError(t, err)
	return mode
}

func pendingSignal(id string, trust, conf, sig float64, verdict string) model.SignalModel {
	return model.SignalModel{
		SignalID:           id,
		Symbol:             "BTCUSDT",
		Source:             "telegram-alpha",
		StrategyHint:       "breakout",
		TrustScore:         trust,
		Confidence:         conf,
		SignalScore:        sig,
		MarkPrice:          50000,
		UpstreamVerdict:    verdict,
		UpstreamConfidence: 70,
		ReceivedAtUnix:     time.Now().UnixMilli(),
	}
}

func TestRouter_ApprovesAndDecides(t *testing.T) {
	queue := &fakeSignalQueue{pending: []model.SignalModel{
		pendingSignal("sig-1", 50, 55, 45, "APPROVE"),
	}}
	ranker := &fakeRanker{scores: map[string]float64{"telegram-alpha": 0.8}}
	r := NewRouter(queue, learningResolver(t), ranker, gate.New(), learningMode(t), 10)

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, queue.verdicts, 1)
	v := queue.verdicts[0]
	assert.Equal(t, gate.OutcomeApprove, v.Outcome)
	assert.InDelta(t, 0.8, v.SourceScore, 1e-9)
	assert.Equal(t, []string{"sig-1"}, queue.decided)
	assert.Empty(t, queue.counters, "approved signals do not spawn counterfactuals")
}

func TestRouter_RejectEnqueuesCounterfactual(t *testing.T) {
	queue := &fakeSignalQueue{pending: []model.SignalModel{
		pendingSignal("sig-2", 10, 55, 45, "APPROVE"),
	}}
	ranker := &fakeRanker{scores: map[string]float64{"telegram-alpha": 0.5}}
	r := NewRouter(queue, learningResolver(t), ranker, gate.New(), learningMode(t), 10)

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, queue.verdicts, 1)
	assert.Equal(t, gate.OutcomeReject, queue.verdicts[0].Outcome)
	require.Len(t, queue.counters, 1)
	cf := queue.counters[0]
	assert.Equal(t, "sig-2", cf.SignalID)
	assert.Equal(t, queue.verdicts[0].Reason, cf.Reason)
	assert.InDelta(t, 50000, cf.RefPrice, 1e-9)
}

func TestRouter_ScoreFailureLeavesSignalPending(t *testing.T) {
	queue := &fakeSignalQueue{pending: []model.SignalModel{
		pendingSignal("sig-3", 50, 55, 45, "APPROVE"),
	}}
	ranker := &fakeRanker{scoreErr: errors.New("db locked")}
	r := NewRouter(queue, learningResolver(t), ranker, gate.New(), learningMode(t), 10)

	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, queue.verdicts)
	assert.Empty(t, queue.decided, "signal stays pending for the next run")
}

func TestRouter_SaveFailureDoesNotDequeue(t *testing.T) {
	queue := &fakeSignalQueue{
		pending: []model.SignalModel{pendingSignal("sig-4", 50, 55, 45, "APPROVE")},
		saveErr: errors.New("disk full"),
	}
	ranker := &fakeRanker{scores: map[string]float64{"telegram-alpha": 0.5}}
	r := NewRouter(queue, learningResolver(t), ranker, gate.New(), learningMode(t), 10)

	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, queue.decided)
}

func TestRouter_UnknownProfileAbortsRun(t *testing.T) {
	queue := &fakeSignalQueue{pending: []model.SignalModel{
		pendingSignal("sig-5", 90, 90, 90, "APPROVE"),
	}}
	resolver := policy.NewResolver(policy.ProfileSourceFunc(func(string) (policy.ThresholdProfile, bool) {
		return policy.ThresholdProfile{}, false
	}))
	mode, err := policy.NewModeState(policy.ModeLearning, policy.ModeLearning, "ghost")
	require.NoError(t, err)
	ranker := &fakeRanker{scores: map[string]float64{"telegram-alpha": 0.5}}
	r := NewRouter(queue, resolver, ranker, gate.New(), mode, 10)

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, queue.verdicts, "nothing is decided when thresholds cannot resolve")
}

func TestRouter_ProcessesHighestScoredSourceFirst(t *testing.T) {
	weak := pendingSignal("sig-weak", 50, 55, 45, "APPROVE")
	weak.Source = "telegram-beta"
	strong := pendingSignal("sig-strong", 50, 55, 45, "APPROVE")
	queue := &fakeSignalQueue{pending: []model.SignalModel{weak, strong}}
	ranker := &fakeRanker{scores: map[string]float64{
		"telegram-beta":  0.2,
		"telegram-alpha": 0.9,
	}}
	r := NewRouter(queue, learningResolver(t), ranker, gate.New(), learningMode(t), 10)

	require.NoError(t, r.Run(context.Background()))

	// 高分来源先裁决, 预算不够时先丢低分的。
	require.Len(t, queue.verdicts, 2)
	assert.Equal(t, "sig-strong", queue.verdicts[0].SignalID)
	assert.Equal(t, "sig-weak", queue.verdicts[1].SignalID)
}

func TestRouter_FillsEmptyStrategyHintFromRanking(t *testing.T) {
	rec := pendingSignal("sig-bare", 50, 55, 45, "APPROVE")
	rec.StrategyHint = ""
	queue := &fakeSignalQueue{pending: []model.SignalModel{rec}}
	ranker := &fakeRanker{
		scores: map[string]float64{"telegram-alpha": 0.6},
		ranked: []bandit.RankedStrategy{
			{Strategy: "momentum", Sampled: 0.71, Trades: 40},
			{Strategy: "breakout", Sampled: 0.64, Trades: 35},
		},
	}
	r := NewRouter(queue, learningResolver(t), ranker, gate.New(), learningMode(t), 10)

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, queue.strategies, 1)
	assert.Equal(t, "momentum", queue.strategies[0])
}

func TestRouter_KeepsExplicitStrategyHint(t *testing.T) {
	queue := &fakeSignalQueue{pending: []model.SignalModel{
		pendingSignal("sig-hinted", 50, 55, 45, "APPROVE"),
	}}
	ranker := &fakeRanker{
		scores: map[string]float64{"telegram-alpha": 0.6},
		ranked: []bandit.RankedStrategy{{Strategy: "momentum", Sampled: 0.71, Trades: 40}},
	}
	r := NewRouter(queue, learningResolver(t), ranker, gate.New(), learningMode(t), 10)

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, queue.strategies, 1)
	assert.Equal(t, "breakout", queue.strategies[0])
}
