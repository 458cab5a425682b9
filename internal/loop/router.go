package loop

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradegate/internal/bandit"
	"tradegate/internal/gate"
	"tradegate/internal/logger"
	"tradegate/internal/policy"
	"tradegate/internal/signal"
	"tradegate/internal/store/model"
)

// SignalQueue 路由批次对信号队列与裁决日志的持久化依赖。
type SignalQueue interface {
	PendingSignals(ctx context.Context, limit int) ([]model.SignalModel, error)
	MarkSignalDecided(ctx context.Context, signalID string) error
	SaveVerdict(ctx context.Context, v gate.Verdict, symbol, source, strategy string) error
	EnqueueCounterfactual(ctx context.Context, rec model.CounterfactualModel) error
}

// Ranker scores sources and ranks strategies for one run.
type Ranker interface {
	RankStrategies(ctx context.Context) ([]bandit.RankedStrategy, error)
	ScoreSource(ctx context.Context, name string) (float64, error)
}

// Router drains the candidate-signal queue and gates each entry. Thresholds
// are resolved fresh every run so a profile hot-reload takes effect at the
// next batch, never mid-batch.
type Router struct {
	queue    SignalQueue
	resolver *policy.Resolver
	ranker   Ranker
	gate     *gate.Gate
	mode     policy.ModeState
	maxBatch int
}

func NewRouter(queue SignalQueue, resolver *policy.Resolver, ranker Ranker, g *gate.Gate, mode policy.ModeState, maxBatch int) *Router {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	return &Router{
		queue:    queue,
		resolver: resolver,
		ranker:   ranker,
		gate:     g,
		mode:     mode,
		maxBatch: maxBatch,
	}
}

// Run processes one batch. A threshold-resolution failure aborts the whole
// run with nothing decided; pending signals stay pending.
func (r *Router) Run(ctx context.Context) error {
	thresholds, err := r.resolver.Resolve(r.mode, r.mode.ActiveProfile)
	if err != nil {
		return fmt.Errorf("resolving thresholds failed: %w", err)
	}
	learning := r.resolver.IsLearningProfile(r.mode.ActiveProfile)

	// 策略排名首位用于补全无提示的信号。
	var leader string
	if ranked, err := r.ranker.RankStrategies(ctx); err != nil {
		logger.Warnf("路由批次: 策略排名失败: %v", err)
	} else if len(ranked) > 0 {
		leader = ranked[0].Strategy
		logger.Infof("路由批次: 本轮策略排名首位 %s (sampled=%.3f trades=%d)",
			ranked[0].Strategy, ranked[0].Sampled, ranked[0].Trades)
	}

	pending, err := r.queue.PendingSignals(ctx, r.maxBatch)
	if err != nil {
		return fmt.Errorf("loading pending signals failed: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	// 先评分后排序: 预算耗尽时丢掉的是排名最差的来源。
	type scored struct {
		sig   signal.CandidateSignal
		delib signal.Deliberation
		score float64
	}
	batch := make([]scored, 0, len(pending))
	var skipped int
	for _, rec := range pending {
		sig, delib := fromSignalModel(rec)
		score, err := r.ranker.ScoreSource(ctx, sig.Source)
		if err != nil {
			// 留在队列里, 下一轮重试。
			logger.Warnf("路由批次: 信号 %s 来源评分失败: %v", sig.ID, err)
			skipped++
			continue
		}
		batch = append(batch, scored{sig: sig, delib: delib, score: score})
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].score > batch[j].score })

	var approved, rejected int
	for _, entry := range batch {
		if ctx.Err() != nil {
			logger.Warnf("路由批次: 预算耗尽, 剩余 %d 条未处理", len(pending)-approved-rejected-skipped)
			break
		}
		sig, delib, score := entry.sig, entry.delib, entry.score
		if sig.StrategyHint == "" && leader != "" {
			sig.StrategyHint = leader
		}

		verdict := r.gate.Evaluate(gate.Input{
			Signal:          sig,
			Deliberation:    delib,
			Mode:            r.mode,
			Profile:         r.mode.ActiveProfile,
			Thresholds:      thresholds,
			LearningProfile: learning,
			SourceScore:     score,
		})

		if err := r.queue.SaveVerdict(ctx, verdict, sig.Symbol, sig.Source, sig.StrategyHint); err != nil {
			logger.Warnf("路由批次: 信号 %s 裁决写入失败: %v", sig.ID, err)
			skipped++
			continue
		}
		if err := r.queue.MarkSignalDecided(ctx, sig.ID); err != nil {
			logger.Warnf("路由批次: 信号 %s 出队失败: %v", sig.ID, err)
		}

		if verdict.Approved() {
			approved++
			continue
		}
		rejected++
		if err := r.queue.EnqueueCounterfactual(ctx, counterfactualFor(sig, verdict)); err != nil {
			logger.Warnf("路由批次: 信号 %s 反事实入队失败: %v", sig.ID, err)
		}
	}

	logger.Infof("路由批次完成: approved=%d rejected=%d skipped=%d profile=%s",
		approved, rejected, skipped, r.mode.ActiveProfile)
	return nil
}

func fromSignalModel(rec model.SignalModel) (signal.CandidateSignal, signal.Deliberation) {
	sig := signal.CandidateSignal{
		ID:           rec.SignalID,
		Symbol:       rec.Symbol,
		Source:       rec.Source,
		StrategyHint: rec.StrategyHint,
		TrustScore:   rec.TrustScore,
		Confidence:   rec.Confidence,
		SignalScore:  rec.SignalScore,
		MarkPrice:    rec.MarkPrice,
		ReceivedAt:   time.UnixMilli(rec.ReceivedAtUnix),
	}
	delib := signal.Deliberation{
		Verdict:    rec.UpstreamVerdict,
		Confidence: rec.UpstreamConfidence,
	}
	return sig, delib
}

func counterfactualFor(sig signal.CandidateSignal, v gate.Verdict) model.CounterfactualModel {
	return model.CounterfactualModel{
		TraceID:  v.TraceID,
		SignalID: sig.ID,
		Symbol:   sig.Symbol,
		Source:   sig.Source,
		Strategy: sig.StrategyHint,
		Reason:   v.Reason,
		RefPrice: sig.MarkPrice,
	}
}
