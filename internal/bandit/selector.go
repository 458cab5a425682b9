package bandit

import (
	"context"
	"sort"
	"strings"

	"tradegate/internal/reliability"
)

// RankedStrategy 单个策略在一次 Thompson 采样中的名次与样本值。
type RankedStrategy struct {
	Strategy string  `json:"strategy"`
	Sampled  float64 `json:"sampled_score"`
	Trades   int64   `json:"trades"`
}

// StatReader is the slice of the reliability store the selector needs.
type StatReader interface {
	ListStrategies(ctx context.Context) ([]reliability.StrategyStat, error)
	GetSource(ctx context.Context, name string) (reliability.SourceStat, error)
	TotalSourceObservations(ctx context.Context) (int64, error)
}

// Selector ranks strategies by posterior sampling and scores sources with an
// upper confidence bound. It holds no mutable state of its own; every call
// reads fresh stats and draws fresh samples.
type Selector struct {
	stats StatReader
}

func NewSelector(stats StatReader) *Selector {
	return &Selector{stats: stats}
}

// RankStrategies draws one Beta(alpha, beta) sample per strategy and ranks
// descending by sample. Samples are drawn anew on every call; that
// re-sampling is what lets wide-uncertainty strategies occasionally rank
// high while many-win strategies rank reliably high.
func (s *Selector) RankStrategies(ctx context.Context) ([]RankedStrategy, error) {
	stats, err := s.stats.ListStrategies(ctx)
	if err != nil {
		return nil, err
	}
	ranked := make([]RankedStrategy, 0, len(stats))
	for _, st := range stats {
		ranked = append(ranked, RankedStrategy{
			Strategy: st.Name,
			Sampled:  sampleBeta(float64(st.Alpha), float64(st.Beta)),
			Trades:   st.Trades,
		})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Sampled > ranked[j].Sampled })
	return ranked, nil
}

// ScoreSource returns the UCB1 score for one source, computed against the
// current total observation count. Brand-new sources come back with the
// optimistic default so they get tried at least once.
func (s *Selector) ScoreSource(ctx context.Context, name string) (float64, error) {
	name = strings.TrimSpace(name)
	stat, err := s.stats.GetSource(ctx, name)
	if err != nil {
		return 0, err
	}
	total, err := s.stats.TotalSourceObservations(ctx)
	if err != nil {
		return 0, err
	}
	return reliability.UCBScore(stat.Wins, stat.Losses, total), nil
}
