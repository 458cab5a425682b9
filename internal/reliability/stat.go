package reliability

import "math"

// Kind selects the stat partition an outcome applies to.
type Kind string

const (
	KindStrategy Kind = "strategy"
	KindSource   Kind = "source"
)

// StrategyStat is the Beta success/failure model for one strategy.
// A prior of 1/1 is baked in, so alpha+beta-2 == trades always holds.
type StrategyStat struct {
	Name   string `json:"name"`
	Alpha  int64  `json:"alpha"`
	Beta   int64  `json:"beta"`
	Trades int64  `json:"trades"`
}

// WinRate returns the posterior mean of the Beta model.
func (s StrategyStat) WinRate() float64 {
	return float64(s.Alpha) / float64(s.Alpha+s.Beta)
}

// SourceStat is the win-rate/grade model for one signal source.
type SourceStat struct {
	Name   string  `json:"name"`
	Wins   int64   `json:"wins"`
	Losses int64   `json:"losses"`
	Grade  string  `json:"grade"`
	Score  float64 `json:"score"`
}

func (s SourceStat) Observations() int64 { return s.Wins + s.Losses }

func (s SourceStat) WinRate() float64 {
	obs := s.Observations()
	if obs == 0 {
		return 0
	}
	return float64(s.Wins) / float64(obs)
}

const (
	// minGradeSamples 样本不足时评级保持中性占位。
	minGradeSamples = 5
	neutralGrade    = "C"

	// optimisticScore is handed to brand-new sources so each gets tried at
	// least once before converged scores can crowd it out.
	optimisticScore = 2.0

	// explorationC is the UCB1 exploration constant (classic √2 form).
	explorationC = math.Sqrt2
)

// GradeFor maps win/loss counters to a grade. Pure function: grade is never
// stored independently of the counters that produced it.
func GradeFor(wins, losses int64) string {
	total := wins + losses
	if total < minGradeSamples {
		return neutralGrade
	}
	rate := float64(wins) / float64(total)
	switch {
	case rate > 0.9:
		return "S"
	case rate >= 0.8:
		return "A+"
	case rate >= 0.7:
		return "A"
	case rate >= 0.6:
		return "B"
	case rate >= 0.5:
		return "C"
	case rate >= 0.4:
		return "D"
	default:
		return "F"
	}
}

// UCBScore computes the upper-confidence-bound score for a source: empirical
// win rate plus an exploration bonus that shrinks as the source accumulates
// observations. totalObs is the observation count across all sources.
// Sources with zero observations get the fixed optimistic default instead.
func UCBScore(wins, losses, totalObs int64) float64 {
	obs := wins + losses
	if obs <= 0 {
		return optimisticScore
	}
	if totalObs < obs {
		totalObs = obs
	}
	if totalObs < 1 {
		totalObs = 1
	}
	rate := float64(wins) / float64(obs)
	bonus := explorationC * math.Sqrt(math.Log(float64(totalObs))/float64(obs))
	return rate + bonus
}
