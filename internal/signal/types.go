package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// 上游裁决动作（来自外部 deliberation 协作方）。
const (
	VerdictApprove = "APPROVE"
	VerdictRevise  = "REVISE"
	VerdictReject  = "REJECT"
)

// CandidateSignal 候选信号记录，由采集/校验协作方产出。
type CandidateSignal struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Source       string  `json:"source"`
	StrategyHint string  `json:"strategy_hint"`
	TrustScore   float64 `json:"trust_score"`
	Confidence   float64 `json:"confidence_score"`
	SignalScore  float64 `json:"signal_score"`
	// MarkPrice 信号产生时的参考价，用于反事实评估的假想入场价。
	MarkPrice  float64   `json:"mark_price"`
	ReceivedAt time.Time `json:"received_at"`
}

// Deliberation 上游推敲阶段的裁决。Confidence 0 表示"未测量"。
type Deliberation struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
}

// TradeOutcome 已平仓交易记录，由执行/持仓协作方产出。
type TradeOutcome struct {
	TradeID    string          `json:"trade_id"`
	Strategy   string          `json:"strategy"`
	Source     string          `json:"source"`
	PnlPercent decimal.Decimal `json:"pnl_percent"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// IsWin derives the win flag: strictly positive pnl counts as a win.
func (o TradeOutcome) IsWin() bool {
	return o.PnlPercent.GreaterThan(decimal.Zero)
}
