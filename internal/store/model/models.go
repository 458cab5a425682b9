package model

import (
	"gorm.io/datatypes"
)

// SignalStatus 信号队列状态。
type SignalStatus int

const (
	SignalStatusPending SignalStatus = 0
	SignalStatusDecided SignalStatus = 1
)

// SignalModel 候选信号队列：采集协作方写入，路由批次消费。
type SignalModel struct {
	ID                 int64        `gorm:"column:id;primaryKey"`
	SignalID           string       `gorm:"column:signal_id;uniqueIndex"`
	Symbol             string       `gorm:"column:symbol"`
	Source             string       `gorm:"column:source"`
	StrategyHint       string       `gorm:"column:strategy_hint"`
	TrustScore         float64      `gorm:"column:trust_score"`
	Confidence         float64      `gorm:"column:confidence_score"`
	SignalScore        float64      `gorm:"column:signal_score"`
	MarkPrice          float64      `gorm:"column:mark_price"`
	UpstreamVerdict    string       `gorm:"column:upstream_verdict"`
	UpstreamConfidence float64      `gorm:"column:upstream_confidence"`
	Status             SignalStatus `gorm:"column:status;index"`
	ReceivedAtUnix     int64        `gorm:"column:received_at"`
	DecidedAtUnix      int64        `gorm:"column:decided_at"`
}

func (SignalModel) TableName() string { return "candidate_signals" }

// VerdictModel 决策结果日志，供执行协作方与监控消费。
type VerdictModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	TraceID        string         `gorm:"column:trace_id;uniqueIndex"`
	SignalID       string         `gorm:"column:signal_id;index"`
	Symbol         string         `gorm:"column:symbol"`
	Source         string         `gorm:"column:source"`
	Strategy       string         `gorm:"column:strategy"`
	Outcome        string         `gorm:"column:outcome"`
	SizeMultiplier float64        `gorm:"column:size_multiplier"`
	Reason         string         `gorm:"column:reason"`
	TagsJSON       datatypes.JSON `gorm:"column:tags_json;type:TEXT"`
	Confidence     float64        `gorm:"column:confidence"`
	SourceScore    float64        `gorm:"column:source_score"`
	DecidedAtUnix  int64          `gorm:"column:decided_at"`
}

func (VerdictModel) TableName() string { return "verdicts" }

// OutcomeModel 平仓记录的幂等声明，trade_id 唯一约束即幂等检查。
// 两条统计腿各自落库后置位对应标记；恢复运行只补缺失的那条腿。
type OutcomeModel struct {
	ID              int64   `gorm:"column:id;primaryKey"`
	TradeID         string  `gorm:"column:trade_id;uniqueIndex"`
	Strategy        string  `gorm:"column:strategy"`
	Source          string  `gorm:"column:source"`
	PnlPercent      float64 `gorm:"column:pnl_percent"`
	IsWin           bool    `gorm:"column:is_win"`
	StrategyApplied bool    `gorm:"column:strategy_applied"`
	SourceApplied   bool    `gorm:"column:source_applied"`
	ClosedAtUnix    int64   `gorm:"column:closed_at"`
	AppliedAtUnix   int64   `gorm:"column:applied_at"`
}

func (OutcomeModel) TableName() string { return "trade_outcomes" }

// OutcomeQueueModel 平仓记录的待处理队列：采集端写入，分析批次消费。
// trade_id 唯一约束让重复投递在入队时即被吸收。
type OutcomeQueueModel struct {
	ID             int64  `gorm:"column:id;primaryKey"`
	TradeID        string `gorm:"column:trade_id;uniqueIndex"`
	Strategy       string `gorm:"column:strategy"`
	Source         string `gorm:"column:source"`
	PnlPercent     string `gorm:"column:pnl_percent"`
	Processed      bool   `gorm:"column:processed;index"`
	ClosedAtUnix   int64  `gorm:"column:closed_at"`
	EnqueuedAtUnix int64  `gorm:"column:enqueued_at"`
}

func (OutcomeQueueModel) TableName() string { return "outcome_queue" }

// Pattern buckets.
const (
	PatternBucketWin            = "win"
	PatternBucketLoss           = "loss"
	PatternBucketCounterfactual = "counterfactual"
)

// PatternModel 按胜/负分区的历史模式日志，供外部定性检索。
type PatternModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Bucket        string         `gorm:"column:bucket;index"`
	RefID         string         `gorm:"column:ref_id"`
	Strategy      string         `gorm:"column:strategy"`
	Source        string         `gorm:"column:source"`
	PnlPercent    float64        `gorm:"column:pnl_percent"`
	DetailJSON    datatypes.JSON `gorm:"column:detail_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (PatternModel) TableName() string { return "pattern_log" }

// CounterfactualModel 被拒信号的"假如放行"追踪条目。
type CounterfactualModel struct {
	ID              int64   `gorm:"column:id;primaryKey"`
	TraceID         string  `gorm:"column:trace_id;uniqueIndex"`
	SignalID        string  `gorm:"column:signal_id"`
	Symbol          string  `gorm:"column:symbol"`
	Source          string  `gorm:"column:source"`
	Strategy        string  `gorm:"column:strategy"`
	Reason          string  `gorm:"column:reason"`
	RefPrice        float64 `gorm:"column:ref_price"`
	Evaluated       bool    `gorm:"column:evaluated;index"`
	HypotheticalPnl float64 `gorm:"column:hypothetical_pnl"`
	RejectedAtUnix  int64   `gorm:"column:rejected_at"`
	EvaluatedAtUnix int64   `gorm:"column:evaluated_at"`
}

func (CounterfactualModel) TableName() string { return "counterfactual_entries" }
