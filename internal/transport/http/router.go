package gatehttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/bandit"
	"tradegate/internal/reliability"
	"tradegate/internal/signal"
	"tradegate/internal/store/model"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

const maxBodyBytes = 1 << 20

// StatsReader 只读的可靠性统计查询面。
type StatsReader interface {
	ListStrategies(ctx context.Context) ([]reliability.StrategyStat, error)
	ListSources(ctx context.Context) ([]reliability.SourceStat, error)
}

// RankReader draws a fresh strategy ranking.
type RankReader interface {
	RankStrategies(ctx context.Context) ([]bandit.RankedStrategy, error)
}

// DecisionLog 裁决/模式日志查询与采集入队。
type DecisionLog interface {
	RecentVerdicts(ctx context.Context, limit int) ([]model.VerdictModel, error)
	Patterns(ctx context.Context, bucket string, limit int) ([]model.PatternModel, error)
	EnqueueSignal(ctx context.Context, sig signal.CandidateSignal, delib signal.Deliberation) (bool, error)
	EnqueueOutcome(ctx context.Context, rec model.OutcomeQueueModel) (bool, error)
}

// Router 暴露决策引擎的查询与采集接口。
type Router struct {
	stats StatsReader
	ranks RankReader
	log   DecisionLog
}

func NewRouter(stats StatsReader, ranks RankReader, log DecisionLog) *Router {
	return &Router{stats: stats, ranks: ranks, log: log}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/strategies", r.handleStrategies)
	group.GET("/sources", r.handleSources)
	group.GET("/verdicts", r.handleVerdicts)
	group.GET("/patterns", r.handlePatterns)
	if r.ranks != nil {
		group.GET("/rankings", r.handleRankings)
	}
	group.POST("/signals", r.handleIngestSignal)
	group.POST("/outcomes", r.handleIngestOutcome)
}

func (r *Router) handleStrategies(c *gin.Context) {
	stats, err := r.stats.ListStrategies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	type strategyView struct {
		Name    string  `json:"name"`
		Alpha   int64   `json:"alpha"`
		Beta    int64   `json:"beta"`
		Trades  int64   `json:"trades"`
		WinRate float64 `json:"win_rate"`
	}
	out := make([]strategyView, 0, len(stats))
	for _, s := range stats {
		out = append(out, strategyView{
			Name:    s.Name,
			Alpha:   s.Alpha,
			Beta:    s.Beta,
			Trades:  s.Trades,
			WinRate: s.WinRate(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (r *Router) handleSources(c *gin.Context) {
	stats, err := r.stats.ListSources(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": stats})
}

func (r *Router) handleRankings(c *gin.Context) {
	ranked, err := r.ranks.RankStrategies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rankings": ranked})
}

func (r *Router) handleVerdicts(c *gin.Context) {
	verdicts, err := r.log.RecentVerdicts(c.Request.Context(), queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verdicts": verdicts})
}

func (r *Router) handlePatterns(c *gin.Context) {
	bucket := strings.TrimSpace(c.DefaultQuery("bucket", model.PatternBucketWin))
	switch bucket {
	case model.PatternBucketWin, model.PatternBucketLoss, model.PatternBucketCounterfactual:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown bucket"})
		return
	}
	patterns, err := r.log.Patterns(c.Request.Context(), bucket, queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bucket": bucket, "patterns": patterns})
}

// signalIngestRequest 采集协作方推送的候选信号体。
type signalIngestRequest struct {
	signal.CandidateSignal
	Deliberation signal.Deliberation `json:"deliberation"`
}

func (r *Router) handleIngestSignal(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	if err := signal.ValidateCandidatePayload(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req signalIngestRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now()
	}
	inserted, err := r.log.EnqueueSignal(c.Request.Context(), req.CandidateSignal, req.Deliberation)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusAccepted
	if !inserted {
		status = http.StatusOK // 重复投递, 已吸收
	}
	c.JSON(status, gin.H{"id": req.ID, "enqueued": inserted})
}

func (r *Router) handleIngestOutcome(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	if err := signal.ValidateOutcomePayload(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body := gjson.Parse(raw)
	rec := model.OutcomeQueueModel{
		TradeID:    strings.TrimSpace(body.Get("trade_id").String()),
		Strategy:   strings.TrimSpace(body.Get("strategy").String()),
		Source:     strings.TrimSpace(body.Get("source").String()),
		PnlPercent: body.Get("pnl_percent").String(),
	}
	if closedAt := body.Get("closed_at"); closedAt.Exists() {
		if t, err := time.Parse(time.RFC3339, closedAt.String()); err == nil {
			rec.ClosedAtUnix = t.UnixMilli()
		}
	}
	if rec.ClosedAtUnix == 0 {
		rec.ClosedAtUnix = time.Now().UnixMilli()
	}
	inserted, err := r.log.EnqueueOutcome(c.Request.Context(), rec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusAccepted
	if !inserted {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"trade_id": rec.TradeID, "enqueued": inserted})
}

func readBody(c *gin.Context) (string, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading body failed"})
		return "", false
	}
	return string(raw), true
}

func queryLimit(c *gin.Context, def int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
