package gatehttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tradegate/internal/bandit"
	"tradegate/internal/reliability"
	"tradegate/internal/signal"
	"tradegate/internal/store/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeStats struct{}

func (fakeStats) ListStrategies(ctx context.Context) ([]reliability.StrategyStat, error) {
	return []reliability.StrategyStat{{Name: "breakout", Alpha: 8, Beta: 4, Trades: 10}}, nil
}

func (fakeStats) ListSources(ctx context.Context) ([]reliability.SourceStat, error) {
	return []reliability.SourceStat{{Name: "telegram-alpha", Wins: 6, Losses: 4, Grade: "C", Score: 0.7}}, nil
}

type fakeRanks struct{}

func (fakeRanks) RankStrategies(ctx context.Context) ([]bandit.RankedStrategy, error) {
	return []bandit.RankedStrategy{{Strategy: "breakout", Sampled: 0.66, Trades: 10}}, nil
}

type fakeDecisionLog struct {
	signals  []signal.CandidateSignal
	outcomes []model.OutcomeQueueModel
}

func (f *fakeDecisionLog) RecentVerdicts(ctx context.Context, limit int) ([]model.VerdictModel, error) {
	return nil, nil
}

func (f *fakeDecisionLog) Patterns(ctx context.Context, bucket string, limit int) ([]model.PatternModel, error) {
	return nil, nil
}

func (f *fakeDecisionLog) EnqueueSignal(ctx context.Context, sig signal.CandidateSignal, delib signal.Deliberation) (bool, error) {
	for _, existing := range f.signals {
		if existing.ID == sig.ID {
			return false, nil
		}
	}
	f.signals = append(f.signals, sig)
	return true, nil
}

func (f *fakeDecisionLog) EnqueueOutcome(ctx context.Context, rec model.OutcomeQueueModel) (bool, error) {
	for _, existing := range f.outcomes {
		if existing.TradeID == rec.TradeID {
			return false, nil
		}
	}
	f.outcomes = append(f.outcomes, rec)
	return true, nil
}

func newTestEngine(t *testing.T, log *fakeDecisionLog) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewRouter(fakeStats{}, fakeRanks{}, log).Register(engine.Group("/api"))
	return engine
}

func doRequest(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	engine.ServeHTTP(rec, req)
	return rec
}

func TestIngestSignal(t *testing.T) {
	log := &fakeDecisionLog{}
	engine := newTestEngine(t, log)
	payload := `{
		"id": "sig-1", "symbol": "BTCUSDT", "source": "telegram-alpha",
		"strategy_hint": "breakout",
		"trust_score": 62, "confidence_score": 70, "signal_score": 55,
		"mark_price": 50000,
		"deliberation": {"verdict": "APPROVE", "confidence": 72}
	}`

	rec := doRequest(engine, http.MethodPost, "/api/signals", payload)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, log.signals, 1)
	assert.Equal(t, "sig-1", log.signals[0].ID)
	assert.False(t, log.signals[0].ReceivedAt.IsZero())

	// 重复投递被吸收, 不报错。
	rec = doRequest(engine, http.MethodPost, "/api/signals", payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "enqueued").Bool())
	assert.Len(t, log.signals, 1)
}

func TestIngestSignal_MalformedRejected(t *testing.T) {
	engine := newTestEngine(t, &fakeDecisionLog{})

	cases := map[string]string{
		"not json":        `{{`,
		"missing source":  `{"id":"x","symbol":"BTCUSDT","trust_score":1,"confidence_score":1,"signal_score":1}`,
		"score too large": `{"id":"x","symbol":"BTCUSDT","source":"s","trust_score":500,"confidence_score":1,"signal_score":1}`,
		"bad verdict":     `{"id":"x","symbol":"BTCUSDT","source":"s","trust_score":1,"confidence_score":1,"signal_score":1,"deliberation":{"verdict":"MAYBE"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(engine, http.MethodPost, "/api/signals", payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestIngestOutcome(t *testing.T) {
	log := &fakeDecisionLog{}
	engine := newTestEngine(t, log)
	payload := `{"trade_id":"t-1","strategy":"breakout","source":"telegram-alpha","pnl_percent":2.5,"closed_at":"2026-08-29T10:00:00Z"}`

	rec := doRequest(engine, http.MethodPost, "/api/outcomes", payload)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, log.outcomes, 1)
	assert.Equal(t, "2.5", log.outcomes[0].PnlPercent)
	assert.NotZero(t, log.outcomes[0].ClosedAtUnix)

	rec = doRequest(engine, http.MethodPost, "/api/outcomes", payload)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueryEndpoints(t *testing.T) {
	engine := newTestEngine(t, &fakeDecisionLog{})

	rec := doRequest(engine, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "breakout", gjson.Get(body, "strategies.0.name").String())
	assert.InDelta(t, 8.0/12.0, gjson.Get(body, "strategies.0.win_rate").Float(), 1e-9)

	rec = doRequest(engine, http.MethodGet, "/api/rankings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "breakout", gjson.Get(rec.Body.String(), "rankings.0.strategy").String())

	rec = doRequest(engine, http.MethodGet, "/api/patterns?bucket=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
