package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-quorum/infrastructure/store"
	"github.com/ahrav/go-quorum/infrastructure/units"
	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
)

func testServer(t *testing.T, opts ...ServerOption) (*Server, *store.MemoryScoreBank) {
	t.Helper()

	cfg := application.DefaultConfig()
	cfg.Rubric = application.RubricConfig{Criteria: []application.CriterionConfig{
		{ID: "correctness", Weight: 0.5, MaxScore: 100},
		{ID: "style", Weight: 0.5, MaxScore: 10},
	}}

	bank := store.NewMemoryScoreBank()
	engine, err := application.NewEngine(cfg, application.Deps{
		Source:    bank,
		Store:     store.NewMemoryStore(),
		Builder:   units.BuildPipeline,
		Evaluator: units.EvaluateQuality,
	}, application.WithDebounceWindow(time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return NewServer(engine, bank, prometheus.NewRegistry(), zerolog.Nop(), opts...), bank
}

func perform(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func apiScore(judgeID string, overall float64) domain.JudgeScore {
	return domain.JudgeScore{
		JudgeID:      judgeID,
		JudgeType:    domain.JudgeStaffReviewer,
		OverallScore: overall,
		CriterionScores: map[string]float64{
			"correctness": overall,
			"style":       overall / 10,
		},
		Quality:    0.8,
		Confidence: 0.7,
		Expertise:  0.6,
		Reputation: 0.5,
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)

	rec := perform(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitAndAggregateFlow(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.Handler()

	scores := []domain.JudgeScore{
		apiScore("judge-1", 70),
		apiScore("judge-2", 72),
		apiScore("judge-3", 68),
		apiScore("judge-4", 95),
	}
	rec := perform(t, handler, http.MethodPost, "/v1/executions/exec-1/scores", scores)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":4}`, rec.Body.String())

	// A single object body is accepted too.
	rec = perform(t, handler, http.MethodPost, "/v1/executions/exec-1/scores", apiScore("judge-5", 71))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":1}`, rec.Body.String())

	rec = perform(t, handler, http.MethodPost, "/v1/executions/exec-1/aggregate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.AggregatedScore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Version)
	assert.InDelta(t, 70.25, result.OverallScore, 1e-9)
	assert.Equal(t, domain.StatusValidated, result.Status)
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/executions/exec-1/scores",
		bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestAndHistory(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.Handler()

	rec := perform(t, handler, http.MethodGet, "/v1/executions/exec-1/score", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = perform(t, handler, http.MethodGet, "/v1/executions/exec-1/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	scores := []domain.JudgeScore{
		apiScore("judge-1", 70),
		apiScore("judge-2", 72),
		apiScore("judge-3", 68),
	}
	perform(t, handler, http.MethodPost, "/v1/executions/exec-1/scores", scores)
	rec = perform(t, handler, http.MethodPost, "/v1/executions/exec-1/aggregate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = perform(t, handler, http.MethodGet, "/v1/executions/exec-1/score", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest domain.AggregatedScore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, 1, latest.Version)

	rec = perform(t, handler, http.MethodGet, "/v1/executions/exec-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.AggregatedScore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 1)
}

func TestAggregateInsufficientJudgesMapsTo422(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.Handler()

	perform(t, handler, http.MethodPost, "/v1/executions/exec-1/scores", apiScore("judge-1", 70))
	rec := perform(t, handler, http.MethodPost, "/v1/executions/exec-1/aggregate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateWeights(t *testing.T) {
	srv, _ := testServer(t)
	handler := srv.Handler()

	scores := []domain.JudgeScore{
		apiScore("judge-1", 70),
		apiScore("judge-2", 72),
		apiScore("judge-3", 68),
	}
	perform(t, handler, http.MethodPost, "/v1/executions/exec-1/scores", scores)
	rec := perform(t, handler, http.MethodPost, "/v1/executions/exec-1/aggregate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	update := application.WeightUpdate{
		CriterionWeights: map[string]float64{"correctness": 0.8, "style": 0.2},
	}
	rec = perform(t, handler, http.MethodPut, "/v1/executions/exec-1/weights", update)
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.AggregatedScore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Version)

	// Partial criterion coverage is an invalid config.
	bad := application.WeightUpdate{CriterionWeights: map[string]float64{"correctness": 0.8}}
	rec = perform(t, handler, http.MethodPut, "/v1/executions/exec-1/weights", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	srv, _ := testServer(t, WithRateLimit(1, 2))
	handler := srv.Handler()

	assert.Equal(t, http.StatusOK, perform(t, handler, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, perform(t, handler, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, perform(t, handler, http.MethodGet, "/healthz", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := application.DefaultConfig()
	bank := store.NewMemoryScoreBank()
	engine, err := application.NewEngine(cfg, application.Deps{
		Source:  bank,
		Store:   store.NewMemoryStore(),
		Builder: units.BuildPipeline,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "quorum_test_total"})
	require.NoError(t, registry.Register(counter))
	counter.Inc()

	srv := NewServer(engine, bank, registry, zerolog.Nop())
	rec := perform(t, srv.Handler(), http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quorum_test_total 1")
}
