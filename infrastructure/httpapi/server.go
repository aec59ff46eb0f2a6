// Package httpapi exposes the aggregation engine over HTTP. The surface
// is deliberately small: score ingestion, on-demand aggregation, reads of
// the latest result and its version history, and weight updates. Judge
// recruitment and artifact management belong to upstream services.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ahrav/go-quorum/internal/application"
	"github.com/ahrav/go-quorum/internal/domain"
	"github.com/ahrav/go-quorum/internal/ports"
)

// Server wires the engine and the score ingestor into a gin router.
type Server struct {
	engine   *application.Engine
	ingestor ports.ScoreIngestor
	log      zerolog.Logger
	router   *gin.Engine
}

// NewServer builds the HTTP surface. The gatherer serves /metrics;
// passing prometheus.DefaultGatherer is the common case.
func NewServer(
	engine *application.Engine,
	ingestor ports.ScoreIngestor,
	gatherer prometheus.Gatherer,
	log zerolog.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{engine: engine, ingestor: ingestor, log: log}

	cfg := serverConfig{ratePerSecond: 50, burst: 100}
	for _, opt := range opts {
		opt(&cfg)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))
	router.Use(RateLimit(cfg.ratePerSecond, cfg.burst))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1/executions/:id")
	v1.POST("/scores", s.submitScores)
	v1.POST("/aggregate", s.aggregate)
	v1.GET("/score", s.latest)
	v1.GET("/history", s.history)
	v1.PUT("/weights", s.updateWeights)

	s.router = router
	return s
}

type serverConfig struct {
	ratePerSecond float64
	burst         int
}

// ServerOption customizes Server construction.
type ServerOption func(*serverConfig)

// WithRateLimit overrides the per-client request rate and burst.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(cfg *serverConfig) {
		cfg.ratePerSecond = perSecond
		cfg.burst = burst
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error { return s.router.Run(addr) }

// submitScores ingests one or more judge scores for an execution and
// schedules a debounced recomputation. Malformed records are accepted
// here and skipped with a reason during collection, so judges get a
// uniform 202 regardless of payload quality beyond JSON validity.
func (s *Server) submitScores(c *gin.Context) {
	executionID := c.Param("id")

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var scores []domain.JudgeScore
	if err := json.Unmarshal(body, &scores); err != nil {
		var single domain.JudgeScore
		if err := json.Unmarshal(body, &single); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a judge score or an array of judge scores"})
			return
		}
		scores = []domain.JudgeScore{single}
	}

	for _, score := range scores {
		if err := s.ingestor.Append(c.Request.Context(), executionID, score); err != nil {
			s.renderError(c, err)
			return
		}
	}
	s.engine.Trigger(executionID)

	c.JSON(http.StatusAccepted, gin.H{"accepted": len(scores)})
}

func (s *Server) aggregate(c *gin.Context) {
	result, err := s.engine.Aggregate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) latest(c *gin.Context) {
	result, err := s.engine.Latest(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) history(c *gin.Context) {
	results, err := s.engine.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) updateWeights(c *gin.Context) {
	var update application.WeightUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed weight update"})
		return
	}

	result, err := s.engine.UpdateWeights(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// renderError maps domain errors onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	var insufficient *domain.InsufficientJudgesError
	var breach *domain.OutlierExclusionViolatesMinimumError

	switch {
	case errors.Is(err, domain.ErrExecutionNotFound),
		errors.Is(err, domain.ErrVersionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &insufficient),
		errors.As(err, &breach),
		errors.Is(err, domain.ErrNoScores):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
