// Package api is the thin HTTP trigger surface over the engine: it exposes
// the externally-triggered operations (push a batch, sync, re-arm the EOD
// timer, read/patch settings) and nothing else. No rendering, no auth: this
// drives a paper-trading account.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"autotrader/internal/app"
	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// Server serves the engine's HTTP API.
type Server struct {
	service *app.AutoTradeService
	logger  ports.Logger
	router  *gin.Engine
}

// NewServer builds the router.
func NewServer(service *app.AutoTradeService, logger ports.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{service: service, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())

	api := router.Group("/api/autotrade")
	{
		api.POST("/process", s.handleProcess)
		api.POST("/suggested-finds", s.handleSuggestedFinds)
		api.POST("/sync", s.handleSync)
		api.POST("/eod/arm", s.handleArmEOD)
		api.GET("/settings", s.handleGetSettings)
		api.PATCH("/settings", s.handlePatchSettings)
		api.POST("/settings/refresh", s.handleRefreshSettings)
		api.GET("/trades", s.handleTrades)
		api.GET("/events", s.handleEvents)
	}
	s.router = router
	return s
}

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router, used by httptest in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)
		c.Next()
		s.logger.Debug(c.Request.Context(), "HTTP request handled", map[string]interface{}{
			"requestID": requestID,
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
		})
	}
}

func (s *Server) handleProcess(c *gin.Context) {
	var req struct {
		Signals []domain.Signal `json:"signals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decisions, err := s.service.ProcessSignals(c.Request.Context(), req.Signals)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (s *Server) handleSuggestedFinds(c *gin.Context) {
	var req struct {
		Finds []domain.SuggestedFind `json:"finds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decisions, err := s.service.ProcessSuggestedFinds(c.Request.Context(), req.Finds)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (s *Server) handleSync(c *gin.Context) {
	if err := s.service.Sync(c.Request.Context()); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}

func (s *Server) handleArmEOD(c *gin.Context) {
	armed := s.service.ArmEOD(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"armed": armed})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Settings())
}

func (s *Server) handlePatchSettings(c *gin.Context) {
	var patch domain.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	merged, err := s.service.UpdateSettings(c.Request.Context(), patch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, merged)
}

func (s *Server) handleRefreshSettings(c *gin.Context) {
	refreshed, err := s.service.RefreshSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, refreshed)
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := queryLimit(c, 50)
	trades, err := s.service.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := queryLimit(c, 100)
	events, err := s.service.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

// statusForError maps engine outcomes onto HTTP statuses: configuration
// problems are the caller's to fix, broker unavailability is a gateway
// condition, everything else is internal.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ports.ErrAutoTradeDisabled),
		errors.Is(err, ports.ErrNoAccount),
		errors.Is(err, ports.ErrNoCapacity):
		return http.StatusConflict
	case errors.Is(err, ports.ErrBrokerUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ports.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
