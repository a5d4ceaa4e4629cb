package http

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/subsys/internal/domain"
)

const defaultListLimit = 20

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// RefreshResponse represents the outcome of a refresh broadcast
type RefreshResponse struct {
	Trigger      string            `json:"trigger"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	SkippedCount int               `json:"skipped_count"`
	Errors       map[string]string `json:"errors,omitempty"`
	DurationMS   int64             `json:"duration_ms"`
}

func respondError(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// handleLiveness reports that the process is serving requests
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"phase":     s.orchestrator.CurrentPhase(),
		"timestamp": time.Now().UTC(),
	})
}

// handleReadiness reports whether startup has completed
func (s *Server) handleReadiness(c *gin.Context) {
	if err := s.orchestrator.StartErr(); err != nil {
		respondError(c, http.StatusServiceUnavailable, "STARTUP_FAILED", err.Error(), nil)
		return
	}
	if !s.orchestrator.Completed() {
		respondError(c, http.StatusServiceUnavailable, "NOT_READY", "Startup in progress",
			gin.H{"phase": s.orchestrator.CurrentPhase()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"phase":  s.orchestrator.CurrentPhase(),
	})
}

// handleDeepHealth runs every health check now
func (s *Server) handleDeepHealth(c *gin.Context) {
	snapshot := s.orchestrator.CheckHealth(c.Request.Context())

	status := http.StatusOK
	if snapshot.Overall == domain.OverallCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, snapshot)
}

// handleListComponents lists every registered component
func (s *Server) handleListComponents(c *gin.Context) {
	components := s.orchestrator.Components()
	c.JSON(http.StatusOK, gin.H{
		"data":  components,
		"total": len(components),
		"phase": s.orchestrator.CurrentPhase(),
	})
}

// handleGetComponent describes one component with its history
func (s *Server) handleGetComponent(c *gin.Context) {
	name := c.Param("name")

	info, ok := s.orchestrator.Component(name)
	if !ok {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Component not found", gin.H{"name": name})
		return
	}

	c.JSON(http.StatusOK, info)
}

// handleLastHealth returns the snapshot of the last health tick
func (s *Server) handleLastHealth(c *gin.Context) {
	snapshot := s.orchestrator.LastHealth()
	if snapshot.Timestamp.IsZero() {
		respondError(c, http.StatusNotFound, "NO_SNAPSHOT", "No health snapshot has been taken yet", nil)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// handleHealthHistory lists persisted health snapshots
func (s *Server) handleHealthHistory(c *gin.Context) {
	if s.history == nil {
		respondError(c, http.StatusServiceUnavailable, "HISTORY_NOT_AVAILABLE",
			"Health snapshot store is not configured", nil)
		return
	}

	limit, ok := s.parseLimit(c)
	if !ok {
		return
	}

	snapshots, err := s.history.History(c.Request.Context(), limit)
	if err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
		s.logger.Error("failed to read health history", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "STORE_ERROR",
			"Failed to retrieve health history", err.Error())
		return
	}
	if snapshots == nil {
		snapshots = []domain.Snapshot{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  snapshots,
		"total": len(snapshots),
		"limit": limit,
	})
}

// handleMetrics returns the in-process metrics snapshot
func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": s.orchestrator.Metrics(),
		"events":  s.orchestrator.EventStats(),
	})
}

// handleRecentEvents lists recently published events. source=redis reads
// the persisted stream of one event type instead of the in-memory log.
func (s *Server) handleRecentEvents(c *gin.Context) {
	switch source := c.Query("source"); source {
	case "", "memory":
	case "redis":
		s.handleStreamEvents(c)
		return
	default:
		respondError(c, http.StatusBadRequest, "UNKNOWN_SOURCE", "source must be memory or redis",
			gin.H{"source": source})
		return
	}

	if s.events == nil {
		respondError(c, http.StatusServiceUnavailable, "EVENTS_NOT_AVAILABLE",
			"Event log is not configured", nil)
		return
	}

	limit, ok := s.parseLimit(c)
	if !ok {
		return
	}

	recent := s.events.Recent(domain.EventType(c.Query("type")), limit)
	c.JSON(http.StatusOK, gin.H{
		"data":  recent,
		"total": len(recent),
		"limit": limit,
	})
}

func (s *Server) handleStreamEvents(c *gin.Context) {
	if s.streams == nil {
		respondError(c, http.StatusServiceUnavailable, "STREAMS_NOT_AVAILABLE",
			"Event streams are not configured", nil)
		return
	}

	eventType := domain.EventType(c.Query("type"))
	if eventType == "" {
		respondError(c, http.StatusBadRequest, "TYPE_REQUIRED",
			"type is required when reading event streams", nil)
		return
	}

	limit, ok := s.parseLimit(c)
	if !ok {
		return
	}

	recent, err := s.streams.Recent(c.Request.Context(), eventType, int64(limit))
	if err != nil {
		s.logger.Error("failed to read event stream", zap.String("type", string(eventType)), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "STREAM_READ_FAILED", err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   recent,
		"total":  len(recent),
		"limit":  limit,
		"source": "redis",
	})
}

// handlePublishTrigger publishes a theme, palette or settings trigger
func (s *Server) handlePublishTrigger(c *gin.Context) {
	eventType := domain.EventType(c.Param("type"))
	if !slices.Contains(domain.RefreshTriggers, eventType) {
		respondError(c, http.StatusBadRequest, "UNKNOWN_TRIGGER", "Unknown trigger event type",
			gin.H{"type": eventType, "allowed": domain.RefreshTriggers})
		return
	}

	var payload domain.TriggerPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			s.logger.Error("invalid request", zap.Error(err))
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
	}
	if payload.Source == "" {
		payload.Source = "http"
	}

	event := s.orchestrator.Publish(c.Request.Context(), eventType, payload)
	c.JSON(http.StatusAccepted, event)
}

// handleRefresh broadcasts a refresh trigger to every registered key
func (s *Server) handleRefresh(c *gin.Context) {
	trigger := c.Param("trigger")

	res, err := s.orchestrator.Broadcast(c.Request.Context(), trigger)
	if err != nil {
		status := http.StatusInternalServerError
		code := "REFRESH_FAILED"
		if errors.Is(err, domain.ErrNotAccepting) {
			status = http.StatusConflict
			code = "NOT_ACCEPTING"
		}
		respondError(c, status, code, err.Error(), nil)
		return
	}

	resp := RefreshResponse{
		Trigger:      res.Trigger,
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
		SkippedCount: res.SkippedCount,
		DurationMS:   res.Duration.Milliseconds(),
	}
	if len(res.Errors) > 0 {
		resp.Errors = res.ErrorStrings()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer",
			gin.H{"limit": raw})
		return 0, false
	}
	return limit, true
}
