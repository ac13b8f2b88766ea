package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification"
	"notification-dispatcher/internal/notification/preference"

	"github.com/gin-gonic/gin"
)

const maxEventBody = 64 << 10

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type setPreferenceRequest struct {
	EventType models.EventType `json:"eventType" binding:"required"`
	Channel   models.Channel   `json:"channel" binding:"required"`
	Enabled   *bool            `json:"enabled" binding:"required"`
}

type togglePreferenceRequest struct {
	EventType models.EventType `json:"eventType" binding:"required"`
	Channel   models.Channel   `json:"channel" binding:"required"`
}

func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit")
		if !ok {
			return
		}
		page, err := s.service.ListNotifications(c.Request.Context(), c.Param("userId"), c.Query("cursor"), limit)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func (s *Server) handleCountUnsent() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.service.CountUnsent(c.Request.Context(), c.Param("userId"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

func (s *Server) handleGetPreferences() gin.HandlerFunc {
	return func(c *gin.Context) {
		prefs, err := s.service.GetOrCreatePreferences(c.Request.Context(), c.Param("userId"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"preferences": prefs})
	}
}

func (s *Server) handleSetPreference() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req setPreferenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
			return
		}
		p, err := s.service.SetPreference(c.Request.Context(), c.Param("userId"), req.EventType, req.Channel, *req.Enabled)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func (s *Server) handleTogglePreference() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req togglePreferenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
			return
		}
		p, err := s.service.TogglePreference(c.Request.Context(), c.Param("userId"), req.EventType, req.Channel)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func (s *Server) handleDeletePreference() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.service.DeletePreference(c.Request.Context(), c.Param("userId"),
			models.EventType(c.Param("eventType")), models.Channel(c.Param("channel")))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleListFailed() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := queryInt(c, "limit")
		if !ok {
			return
		}
		records, err := s.service.ListFailed(c.Request.Context(), limit)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": nonNil(records)})
	}
}

func (s *Server) handleListByEntity() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.service.ListByEntity(c.Request.Context(), c.Param("entityType"), c.Param("entityId"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": nonNil(records)})
	}
}

func (s *Server) handleRaiseEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
			return
		}
		out, err := s.events.Execute(c.Request.Context(), c.Param("kind"), body)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, out)
	}
}

// handleSubmitEvent takes a raw event; a future scheduledAt defers delivery
// to the sweeper's due pass.
func (s *Server) handleSubmitEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var event models.Event
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
			return
		}
		if err := s.raw.Raise(c.Request.Context(), event); err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"accepted":    true,
			"eventType":   event.Type,
			"scheduledAt": event.ScheduledAt,
		})
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": s.version,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{"checks": results})
	}
}

// writeError maps domain errors to HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, notification.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	case errors.Is(err, preference.ErrPreferenceNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: err.Error()})
		return
	case apperrors.Is(err, apperrors.ErrCodePreferenceConflict), apperrors.Is(err, apperrors.ErrCodeInvalidEvent):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrCodeQueueFull):
		status = http.StatusServiceUnavailable
	}

	var stdErr *apperrors.StandardError
	if errors.As(err, &stdErr) {
		if status == http.StatusInternalServerError {
			s.logger.Error("request failed", map[string]interface{}{"path": c.FullPath(), "error": err})
		}
		c.JSON(status, errorResponse{Code: string(stdErr.Code), Message: stdErr.Message, Details: stdErr.Details})
		return
	}

	s.logger.Error("request failed", map[string]interface{}{"path": c.FullPath(), "error": err})
	c.JSON(status, errorResponse{Code: "INTERNAL_ERROR", Message: "internal server error"})
}

// queryInt reads an optional integer query parameter. It writes a 400 and
// returns false when the value is malformed.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: name + " must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func nonNil(records []*models.DeliveryRecord) []*models.DeliveryRecord {
	if records == nil {
		return []*models.DeliveryRecord{}
	}
	return records
}
