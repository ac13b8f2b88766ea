// Package api exposes notification listing, preference management and event
// intake over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification"
	raiseevent "notification-dispatcher/internal/workers/notification/raise-event"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type NotificationService interface {
	ListNotifications(ctx context.Context, userID, cursor string, limit int) (notification.Page, error)
	CountUnsent(ctx context.Context, userID string) (int, error)
	GetOrCreatePreferences(ctx context.Context, userID string) ([]models.Preference, error)
	SetPreference(ctx context.Context, userID string, eventType models.EventType, channel models.Channel, enabled bool) (models.Preference, error)
	TogglePreference(ctx context.Context, userID string, eventType models.EventType, channel models.Channel) (models.Preference, error)
	DeletePreference(ctx context.Context, userID string, eventType models.EventType, channel models.Channel) error
	ListFailed(ctx context.Context, limit int) ([]*models.DeliveryRecord, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.DeliveryRecord, error)
}

// EventRaiser validates and submits an inbound event of a registry kind.
type EventRaiser interface {
	Execute(ctx context.Context, kind string, payload []byte) (*raiseevent.Output, error)
}

// EventSubmitter accepts a fully built event, including a deferred
// scheduledAt.
type EventSubmitter interface {
	Raise(ctx context.Context, event models.Event) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	router  *gin.Engine
	service NotificationService
	events  EventRaiser
	raw     EventSubmitter
	checks  map[string]HealthCheck
	version string
	logger  logger.Logger
}

func NewServer(service NotificationService, events EventRaiser, raw EventSubmitter, checks map[string]HealthCheck, version string, log logger.Logger) *Server {
	router := gin.New()
	log = log.Component("api")
	router.Use(Recovery(log), RequestLogger(log))

	s := &Server{
		router:  router,
		service: service,
		events:  events,
		raw:     raw,
		checks:  checks,
		version: version,
		logger:  log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer returns an *http.Server for addr with conservative timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		users := api.Group("/users/:userId")
		{
			users.GET("/notifications", s.handleListNotifications())
			users.GET("/notifications/unsent-count", s.handleCountUnsent())
			users.GET("/preferences", s.handleGetPreferences())
			users.PUT("/preferences", s.handleSetPreference())
			users.POST("/preferences/toggle", s.handleTogglePreference())
			users.DELETE("/preferences/:eventType/:channel", s.handleDeletePreference())
		}

		admin := api.Group("/admin/notifications")
		{
			admin.GET("/failed", s.handleListFailed())
			admin.GET("/by-entity/:entityType/:entityId", s.handleListByEntity())
		}

		if s.raw != nil {
			api.POST("/admin/events", s.handleSubmitEvent())
		}
		if s.events != nil {
			api.POST("/events/:kind", s.handleRaiseEvent())
		}
	}

	s.router.GET("/health", s.handleHealth())
	s.router.GET("/ready", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
