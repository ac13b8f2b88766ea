package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification"
	"notification-dispatcher/internal/notification/preference"
	raiseevent "notification-dispatcher/internal/workers/notification/raise-event"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubService struct {
	listFn   func(ctx context.Context, userID, cursor string, limit int) (notification.Page, error)
	countFn  func(ctx context.Context, userID string) (int, error)
	prefsFn  func(ctx context.Context, userID string) ([]models.Preference, error)
	setFn    func(ctx context.Context, userID string, et models.EventType, ch models.Channel, enabled bool) (models.Preference, error)
	toggleFn func(ctx context.Context, userID string, et models.EventType, ch models.Channel) (models.Preference, error)
	deleteFn func(ctx context.Context, userID string, et models.EventType, ch models.Channel) error
	failedFn func(ctx context.Context, limit int) ([]*models.DeliveryRecord, error)
	entityFn func(ctx context.Context, entityType, entityID string) ([]*models.DeliveryRecord, error)
}

func (s *stubService) ListNotifications(ctx context.Context, userID, cursor string, limit int) (notification.Page, error) {
	return s.listFn(ctx, userID, cursor, limit)
}

func (s *stubService) CountUnsent(ctx context.Context, userID string) (int, error) {
	return s.countFn(ctx, userID)
}

func (s *stubService) GetOrCreatePreferences(ctx context.Context, userID string) ([]models.Preference, error) {
	return s.prefsFn(ctx, userID)
}

func (s *stubService) SetPreference(ctx context.Context, userID string, et models.EventType, ch models.Channel, enabled bool) (models.Preference, error) {
	return s.setFn(ctx, userID, et, ch, enabled)
}

func (s *stubService) TogglePreference(ctx context.Context, userID string, et models.EventType, ch models.Channel) (models.Preference, error) {
	return s.toggleFn(ctx, userID, et, ch)
}

func (s *stubService) DeletePreference(ctx context.Context, userID string, et models.EventType, ch models.Channel) error {
	return s.deleteFn(ctx, userID, et, ch)
}

func (s *stubService) ListFailed(ctx context.Context, limit int) ([]*models.DeliveryRecord, error) {
	return s.failedFn(ctx, limit)
}

func (s *stubService) ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.DeliveryRecord, error) {
	return s.entityFn(ctx, entityType, entityID)
}

type raiserFunc func(ctx context.Context, kind string, payload []byte) (*raiseevent.Output, error)

func (f raiserFunc) Execute(ctx context.Context, kind string, payload []byte) (*raiseevent.Output, error) {
	return f(ctx, kind, payload)
}

type submitterFunc func(ctx context.Context, event models.Event) error

func (f submitterFunc) Raise(ctx context.Context, event models.Event) error {
	return f(ctx, event)
}

func newTestServer(t *testing.T, svc *stubService, events EventRaiser, checks map[string]HealthCheck) *Server {
	t.Helper()
	return NewServer(svc, events, nil, checks, "test", logger.NewTestLogger(t))
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestListNotifications(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		listFn: func(_ context.Context, userID, cursor string, limit int) (notification.Page, error) {
			assert.Equal(t, "u-1", userID)
			assert.Equal(t, "abc", cursor)
			assert.Equal(t, 5, limit)
			return notification.Page{
				Items: []*models.DeliveryRecord{{
					ID: "r-1", UserID: "u-1", Channel: models.ChannelInApp, EventType: models.EventAssignmentPublished,
					Title: "New assignment", CreatedAt: now,
				}},
				NextCursor: "next",
			}, nil
		},
	}
	s := newTestServer(t, svc, nil, nil)

	w := do(t, s, http.MethodGet, "/api/v1/users/u-1/notifications?cursor=abc&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Items      []map[string]any `json:"items"`
		NextCursor string           `json:"nextCursor"`
	}
	decode(t, w, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "next", page.NextCursor)
}

func TestListNotifications_BadLimit(t *testing.T) {
	s := newTestServer(t, &stubService{}, nil, nil)

	w := do(t, s, http.MethodGet, "/api/v1/users/u-1/notifications?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListNotifications_InvalidCursor(t *testing.T) {
	svc := &stubService{
		listFn: func(context.Context, string, string, int) (notification.Page, error) {
			return notification.Page{}, fmt.Errorf("%w: malformed cursor", notification.ErrInvalidArgument)
		},
	}
	s := newTestServer(t, svc, nil, nil)

	w := do(t, s, http.MethodGet, "/api/v1/users/u-1/notifications?cursor=not-a-cursor", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCountUnsent(t *testing.T) {
	svc := &stubService{
		countFn: func(_ context.Context, userID string) (int, error) {
			assert.Equal(t, "u-7", userID)
			return 3, nil
		},
	}
	s := newTestServer(t, svc, nil, nil)

	w := do(t, s, http.MethodGet, "/api/v1/users/u-7/notifications/unsent-count", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":3}`, w.Body.String())
}

func TestSetPreference(t *testing.T) {
	var gotEnabled *bool
	svc := &stubService{
		setFn: func(_ context.Context, userID string, et models.EventType, ch models.Channel, enabled bool) (models.Preference, error) {
			gotEnabled = &enabled
			return models.Preference{UserID: userID, EventType: et, Channel: ch, Enabled: enabled}, nil
		},
	}
	s := newTestServer(t, svc, nil, nil)

	w := do(t, s, http.MethodPut, "/api/v1/users/u-1/preferences",
		`{"eventType":"NEW_MESSAGE","channel":"EMAIL","enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, gotEnabled)
	assert.False(t, *gotEnabled)
}

func TestSetPreference_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{
			name:   "missing enabled",
			body:   `{"eventType":"NEW_MESSAGE","channel":"EMAIL"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "malformed json",
			body:   `{"eventType":`,
			status: http.StatusBadRequest,
		},
		{
			name:   "conflict",
			body:   `{"eventType":"NEW_MESSAGE","channel":"FAX","enabled":true}`,
			err:    apperrors.NewPreferenceConflictError("unknown channel FAX"),
			status: http.StatusBadRequest,
		},
		{
			name:   "storage failure",
			body:   `{"eventType":"NEW_MESSAGE","channel":"EMAIL","enabled":true}`,
			err:    apperrors.NewQueryExecutionFailedError("upsert_preference", errors.New("conn reset")),
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				setFn: func(context.Context, string, models.EventType, models.Channel, bool) (models.Preference, error) {
					return models.Preference{}, tt.err
				},
			}
			s := newTestServer(t, svc, nil, nil)

			w := do(t, s, http.MethodPut, "/api/v1/users/u-1/preferences", tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestTogglePreference(t *testing.T) {
	svc := &stubService{
		toggleFn: func(_ context.Context, userID string, et models.EventType, ch models.Channel) (models.Preference, error) {
			return models.Preference{UserID: userID, EventType: et, Channel: ch, Enabled: true}, nil
		},
	}
	s := newTestServer(t, svc, nil, nil)

	w := do(t, s, http.MethodPost, "/api/v1/users/u-1/preferences/toggle", `{"eventType":"GRADE_POSTED","channel":"PUSH"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var p models.Preference
	decode(t, w, &p)
	assert.Equal(t, models.ChannelPush, p.Channel)
	assert.True(t, p.Enabled)
}

func TestDeletePreference(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"deleted", nil, http.StatusNoContent},
		{"missing", preference.ErrPreferenceNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				deleteFn: func(_ context.Context, userID string, et models.EventType, ch models.Channel) error {
					assert.Equal(t, models.EventType("GRADE_POSTED"), et)
					assert.Equal(t, models.ChannelEmail, ch)
					return tt.err
				},
			}
			s := newTestServer(t, svc, nil, nil)

			w := do(t, s, http.MethodDelete, "/api/v1/users/u-1/preferences/GRADE_POSTED/EMAIL", "")
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	svc := &stubService{
		failedFn: func(_ context.Context, limit int) ([]*models.DeliveryRecord, error) {
			assert.Equal(t, 0, limit)
			return nil, nil
		},
		entityFn: func(_ context.Context, entityType, entityID string) ([]*models.DeliveryRecord, error) {
			assert.Equal(t, "assignment", entityType)
			assert.Equal(t, "a-1", entityID)
			return []*models.DeliveryRecord{{ID: "r-1"}}, nil
		},
	}
	s := newTestServer(t, svc, nil, nil)

	w := do(t, s, http.MethodGet, "/api/v1/admin/notifications/failed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/v1/admin/notifications/by-entity/assignment/a-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Items []map[string]any `json:"items"`
	}
	decode(t, w, &body)
	assert.Len(t, body.Items, 1)
}

func TestRaiseEvent(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"invalid", apperrors.NewInvalidEventError("title: is required"), http.StatusBadRequest},
		{"queue full", fmt.Errorf("submit: %w", apperrors.NewQueueFullError(10)), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKind, gotBody string
			raiser := raiserFunc(func(_ context.Context, kind string, payload []byte) (*raiseevent.Output, error) {
				gotKind, gotBody = kind, string(payload)
				if tt.err != nil {
					return nil, tt.err
				}
				return &raiseevent.Output{Accepted: true, Kind: kind, EventType: "GRADE_POSTED"}, nil
			})
			s := newTestServer(t, &stubService{}, raiser, nil)

			w := do(t, s, http.MethodPost, "/api/v1/events/grade-posted", `{"score":14}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "grade-posted", gotKind)
			assert.Equal(t, `{"score":14}`, gotBody)

			if tt.err != nil {
				var resp errorResponse
				decode(t, w, &resp)
				assert.Equal(t, string(apperrors.Code(tt.err)), resp.Code)
			}
		})
	}
}

func TestRaiseEvent_NotRoutedWithoutRaiser(t *testing.T) {
	s := newTestServer(t, &stubService{}, nil, nil)

	w := do(t, s, http.MethodPost, "/api/v1/events/grade-posted", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitEvent_PassesScheduledAt(t *testing.T) {
	var got models.Event
	submitter := submitterFunc(func(_ context.Context, event models.Event) error {
		got = event
		return nil
	})
	s := NewServer(&stubService{}, nil, submitter, nil, "test", logger.NewTestLogger(t))

	body := `{"eventType":"DEADLINE_APPROACHING","sourceEntityType":"ASSIGNMENT","sourceEntityId":"a-1",` +
		`"title":"Midterm due","courseId":"c-1","scheduledAt":"2030-01-02T09:00:00Z"}`
	w := do(t, s, http.MethodPost, "/api/v1/admin/events", body)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.EventType("DEADLINE_APPROACHING"), got.Type)
	assert.Equal(t, "c-1", got.CourseID)
	require.NotNil(t, got.ScheduledAt)
	assert.True(t, got.ScheduledAt.Equal(time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)))
	assert.Contains(t, w.Body.String(), `"scheduledAt":"2030-01-02T09:00:00Z"`)
}

func TestSubmitEvent_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed", `{"eventType":`, nil, http.StatusBadRequest},
		{"invalid", `{"eventType":"NOPE"}`, apperrors.NewInvalidEventError(`unknown event type "NOPE"`), http.StatusBadRequest},
		{"queue full", `{"eventType":"NEW_MESSAGE"}`, apperrors.NewQueueFullError(10), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submitter := submitterFunc(func(context.Context, models.Event) error { return tt.err })
			s := NewServer(&stubService{}, nil, submitter, nil, "test", logger.NewTestLogger(t))

			w := do(t, s, http.MethodPost, "/api/v1/admin/events", tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestSubmitEvent_NotRoutedWithoutSubmitter(t *testing.T) {
	s := newTestServer(t, &stubService{}, nil, nil)

	w := do(t, s, http.MethodPost, "/api/v1/admin/events", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	healthy := map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	}
	s := newTestServer(t, &stubService{}, nil, healthy)

	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = do(t, s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	broken := map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	}
	s = newTestServer(t, &stubService{}, nil, broken)

	w = do(t, s, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	decode(t, w, &body)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Contains(t, body.Checks["redis"], "refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubService{}, nil, nil)

	w := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery(t *testing.T) {
	svc := &stubService{
		countFn: func(context.Context, string) (int, error) { panic("boom") },
	}
	s := newTestServer(t, svc, nil, nil)

	w := do(t, s, http.MethodGet, "/api/v1/users/u-1/notifications/unsent-count", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
