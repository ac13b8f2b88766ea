// Package notification is the read and preference-management surface of the
// dispatcher, used by the HTTP API and the CLI.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification/ledger"
	"notification-dispatcher/internal/notification/preference"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrInvalidArgument = errors.New("invalid argument")

// Records is the read side of the ledger.
type Records interface {
	ListByUser(ctx context.Context, userID string, cursor *ledger.Cursor, limit int) ([]*models.DeliveryRecord, error)
	CountUnsent(ctx context.Context, userID string) (int, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.DeliveryRecord, error)
	ListFailed(ctx context.Context, limit int) ([]*models.DeliveryRecord, error)
	PurgeSent(ctx context.Context, olderThan time.Time) (int64, error)
}

// Page is one slice of a user's notifications, newest first. NextCursor is
// empty on the last page.
type Page struct {
	Items      []*models.DeliveryRecord `json:"items"`
	NextCursor string                   `json:"nextCursor,omitempty"`
}

type Service struct {
	records Records
	prefs   *preference.Service
	logger  logger.Logger
	now     func() time.Time
}

func NewService(records Records, prefs *preference.Service, log logger.Logger) *Service {
	return &Service{
		records: records,
		prefs:   prefs,
		logger:  log.Component("notification-service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListNotifications returns up to limit records of userID after cursor.
func (s *Service) ListNotifications(ctx context.Context, userID, cursor string, limit int) (Page, error) {
	if strings.TrimSpace(userID) == "" {
		return Page{}, fmt.Errorf("%w: userId is required", ErrInvalidArgument)
	}
	after, err := ledger.DecodeCursor(cursor)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	limit = clampLimit(limit)

	// one extra row tells whether another page exists
	items, err := s.records.ListByUser(ctx, userID, after, limit+1)
	if err != nil {
		return Page{}, err
	}

	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = ledger.CursorAfter(page.Items[limit-1]).Encode()
	}
	if page.Items == nil {
		page.Items = []*models.DeliveryRecord{}
	}
	return page, nil
}

func (s *Service) CountUnsent(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: userId is required", ErrInvalidArgument)
	}
	return s.records.CountUnsent(ctx, userID)
}

func (s *Service) GetOrCreatePreferences(ctx context.Context, userID string) ([]models.Preference, error) {
	return s.prefs.GetOrCreate(ctx, userID)
}

func (s *Service) SetPreference(ctx context.Context, userID string, eventType models.EventType, channel models.Channel, enabled bool) (models.Preference, error) {
	p, err := s.prefs.Set(ctx, userID, eventType, channel, enabled)
	if err != nil {
		return models.Preference{}, err
	}
	s.logger.Info("preference updated", map[string]interface{}{
		"userId":    userID,
		"eventType": string(eventType),
		"channel":   string(channel),
		"enabled":   enabled,
	})
	return p, nil
}

func (s *Service) TogglePreference(ctx context.Context, userID string, eventType models.EventType, channel models.Channel) (models.Preference, error) {
	return s.prefs.Toggle(ctx, userID, eventType, channel)
}

func (s *Service) DeletePreference(ctx context.Context, userID string, eventType models.EventType, channel models.Channel) error {
	return s.prefs.Delete(ctx, userID, eventType, channel)
}

// ListFailed lists retry-exhausted records for operators, newest first.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]*models.DeliveryRecord, error) {
	return s.records.ListFailed(ctx, clampLimit(limit))
}

func (s *Service) ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.DeliveryRecord, error) {
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("%w: entityType and entityId are required", ErrInvalidArgument)
	}
	return s.records.ListByEntity(ctx, entityType, entityID)
}

// PurgeSent deletes sent records older than olderThan and returns how many
// were removed. Unsent records are never purged.
func (s *Service) PurgeSent(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrInvalidArgument)
	}
	cutoff := s.now().Add(-olderThan)
	n, err := s.records.PurgeSent(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("purged sent records", map[string]interface{}{
		"cutoff":  cutoff.Format(time.RFC3339),
		"deleted": n,
	})
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
