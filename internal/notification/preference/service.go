package preference

import (
	"context"
	"fmt"
	"strings"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/models"
)

// Service is the write side of preferences.
type Service struct {
	store  Store
	logger logger.Logger
}

func NewService(store Store, log logger.Logger) *Service {
	return &Service{store: store, logger: log.Component("preferences")}
}

// GetOrCreate returns every preference of userID, seeding the default matrix
// when the user has none yet.
func (s *Service) GetOrCreate(ctx context.Context, userID string) ([]models.Preference, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewPreferenceConflictError("userId is required")
	}
	prefs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(prefs) > 0 {
		return prefs, nil
	}

	if err := s.store.InsertMany(ctx, userID, DefaultMatrix(userID)); err != nil {
		return nil, err
	}
	s.logger.Info("seeded default preferences", map[string]interface{}{"userId": userID})
	return s.store.ListForUser(ctx, userID)
}

// Set upserts a single toggle. Rows for the other channels of the same event
// type are seeded from the default policy first, so turning one channel off
// leaves the remaining defaults on.
func (s *Service) Set(ctx context.Context, userID string, eventType models.EventType, channel models.Channel, enabled bool) (models.Preference, error) {
	if err := validateKey(userID, eventType, channel); err != nil {
		return models.Preference{}, err
	}
	if _, err := s.ensureSeeded(ctx, userID, eventType); err != nil {
		return models.Preference{}, err
	}
	return s.store.Upsert(ctx, models.Preference{
		UserID:    userID,
		EventType: eventType,
		Channel:   channel,
		Enabled:   enabled,
	})
}

// Toggle flips the current value of a toggle and returns the new state.
func (s *Service) Toggle(ctx context.Context, userID string, eventType models.EventType, channel models.Channel) (models.Preference, error) {
	if err := validateKey(userID, eventType, channel); err != nil {
		return models.Preference{}, err
	}
	rows, err := s.ensureSeeded(ctx, userID, eventType)
	if err != nil {
		return models.Preference{}, err
	}
	current := DefaultEnabled(eventType, channel)
	for _, p := range rows {
		if p.Channel == channel {
			current = p.Enabled
			break
		}
	}
	return s.store.Upsert(ctx, models.Preference{
		UserID:    userID,
		EventType: eventType,
		Channel:   channel,
		Enabled:   !current,
	})
}

// Delete removes a toggle. Once every row of an event type is gone the
// default policy applies again.
func (s *Service) Delete(ctx context.Context, userID string, eventType models.EventType, channel models.Channel) error {
	if err := validateKey(userID, eventType, channel); err != nil {
		return err
	}
	return s.store.Delete(ctx, userID, eventType, channel)
}

// ensureSeeded writes the default rows of eventType when the user has none,
// and returns the rows as stored.
func (s *Service) ensureSeeded(ctx context.Context, userID string, eventType models.EventType) ([]models.Preference, error) {
	rows, err := s.store.ListForEvent(ctx, userID, eventType)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows, nil
	}

	seed := make([]models.Preference, 0, len(models.AllChannels))
	for _, ch := range models.AllChannels {
		seed = append(seed, models.Preference{
			UserID:    userID,
			EventType: eventType,
			Channel:   ch,
			Enabled:   DefaultEnabled(eventType, ch),
		})
	}
	if err := s.store.InsertMany(ctx, userID, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

func validateKey(userID string, eventType models.EventType, channel models.Channel) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.NewPreferenceConflictError("userId is required")
	}
	if !eventType.Valid() {
		return apperrors.NewPreferenceConflictError(fmt.Sprintf("unknown event type %q", eventType))
	}
	if !channel.Valid() {
		return apperrors.NewPreferenceConflictError(fmt.Sprintf("unknown channel %q", channel))
	}
	return nil
}
