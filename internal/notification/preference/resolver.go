package preference

import (
	"context"

	"notification-dispatcher/internal/models"
)

// Resolver decides which channels a notification goes out on.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveChannels returns the enabled channels for (userID, eventType) in
// canonical order. If the user has rows for the event type only enabled rows
// count, which may leave nothing. Without rows the default policy applies.
// The result is never nil.
func (r *Resolver) ResolveChannels(ctx context.Context, userID string, eventType models.EventType) ([]models.Channel, error) {
	rows, err := r.store.ListForEvent(ctx, userID, eventType)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return DefaultChannels(eventType), nil
	}

	enabled := make(map[models.Channel]bool, len(rows))
	for _, p := range rows {
		if p.Enabled {
			enabled[p.Channel] = true
		}
	}
	out := make([]models.Channel, 0, len(enabled))
	for _, ch := range models.AllChannels {
		if enabled[ch] {
			out = append(out, ch)
		}
	}
	return out, nil
}
