package channel

import (
	"encoding/json"
	"time"

	"notification-dispatcher/internal/models"
)

// pushPayload is what live clients receive for a new notification.
type pushPayload struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	EventType  string    `json:"eventType"`
	Priority   string    `json:"priority"`
	EntityType string    `json:"entityType,omitempty"`
	EntityID   string    `json:"entityId,omitempty"`
	ActionURL  string    `json:"actionUrl,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type countPayload struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

const (
	payloadNotification = "notification"
	payloadUnsentCount  = "unsent-count"
)

func encodeRecord(r *models.DeliveryRecord) ([]byte, error) {
	return json.Marshal(pushPayload{
		Type:       payloadNotification,
		ID:         r.ID,
		Title:      r.Title,
		Message:    r.Message,
		EventType:  string(r.EventType),
		Priority:   string(r.Priority),
		EntityType: r.SourceEntityType,
		EntityID:   r.SourceEntityID,
		ActionURL:  r.ActionURL,
		Timestamp:  r.CreatedAt,
	})
}

func encodeCount(count int) ([]byte, error) {
	return json.Marshal(countPayload{Type: payloadUnsentCount, Count: count})
}
