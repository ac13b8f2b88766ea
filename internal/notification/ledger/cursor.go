package ledger

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"notification-dispatcher/internal/models"
)

// Cursor is a keyset position in a user's notification list, which is
// ordered by (created_at, id) descending.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter returns the cursor that continues after r.
func CursorAfter(r *models.DeliveryRecord) *Cursor {
	return &Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

func (c *Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor. The empty string means "from the top".
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("invalid cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}
