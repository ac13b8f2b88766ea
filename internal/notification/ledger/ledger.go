// Package ledger persists one DeliveryRecord per (recipient, channel, event
// occurrence) and is the single source of truth for delivery state.
package ledger

import (
	"context"
	"errors"
	"time"

	"notification-dispatcher/internal/models"
)

var ErrRecordNotFound = errors.New("delivery record not found")

// Ledger is the storage contract used by the fan-out engine, the dispatcher,
// the sweeper and the read API. Writes touch a single record id; claims are
// atomic so concurrent sweepers never attempt the same record twice.
type Ledger interface {
	// Create inserts r with Sent=false, assigning ID and CreatedAt. When
	// claimFor is positive the record starts claimed so sweeps leave it
	// alone while the creator dispatches it.
	Create(ctx context.Context, r *models.DeliveryRecord, claimFor time.Duration) error
	Get(ctx context.Context, id string) (*models.DeliveryRecord, error)

	// MarkSent and MarkFailed never touch retry_count and release any claim.
	// Both are no-ops on records that are already sent.
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error

	// ClaimForRetry claims failed records below maxRetries, incrementing
	// retry_count for each.
	ClaimForRetry(ctx context.Context, now time.Time, maxRetries, limit int, lease time.Duration) ([]*models.DeliveryRecord, error)
	// ClaimDue claims never-attempted records whose schedule has passed,
	// highest priority then oldest first.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.DeliveryRecord, error)
	// MarkExhausted stamps exhausted_at on failed records that reached
	// maxRetries and returns the ones stamped by this call.
	MarkExhausted(ctx context.Context, now time.Time, maxRetries int) ([]*models.DeliveryRecord, error)

	ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]*models.DeliveryRecord, error)
	CountUnsent(ctx context.Context, userID string) (int, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.DeliveryRecord, error)
	ListFailed(ctx context.Context, limit int) ([]*models.DeliveryRecord, error)
	PurgeSent(ctx context.Context, olderThan time.Time) (int64, error)
}
