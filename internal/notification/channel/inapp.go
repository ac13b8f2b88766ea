package channel

import (
	"context"

	"notification-dispatcher/internal/models"
)

// InAppTransport delivers by persistence alone: the ledger row is what the
// in-app inbox lists.
type InAppTransport struct{}

func (InAppTransport) Send(context.Context, *models.DeliveryRecord) error {
	return nil
}
