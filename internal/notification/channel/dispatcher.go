// Package channel delivers a single DeliveryRecord over its channel and
// writes the outcome back to the ledger.
package channel

import (
	"context"
	"fmt"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/common/metrics"
	"notification-dispatcher/internal/models"
)

// Transport sends one record. Returning nil means delivered, or that there
// was nobody to deliver to right now (no live connection).
type Transport interface {
	Send(ctx context.Context, r *models.DeliveryRecord) error
}

// RecordStore is the slice of the ledger the dispatcher writes to.
type RecordStore interface {
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	CountUnsent(ctx context.Context, userID string) (int, error)
}

// CountPublisher pushes a user's refreshed unsent count to their live session.
type CountPublisher interface {
	PublishUnsentCount(ctx context.Context, userID string, count int) error
}

// Outcome of one dispatch attempt.
type Outcome struct {
	Sent bool
	// AlreadySent is set when the record was sent before this call.
	AlreadySent bool
	// Err is the transport failure stored on the record.
	Err error
	// LedgerErr is set when the outcome could not be written back.
	LedgerErr error
}

const ledgerWriteTimeout = 5 * time.Second

type Dispatcher struct {
	transports map[models.Channel]Transport
	records    RecordStore
	counts     CountPublisher
	timeout    time.Duration
	logger     logger.Logger
	now        func() time.Time
}

// NewDispatcher builds a dispatcher. counts may be nil.
func NewDispatcher(transports map[models.Channel]Transport, records RecordStore, counts CountPublisher, timeout time.Duration, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		transports: transports,
		records:    records,
		counts:     counts,
		timeout:    timeout,
		logger:     log.Component("dispatcher"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch attempts delivery of r and records the result on r and in the
// ledger. It never touches RetryCount and never returns a transport error to
// the caller other than through Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, r *models.DeliveryRecord) Outcome {
	if r.Sent {
		return Outcome{Sent: true, AlreadySent: true}
	}

	start := time.Now()
	err := d.attempt(ctx, r)
	metrics.DispatchDuration.WithLabelValues(string(r.Channel)).Observe(time.Since(start).Seconds())

	// the ledger write must land even when the caller is shutting down
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()

	if err != nil {
		metrics.DispatchTotal.WithLabelValues(string(r.Channel), metrics.OutcomeFailed).Inc()
		reason := err.Error()
		r.ErrorMessage = &reason
		r.ClaimedUntil = nil

		out := Outcome{Err: err}
		if lerr := d.records.MarkFailed(writeCtx, r.ID, reason); lerr != nil {
			out.LedgerErr = lerr
			d.logger.Error("failed to record dispatch failure", map[string]interface{}{"recordId": r.ID, "error": lerr})
		}
		d.logger.Warn("dispatch failed", map[string]interface{}{
			"recordId":   r.ID,
			"userId":     r.UserID,
			"channel":    string(r.Channel),
			"retryCount": r.RetryCount,
			"error":      err,
		})
		return out
	}

	metrics.DispatchTotal.WithLabelValues(string(r.Channel), metrics.OutcomeSent).Inc()
	sentAt := d.now()
	r.Sent = true
	r.SentAt = &sentAt
	r.ErrorMessage = nil
	r.ClaimedUntil = nil

	out := Outcome{Sent: true}
	if lerr := d.records.MarkSent(writeCtx, r.ID, sentAt); lerr != nil {
		out.LedgerErr = lerr
		d.logger.Error("failed to record dispatch success", map[string]interface{}{"recordId": r.ID, "error": lerr})
		return out
	}

	if r.Channel != models.ChannelEmail {
		d.publishCount(writeCtx, r.UserID)
	}
	return out
}

func (d *Dispatcher) attempt(ctx context.Context, r *models.DeliveryRecord) error {
	t, ok := d.transports[r.Channel]
	if !ok {
		return apperrors.NewTransportError(string(r.Channel), fmt.Errorf("no transport registered"))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("transport panic: %v", p)
			}
		}()
		done <- t.Send(attemptCtx, r)
	}()

	select {
	case err := <-done:
		if err != nil {
			return apperrors.NewTransportError(string(r.Channel), err)
		}
		return nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return apperrors.NewTransportError(string(r.Channel), ctx.Err())
		}
		return apperrors.NewTransportTimeoutError(string(r.Channel), d.timeout)
	}
}

func (d *Dispatcher) publishCount(ctx context.Context, userID string) {
	if d.counts == nil {
		return
	}
	n, err := d.records.CountUnsent(ctx, userID)
	if err != nil {
		d.logger.Debug("unsent count unavailable", map[string]interface{}{"userId": userID, "error": err})
		return
	}
	if err := d.counts.PublishUnsentCount(ctx, userID, n); err != nil {
		d.logger.Debug("unsent count push failed", map[string]interface{}{"userId": userID, "error": err})
	}
}
