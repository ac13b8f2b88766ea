// Package sweeper re-attempts failed deliveries and dispatches scheduled ones.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/common/metrics"
	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification/channel"
)

// Store is the slice of the ledger the sweeper claims from.
type Store interface {
	ClaimForRetry(ctx context.Context, now time.Time, maxRetries, limit int, lease time.Duration) ([]*models.DeliveryRecord, error)
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.DeliveryRecord, error)
	MarkExhausted(ctx context.Context, now time.Time, maxRetries int) ([]*models.DeliveryRecord, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, r *models.DeliveryRecord) channel.Outcome
}

// FailureIndex receives records that ran out of retries.
type FailureIndex interface {
	IndexFailures(ctx context.Context, records []*models.DeliveryRecord) error
}

type Config struct {
	Interval    time.Duration
	MaxRetries  int
	BatchSize   int
	ClaimTTL    time.Duration
	Concurrency int
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	RetryClaimed int
	RetrySent    int
	DueClaimed   int
	DueSent      int
	Exhausted    int
	Duration     time.Duration
}

func (r SweepReport) Empty() bool {
	return r.RetryClaimed == 0 && r.DueClaimed == 0 && r.Exhausted == 0
}

type Sweeper struct {
	store      Store
	dispatcher Dispatcher
	index      FailureIndex
	cfg        Config
	logger     logger.Logger
	now        func() time.Time
}

// New builds a Sweeper. index may be nil.
func New(store Store, dispatcher Dispatcher, index FailureIndex, cfg Config, log logger.Logger) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		index:      index,
		cfg:        cfg,
		logger:     log.Component("sweeper"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", map[string]interface{}{
		"intervalMs": s.cfg.Interval.Milliseconds(),
		"maxRetries": s.cfg.MaxRetries,
	})

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped", nil)
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", map[string]interface{}{"error": err})
			}
		}
	}
}

// SweepOnce runs the retry pass, the due pass and the exhaustion pass. A
// failing pass does not prevent the others; their errors are joined.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	now := s.now()
	var report SweepReport
	var errs []error

	retry, err := s.store.ClaimForRetry(ctx, now, s.cfg.MaxRetries, s.cfg.BatchSize, s.cfg.ClaimTTL)
	if err != nil {
		errs = append(errs, fmt.Errorf("retry pass: %w", err))
	}
	report.RetryClaimed = len(retry)
	metrics.SweepClaimed.WithLabelValues("retry").Add(float64(len(retry)))
	report.RetrySent = s.dispatchAll(ctx, retry)

	due, err := s.store.ClaimDue(ctx, now, s.cfg.BatchSize, s.cfg.ClaimTTL)
	if err != nil {
		errs = append(errs, fmt.Errorf("due pass: %w", err))
	}
	report.DueClaimed = len(due)
	metrics.SweepClaimed.WithLabelValues("due").Add(float64(len(due)))
	report.DueSent = s.dispatchAll(ctx, due)

	exhausted, err := s.store.MarkExhausted(ctx, s.now(), s.cfg.MaxRetries)
	if err != nil {
		errs = append(errs, fmt.Errorf("exhaust pass: %w", err))
	}
	report.Exhausted = len(exhausted)
	if err := s.reportExhausted(ctx, exhausted); err != nil {
		errs = append(errs, err)
	}

	report.Duration = time.Since(start)
	if !report.Empty() {
		s.logger.Info("sweep completed", map[string]interface{}{
			"retryClaimed": report.RetryClaimed,
			"retrySent":    report.RetrySent,
			"dueClaimed":   report.DueClaimed,
			"dueSent":      report.DueSent,
			"exhausted":    report.Exhausted,
			"durationMs":   report.Duration.Milliseconds(),
		})
	}
	return report, errors.Join(errs...)
}

// dispatchAll dispatches records through a pool of Concurrency workers and
// returns how many were sent.
func (s *Sweeper) dispatchAll(ctx context.Context, records []*models.DeliveryRecord) int {
	if len(records) == 0 {
		return 0
	}

	jobs := make(chan *models.DeliveryRecord)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sent := 0

	workers := s.cfg.Concurrency
	if workers > len(records) {
		workers = len(records)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				if s.dispatchOne(ctx, r) {
					mu.Lock()
					sent++
					mu.Unlock()
				}
			}
		}()
	}

	for _, r := range records {
		jobs <- r
	}
	close(jobs)
	wg.Wait()
	return sent
}

func (s *Sweeper) dispatchOne(ctx context.Context, r *models.DeliveryRecord) (sent bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("panic during sweep dispatch", map[string]interface{}{
				"recordId": r.ID,
				"panic":    fmt.Sprint(p),
			})
			sent = false
		}
	}()
	return s.dispatcher.Dispatch(ctx, r).Sent
}

func (s *Sweeper) reportExhausted(ctx context.Context, records []*models.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		metrics.RetryExhausted.WithLabelValues(string(r.Channel)).Inc()
		fields := map[string]interface{}{
			"recordId":  r.ID,
			"userId":    r.UserID,
			"channel":   string(r.Channel),
			"eventType": string(r.EventType),
			"error":     apperrors.NewRetryExhaustedError(r.ID, r.RetryCount),
		}
		if r.ErrorMessage != nil {
			fields["lastError"] = *r.ErrorMessage
		}
		s.logger.Warn("delivery retries exhausted", fields)
	}

	if s.index == nil {
		return nil
	}
	if err := s.index.IndexFailures(ctx, records); err != nil {
		return apperrors.NewIndexingFailedError(err)
	}
	return nil
}
