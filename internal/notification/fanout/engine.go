// Package fanout turns one event into per-recipient, per-channel delivery
// records and dispatches them.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/common/metrics"
	"notification-dispatcher/internal/common/observability"
	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification/channel"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrQueueFull    = errors.New("fan-out queue is full")
	ErrEngineClosed = errors.New("fan-out engine is closed")
)

type RecipientResolver interface {
	ResolveRecipients(ctx context.Context, event models.Event) ([]string, error)
}

type ChannelResolver interface {
	ResolveChannels(ctx context.Context, userID string, eventType models.EventType) ([]models.Channel, error)
}

type RecordCreator interface {
	Create(ctx context.Context, r *models.DeliveryRecord, claimFor time.Duration) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, r *models.DeliveryRecord) channel.Outcome
}

type Config struct {
	Workers             int
	QueueSize           int
	MaxParallelDispatch int
	// ClaimTTL is the lease put on immediately dispatched records so a
	// concurrent due sweep does not pick them up.
	ClaimTTL time.Duration
}

// Result summarizes the fan-out of one event.
type Result struct {
	EventType  models.EventType
	Recipients int
	Records    int
	Sent       int
	Failed     int
	Deferred   int
	// Skipped counts recipients whose preferences could not be read and
	// pairs whose record could not be created.
	Skipped  int
	Duration time.Duration
	Err      error
}

type counters struct {
	records, sent, failed, deferred, skipped atomic.Int64
}

type Option func(*Engine)

// WithResultHook registers fn to receive the Result of every queued event.
func WithResultHook(fn func(Result)) Option {
	return func(e *Engine) { e.onResult = fn }
}

func WithObservability(o *observability.Observability) Option {
	return func(e *Engine) { e.obs = o }
}

type Engine struct {
	recipients RecipientResolver
	channels   ChannelResolver
	records    RecordCreator
	dispatcher Dispatcher
	cfg        Config
	logger     logger.Logger
	obs        *observability.Observability
	onResult   func(Result)
	now        func() time.Time

	queue     chan models.Event
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once
}

func NewEngine(recipients RecipientResolver, channels ChannelResolver, records RecordCreator, dispatcher Dispatcher, cfg Config, log logger.Logger, opts ...Option) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxParallelDispatch <= 0 {
		cfg.MaxParallelDispatch = 1
	}

	e := &Engine{
		recipients: recipients,
		channels:   channels,
		records:    records,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     log.Component("fanout"),
		obs:        observability.NewNoop(),
		now:        func() time.Time { return time.Now().UTC() },
		queue:      make(chan models.Event, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the worker pool.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		for i := 0; i < e.cfg.Workers; i++ {
			e.wg.Add(1)
			go e.worker(i)
		}
		e.logger.Info("fan-out engine started", map[string]interface{}{
			"workers":   e.cfg.Workers,
			"queueSize": e.cfg.QueueSize,
		})
	})
}

// Submit validates event and enqueues it. It never blocks: a full queue
// returns an error wrapping both ErrQueueFull and a QUEUE_FULL StandardError.
func (e *Engine) Submit(event models.Event) error {
	if err := event.Validate(); err != nil {
		return apperrors.NewInvalidEventError(err.Error())
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}

	select {
	case e.queue <- event:
		metrics.QueueDepth.Set(float64(len(e.queue)))
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrQueueFull, apperrors.NewQueueFullError(e.cfg.QueueSize))
	}
}

// Close stops accepting events, drains the queue and waits for the workers.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()

		e.Start() // a never-started engine still drains
		e.wg.Wait()
		e.logger.Info("fan-out engine stopped", nil)
	})
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	for event := range e.queue {
		metrics.QueueDepth.Set(float64(len(e.queue)))
		res := e.safeDispatch(event, id)
		if e.onResult != nil {
			e.onResult(res)
		}
	}
}

func (e *Engine) safeDispatch(event models.Event, workerID int) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("panic during fan-out", map[string]interface{}{
				"worker":    workerID,
				"eventType": string(event.Type),
				"panic":     fmt.Sprint(p),
			})
			res = Result{EventType: event.Type, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return e.Dispatch(context.Background(), event)
}

// Dispatch fans event out synchronously. Failures of individual recipients
// or channels are counted in the Result and never abort the loop; Result.Err
// is set only when no recipient could be resolved.
func (e *Engine) Dispatch(ctx context.Context, event models.Event) Result {
	start := time.Now()
	res := Result{EventType: event.Type}

	ctx, span := e.obs.StartSpan(ctx, "fanout.dispatch",
		attribute.String("event_type", string(event.Type)),
		attribute.String("source_entity_id", event.SourceEntityID),
	)
	defer span.End()

	metrics.FanoutActive.Inc()
	defer metrics.FanoutActive.Dec()

	if err := event.Validate(); err != nil {
		res.Err = apperrors.NewInvalidEventError(err.Error())
		span.SetStatus(codes.Error, res.Err.Error())
		return res
	}
	if event.Priority == "" {
		event.Priority = models.PriorityNormal
	}

	recipients, err := e.recipients.ResolveRecipients(ctx, event)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("recipient resolution failed, event dropped", map[string]interface{}{
			"eventType":      string(event.Type),
			"sourceEntityId": event.SourceEntityID,
			"error":          err,
		})
		return res
	}
	res.Recipients = len(recipients)

	var c counters
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.MaxParallelDispatch)

	for _, userID := range recipients {
		channels, err := e.channels.ResolveChannels(ctx, userID, event.Type)
		if err != nil {
			c.skipped.Add(1)
			e.logger.Warn("preference lookup failed, recipient skipped", map[string]interface{}{
				"userId":    userID,
				"eventType": string(event.Type),
				"error":     err,
			})
			continue
		}

		for _, ch := range channels {
			sem <- struct{}{}
			wg.Add(1)
			go func(userID string, ch models.Channel) {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					if p := recover(); p != nil {
						c.skipped.Add(1)
						e.logger.Error("panic during delivery", map[string]interface{}{
							"userId":  userID,
							"channel": string(ch),
							"panic":   fmt.Sprint(p),
						})
					}
				}()
				e.deliver(ctx, event, userID, ch, &c)
			}(userID, ch)
		}
	}
	wg.Wait()

	res.Records = int(c.records.Load())
	res.Sent = int(c.sent.Load())
	res.Failed = int(c.failed.Load())
	res.Deferred = int(c.deferred.Load())
	res.Skipped = int(c.skipped.Load())
	res.Duration = time.Since(start)

	span.SetAttributes(attribute.Int("recipients", res.Recipients), attribute.Int("records", res.Records))
	e.obs.RecordFanout(ctx, string(event.Type), res.Duration, res.Records)
	e.logger.Info("event fanned out", map[string]interface{}{
		"eventType":  string(event.Type),
		"recipients": res.Recipients,
		"records":    res.Records,
		"sent":       res.Sent,
		"failed":     res.Failed,
		"deferred":   res.Deferred,
		"skipped":    res.Skipped,
		"durationMs": res.Duration.Milliseconds(),
	})
	return res
}

func (e *Engine) deliver(ctx context.Context, event models.Event, userID string, ch models.Channel, c *counters) {
	r := &models.DeliveryRecord{
		UserID:           userID,
		Title:            event.Title,
		Message:          event.Body,
		EventType:        event.Type,
		Channel:          ch,
		Priority:         event.Priority,
		ScheduledAt:      event.ScheduledAt,
		SourceEntityType: event.SourceEntityType,
		SourceEntityID:   event.SourceEntityID,
		ActionURL:        event.ActionURL,
	}

	deferred := !r.Due(e.now())
	claim := e.cfg.ClaimTTL
	if deferred {
		claim = 0
	}

	if err := e.records.Create(ctx, r, claim); err != nil {
		c.skipped.Add(1)
		e.logger.Error("failed to create delivery record", map[string]interface{}{
			"userId":    userID,
			"channel":   string(ch),
			"eventType": string(event.Type),
			"error":     err,
		})
		return
	}
	c.records.Add(1)
	metrics.RecordsCreated.WithLabelValues(string(event.Type), string(ch)).Inc()

	if deferred {
		c.deferred.Add(1)
		metrics.DispatchTotal.WithLabelValues(string(ch), metrics.OutcomeSkipped).Inc()
		return
	}

	if out := e.dispatcher.Dispatch(ctx, r); out.Sent {
		c.sent.Add(1)
	} else {
		c.failed.Add(1)
	}
}
