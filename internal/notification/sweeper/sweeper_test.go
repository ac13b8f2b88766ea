package sweeper

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore mirrors the claim semantics of the Postgres ledger.
type memStore struct {
	mu       sync.Mutex
	records  map[string]*models.DeliveryRecord
	retryErr error
}

func newMemStore(records ...*models.DeliveryRecord) *memStore {
	s := &memStore{records: map[string]*models.DeliveryRecord{}}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func claimable(r *models.DeliveryRecord, now time.Time) bool {
	return !r.Sent && r.ExhaustedAt == nil && (r.ClaimedUntil == nil || r.ClaimedUntil.Before(now)) && r.Due(now)
}

func (s *memStore) ClaimForRetry(_ context.Context, now time.Time, maxRetries, limit int, lease time.Duration) ([]*models.DeliveryRecord, error) {
	if s.retryErr != nil {
		return nil, s.retryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliveryRecord
	for _, r := range s.sorted() {
		if len(out) == limit {
			break
		}
		if claimable(r, now) && r.ErrorMessage != nil && r.RetryCount < maxRetries {
			r.RetryCount++
			until := now.Add(lease)
			r.ClaimedUntil = &until
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliveryRecord
	for _, r := range s.sorted() {
		if len(out) == limit {
			break
		}
		if claimable(r, now) && r.ErrorMessage == nil && r.RetryCount == 0 {
			until := now.Add(lease)
			r.ClaimedUntil = &until
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) MarkExhausted(_ context.Context, now time.Time, maxRetries int) ([]*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliveryRecord
	for _, r := range s.sorted() {
		if !r.Sent && r.ErrorMessage != nil && r.RetryCount >= maxRetries && r.ExhaustedAt == nil &&
			(r.ClaimedUntil == nil || r.ClaimedUntil.Before(now)) {
			at := now
			r.ExhaustedAt = &at
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[id]
	r.Sent = true
	r.SentAt = &sentAt
	r.ErrorMessage = nil
	r.ClaimedUntil = nil
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[id]
	r.ErrorMessage = &reason
	r.ClaimedUntil = nil
	return nil
}

func (s *memStore) CountUnsent(context.Context, string) (int, error) { return 0, nil }

func (s *memStore) get(id string) models.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

// sorted orders by priority desc then age, like the ledger queries.
func (s *memStore) sorted() []*models.DeliveryRecord {
	out := make([]*models.DeliveryRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type transportFunc func(ctx context.Context, r *models.DeliveryRecord) error

func (f transportFunc) Send(ctx context.Context, r *models.DeliveryRecord) error { return f(ctx, r) }

type fakeIndex struct {
	mu      sync.Mutex
	indexed []string
	err     error
}

func (f *fakeIndex) IndexFailures(_ context.Context, records []*models.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.indexed = append(f.indexed, r.ID)
	}
	return f.err
}

func failedEmail(id string) *models.DeliveryRecord {
	msg := "TRANSPORT_FAILED: EMAIL transport failed: smtp 421"
	return &models.DeliveryRecord{
		ID:           id,
		UserID:       "u-1",
		Title:        "Assignment graded",
		EventType:    models.EventGradePosted,
		Channel:      models.ChannelEmail,
		Priority:     models.PriorityNormal,
		ErrorMessage: &msg,
		CreatedAt:    time.Now().Add(-time.Hour),
	}
}

func newSweeper(t *testing.T, store *memStore, email channel.Transport, index FailureIndex, maxRetries int) *Sweeper {
	t.Helper()
	log := logger.NewTestLogger(t)
	d := channel.NewDispatcher(map[models.Channel]channel.Transport{
		models.ChannelEmail: email,
		models.ChannelInApp: channel.InAppTransport{},
	}, store, nil, time.Second, log)
	return New(store, d, index, Config{
		Interval:    time.Minute,
		MaxRetries:  maxRetries,
		BatchSize:   50,
		ClaimTTL:    time.Minute,
		Concurrency: 4,
	}, log)
}

func TestSweepOnce_RetrySucceeds(t *testing.T) {
	store := newMemStore(failedEmail("r-1"))
	s := newSweeper(t, store, transportFunc(func(context.Context, *models.DeliveryRecord) error { return nil }), nil, 5)

	report, err := s.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.RetryClaimed)
	assert.Equal(t, 1, report.RetrySent)
	got := store.get("r-1")
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.Sent)
	assert.NotNil(t, got.SentAt)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.ClaimedUntil)
}

func TestSweepOnce_RetryFailsAgain(t *testing.T) {
	store := newMemStore(failedEmail("r-1"))
	s := newSweeper(t, store, transportFunc(func(context.Context, *models.DeliveryRecord) error {
		return errors.New("smtp 554 rejected")
	}), nil, 5)

	report, err := s.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.RetryClaimed)
	assert.Zero(t, report.RetrySent)
	got := store.get("r-1")
	assert.Equal(t, 1, got.RetryCount)
	assert.False(t, got.Sent)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "smtp 554 rejected")
}

func TestSweepOnce_ExhaustsAfterMaxRetries(t *testing.T) {
	store := newMemStore(failedEmail("r-1"))
	index := &fakeIndex{}
	s := newSweeper(t, store, transportFunc(func(context.Context, *models.DeliveryRecord) error {
		return errors.New("down")
	}), index, 2)

	first, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, first.Exhausted)

	second, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.RetryClaimed)
	assert.Equal(t, 1, second.Exhausted)
	assert.Equal(t, []string{"r-1"}, index.indexed)

	third, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, third.Empty())

	got := store.get("r-1")
	assert.Equal(t, 2, got.RetryCount)
	assert.False(t, got.Sent)
	assert.NotNil(t, got.ExhaustedAt)
}

func TestSweepOnce_ZeroMaxRetriesExhaustsImmediately(t *testing.T) {
	store := newMemStore(failedEmail("r-1"))
	var calls atomic.Int32
	s := newSweeper(t, store, transportFunc(func(context.Context, *models.DeliveryRecord) error {
		calls.Add(1)
		return nil
	}), nil, 0)

	report, err := s.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.RetryClaimed)
	assert.Equal(t, 1, report.Exhausted)
	assert.Zero(t, calls.Load())
}

func TestSweepOnce_DuePassDispatchesScheduled(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	due := &models.DeliveryRecord{ID: "due", UserID: "u-1", Channel: models.ChannelInApp, Priority: models.PriorityLow, ScheduledAt: &past, CreatedAt: past}
	later := &models.DeliveryRecord{ID: "later", UserID: "u-1", Channel: models.ChannelInApp, ScheduledAt: &future, CreatedAt: past}
	store := newMemStore(due, later)
	s := newSweeper(t, store, transportFunc(func(context.Context, *models.DeliveryRecord) error { return nil }), nil, 5)

	report, err := s.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.DueClaimed)
	assert.Equal(t, 1, report.DueSent)
	assert.True(t, store.get("due").Sent)
	assert.Zero(t, store.get("due").RetryCount)
	assert.False(t, store.get("later").Sent)
}

func TestSweepOnce_SkipsClaimedRecords(t *testing.T) {
	r := failedEmail("r-1")
	until := time.Now().Add(time.Minute)
	r.ClaimedUntil = &until
	store := newMemStore(r)
	s := newSweeper(t, store, transportFunc(func(context.Context, *models.DeliveryRecord) error { return nil }), nil, 5)

	report, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.RetryClaimed)
	assert.Zero(t, store.get("r-1").RetryCount)
}

func TestSweepOnce_ConcurrentSweepsClaimOnce(t *testing.T) {
	var records []*models.DeliveryRecord
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		records = append(records, failedEmail(id))
	}
	store := newMemStore(records...)
	var attempts atomic.Int32
	email := transportFunc(func(context.Context, *models.DeliveryRecord) error {
		attempts.Add(1)
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	s1 := newSweeper(t, store, email, nil, 5)
	s2 := newSweeper(t, store, email, nil, 5)

	var wg sync.WaitGroup
	for _, s := range []*Sweeper{s1, s2} {
		wg.Add(1)
		go func(s *Sweeper) {
			defer wg.Done()
			_, _ = s.SweepOnce(context.Background())
		}(s)
	}
	wg.Wait()

	assert.Equal(t, int32(6), attempts.Load())
	for _, r := range records {
		assert.Equal(t, 1, store.get(r.ID).RetryCount)
	}
}

func TestSweepOnce_PassErrorsAreJoined(t *testing.T) {
	store := newMemStore()
	store.retryErr = apperrors.NewQueryExecutionFailedError("claim_retry", errors.New("conn reset"))
	index := &fakeIndex{}
	s := newSweeper(t, store, transportFunc(func(context.Context, *models.DeliveryRecord) error { return nil }), index, 5)

	_, err := s.SweepOnce(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeQueryExecutionFailed))
}

func TestSweepOnce_IndexFailureReported(t *testing.T) {
	r := failedEmail("r-1")
	r.RetryCount = 3
	store := newMemStore(r)
	index := &fakeIndex{err: errors.New("es unavailable")}
	s := newSweeper(t, store, transportFunc(func(context.Context, *models.DeliveryRecord) error { return nil }), index, 3)

	report, err := s.SweepOnce(context.Background())
	assert.Equal(t, 1, report.Exhausted)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeIndexingFailed))
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := newMemStore(failedEmail("r-1"))
	s := newSweeper(t, store, transportFunc(func(context.Context, *models.DeliveryRecord) error { return nil }), nil, 5)
	s.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.get("r-1").Sent }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
