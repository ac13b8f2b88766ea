package fanout

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification/preference"
)

// memLedger keeps records in memory for the dispatcher and the engine.
type memLedger struct {
	mu        sync.Mutex
	seq       int
	records   map[string]*models.DeliveryRecord
	createErr func(r *models.DeliveryRecord) error
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[string]*models.DeliveryRecord{}}
}

func (l *memLedger) Create(_ context.Context, r *models.DeliveryRecord, claimFor time.Duration) error {
	if l.createErr != nil {
		if err := l.createErr(r); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	r.ID = fmt.Sprintf("rec-%d", l.seq)
	r.CreatedAt = time.Now().UTC()
	if claimFor > 0 {
		until := r.CreatedAt.Add(claimFor)
		r.ClaimedUntil = &until
	}
	cp := *r
	l.records[r.ID] = &cp
	return nil
}

func (l *memLedger) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.records[id]
	r.Sent = true
	r.SentAt = &sentAt
	r.ErrorMessage = nil
	r.ClaimedUntil = nil
	return nil
}

func (l *memLedger) MarkFailed(_ context.Context, id string, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.records[id]
	r.ErrorMessage = &reason
	r.ClaimedUntil = nil
	return nil
}

func (l *memLedger) CountUnsent(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if r.UserID == userID && !r.Sent {
			n++
		}
	}
	return n, nil
}

// forUser returns userID's records sorted by channel order.
func (l *memLedger) forUser(userID string) []models.DeliveryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.DeliveryRecord
	for _, r := range l.records {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	rank := map[models.Channel]int{models.ChannelEmail: 0, models.ChannelPush: 1, models.ChannelInApp: 2}
	sort.Slice(out, func(i, j int) bool { return rank[out[i].Channel] < rank[out[j].Channel] })
	return out
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type prefKey struct {
	userID    string
	eventType models.EventType
	channel   models.Channel
}

// prefStore is an in-memory preference.Store.
type prefStore struct {
	mu      sync.Mutex
	rows    map[prefKey]models.Preference
	listErr map[string]error
}

var _ preference.Store = (*prefStore)(nil)

func newPrefStore() *prefStore {
	return &prefStore{rows: map[prefKey]models.Preference{}, listErr: map[string]error{}}
}

func (s *prefStore) ListForEvent(_ context.Context, userID string, eventType models.EventType) ([]models.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErr[userID]; err != nil {
		return nil, err
	}
	var out []models.Preference
	for k, p := range s.rows {
		if k.userID == userID && k.eventType == eventType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *prefStore) ListForUser(_ context.Context, userID string) ([]models.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Preference
	for k, p := range s.rows {
		if k.userID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *prefStore) Upsert(_ context.Context, p models.Preference) (models.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	s.rows[prefKey{p.UserID, p.EventType, p.Channel}] = p
	return p, nil
}

func (s *prefStore) InsertMany(_ context.Context, userID string, prefs []models.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range prefs {
		k := prefKey{userID, p.EventType, p.Channel}
		if _, ok := s.rows[k]; !ok {
			p.UserID = userID
			s.rows[k] = p
		}
	}
	return nil
}

func (s *prefStore) Delete(_ context.Context, userID string, eventType models.EventType, channel models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := prefKey{userID, eventType, channel}
	if _, ok := s.rows[k]; !ok {
		return preference.ErrPreferenceNotFound
	}
	delete(s.rows, k)
	return nil
}

type fakeRecipients struct {
	byEvent func(event models.Event) ([]string, error)
}

func (f fakeRecipients) ResolveRecipients(_ context.Context, event models.Event) ([]string, error) {
	return f.byEvent(event)
}

type transportFunc func(ctx context.Context, r *models.DeliveryRecord) error

func (f transportFunc) Send(ctx context.Context, r *models.DeliveryRecord) error {
	return f(ctx, r)
}

// collectingSubmitter records submitted events.
type collectingSubmitter struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (c *collectingSubmitter) Submit(event models.Event) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}
