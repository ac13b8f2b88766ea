package preference

import (
	"context"
	"sync"
	"time"

	"notification-dispatcher/internal/models"
)

type prefKey struct {
	user    string
	event   models.EventType
	channel models.Channel
}

// memStore is an in-memory Store used by the resolver and service tests.
type memStore struct {
	mu    sync.Mutex
	rows  map[prefKey]models.Preference
	order []prefKey
	err   error
}

func newMemStore() *memStore {
	return &memStore{rows: map[prefKey]models.Preference{}}
}

func (m *memStore) put(p models.Preference) {
	k := prefKey{p.UserID, p.EventType, p.Channel}
	if _, ok := m.rows[k]; !ok {
		m.order = append(m.order, k)
	}
	p.UpdatedAt = time.Now()
	m.rows[k] = p
}

func (m *memStore) ListForEvent(_ context.Context, userID string, eventType models.EventType) ([]models.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []models.Preference{}
	for _, k := range m.order {
		if p, ok := m.rows[k]; ok && k.user == userID && k.event == eventType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListForUser(_ context.Context, userID string) ([]models.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []models.Preference{}
	for _, k := range m.order {
		if p, ok := m.rows[k]; ok && k.user == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) Upsert(_ context.Context, p models.Preference) (models.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.Preference{}, m.err
	}
	m.put(p)
	return m.rows[prefKey{p.UserID, p.EventType, p.Channel}], nil
}

func (m *memStore) InsertMany(_ context.Context, userID string, prefs []models.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, p := range prefs {
		p.UserID = userID
		if _, ok := m.rows[prefKey{userID, p.EventType, p.Channel}]; ok {
			continue
		}
		m.put(p)
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, userID string, eventType models.EventType, channel models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := prefKey{userID, eventType, channel}
	if _, ok := m.rows[k]; !ok {
		return ErrPreferenceNotFound
	}
	delete(m.rows, k)
	for i, o := range m.order {
		if o == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
