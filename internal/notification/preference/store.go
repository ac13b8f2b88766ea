package preference

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/models"

	"github.com/lib/pq"
)

var ErrPreferenceNotFound = errors.New("preference not found")

// Store persists preferences. At most one row exists per
// (user, event type, channel).
type Store interface {
	ListForEvent(ctx context.Context, userID string, eventType models.EventType) ([]models.Preference, error)
	ListForUser(ctx context.Context, userID string) ([]models.Preference, error)
	Upsert(ctx context.Context, p models.Preference) (models.Preference, error)
	// InsertMany inserts rows that do not exist yet and leaves existing rows untouched.
	InsertMany(ctx context.Context, userID string, prefs []models.Preference) error
	Delete(ctx context.Context, userID string, eventType models.EventType, channel models.Channel) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	listForEventQuery = `SELECT user_id, event_type, channel, enabled, updated_at FROM preferences WHERE user_id = $1 AND event_type = $2`
	listForUserQuery  = `SELECT user_id, event_type, channel, enabled, updated_at FROM preferences WHERE user_id = $1 ORDER BY event_type, channel`

	upsertQuery = `
		INSERT INTO preferences (user_id, event_type, channel, enabled, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, event_type, channel)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
		RETURNING updated_at`

	insertManyQuery = `
		INSERT INTO preferences (user_id, event_type, channel, enabled, updated_at)
		SELECT $1, t.event_type, t.channel, t.enabled, NOW()
		FROM unnest($2::text[], $3::text[], $4::bool[]) AS t(event_type, channel, enabled)
		ON CONFLICT (user_id, event_type, channel) DO NOTHING`

	deleteQuery = `DELETE FROM preferences WHERE user_id = $1 AND event_type = $2 AND channel = $3`
)

func (s *PostgresStore) ListForEvent(ctx context.Context, userID string, eventType models.EventType) ([]models.Preference, error) {
	rows, err := s.db.QueryContext(ctx, listForEventQuery, userID, string(eventType))
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list_preferences_for_event", err)
	}
	defer rows.Close()
	return scanPreferences(rows, "list_preferences_for_event")
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]models.Preference, error) {
	rows, err := s.db.QueryContext(ctx, listForUserQuery, userID)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list_preferences_for_user", err)
	}
	defer rows.Close()
	return scanPreferences(rows, "list_preferences_for_user")
}

func scanPreferences(rows *sql.Rows, queryName string) ([]models.Preference, error) {
	prefs := []models.Preference{}
	for rows.Next() {
		var p models.Preference
		var eventType, channel string
		if err := rows.Scan(&p.UserID, &eventType, &channel, &p.Enabled, &p.UpdatedAt); err != nil {
			return nil, apperrors.NewQueryExecutionFailedError(queryName, err)
		}
		p.EventType = models.EventType(eventType)
		p.Channel = models.Channel(channel)
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError(queryName, err)
	}
	return prefs, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, p models.Preference) (models.Preference, error) {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, upsertQuery, p.UserID, string(p.EventType), string(p.Channel), p.Enabled).Scan(&updatedAt)
	if err != nil {
		return models.Preference{}, apperrors.NewQueryExecutionFailedError("upsert_preference", err)
	}
	p.UpdatedAt = updatedAt
	return p, nil
}

func (s *PostgresStore) InsertMany(ctx context.Context, userID string, prefs []models.Preference) error {
	if len(prefs) == 0 {
		return nil
	}
	eventTypes := make([]string, len(prefs))
	channels := make([]string, len(prefs))
	enabled := make([]bool, len(prefs))
	for i, p := range prefs {
		eventTypes[i] = string(p.EventType)
		channels[i] = string(p.Channel)
		enabled[i] = p.Enabled
	}

	_, err := s.db.ExecContext(ctx, insertManyQuery, userID, pq.Array(eventTypes), pq.Array(channels), pq.Array(enabled))
	if err != nil {
		return apperrors.NewQueryExecutionFailedError("insert_preferences", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, eventType models.EventType, channel models.Channel) error {
	res, err := s.db.ExecContext(ctx, deleteQuery, userID, string(eventType), string(channel))
	if err != nil {
		return apperrors.NewQueryExecutionFailedError("delete_preference", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewQueryExecutionFailedError("delete_preference", err)
	}
	if n == 0 {
		return ErrPreferenceNotFound
	}
	return nil
}
