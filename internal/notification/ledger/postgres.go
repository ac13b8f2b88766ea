package ledger

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/models"

	"github.com/google/uuid"
)

type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const recordColumns = `id, user_id, title, message, event_type, channel, priority, sent, sent_at, scheduled_at,
	source_entity_type, source_entity_id, action_url, error_message, retry_count, claimed_until, exhausted_at, created_at`

const (
	insertRecordQuery = `
		INSERT INTO delivery_records (id, user_id, title, message, event_type, channel, priority, sent, scheduled_at,
			source_entity_type, source_entity_id, action_url, retry_count, claimed_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9, $10, $11, 0, $12, $13)`

	getRecordQuery = `SELECT ` + recordColumns + ` FROM delivery_records WHERE id = $1`

	markSentQuery = `
		UPDATE delivery_records
		SET sent = TRUE, sent_at = $2, error_message = NULL, claimed_until = NULL
		WHERE id = $1 AND sent = FALSE`

	markFailedQuery = `
		UPDATE delivery_records
		SET error_message = $2, claimed_until = NULL
		WHERE id = $1 AND sent = FALSE`

	claimRetryQuery = `
		UPDATE delivery_records
		SET retry_count = retry_count + 1, claimed_until = $4
		WHERE id IN (
			SELECT id FROM delivery_records
			WHERE sent = FALSE
			  AND error_message IS NOT NULL
			  AND retry_count < $2
			  AND (scheduled_at IS NULL OR scheduled_at <= $1)
			  AND (claimed_until IS NULL OR claimed_until < $1)
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + recordColumns

	claimDueQuery = `
		UPDATE delivery_records
		SET claimed_until = $3
		WHERE id IN (
			SELECT id FROM delivery_records
			WHERE sent = FALSE
			  AND error_message IS NULL
			  AND retry_count = 0
			  AND (scheduled_at IS NULL OR scheduled_at <= $1)
			  AND (claimed_until IS NULL OR claimed_until < $1)
			ORDER BY CASE priority WHEN 'URGENT' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'NORMAL' THEN 1 ELSE 0 END DESC, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + recordColumns

	markExhaustedQuery = `
		UPDATE delivery_records
		SET exhausted_at = $1
		WHERE sent = FALSE
		  AND error_message IS NOT NULL
		  AND retry_count >= $2
		  AND exhausted_at IS NULL
		  AND (claimed_until IS NULL OR claimed_until < $1)
		RETURNING ` + recordColumns

	listByUserQuery = `SELECT ` + recordColumns + ` FROM delivery_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	listByUserAfterQuery = `SELECT ` + recordColumns + ` FROM delivery_records
		WHERE user_id = $1 AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	countUnsentQuery = `SELECT COUNT(*) FROM delivery_records WHERE user_id = $1 AND sent = FALSE`

	listByEntityQuery = `SELECT ` + recordColumns + ` FROM delivery_records
		WHERE source_entity_type = $1 AND source_entity_id = $2
		ORDER BY created_at, id`

	listFailedQuery = `SELECT ` + recordColumns + ` FROM delivery_records
		WHERE exhausted_at IS NOT NULL AND sent = FALSE
		ORDER BY exhausted_at DESC, id
		LIMIT $1`

	purgeSentQuery = `DELETE FROM delivery_records WHERE sent = TRUE AND sent_at < $1`
)

func (l *PostgresLedger) Create(ctx context.Context, r *models.DeliveryRecord, claimFor time.Duration) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Priority == "" {
		r.Priority = models.PriorityNormal
	}
	r.CreatedAt = time.Now().UTC()
	r.Sent = false
	r.SentAt = nil
	r.ErrorMessage = nil
	r.RetryCount = 0
	r.ClaimedUntil = nil
	if claimFor > 0 {
		until := r.CreatedAt.Add(claimFor)
		r.ClaimedUntil = &until
	}

	_, err := l.db.ExecContext(ctx, insertRecordQuery,
		r.ID, r.UserID, r.Title, r.Message, string(r.EventType), string(r.Channel), string(r.Priority),
		nullTime(r.ScheduledAt), nullString(r.SourceEntityType), nullString(r.SourceEntityID), nullString(r.ActionURL),
		nullTime(r.ClaimedUntil), r.CreatedAt,
	)
	if err != nil {
		return apperrors.NewQueryExecutionFailedError("insert_delivery_record", err)
	}
	return nil
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (*models.DeliveryRecord, error) {
	r, err := scanRecord(l.db.QueryRowContext(ctx, getRecordQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get_delivery_record", err)
	}
	return r, nil
}

func (l *PostgresLedger) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	if _, err := l.db.ExecContext(ctx, markSentQuery, id, sentAt); err != nil {
		return apperrors.NewQueryExecutionFailedError("mark_sent", err)
	}
	return nil
}

func (l *PostgresLedger) MarkFailed(ctx context.Context, id string, reason string) error {
	if _, err := l.db.ExecContext(ctx, markFailedQuery, id, reason); err != nil {
		return apperrors.NewQueryExecutionFailedError("mark_failed", err)
	}
	return nil
}

func (l *PostgresLedger) ClaimForRetry(ctx context.Context, now time.Time, maxRetries, limit int, lease time.Duration) ([]*models.DeliveryRecord, error) {
	return l.queryRecords(ctx, "claim_retry", claimRetryQuery, now, maxRetries, limit, now.Add(lease))
}

func (l *PostgresLedger) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.DeliveryRecord, error) {
	records, err := l.queryRecords(ctx, "claim_due", claimDueQuery, now, limit, now.Add(lease))
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := records[i].Priority.Rank(), records[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (l *PostgresLedger) MarkExhausted(ctx context.Context, now time.Time, maxRetries int) ([]*models.DeliveryRecord, error) {
	return l.queryRecords(ctx, "mark_exhausted", markExhaustedQuery, now, maxRetries)
}

func (l *PostgresLedger) ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]*models.DeliveryRecord, error) {
	if cursor == nil {
		return l.queryRecords(ctx, "list_by_user", listByUserQuery, userID, limit)
	}
	return l.queryRecords(ctx, "list_by_user", listByUserAfterQuery, userID, cursor.CreatedAt, cursor.ID, limit)
}

func (l *PostgresLedger) CountUnsent(ctx context.Context, userID string) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, countUnsentQuery, userID).Scan(&n); err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("count_unsent", err)
	}
	return n, nil
}

func (l *PostgresLedger) ListByEntity(ctx context.Context, entityType, entityID string) ([]*models.DeliveryRecord, error) {
	return l.queryRecords(ctx, "list_by_entity", listByEntityQuery, entityType, entityID)
}

func (l *PostgresLedger) ListFailed(ctx context.Context, limit int) ([]*models.DeliveryRecord, error) {
	return l.queryRecords(ctx, "list_failed", listFailedQuery, limit)
}

func (l *PostgresLedger) PurgeSent(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, purgeSentQuery, olderThan)
	if err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("purge_sent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("purge_sent", err)
	}
	return n, nil
}

func (l *PostgresLedger) queryRecords(ctx context.Context, name, query string, args ...interface{}) ([]*models.DeliveryRecord, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError(name, err)
	}
	defer rows.Close()

	records := []*models.DeliveryRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.NewQueryExecutionFailedError(name, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError(name, err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*models.DeliveryRecord, error) {
	var (
		r                               models.DeliveryRecord
		eventType, channel, priority    string
		sentAt, scheduledAt             sql.NullTime
		claimedUntil, exhaustedAt       sql.NullTime
		sourceType, sourceID, actionURL sql.NullString
		errorMessage                    sql.NullString
	)
	err := s.Scan(
		&r.ID, &r.UserID, &r.Title, &r.Message, &eventType, &channel, &priority, &r.Sent, &sentAt, &scheduledAt,
		&sourceType, &sourceID, &actionURL, &errorMessage, &r.RetryCount, &claimedUntil, &exhaustedAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.EventType = models.EventType(eventType)
	r.Channel = models.Channel(channel)
	r.Priority = models.Priority(priority)
	r.SentAt = timePtr(sentAt)
	r.ScheduledAt = timePtr(scheduledAt)
	r.ClaimedUntil = timePtr(claimedUntil)
	r.ExhaustedAt = timePtr(exhaustedAt)
	r.SourceEntityType = sourceType.String
	r.SourceEntityID = sourceID.String
	r.ActionURL = actionURL.String
	if errorMessage.Valid {
		msg := errorMessage.String
		r.ErrorMessage = &msg
	}
	return &r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
