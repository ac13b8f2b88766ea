package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"notification-dispatcher/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordColumnNames = []string{
	"id", "user_id", "title", "message", "event_type", "channel", "priority", "sent", "sent_at", "scheduled_at",
	"source_entity_type", "source_entity_id", "action_url", "error_message", "retry_count", "claimed_until", "exhausted_at", "created_at",
}

func recordRow(id, priority string, createdAt time.Time, errMsg interface{}, retries int) []driver.Value {
	return []driver.Value{
		id, "u-1", "Grade posted", "You scored 15.00/20", "GRADE_POSTED", "EMAIL", priority, false, nil, nil,
		"submission", "sub-1", "/assignments/a-1", errMsg, retries, nil, nil, createdAt,
	}
}

func newMock(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresLedger(db), mock
}

func TestCreate_AssignsIDAndClaim(t *testing.T) {
	l, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(insertRecordQuery)).
		WithArgs(sqlmock.AnyArg(), "u-1", "T", "M", "NEW_MESSAGE", "PUSH", "NORMAL",
			sql.NullTime{}, sql.NullString{String: "message", Valid: true}, sql.NullString{String: "m-1", Valid: true},
			sql.NullString{}, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := &models.DeliveryRecord{
		UserID: "u-1", Title: "T", Message: "M", EventType: models.EventNewMessage, Channel: models.ChannelPush,
		SourceEntityType: "message", SourceEntityID: "m-1",
	}
	require.NoError(t, l.Create(context.Background(), r, time.Minute))

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, models.PriorityNormal, r.Priority)
	assert.False(t, r.Sent)
	require.NotNil(t, r.ClaimedUntil)
	assert.WithinDuration(t, r.CreatedAt.Add(time.Minute), *r.ClaimedUntil, time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentAndFailed(t *testing.T) {
	l, mock := newMock(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(markSentQuery)).WithArgs("r-1", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(markFailedQuery)).WithArgs("r-2", "smtp 550").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, l.MarkSent(context.Background(), "r-1", now))
	require.NoError(t, l.MarkFailed(context.Background(), "r-2", "smtp 550"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	l, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(getRecordQuery)).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := l.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestClaimForRetry(t *testing.T) {
	l, mock := newMock(t)
	now := time.Now()
	created := now.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(claimRetryQuery)).
		WithArgs(now, 3, 50, now.Add(5*time.Minute)).
		WillReturnRows(sqlmock.NewRows(recordColumnNames).
			AddRow(recordRow("r-1", "NORMAL", created, "timeout", 2)...))

	records, err := l.ClaimForRetry(context.Background(), now, 3, 50, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].RetryCount)
	require.NotNil(t, records[0].ErrorMessage)
	assert.Equal(t, "timeout", *records[0].ErrorMessage)
	assert.Equal(t, "sub-1", records[0].SourceEntityID)
	assert.Nil(t, records[0].SentAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDue_OrdersByPriorityThenAge(t *testing.T) {
	l, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(claimDueQuery)).
		WithArgs(now, 10, now.Add(time.Minute)).
		WillReturnRows(sqlmock.NewRows(recordColumnNames).
			AddRow(recordRow("low", "LOW", now.Add(-3*time.Hour), nil, 0)...).
			AddRow(recordRow("urgent-new", "URGENT", now.Add(-time.Minute), nil, 0)...).
			AddRow(recordRow("normal", "NORMAL", now.Add(-2*time.Hour), nil, 0)...).
			AddRow(recordRow("urgent-old", "URGENT", now.Add(-time.Hour), nil, 0)...))

	records, err := l.ClaimDue(context.Background(), now, 10, time.Minute)
	require.NoError(t, err)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
		assert.Nil(t, r.ErrorMessage)
	}
	assert.Equal(t, []string{"urgent-old", "urgent-new", "normal", "low"}, ids)
}

func TestMarkExhausted(t *testing.T) {
	l, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(markExhaustedQuery)).
		WithArgs(now, 3).
		WillReturnRows(sqlmock.NewRows(recordColumnNames).
			AddRow(recordRow("r-1", "HIGH", now.Add(-time.Hour), "bounced", 3)...))

	records, err := l.MarkExhausted(context.Background(), now, 3)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].RetryCount)
}

func TestListByUser_Cursor(t *testing.T) {
	l, mock := newMock(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(listByUserQuery)).
		WithArgs("u-1", 2).
		WillReturnRows(sqlmock.NewRows(recordColumnNames).
			AddRow(recordRow("r-2", "NORMAL", created, nil, 0)...).
			AddRow(recordRow("r-1", "NORMAL", created, nil, 0)...))

	page, err := l.ListByUser(context.Background(), "u-1", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	cursor := CursorAfter(page[1])
	mock.ExpectQuery(regexp.QuoteMeta(listByUserAfterQuery)).
		WithArgs("u-1", created, "r-1", 2).
		WillReturnRows(sqlmock.NewRows(recordColumnNames))

	next, err := l.ListByUser(context.Background(), "u-1", cursor, 2)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountUnsentAndPurge(t *testing.T) {
	l, mock := newMock(t)
	cutoff := time.Now().Add(-90 * 24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(countUnsentQuery)).WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta(purgeSentQuery)).WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := l.CountUnsent(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	purged, err := l.PurgeSent(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), purged)
}
