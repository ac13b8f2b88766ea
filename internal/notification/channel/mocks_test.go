package channel

import (
	"context"
	"sync"
	"time"

	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification/recipient"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/mrz1836/postmark"
)

type transportFunc func(ctx context.Context, r *models.DeliveryRecord) error

func (f transportFunc) Send(ctx context.Context, r *models.DeliveryRecord) error {
	return f(ctx, r)
}

// fakeRecords captures ledger writes.
type fakeRecords struct {
	mu       sync.Mutex
	sent     map[string]time.Time
	failed   map[string]string
	unsent   int
	countErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{sent: map[string]time.Time{}, failed: map[string]string{}}
}

func (f *fakeRecords) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = sentAt
	return nil
}

func (f *fakeRecords) MarkFailed(_ context.Context, id string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}

func (f *fakeRecords) CountUnsent(context.Context, string) (int, error) {
	return f.unsent, f.countErr
}

type fakeCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeCounts) PublishUnsentCount(_ context.Context, userID string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[userID] = count
	return nil
}

type MockContacts struct {
	ContactFunc func(ctx context.Context, userID string) (recipient.Contact, error)
}

func (m *MockContacts) Contact(ctx context.Context, userID string) (recipient.Contact, error) {
	return m.ContactFunc(ctx, userID)
}

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

type MockPostmark struct {
	SendEmailFunc func(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

func (m *MockPostmark) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	return m.SendEmailFunc(ctx, email)
}

type mailerFunc func(ctx context.Context, m Mail) error

func (f mailerFunc) Send(ctx context.Context, m Mail) error {
	return f(ctx, m)
}

func testRecord(ch models.Channel) *models.DeliveryRecord {
	return &models.DeliveryRecord{
		ID:               "rec-1",
		UserID:           "u-1",
		Title:            "New assignment: Essay",
		Message:          "A new assignment was published",
		EventType:        models.EventAssignmentPublished,
		Channel:          ch,
		Priority:         models.PriorityHigh,
		SourceEntityType: "ASSIGNMENT",
		SourceEntityID:   "a-1",
		ActionURL:        "/assignments/a-1",
		CreatedAt:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}
