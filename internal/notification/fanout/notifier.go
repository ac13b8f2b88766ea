package fanout

import (
	"context"
	"fmt"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/common/metrics"
	"notification-dispatcher/internal/models"
)

const previewLimit = 100

// Submitter accepts events for asynchronous fan-out.
type Submitter interface {
	Submit(event models.Event) error
}

// Notifier is the inbound surface collaborators call when something
// notification-worthy happens. Every method builds the Event and submits it
// without waiting for delivery.
type Notifier struct {
	engine Submitter
	source string
	logger logger.Logger
}

// NewNotifier builds a Notifier. source labels the inbound adapter in metrics.
func NewNotifier(engine Submitter, source string, log logger.Logger) *Notifier {
	return &Notifier{engine: engine, source: source, logger: log.Component("notifier")}
}

// WithSource returns a Notifier sharing the same engine under another source label.
func (n *Notifier) WithSource(source string) *Notifier {
	return &Notifier{engine: n.engine, source: source, logger: n.logger}
}

func (n *Notifier) OnAssignmentPublished(ctx context.Context, courseID, assignmentID, title string, dueAt *time.Time) error {
	msg := "A new assignment was published in your course."
	if dueAt != nil {
		msg = fmt.Sprintf("A new assignment was published in your course. Due: %s", formatTime(*dueAt))
	}
	return n.submit(ctx, models.Event{
		Type:             models.EventAssignmentPublished,
		SourceEntityType: "ASSIGNMENT",
		SourceEntityID:   assignmentID,
		Title:            "New assignment: " + title,
		Body:             msg,
		ActionURL:        "/assignments/" + assignmentID,
		Priority:         models.PriorityHigh,
		CourseID:         courseID,
	})
}

func (n *Notifier) OnSubmissionGraded(ctx context.Context, studentUserID, assignmentID, assignmentTitle string, score float64) error {
	return n.submit(ctx, models.Event{
		Type:             models.EventGradePosted,
		SourceEntityType: "ASSIGNMENT",
		SourceEntityID:   assignmentID,
		Title:            "Assignment graded: " + assignmentTitle,
		Body:             fmt.Sprintf("Your assignment '%s' has been graded. Score: %.2f/20", assignmentTitle, score),
		ActionURL:        "/assignments/" + assignmentID,
		Priority:         models.PriorityNormal,
		UserID:           studentUserID,
	})
}

func (n *Notifier) OnDirectMessageSent(ctx context.Context, recipientUserID, senderName, messagePreview, conversationID string) error {
	return n.submit(ctx, models.Event{
		Type:             models.EventNewMessage,
		SourceEntityType: "CONVERSATION",
		SourceEntityID:   conversationID,
		Title:            "New message from " + senderName,
		Body:             Preview(messagePreview),
		ActionURL:        "/messages/conversations/" + conversationID,
		Priority:         models.PriorityNormal,
		UserID:           recipientUserID,
	})
}

func (n *Notifier) OnGroupMessageSent(ctx context.Context, groupID, senderUserID, senderName, messagePreview string) error {
	return n.submit(ctx, models.Event{
		Type:             models.EventGroupMessage,
		SourceEntityType: "GROUP",
		SourceEntityID:   groupID,
		Title:            "New group message from " + senderName,
		Body:             Preview(messagePreview),
		ActionURL:        "/groups/" + groupID,
		Priority:         models.PriorityNormal,
		GroupID:          groupID,
		ExcludeUserID:    senderUserID,
	})
}

func (n *Notifier) OnDeadlineApproaching(ctx context.Context, studentUserID, assignmentID, assignmentTitle string, dueAt time.Time) error {
	return n.submit(ctx, models.Event{
		Type:             models.EventDeadlineApproaching,
		SourceEntityType: "ASSIGNMENT",
		SourceEntityID:   assignmentID,
		Title:            "Reminder: deadline approaching",
		Body:             fmt.Sprintf("The assignment '%s' is due by %s. Time is running out!", assignmentTitle, formatTime(dueAt)),
		ActionURL:        "/assignments/" + assignmentID,
		Priority:         models.PriorityUrgent,
		UserID:           studentUserID,
	})
}

func (n *Notifier) OnAnnouncementPublished(ctx context.Context, courseID, announcementID, title, body string) error {
	return n.submit(ctx, models.Event{
		Type:             models.EventNewAnnouncement,
		SourceEntityType: "ANNOUNCEMENT",
		SourceEntityID:   announcementID,
		Title:            "New announcement: " + title,
		Body:             body,
		ActionURL:        "/courses/" + courseID + "/announcements",
		Priority:         models.PriorityHigh,
		CourseID:         courseID,
	})
}

func (n *Notifier) OnCourseContentAdded(ctx context.Context, courseID, contentTitle string) error {
	return n.submit(ctx, models.Event{
		Type:             models.EventNewCourseContent,
		SourceEntityType: "COURSE",
		SourceEntityID:   courseID,
		Title:            "New course content",
		Body:             fmt.Sprintf("New content was added to your course: '%s'", contentTitle),
		ActionURL:        "/courses/" + courseID,
		Priority:         models.PriorityLow,
		CourseID:         courseID,
	})
}

// Raise submits a fully built event, for callers that need scheduling or a
// custom body.
func (n *Notifier) Raise(ctx context.Context, event models.Event) error {
	return n.submit(ctx, event)
}

func (n *Notifier) submit(_ context.Context, event models.Event) error {
	if err := n.engine.Submit(event); err != nil {
		metrics.EventsRejected.WithLabelValues(n.source, string(apperrors.Code(err))).Inc()
		n.logger.Warn("event rejected", map[string]interface{}{
			"eventType":      string(event.Type),
			"sourceEntityId": event.SourceEntityID,
			"source":         n.source,
			"error":          err,
		})
		return err
	}
	metrics.EventsReceived.WithLabelValues(string(event.Type), n.source).Inc()
	return nil
}

// Preview truncates s to 100 runes, appending "..." when cut.
func Preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLimit {
		return s
	}
	return string(runes[:previewLimit]) + "..."
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}
