// internal/models/notification.go
package models

import (
	"fmt"
	"time"
)

// EventType identifies the kind of domain event that triggers a notification.
type EventType string

const (
	EventAssignmentPublished EventType = "ASSIGNMENT_PUBLISHED"
	EventGradePosted         EventType = "GRADE_POSTED"
	EventNewMessage          EventType = "NEW_MESSAGE"
	EventGroupMessage        EventType = "GROUP_MESSAGE"
	EventDeadlineApproaching EventType = "DEADLINE_APPROACHING"
	EventNewAnnouncement     EventType = "NEW_ANNOUNCEMENT"
	EventNewCourseContent    EventType = "NEW_COURSE_CONTENT"
)

// AllEventTypes lists every event type in a stable order.
var AllEventTypes = []EventType{
	EventAssignmentPublished,
	EventGradePosted,
	EventNewMessage,
	EventGroupMessage,
	EventDeadlineApproaching,
	EventNewAnnouncement,
	EventNewCourseContent,
}

func (e EventType) Valid() bool {
	for _, t := range AllEventTypes {
		if t == e {
			return true
		}
	}
	return false
}

// CourseScoped reports whether recipients are the students enrolled in a course.
func (e EventType) CourseScoped() bool {
	switch e {
	case EventAssignmentPublished, EventNewAnnouncement, EventNewCourseContent:
		return true
	}
	return false
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPush  Channel = "PUSH"
	ChannelInApp Channel = "IN_APP"
)

// AllChannels is the canonical channel order.
var AllChannels = []Channel{ChannelEmail, ChannelPush, ChannelInApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// Priority of a notification. Higher values sort first in pending queues.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank orders priorities for the due sweep.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Event is the transient description of something that happened in a
// collaborator subsystem. It is never persisted as such.
type Event struct {
	Type             EventType  `json:"eventType"`
	SourceEntityType string     `json:"sourceEntityType"`
	SourceEntityID   string     `json:"sourceEntityId"`
	Title            string     `json:"title"`
	Body             string     `json:"body"`
	ActionURL        string     `json:"actionUrl,omitempty"`
	Priority         Priority   `json:"priority,omitempty"`
	ScheduledAt      *time.Time `json:"scheduledAt,omitempty"`

	// Scope: CourseID for course-scoped events, UserID for user-scoped
	// events, GroupID for group messages.
	CourseID      string `json:"courseId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	GroupID       string `json:"groupId,omitempty"`
	ExcludeUserID string `json:"excludeUserId,omitempty"`
}

// Validate checks the fields the fan-out needs before any side effect.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Title == "" {
		return fmt.Errorf("event %s: title is required", e.Type)
	}
	switch {
	case e.Type.CourseScoped():
		if e.CourseID == "" {
			return fmt.Errorf("event %s: courseId is required", e.Type)
		}
	case e.Type == EventGroupMessage:
		if e.GroupID == "" {
			return fmt.Errorf("event %s: groupId is required", e.Type)
		}
	default:
		if e.UserID == "" {
			return fmt.Errorf("event %s: userId is required", e.Type)
		}
	}
	if e.Priority != "" && !e.Priority.Valid() {
		return fmt.Errorf("event %s: unknown priority %q", e.Type, e.Priority)
	}
	return nil
}

// Preference is a per-user, per-event-type, per-channel toggle.
type Preference struct {
	UserID    string    `json:"userId"`
	EventType EventType `json:"eventType"`
	Channel   Channel   `json:"channel"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeliveryRecord is the ledger entry for one notification to one user over
// one channel. Sent implies SentAt is set and ErrorMessage is nil.
type DeliveryRecord struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Title            string     `json:"title"`
	Message          string     `json:"message"`
	EventType        EventType  `json:"eventType"`
	Channel          Channel    `json:"channel"`
	Priority         Priority   `json:"priority"`
	Sent             bool       `json:"sent"`
	SentAt           *time.Time `json:"sentAt,omitempty"`
	ScheduledAt      *time.Time `json:"scheduledAt,omitempty"`
	SourceEntityType string     `json:"sourceEntityType,omitempty"`
	SourceEntityID   string     `json:"sourceEntityId,omitempty"`
	ActionURL        string     `json:"actionUrl,omitempty"`
	ErrorMessage     *string    `json:"errorMessage,omitempty"`
	RetryCount       int        `json:"retryCount"`
	ClaimedUntil     *time.Time `json:"-"`
	ExhaustedAt      *time.Time `json:"exhaustedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Due reports whether the record may be attempted at now.
func (r *DeliveryRecord) Due(now time.Time) bool {
	return r.ScheduledAt == nil || !now.Before(*r.ScheduledAt)
}

// Failed reports whether the last attempt failed and the record is unsent.
func (r *DeliveryRecord) Failed() bool {
	return !r.Sent && r.ErrorMessage != nil
}
