package raiseevent

import "time"

// Payloads, one per event kind. Field names match the registry input schemas.

type AssignmentPublishedInput struct {
	CourseID     string     `json:"courseId"`
	AssignmentID string     `json:"assignmentId"`
	Title        string     `json:"title"`
	DueAt        *time.Time `json:"dueAt,omitempty"`
}

type SubmissionGradedInput struct {
	StudentUserID   string  `json:"studentUserId"`
	AssignmentID    string  `json:"assignmentId"`
	AssignmentTitle string  `json:"assignmentTitle"`
	Score           float64 `json:"score"`
}

type DirectMessageInput struct {
	RecipientUserID string `json:"recipientUserId"`
	SenderName      string `json:"senderName"`
	MessagePreview  string `json:"messagePreview"`
	ConversationID  string `json:"conversationId"`
}

type GroupMessageInput struct {
	GroupID        string `json:"groupId"`
	SenderUserID   string `json:"senderUserId"`
	SenderName     string `json:"senderName"`
	MessagePreview string `json:"messagePreview"`
}

type DeadlineApproachingInput struct {
	StudentUserID   string    `json:"studentUserId"`
	AssignmentID    string    `json:"assignmentId"`
	AssignmentTitle string    `json:"assignmentTitle"`
	DueAt           time.Time `json:"dueAt"`
}

type AnnouncementPublishedInput struct {
	CourseID       string `json:"courseId"`
	AnnouncementID string `json:"announcementId"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

type CourseContentAddedInput struct {
	CourseID     string `json:"courseId"`
	ContentTitle string `json:"contentTitle"`
}

// Output is returned to the workflow and to request/reply callers.
type Output struct {
	Accepted   bool   `json:"accepted"`
	Kind       string `json:"kind"`
	EventType  string `json:"eventType"`
	AcceptedAt string `json:"acceptedAt"` // ISO 8601
}

// Event kinds
const (
	KindAssignmentPublished   = "assignment-published"
	KindSubmissionGraded      = "submission-graded"
	KindDirectMessage         = "direct-message"
	KindGroupMessage          = "group-message"
	KindDeadlineApproaching   = "deadline-approaching"
	KindAnnouncementPublished = "announcement-published"
	KindCourseContentAdded    = "course-content-added"
)
