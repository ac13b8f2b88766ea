// Package raiseevent accepts notification events from workflow jobs, the
// event bus and the HTTP API, validates them and hands them to the Notifier.
package raiseevent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/common/logger"
	"notification-dispatcher/internal/common/validation"
	"notification-dispatcher/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// Notifier is the inbound surface of the fan-out engine.
type Notifier interface {
	OnAssignmentPublished(ctx context.Context, courseID, assignmentID, title string, dueAt *time.Time) error
	OnSubmissionGraded(ctx context.Context, studentUserID, assignmentID, assignmentTitle string, score float64) error
	OnDirectMessageSent(ctx context.Context, recipientUserID, senderName, messagePreview, conversationID string) error
	OnGroupMessageSent(ctx context.Context, groupID, senderUserID, senderName, messagePreview string) error
	OnDeadlineApproaching(ctx context.Context, studentUserID, assignmentID, assignmentTitle string, dueAt time.Time) error
	OnAnnouncementPublished(ctx context.Context, courseID, announcementID, title, body string) error
	OnCourseContentAdded(ctx context.Context, courseID, contentTitle string) error
}

type Handler struct {
	config     *Config
	registry   *registry.EventRegistry
	schemas    map[string]*validation.Schema
	notifier   Notifier
	logger     logger.Logger
	errHandler *apperrors.JobErrorHandler
}

func NewHandler(config *Config, reg *registry.EventRegistry, notifier Notifier, log logger.Logger) (*Handler, error) {
	schemas := make(map[string]*validation.Schema, len(reg.Events))
	for _, def := range reg.Events {
		if len(def.InputSchema) == 0 {
			continue
		}
		s, err := validation.Compile(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", def.Kind, err)
		}
		schemas[def.Kind] = s
	}

	log = log.Component("raise-event")
	return &Handler{
		config:     config,
		registry:   reg,
		schemas:    schemas,
		notifier:   notifier,
		logger:     log,
		errHandler: apperrors.NewJobErrorHandler(log),
	}, nil
}

// Handle processes a Zeebe job whose type is one of the registry task types.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"jobType":     job.Type,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	def, ok := h.registry.ByTaskType(job.Type)
	if !ok {
		h.errHandler.HandleJobError(ctx, client, job, apperrors.NewInvalidEventError("unknown task type "+job.Type))
		return
	}

	output, err := h.Execute(ctx, def.Kind, []byte(job.Variables))
	if err != nil {
		h.errHandler.HandleJobError(ctx, client, job, err)
		return
	}
	h.completeJob(ctx, client, job, output)
}

// HandleMessage processes a NATS message published on a registry subject.
func (h *Handler) HandleMessage(ctx context.Context, subject string, data []byte) error {
	def, ok := h.registry.BySubject(subject)
	if !ok {
		return apperrors.NewInvalidEventError("unknown subject " + subject)
	}
	_, err := h.Execute(ctx, def.Kind, data)
	return err
}

// Execute validates payload against the schema of kind and submits the
// event. It returns once the event is queued, not once it is delivered.
func (h *Handler) Execute(ctx context.Context, kind string, payload []byte) (*Output, error) {
	def, ok := h.registry.ByKind(kind)
	if !ok {
		return nil, apperrors.NewInvalidEventError(fmt.Sprintf("unknown event kind %q", kind))
	}

	if schema, ok := h.schemas[kind]; ok {
		result, err := schema.ValidateDocument(payload)
		if err != nil {
			return nil, apperrors.NewInvalidEventError(err.Error())
		}
		if !result.Valid {
			return nil, apperrors.NewInvalidEventError(strings.Join(result.GetErrorMessages(), "; "))
		}
	}

	if err := h.raise(ctx, kind, payload); err != nil {
		return nil, err
	}

	return &Output{
		Accepted:   true,
		Kind:       kind,
		EventType:  def.EventType,
		AcceptedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) raise(ctx context.Context, kind string, payload []byte) error {
	switch kind {
	case KindAssignmentPublished:
		var in AssignmentPublishedInput
		if err := decode(payload, &in); err != nil {
			return err
		}
		return h.notifier.OnAssignmentPublished(ctx, in.CourseID, in.AssignmentID, in.Title, in.DueAt)
	case KindSubmissionGraded:
		var in SubmissionGradedInput
		if err := decode(payload, &in); err != nil {
			return err
		}
		return h.notifier.OnSubmissionGraded(ctx, in.StudentUserID, in.AssignmentID, in.AssignmentTitle, in.Score)
	case KindDirectMessage:
		var in DirectMessageInput
		if err := decode(payload, &in); err != nil {
			return err
		}
		return h.notifier.OnDirectMessageSent(ctx, in.RecipientUserID, in.SenderName, in.MessagePreview, in.ConversationID)
	case KindGroupMessage:
		var in GroupMessageInput
		if err := decode(payload, &in); err != nil {
			return err
		}
		return h.notifier.OnGroupMessageSent(ctx, in.GroupID, in.SenderUserID, in.SenderName, in.MessagePreview)
	case KindDeadlineApproaching:
		var in DeadlineApproachingInput
		if err := decode(payload, &in); err != nil {
			return err
		}
		return h.notifier.OnDeadlineApproaching(ctx, in.StudentUserID, in.AssignmentID, in.AssignmentTitle, in.DueAt)
	case KindAnnouncementPublished:
		var in AnnouncementPublishedInput
		if err := decode(payload, &in); err != nil {
			return err
		}
		return h.notifier.OnAnnouncementPublished(ctx, in.CourseID, in.AnnouncementID, in.Title, in.Body)
	case KindCourseContentAdded:
		var in CourseContentAddedInput
		if err := decode(payload, &in); err != nil {
			return err
		}
		return h.notifier.OnCourseContentAdded(ctx, in.CourseID, in.ContentTitle)
	}
	return apperrors.NewInvalidEventError(fmt.Sprintf("no handler for event kind %q", kind))
}

func decode(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return apperrors.NewInvalidEventError(fmt.Sprintf("parse input: %v", err))
	}
	return nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}
