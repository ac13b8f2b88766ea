package recipient

import (
	"context"

	apperrors "notification-dispatcher/internal/common/errors"
	"notification-dispatcher/internal/models"
)

type Resolver struct {
	directory Directory
}

func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// ResolveRecipients returns the deduplicated user ids an event targets, in
// the order the directory returns them. Course-scoped events read the
// enrollment list at call time. A course or user that no longer exists is a
// recipient resolution error; an empty result is not an error.
func (r *Resolver) ResolveRecipients(ctx context.Context, event models.Event) ([]string, error) {
	switch {
	case event.Type.CourseScoped():
		ok, err := r.directory.CourseExists(ctx, event.CourseID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperrors.NewRecipientResolutionError("course", event.CourseID, nil)
		}
		students, err := r.directory.EnrolledStudents(ctx, event.CourseID)
		if err != nil {
			return nil, err
		}
		return dedupe(students, ""), nil

	case event.Type == models.EventGroupMessage:
		members, err := r.directory.GroupMembers(ctx, event.GroupID)
		if err != nil {
			return nil, err
		}
		return dedupe(members, event.ExcludeUserID), nil

	default:
		ok, err := r.directory.UserExists(ctx, event.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperrors.NewRecipientResolutionError("user", event.UserID, nil)
		}
		return []string{event.UserID}, nil
	}
}

func dedupe(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
