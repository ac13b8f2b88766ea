// Package recipient maps an event to the users who should hear about it.
package recipient

import (
	"context"
	"database/sql"
	"errors"

	apperrors "notification-dispatcher/internal/common/errors"
)

var ErrUserNotFound = errors.New("user not found")

// Contact is what the email channel needs to address a user.
type Contact struct {
	UserID string
	Email  string
	Name   string
}

// Directory is the read-only view of the course, group and user tables owned
// by other services.
type Directory interface {
	CourseExists(ctx context.Context, courseID string) (bool, error)
	// EnrolledStudents returns the students enrolled right now, oldest enrollment first.
	EnrolledStudents(ctx context.Context, courseID string) ([]string, error)
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	UserExists(ctx context.Context, userID string) (bool, error)
	Contact(ctx context.Context, userID string) (Contact, error)
}

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const (
	courseExistsQuery     = `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`
	enrolledStudentsQuery = `SELECT user_id FROM enrollments WHERE course_id = $1 AND role = 'STUDENT' ORDER BY enrolled_at, user_id`
	groupMembersQuery     = `SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY joined_at, user_id`
	userExistsQuery       = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`
	contactQuery          = `SELECT id, email, name FROM users WHERE id = $1`
)

func (d *PostgresDirectory) CourseExists(ctx context.Context, courseID string) (bool, error) {
	return d.exists(ctx, courseExistsQuery, "course_exists", courseID)
}

func (d *PostgresDirectory) UserExists(ctx context.Context, userID string) (bool, error) {
	return d.exists(ctx, userExistsQuery, "user_exists", userID)
}

func (d *PostgresDirectory) exists(ctx context.Context, query, name, id string) (bool, error) {
	var ok bool
	if err := d.db.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, apperrors.NewQueryExecutionFailedError(name, err)
	}
	return ok, nil
}

func (d *PostgresDirectory) EnrolledStudents(ctx context.Context, courseID string) ([]string, error) {
	return d.userIDs(ctx, enrolledStudentsQuery, "enrolled_students", courseID)
}

func (d *PostgresDirectory) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	return d.userIDs(ctx, groupMembersQuery, "group_members", groupID)
}

func (d *PostgresDirectory) userIDs(ctx context.Context, query, name, id string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError(name, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, apperrors.NewQueryExecutionFailedError(name, err)
		}
		ids = append(ids, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionFailedError(name, err)
	}
	return ids, nil
}

func (d *PostgresDirectory) Contact(ctx context.Context, userID string) (Contact, error) {
	var c Contact
	err := d.db.QueryRowContext(ctx, contactQuery, userID).Scan(&c.UserID, &c.Email, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrUserNotFound
	}
	if err != nil {
		return Contact{}, apperrors.NewQueryExecutionFailedError("user_contact", err)
	}
	return c, nil
}
