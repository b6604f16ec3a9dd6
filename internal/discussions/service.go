package discussions

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliuyar1234/guidedq/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrDiscussionNotFound is returned when a discussion does not exist
var ErrDiscussionNotFound = errors.New("discussion not found")

// Service provides discussion persistence
type Service struct {
	q db.DBTX
}

// NewService creates a discussion service over a pool or transaction
func NewService(q db.DBTX) *Service {
	return &Service{q: q}
}

// GetByID loads a discussion along with its task title
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Discussion, error) {
	var d Discussion
	err := s.q.QueryRow(ctx, `
		SELECT d.id, d.project_id, d.task_id, d.question_id, t.title, d.created_at
		FROM discussions d
		INNER JOIN tasks t ON t.id = d.task_id
		WHERE d.id = $1
	`, id).Scan(&d.ID, &d.ProjectID, &d.TaskID, &d.QuestionID, &d.TaskTitle, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDiscussionNotFound
		}
		return nil, fmt.Errorf("failed to get discussion: %w", err)
	}
	return &d, nil
}

// Find loads the discussion for a task question without creating it
func (s *Service) Find(ctx context.Context, taskID uuid.UUID, questionID string) (*Discussion, error) {
	var id uuid.UUID
	err := s.q.QueryRow(ctx, `
		SELECT id FROM discussions WHERE task_id = $1 AND question_id = $2
	`, taskID, questionID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDiscussionNotFound
		}
		return nil, fmt.Errorf("failed to find discussion: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetOrCreate returns the discussion for a task question, creating it on first use
func (s *Service) GetOrCreate(ctx context.Context, projectID, taskID uuid.UUID, questionID string) (*Discussion, error) {
	var id uuid.UUID
	err := s.q.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO discussions (project_id, task_id, question_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (task_id, question_id) DO NOTHING
			RETURNING id
		)
		SELECT id FROM ins
		UNION ALL
		SELECT id FROM discussions WHERE task_id = $2 AND question_id = $3
		LIMIT 1
	`, projectID, taskID, questionID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// a concurrent insert committed after this statement's snapshot
		err = s.q.QueryRow(ctx, `
			SELECT id FROM discussions WHERE task_id = $1 AND question_id = $2
		`, taskID, questionID).Scan(&id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create discussion: %w", err)
	}
	return s.GetByID(ctx, id)
}

// IsParticipant reports whether the user is a member of the discussion's
// project or one of its external participants
func (s *Service) IsParticipant(ctx context.Context, d *Discussion, userID uuid.UUID) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM project_memberships WHERE project_id = $1 AND user_id = $3
		) OR EXISTS (
			SELECT 1 FROM discussion_external_participants WHERE discussion_id = $2 AND user_id = $3
		)
	`, d.ProjectID, d.ID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check discussion participant: %w", err)
	}
	return ok, nil
}

// AddExternalParticipant lets a non-member take part in the discussion.
// Returns false when the user was already an external participant.
func (s *Service) AddExternalParticipant(ctx context.Context, discussionID, userID uuid.UUID) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO discussion_external_participants (discussion_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (discussion_id, user_id) DO NOTHING
	`, discussionID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to add discussion participant: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
