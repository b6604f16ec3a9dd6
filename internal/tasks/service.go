package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliuyar1234/guidedq/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrTaskNotFound is returned when a task does not exist
var ErrTaskNotFound = errors.New("task not found")

// Service provides task persistence
type Service struct {
	q db.DBTX
}

// NewService creates a task service over a pool or transaction
func NewService(q db.DBTX) *Service {
	return &Service{q: q}
}

const taskColumns = `id, project_id, editor_id, module_id, title, notes, created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.EditorID, &t.ModuleID, &t.Title, &t.Notes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return &t, nil
}

// Create inserts a task owned by params.EditorID
func (s *Service) Create(ctx context.Context, params CreateParams) (*Task, error) {
	t, err := scanTask(s.q.QueryRow(ctx, `
		INSERT INTO tasks (project_id, editor_id, module_id, title)
		VALUES ($1, $2, $3, $4)
		RETURNING `+taskColumns,
		params.ProjectID, params.EditorID, params.ModuleID, params.Title))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return t, nil
}

// GetByID loads a task
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	return scanTask(s.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetForUpdate loads a task and locks its row until the transaction ends
func (s *Service) GetForUpdate(ctx context.Context, id uuid.UUID) (*Task, error) {
	return scanTask(s.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// SetEditor hands the task to a new editor
func (s *Service) SetEditor(ctx context.Context, id, editorID uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE tasks SET editor_id = $2, updated_at = NOW()
		WHERE id = $1
	`, id, editorID)
	if err != nil {
		return fmt.Errorf("failed to update task editor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListByProject returns the project's tasks, newest first
func (s *Service) ListByProject(ctx context.Context, projectID uuid.UUID) ([]Task, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id = $1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
