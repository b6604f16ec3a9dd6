package tasks

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Task is a module instance being answered by its editor
type Task struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	ProjectID uuid.NullUUID `db:"project_id" json:"project_id"`
	EditorID  uuid.UUID     `db:"editor_id" json:"editor_id"`
	ModuleID  string        `db:"module_id" json:"module_id"`
	Title     string        `db:"title" json:"title"`
	Notes     string        `db:"notes" json:"notes"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// URL is the task page path
func (t *Task) URL() string {
	return fmt.Sprintf("/tasks/%s/%s", t.ID, slug.Make(t.Title))
}

// CreateParams describes a new task
type CreateParams struct {
	ProjectID uuid.NullUUID
	EditorID  uuid.UUID
	ModuleID  string
	Title     string
}
