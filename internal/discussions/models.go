package discussions

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Discussion is a comment thread attached to one question of a task
type Discussion struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ProjectID  uuid.UUID `db:"project_id" json:"project_id"`
	TaskID     uuid.UUID `db:"task_id" json:"task_id"`
	QuestionID string    `db:"question_id" json:"question_id"`
	TaskTitle  string    `db:"task_title" json:"task_title"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Title names the discussion by its task and question
func (d *Discussion) Title() string {
	return fmt.Sprintf("%s (%s)", d.TaskTitle, d.QuestionID)
}

// URL is the path of the question page that hosts the discussion
func (d *Discussion) URL() string {
	return fmt.Sprintf("/tasks/%s/%s/question/%s", d.TaskID, slug.Make(d.TaskTitle), d.QuestionID)
}
