package projects

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Project is a workspace in which members complete tasks together
type Project struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Title           string    `db:"title" json:"title"`
	Notes           string    `db:"notes" json:"notes"`
	CreatedByUserID uuid.UUID `db:"created_by_user_id" json:"created_by_user_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// URL is the project homepage path
func (p *Project) URL() string {
	return fmt.Sprintf("/projects/%s/%s", p.ID, slug.Make(p.Title))
}

// Membership grants a user access to a project
type Membership struct {
	ProjectID uuid.UUID `db:"project_id" json:"project_id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	IsAdmin   bool      `db:"is_admin" json:"is_admin"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MemberInfo represents a member of a project with their details
type MemberInfo struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Email     string    `db:"email" json:"email"`
	IsAdmin   bool      `db:"is_admin" json:"is_admin"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProjectWithRole combines a project with the caller's admin flag
type ProjectWithRole struct {
	Project
	IsAdmin bool `json:"is_admin"`
	URL     string `json:"url"`
}
