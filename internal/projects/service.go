package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliuyar1234/guidedq/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

var (
	// ErrProjectNotFound is returned when a project is not found
	ErrProjectNotFound = errors.New("project not found")

	// ErrNotMember is returned when a user is not a member of a project
	ErrNotMember = errors.New("user is not a member of this project")

	// ErrInsufficientPermissions is returned when a user lacks required permissions
	ErrInsufficientPermissions = errors.New("insufficient permissions")
)

// Service provides project-related operations
type Service struct {
	q db.DBTX
}

// NewService creates a project service over a pool or transaction
func NewService(q db.DBTX) *Service {
	return &Service{q: q}
}

// GetByID retrieves a project by ID
func (s *Service) GetByID(ctx context.Context, projectID uuid.UUID) (*Project, error) {
	var p Project
	err := s.q.QueryRow(ctx, `
		SELECT id, title, notes, created_by_user_id, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, projectID).Scan(&p.ID, &p.Title, &p.Notes, &p.CreatedByUserID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// CreateWithAdmin creates a project and makes the creator an admin member.
// Both rows are written by one statement.
func (s *Service) CreateWithAdmin(ctx context.Context, title, notes string, userID uuid.UUID) (*Project, error) {
	var p Project
	err := s.q.QueryRow(ctx, `
		WITH p AS (
			INSERT INTO projects (title, notes, created_by_user_id)
			VALUES ($1, $2, $3)
			RETURNING id, title, notes, created_by_user_id, created_at, updated_at
		), m AS (
			INSERT INTO project_memberships (project_id, user_id, is_admin)
			SELECT id, $3, TRUE FROM p
		)
		SELECT id, title, notes, created_by_user_id, created_at, updated_at FROM p
	`, title, notes, userID).Scan(&p.ID, &p.Title, &p.Notes, &p.CreatedByUserID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return &p, nil
}

// ListUserProjects retrieves all projects a user belongs to
func (s *Service) ListUserProjects(ctx context.Context, userID uuid.UUID) ([]ProjectWithRole, error) {
	rows, err := s.q.Query(ctx, `
		SELECT p.id, p.title, p.notes, p.created_by_user_id, p.created_at, p.updated_at, m.is_admin
		FROM projects p
		INNER JOIN project_memberships m ON p.id = m.project_id
		WHERE m.user_id = $1
		ORDER BY p.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user projects: %w", err)
	}
	defer rows.Close()

	var projects []ProjectWithRole
	for rows.Next() {
		var p ProjectWithRole
		if err := rows.Scan(&p.ID, &p.Title, &p.Notes, &p.CreatedByUserID, &p.CreatedAt, &p.UpdatedAt, &p.IsAdmin); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.URL = p.Project.URL()
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}

	return projects, nil
}

// AddMember grants membership. An existing membership is left untouched and
// reported with added=false.
func (s *Service) AddMember(ctx context.Context, projectID, userID uuid.UUID, isAdmin bool) (added bool, err error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO project_memberships (project_id, user_id, is_admin)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, projectID, userID, isAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to create membership: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetMembership returns the user's membership, or ErrNotMember
func (s *Service) GetMembership(ctx context.Context, projectID, userID uuid.UUID) (*Membership, error) {
	var m Membership
	err := s.q.QueryRow(ctx, `
		SELECT project_id, user_id, is_admin, created_at
		FROM project_memberships
		WHERE project_id = $1 AND user_id = $2
	`, projectID, userID).Scan(&m.ProjectID, &m.UserID, &m.IsAdmin, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("failed to check project membership: %w", err)
	}
	return &m, nil
}

// IsMember reports whether the user belongs to the project
func (s *Service) IsMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	_, err := s.GetMembership(ctx, projectID, userID)
	if errors.Is(err, ErrNotMember) {
		return false, nil
	}
	return err == nil, err
}

// RequireMember returns the membership or ErrNotMember
func (s *Service) RequireMember(ctx context.Context, userID, projectID uuid.UUID) (*Membership, error) {
	m, err := s.GetMembership(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			log.Debug().
				Str("user_id", userID.String()).
				Str("project_id", projectID.String()).
				Msg("RBAC: User is not a member of project")
		}
		return nil, err
	}
	return m, nil
}

// RequireAdmin returns ErrInsufficientPermissions for non-admin members
func (s *Service) RequireAdmin(ctx context.Context, userID, projectID uuid.UUID) (*Membership, error) {
	m, err := s.RequireMember(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if !m.IsAdmin {
		log.Warn().
			Str("user_id", userID.String()).
			Str("project_id", projectID.String()).
			Msg("RBAC: Insufficient permissions")
		return m, ErrInsufficientPermissions
	}
	return m, nil
}

// ListMembers retrieves all members of a project
func (s *Service) ListMembers(ctx context.Context, projectID uuid.UUID) ([]MemberInfo, error) {
	rows, err := s.q.Query(ctx, `
		SELECT m.user_id, u.email, m.is_admin, m.created_at
		FROM project_memberships m
		INNER JOIN users u ON m.user_id = u.id
		WHERE m.project_id = $1
		ORDER BY m.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []MemberInfo
	for rows.Next() {
		var member MemberInfo
		if err := rows.Scan(&member.UserID, &member.Email, &member.IsAdmin, &member.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return members, nil
}
