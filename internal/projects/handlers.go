package projects

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aliuyar1234/guidedq/internal/apperrors"
	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// CreateRequest represents the request to create a project
type CreateRequest struct {
	Title string `json:"title" validate:"required,max=256"`
	Notes string `json:"notes" validate:"max=4096"`
}

// HandleCreate handles POST /api/v1/projects
func HandleCreate(pool *pgxpool.Pool, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if fields := validation.Struct(req); fields != nil {
			apperrors.WriteValidationError(w, r, fields)
			return
		}

		project, err := NewService(pool).CreateWithAdmin(ctx, req.Title, req.Notes, userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to create project")
			apperrors.WriteInternalError(w, r, "Failed to create project")
			return
		}

		if err := auditor.LogProjectCreated(ctx, project.ID, userID, project.Title); err != nil {
			log.Error().Err(err).Str("project_id", project.ID.String()).Msg("Failed to create audit log")
		}

		log.Info().
			Str("project_id", project.ID.String()).
			Str("user_id", userID.String()).
			Msg("Project created")

		apperrors.WriteSuccess(w, r, http.StatusCreated, ProjectWithRole{Project: *project, IsAdmin: true, URL: project.URL()})
	}
}

// HandleList handles GET /api/v1/projects
func HandleList(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		projects, err := NewService(pool).ListUserProjects(r.Context(), userID)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to list projects")
			apperrors.WriteInternalError(w, r, "Failed to list projects")
			return
		}
		if projects == nil {
			projects = []ProjectWithRole{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"projects": projects,
		})
	}
}

// HandleListMembers handles GET /api/v1/projects/{project_id}/members
func HandleListMembers(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := requireProjectMember(w, r, pool)
		if !ok {
			return
		}

		members, err := NewService(pool).ListMembers(r.Context(), projectID)
		if err != nil {
			log.Error().Err(err).Str("project_id", projectID.String()).Msg("Failed to list members")
			apperrors.WriteInternalError(w, r, "Failed to list members")
			return
		}
		if members == nil {
			members = []MemberInfo{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"members": members,
		})
	}
}

// HandleListAuditLog handles GET /api/v1/projects/{project_id}/audit
func HandleListAuditLog(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := requireProjectMember(w, r, pool)
		if !ok {
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}

		items, err := audit.NewReader(pool).ListByProject(r.Context(), projectID, limit)
		if err != nil {
			log.Error().Err(err).Str("project_id", projectID.String()).Msg("Failed to list audit log")
			apperrors.WriteInternalError(w, r, "Failed to list audit log")
			return
		}
		if items == nil {
			items = []audit.ListItem{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"events": items,
		})
	}
}

// requireProjectMember parses {project_id} and checks the caller belongs to it.
// Non-members get a 404 so project existence is not leaked.
func requireProjectMember(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool) (uuid.UUID, bool) {
	projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid project ID")
		return uuid.Nil, false
	}

	_, err = NewService(pool).RequireMember(r.Context(), auth.GetUserID(r.Context()), projectID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			apperrors.WriteNotFound(w, r, "Project not found")
			return uuid.Nil, false
		}
		log.Error().Err(err).Msg("Failed to check project membership")
		apperrors.WriteInternalError(w, r, "Failed to check permissions")
		return uuid.Nil, false
	}
	return projectID, true
}
