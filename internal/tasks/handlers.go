package tasks

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aliuyar1234/guidedq/internal/apperrors"
	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/modules"
	"github.com/aliuyar1234/guidedq/internal/projects"
	"github.com/aliuyar1234/guidedq/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// StartRequest represents the request to start a task
type StartRequest struct {
	ModuleID string `json:"module_id" validate:"required,identifier"`
	Title    string `json:"title" validate:"max=256"`
}

// TaskResponse represents a task in API responses
type TaskResponse struct {
	*Task
	URL string `json:"url"`
}

// HandleStart handles POST /api/v1/projects/{project_id}/tasks
func HandleStart(pool *pgxpool.Pool, auditor *audit.Writer, catalog modules.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		if _, err := projects.NewService(pool).RequireMember(ctx, userID, projectID); err != nil {
			if errors.Is(err, projects.ErrNotMember) {
				apperrors.WriteNotFound(w, r, "Project not found")
				return
			}
			log.Error().Err(err).Msg("Failed to check project membership")
			apperrors.WriteInternalError(w, r, "Failed to check permissions")
			return
		}

		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		if fields := validation.Struct(req); fields != nil {
			apperrors.WriteValidationError(w, r, fields)
			return
		}

		module, err := catalog.Load(req.ModuleID)
		if err != nil {
			if errors.Is(err, modules.ErrModuleNotFound) {
				apperrors.WriteValidationError(w, r, map[string]string{"module_id": "unknown module"})
				return
			}
			log.Error().Err(err).Str("module_id", req.ModuleID).Msg("Failed to load module")
			apperrors.WriteInternalError(w, r, "Failed to load module")
			return
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = module.Title
		}

		task, err := NewService(pool).Create(ctx, CreateParams{
			ProjectID: uuid.NullUUID{UUID: projectID, Valid: true},
			EditorID:  userID,
			ModuleID:  module.ID,
			Title:     title,
		})
		if err != nil {
			log.Error().Err(err).Str("project_id", projectID.String()).Msg("Failed to create task")
			apperrors.WriteInternalError(w, r, "Failed to create task")
			return
		}

		if err := auditor.LogTaskCreated(ctx, projectID, task.ID, userID, module.ID); err != nil {
			log.Error().Err(err).Str("task_id", task.ID.String()).Msg("Failed to create audit log")
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, TaskResponse{Task: task, URL: task.URL()})
	}
}
