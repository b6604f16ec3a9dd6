package discussions

import (
	"errors"
	"net/http"

	"github.com/aliuyar1234/guidedq/internal/apperrors"
	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/modules"
	"github.com/aliuyar1234/guidedq/internal/projects"
	"github.com/aliuyar1234/guidedq/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DiscussionResponse represents a discussion in API responses
type DiscussionResponse struct {
	*Discussion
	Title string `json:"title"`
	URL   string `json:"url"`
}

// HandleGetOrCreate handles POST /api/v1/tasks/{task_id}/questions/{question_id}/discussion
func HandleGetOrCreate(pool *pgxpool.Pool, catalog modules.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		taskID, err := uuid.Parse(chi.URLParam(r, "task_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid task ID")
			return
		}
		questionID := chi.URLParam(r, "question_id")

		task, err := tasks.NewService(pool).GetByID(ctx, taskID)
		if err != nil {
			if errors.Is(err, tasks.ErrTaskNotFound) {
				apperrors.WriteNotFound(w, r, "Task not found")
				return
			}
			log.Error().Err(err).Str("task_id", taskID.String()).Msg("Failed to load task")
			apperrors.WriteInternalError(w, r, "Failed to load task")
			return
		}
		if !task.ProjectID.Valid {
			apperrors.WriteBadRequest(w, r, "Task does not belong to a project")
			return
		}

		if _, err := projects.NewService(pool).RequireMember(ctx, userID, task.ProjectID.UUID); err != nil {
			if errors.Is(err, projects.ErrNotMember) {
				apperrors.WriteNotFound(w, r, "Task not found")
				return
			}
			log.Error().Err(err).Msg("Failed to check project membership")
			apperrors.WriteInternalError(w, r, "Failed to check permissions")
			return
		}

		module, err := catalog.Load(task.ModuleID)
		if err != nil {
			log.Error().Err(err).Str("module_id", task.ModuleID).Msg("Failed to load module")
			apperrors.WriteInternalError(w, r, "Failed to load module")
			return
		}
		if _, ok := module.Question(questionID); !ok {
			apperrors.WriteNotFound(w, r, "Question not found")
			return
		}

		d, err := NewService(pool).GetOrCreate(ctx, task.ProjectID.UUID, task.ID, questionID)
		if err != nil {
			log.Error().Err(err).Str("task_id", taskID.String()).Msg("Failed to get discussion")
			apperrors.WriteInternalError(w, r, "Failed to get discussion")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, DiscussionResponse{Discussion: d, Title: d.Title(), URL: d.URL()})
	}
}
