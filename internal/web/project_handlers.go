package web

import (
	"errors"
	"net/http"

	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/discussions"
	"github.com/aliuyar1234/guidedq/internal/modules"
	"github.com/aliuyar1234/guidedq/internal/projects"
	"github.com/aliuyar1234/guidedq/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// page fills the fields every signed-in page shares and pops queued messages
func page(w http.ResponseWriter, r *http.Request, isProduction bool, title string, data map[string]any) *TemplateData {
	userID := auth.GetUserID(r.Context())
	return &TemplateData{
		Title:           title,
		UserID:          userID,
		IsAuthenticated: userID != uuid.Nil,
		Messages:        PopFlash(w, r, isProduction),
		Data:            data,
	}
}

func internalError(w http.ResponseWriter, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// HandleHomePage renders the landing page: the visitor's projects, or links
// to sign in when anonymous
func HandleHomePage(pool *pgxpool.Pool, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.GetUserID(r.Context())

		var list []projects.ProjectWithRole
		if userID != uuid.Nil {
			var err error
			list, err = projects.NewService(pool).ListUserProjects(r.Context(), userID)
			if err != nil {
				internalError(w, err, "Failed to list projects")
				return
			}
		}

		RenderTemplate(w, r, "home.html", page(w, r, isProduction, "Home", map[string]any{
			"Projects": list,
		}))
	}
}

// HandleProjectPage renders /projects/{project_id}/{slug}
func HandleProjectPage(pool *pgxpool.Pool, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
		if err != nil {
			http.Error(w, "Invalid project ID", http.StatusBadRequest)
			return
		}

		projectService := projects.NewService(pool)
		membership, err := projectService.RequireMember(ctx, userID, projectID)
		if err != nil {
			if errors.Is(err, projects.ErrNotMember) {
				http.Error(w, "Project not found", http.StatusNotFound)
				return
			}
			internalError(w, err, "Failed to check project membership")
			return
		}

		project, err := projectService.GetByID(ctx, projectID)
		if err != nil {
			internalError(w, err, "Failed to get project")
			return
		}
		members, err := projectService.ListMembers(ctx, projectID)
		if err != nil {
			internalError(w, err, "Failed to list members")
			return
		}
		taskList, err := tasks.NewService(pool).ListByProject(ctx, projectID)
		if err != nil {
			internalError(w, err, "Failed to list tasks")
			return
		}

		RenderTemplate(w, r, "project.html", page(w, r, isProduction, project.Title, map[string]any{
			"Project": project,
			"IsAdmin": membership.IsAdmin,
			"Members": members,
			"Tasks":   taskList,
		}))
	}
}

// loadVisibleTask loads {task_id} if the visitor edits it or belongs to its project
func loadVisibleTask(w http.ResponseWriter, r *http.Request, pool *pgxpool.Pool) (*tasks.Task, bool) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)

	taskID, err := uuid.Parse(chi.URLParam(r, "task_id"))
	if err != nil {
		http.Error(w, "Invalid task ID", http.StatusBadRequest)
		return nil, false
	}

	task, err := tasks.NewService(pool).GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			http.Error(w, "Task not found", http.StatusNotFound)
			return nil, false
		}
		internalError(w, err, "Failed to get task")
		return nil, false
	}
	if task.EditorID == userID {
		return task, true
	}
	if task.ProjectID.Valid {
		ok, err := projects.NewService(pool).IsMember(ctx, task.ProjectID.UUID, userID)
		if err != nil {
			internalError(w, err, "Failed to check project membership")
			return nil, false
		}
		if ok {
			return task, true
		}
	}
	http.Error(w, "Task not found", http.StatusNotFound)
	return nil, false
}

// HandleTaskPage renders /tasks/{task_id}/{slug}
func HandleTaskPage(pool *pgxpool.Pool, catalog modules.Loader, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, ok := loadVisibleTask(w, r, pool)
		if !ok {
			return
		}

		module, err := catalog.Load(task.ModuleID)
		if err != nil {
			internalError(w, err, "Failed to load module")
			return
		}

		RenderTemplate(w, r, "task.html", page(w, r, isProduction, task.Title, map[string]any{
			"Task":     task,
			"TaskURL":  task.URL(),
			"Module":   module,
			"IsEditor": task.EditorID == auth.GetUserID(r.Context()),
		}))
	}
}

// HandleDiscussionPage renders /tasks/{task_id}/{slug}/question/{question_id}.
// External participants see the discussion without the rest of the task.
func HandleDiscussionPage(pool *pgxpool.Pool, catalog modules.Loader, isProduction bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		taskID, err := uuid.Parse(chi.URLParam(r, "task_id"))
		if err != nil {
			http.Error(w, "Invalid task ID", http.StatusBadRequest)
			return
		}
		questionID := chi.URLParam(r, "question_id")

		discussionService := discussions.NewService(pool)
		d, err := discussionService.Find(ctx, taskID, questionID)
		if err != nil {
			if errors.Is(err, discussions.ErrDiscussionNotFound) {
				http.Error(w, "Discussion not found", http.StatusNotFound)
				return
			}
			internalError(w, err, "Failed to get discussion")
			return
		}

		ok, err := discussionService.IsParticipant(ctx, d, userID)
		if err != nil {
			internalError(w, err, "Failed to check discussion participant")
			return
		}
		if !ok {
			http.Error(w, "Discussion not found", http.StatusNotFound)
			return
		}

		task, err := tasks.NewService(pool).GetByID(ctx, d.TaskID)
		if err != nil {
			internalError(w, err, "Failed to get task")
			return
		}
		var question *modules.Question
		if module, err := catalog.Load(task.ModuleID); err == nil {
			question, _ = module.Question(d.QuestionID)
		}

		RenderTemplate(w, r, "discussion.html", page(w, r, isProduction, d.Title(), map[string]any{
			"Discussion": d,
			"Question":   question,
			"TaskURL":    task.URL(),
		}))
	}
}
