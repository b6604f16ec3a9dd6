package invitations

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aliuyar1234/guidedq/internal/apperrors"
	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/projects"
	"github.com/aliuyar1234/guidedq/internal/validation"
	"github.com/aliuyar1234/guidedq/internal/web"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CreateRequest represents the request to create and send an invitation
type CreateRequest struct {
	ProjectID        uuid.UUID  `json:"project_id" validate:"required"`
	PromptTaskID     *uuid.UUID `json:"prompt_task_id"`
	PromptQuestionID string     `json:"prompt_question_id" validate:"omitempty,identifier"`

	ToUserID *uuid.UUID `json:"to_user_id" validate:"required_without=ToEmail,excluded_with=ToEmail"`
	ToEmail  string     `json:"to_email" validate:"omitempty,email,max=256"`

	Text string `json:"text" validate:"max=4096"`

	IntoProject          bool       `json:"into_project"`
	IntoNewTaskModuleID  string     `json:"into_new_task_module_id" validate:"omitempty,identifier"`
	IntoTaskEditorshipID *uuid.UUID `json:"into_task_editorship_id"`
	IntoDiscussionID     *uuid.UUID `json:"into_discussion_id"`
}

// InvitationResponse represents an invitation in API responses
type InvitationResponse struct {
	*Invitation
	State     State  `json:"state"`
	AcceptURL string `json:"accept_url,omitempty"`
	Sent      bool   `json:"sent"`
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil || *id == uuid.Nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// writeServiceError maps lifecycle errors onto the API envelope
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, ErrInvitationNotFound):
		apperrors.WriteNotFound(w, r, "Invitation not found")
	case errors.Is(err, projects.ErrNotMember):
		apperrors.WriteNotFound(w, r, "Project not found")
	case errors.Is(err, projects.ErrInsufficientPermissions):
		apperrors.WriteForbidden(w, r, "Only the sender or a project admin can do this")
	case errors.Is(err, ErrInvalidRecipient):
		apperrors.WriteValidationError(w, r, map[string]string{"to": err.Error()})
	case errors.Is(err, ErrNoTarget):
		apperrors.WriteValidationError(w, r, map[string]string{"into": err.Error()})
	case errors.Is(err, ErrTextTooLong):
		apperrors.WriteValidationError(w, r, map[string]string{"text": err.Error()})
	case errors.Is(err, ErrInvalidTarget):
		apperrors.WriteValidationError(w, r, map[string]string{"into": err.Error()})
	case errors.Is(err, ErrNotRevocable), errors.Is(err, ErrNotSendable):
		apperrors.WriteConflict(w, r, err.Error())
	case errors.Is(err, ErrDispatchFailed):
		apperrors.WriteServiceUnavailable(w, r, "Failed to send invitation email, try again later")
	default:
		log.Error().Err(err).Msg("Failed to " + action)
		apperrors.WriteInternalError(w, r, "Failed to "+action)
	}
}

// HandleCreate handles POST /api/v1/invitations
func HandleCreate(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		req.ToEmail = strings.TrimSpace(req.ToEmail)
		if fields := validation.Struct(req); fields != nil {
			apperrors.WriteValidationError(w, r, fields)
			return
		}

		inv, err := svc.Create(ctx, CreateParams{
			FromUserID:           userID,
			FromProjectID:        req.ProjectID,
			PromptTaskID:         nullUUID(req.PromptTaskID),
			PromptQuestionID:     req.PromptQuestionID,
			ToUserID:             nullUUID(req.ToUserID),
			ToEmail:              req.ToEmail,
			Text:                 req.Text,
			IntoProject:          req.IntoProject,
			IntoNewTaskModuleID:  req.IntoNewTaskModuleID,
			IntoTaskEditorshipID: nullUUID(req.IntoTaskEditorshipID),
			IntoDiscussionID:     nullUUID(req.IntoDiscussionID),
		})
		if err != nil {
			writeServiceError(w, r, err, "create invitation")
			return
		}

		recipient := deref(inv.ToEmail)
		if inv.ToUserID.Valid {
			recipient = inv.ToUserID.UUID.String()
		}
		if err := auditor.LogInvitationCreated(ctx, inv.FromProjectID, userID, inv.ID, recipient); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		// A failed dispatch leaves the invitation unsent; maintenance or a
		// manual resend retries it.
		sent := true
		if err := svc.Send(ctx, inv); err != nil {
			sent = false
			if !errors.Is(err, ErrDispatchFailed) {
				log.Error().Err(err).Str("invitation_id", inv.ID.String()).Msg("Failed to send invitation")
			}
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, map[string]any{
			"invitation": InvitationResponse{
				Invitation: inv,
				State:      inv.State(svc.now()),
				Sent:       sent,
			},
		})
	}
}

func parseInvitationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "invitation_id"))
	if err != nil {
		apperrors.WriteBadRequest(w, r, "Invalid invitation ID")
		return uuid.Nil, false
	}
	return id, true
}

// HandleCancel handles POST /api/v1/invitations/{invitation_id}/cancel
func HandleCancel(svc *Service, auditor *audit.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		invitationID, ok := parseInvitationID(w, r)
		if !ok {
			return
		}

		inv, err := svc.Revoke(ctx, userID, invitationID)
		if err != nil {
			writeServiceError(w, r, err, "revoke invitation")
			return
		}

		if err := auditor.LogInvitationRevoked(ctx, inv.FromProjectID, userID, inv.ID); err != nil {
			log.Error().Err(err).Msg("Failed to log audit event")
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"revoked": true,
		})
	}
}

// HandleResend handles POST /api/v1/invitations/{invitation_id}/resend
func HandleResend(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		invitationID, ok := parseInvitationID(w, r)
		if !ok {
			return
		}

		inv, err := svc.Resend(ctx, userID, invitationID)
		if err != nil {
			writeServiceError(w, r, err, "resend invitation")
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invitation": InvitationResponse{
				Invitation: inv,
				State:      inv.State(svc.now()),
				Sent:       true,
			},
		})
	}
}

// HandleList handles GET /api/v1/projects/{project_id}/invitations
func HandleList(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := auth.GetUserID(ctx)

		projectID, err := uuid.Parse(chi.URLParam(r, "project_id"))
		if err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid project ID")
			return
		}

		items, err := svc.ListOpen(ctx, userID, projectID)
		if err != nil {
			writeServiceError(w, r, err, "list invitations")
			return
		}
		if items == nil {
			items = []ListItem{}
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"invitations": items,
		})
	}
}

// HandleAccept handles GET /invitation/accept/{code}. It applies the session
// changes the acceptance asks for, queues its messages and redirects.
func HandleAccept(svc *Service, sessions auth.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		code := chi.URLParam(r, "code")

		out, err := svc.Accept(ctx, code, auth.GetUserID(ctx))
		if out == nil {
			if errors.Is(err, ErrInvitationNotFound) {
				apperrors.WriteNotFound(w, r, "Invitation not found")
				return
			}
			log.Error().Err(err).Msg("Failed to accept invitation")
			apperrors.WriteInternalError(w, r, "Failed to accept invitation")
			return
		}
		if err != nil {
			log.Info().Err(err).Msg("Invitation not accepted")
		}

		if out.Logout && out.LoginAs == nil {
			sessions.Logout(w)
		}
		if out.LoginAs != nil {
			if err := sessions.Login(w, out.LoginAs.ID); err != nil {
				log.Error().Err(err).Msg("Failed to create session")
				apperrors.WriteInternalError(w, r, "Failed to create session")
				return
			}
		}

		web.AddFlash(w, r, sessions.IsProduction, out.Messages...)
		http.Redirect(w, r, out.Redirect, http.StatusSeeOther)
	}
}
