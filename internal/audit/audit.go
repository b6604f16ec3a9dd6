package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aliuyar1234/guidedq/internal/db"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	EventUserSignup                 = "user.signup"
	EventLoginFailed                = "auth.login_failed"
	EventProjectCreated             = "project.created"
	EventProjectMemberAdded         = "project.member_added"
	EventTaskCreated                = "task.created"
	EventTaskEditorChanged          = "task.editor_changed"
	EventDiscussionParticipantAdded = "discussion.participant_added"
	EventInvitationCreated          = "invitation.created"
	EventInvitationSent             = "invitation.sent"
	EventInvitationSendFailed       = "invitation.send_failed"
	EventInvitationRevoked          = "invitation.revoked"
	EventInvitationAccepted         = "invitation.accepted"
)

// Event represents an audit log entry.
type Event struct {
	ID          uuid.UUID              `db:"id"`
	ProjectID   uuid.NullUUID          `db:"project_id"`
	ActorUserID uuid.NullUUID          `db:"actor_user_id"`
	Action      string                 `db:"action"`
	Meta        map[string]interface{} `db:"meta"`
	CreatedAt   time.Time              `db:"created_at"`
}

// Writer provides methods to write audit log entries.
type Writer struct {
	q db.DBTX
}

// NewWriter creates a writer over a pool, or over a transaction so entries commit with it.
func NewWriter(q db.DBTX) *Writer {
	return &Writer{q: q}
}

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	ProjectID   *uuid.UUID
	ActorUserID *uuid.UUID
	Action      string
	Meta        map[string]interface{}
}

func (w *Writer) Log(ctx context.Context, params LogParams) error {
	metaJSON := []byte("{}")
	if params.Meta != nil {
		b, err := json.Marshal(params.Meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit meta")
			return err
		}
		metaJSON = b
	}

	query := `
		INSERT INTO audit_log (project_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4)
	`

	_, err := w.q.Exec(ctx, query, toNullUUID(params.ProjectID), toNullUUID(params.ActorUserID), params.Action, metaJSON)
	if err != nil {
		log.Error().Err(err).Str("action", params.Action).Msg("Failed to write audit log")
		return err
	}

	log.Debug().
		Str("action", params.Action).
		Interface("project_id", params.ProjectID).
		Interface("actor_user_id", params.ActorUserID).
		Msg("Audit event logged")

	return nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil || *id == uuid.Nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (w *Writer) LogUserSignup(ctx context.Context, userID uuid.UUID, email string) error {
	return w.Log(ctx, LogParams{
		ActorUserID: &userID,
		Action:      EventUserSignup,
		Meta: map[string]interface{}{
			"email": email,
		},
	})
}

func (w *Writer) LogLoginFailed(ctx context.Context, email, ip string) error {
	return w.Log(ctx, LogParams{
		Action: EventLoginFailed,
		Meta: map[string]interface{}{
			"email": email,
			"ip":    ip,
		},
	})
}

func (w *Writer) LogProjectCreated(ctx context.Context, projectID, userID uuid.UUID, title string) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &userID,
		Action:      EventProjectCreated,
		Meta: map[string]interface{}{
			"title": title,
		},
	})
}

func (w *Writer) LogProjectMemberAdded(ctx context.Context, projectID, userID uuid.UUID, invitationID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &userID,
		Action:      EventProjectMemberAdded,
		Meta: map[string]interface{}{
			"invitation_id": invitationID.String(),
		},
	})
}

func (w *Writer) LogTaskCreated(ctx context.Context, projectID, taskID, userID uuid.UUID, moduleID string) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &userID,
		Action:      EventTaskCreated,
		Meta: map[string]interface{}{
			"task_id":   taskID.String(),
			"module_id": moduleID,
		},
	})
}

func (w *Writer) LogTaskEditorChanged(ctx context.Context, projectID, taskID, previousEditorID, newEditorID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &newEditorID,
		Action:      EventTaskEditorChanged,
		Meta: map[string]interface{}{
			"task_id":         taskID.String(),
			"previous_editor": previousEditorID.String(),
		},
	})
}

func (w *Writer) LogDiscussionParticipantAdded(ctx context.Context, projectID, discussionID, userID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &userID,
		Action:      EventDiscussionParticipantAdded,
		Meta: map[string]interface{}{
			"discussion_id": discussionID.String(),
		},
	})
}

func (w *Writer) LogInvitationCreated(ctx context.Context, projectID, actorUserID, invitationID uuid.UUID, recipient string) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventInvitationCreated,
		Meta: map[string]interface{}{
			"invitation_id": invitationID.String(),
			"recipient":     recipient,
		},
	})
}

func (w *Writer) LogInvitationSent(ctx context.Context, projectID, invitationID uuid.UUID, recipient string) error {
	return w.Log(ctx, LogParams{
		ProjectID: &projectID,
		Action:    EventInvitationSent,
		Meta: map[string]interface{}{
			"invitation_id": invitationID.String(),
			"recipient":     recipient,
		},
	})
}

func (w *Writer) LogInvitationSendFailed(ctx context.Context, projectID, invitationID uuid.UUID, reason string) error {
	return w.Log(ctx, LogParams{
		ProjectID: &projectID,
		Action:    EventInvitationSendFailed,
		Meta: map[string]interface{}{
			"invitation_id": invitationID.String(),
			"reason":        reason,
		},
	})
}

func (w *Writer) LogInvitationRevoked(ctx context.Context, projectID, actorUserID, invitationID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventInvitationRevoked,
		Meta: map[string]interface{}{
			"invitation_id": invitationID.String(),
		},
	})
}

func (w *Writer) LogInvitationAccepted(ctx context.Context, projectID, actorUserID, invitationID uuid.UUID, destination string) error {
	return w.Log(ctx, LogParams{
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventInvitationAccepted,
		Meta: map[string]interface{}{
			"invitation_id": invitationID.String(),
			"destination":   destination,
		},
	})
}
