package invitations

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExpiryWindow is how long a sent invitation stays acceptable
const ExpiryWindow = 10 * 24 * time.Hour

// State is the lifecycle position of an invitation
type State string

const (
	StateCreated  State = "created"
	StateSent     State = "sent"
	StateAccepted State = "accepted"
	StateExpired  State = "expired"
	StateRevoked  State = "revoked"
)

// Invitation is an offer from one project member to another person to join
// the project, start a task, take over a task or join a discussion.
type Invitation struct {
	ID            uuid.UUID `db:"id" json:"id"`
	FromUserID    uuid.UUID `db:"from_user_id" json:"from_user_id"`
	FromProjectID uuid.UUID `db:"from_project_id" json:"from_project_id"`

	PromptTaskID     uuid.NullUUID `db:"prompt_task_id" json:"prompt_task_id"`
	PromptQuestionID *string       `db:"prompt_question_id" json:"prompt_question_id,omitempty"`

	IntoProject          bool          `db:"into_project" json:"into_project"`
	IntoNewTaskModuleID  *string       `db:"into_new_task_module_id" json:"into_new_task_module_id,omitempty"`
	IntoTaskEditorshipID uuid.NullUUID `db:"into_task_editorship_id" json:"into_task_editorship_id"`
	IntoDiscussionID     uuid.NullUUID `db:"into_discussion_id" json:"into_discussion_id"`

	ToUserID uuid.NullUUID `db:"to_user_id" json:"to_user_id"`
	ToEmail  *string       `db:"to_email" json:"to_email,omitempty"`

	Text string `db:"text" json:"text"`

	SentAt     *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	AcceptedAt *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`

	AcceptedUserID      uuid.NullUUID `db:"accepted_user_id" json:"accepted_user_id"`
	AcceptedTaskID      uuid.NullUUID `db:"accepted_task_id" json:"accepted_task_id"`
	AcceptedDestination *string       `db:"accepted_destination" json:"-"`

	Code string `db:"email_invitation_code" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether more than ExpiryWindow has passed since the
// invitation was sent. Unsent invitations never expire.
func (inv *Invitation) IsExpired(now time.Time) bool {
	if inv.SentAt == nil {
		return false
	}
	return now.After(inv.SentAt.Add(ExpiryWindow))
}

// ExpiresAt is nil until the invitation is sent
func (inv *Invitation) ExpiresAt() *time.Time {
	if inv.SentAt == nil {
		return nil
	}
	t := inv.SentAt.Add(ExpiryWindow)
	return &t
}

// State derives the lifecycle state at now
func (inv *Invitation) State(now time.Time) State {
	switch {
	case inv.AcceptedAt != nil:
		return StateAccepted
	case inv.RevokedAt != nil:
		return StateRevoked
	case inv.IsExpired(now):
		return StateExpired
	case inv.SentAt != nil:
		return StateSent
	default:
		return StateCreated
	}
}

// IsUsable reports whether the invitation can still be accepted for the first time
func (inv *Invitation) IsUsable(now time.Time) bool {
	return inv.AcceptedAt == nil && inv.RevokedAt == nil && !inv.IsExpired(now)
}

// HasTarget reports whether the invitation offers anything
func (inv *Invitation) HasTarget() bool {
	return inv.IntoProject ||
		inv.IntoNewTaskModuleID != nil ||
		inv.IntoTaskEditorshipID.Valid ||
		inv.IntoDiscussionID.Valid
}

// ListItem is an open invitation as shown to project members
type ListItem struct {
	*Invitation
	Recipient string     `json:"recipient"`
	FromEmail string     `json:"from_email"`
	State     State      `json:"state"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// describePurpose joins offer phrases into one sentence fragment:
// "a", "a and b", "a, b and c"
func describePurpose(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
