package invitations

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/mailer"
	"github.com/aliuyar1234/guidedq/internal/metrics"
	"github.com/aliuyar1234/guidedq/internal/modules"
	"github.com/aliuyar1234/guidedq/internal/projects"
	"github.com/aliuyar1234/guidedq/internal/tasks"
	"github.com/aliuyar1234/guidedq/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// MaxTextLength bounds the personal message
	MaxTextLength = 4096

	// EmailTemplate is the mailer template used by Send
	EmailTemplate = "invitation"

	// ResendWindow is how far back maintenance looks for never-sent invitations
	ResendWindow = 48 * time.Hour

	// PurgeAfter is how long revoked or expired invitations are kept
	PurgeAfter = 90 * 24 * time.Hour

	codeAttempts = 3
	resendBatch  = 100
)

var (
	// ErrInvitationNotFound is returned when no invitation matches
	ErrInvitationNotFound = errors.New("invitation not found")

	// ErrInvitationExpiredOrRevoked is returned when accepting an unusable invitation
	ErrInvitationExpiredOrRevoked = errors.New("invitation has expired or was revoked")

	// ErrDeactivatedAccount is returned when the recipient's account is deactivated
	ErrDeactivatedAccount = errors.New("account has been deactivated")

	// ErrStaleEditorship marks an editorship offer whose task changed hands after sending
	ErrStaleEditorship = errors.New("task editor changed since the invitation was sent")

	// ErrIdentityRequired is returned when the visitor must sign up or log in first
	ErrIdentityRequired = errors.New("sign up or log in to accept the invitation")

	// ErrInvalidRecipient is returned unless exactly one valid recipient is given
	ErrInvalidRecipient = errors.New("exactly one valid recipient must be given")

	// ErrNoTarget is returned when an invitation offers nothing
	ErrNoTarget = errors.New("invitation must offer at least one thing")

	// ErrTextTooLong is returned when the message exceeds MaxTextLength
	ErrTextTooLong = errors.New("invitation text must be at most 4096 characters")

	// ErrInvalidTarget is returned when a referenced task, discussion or module is unusable
	ErrInvalidTarget = errors.New("invalid invitation target")

	// ErrNotSendable is returned when sending a revoked or accepted invitation
	ErrNotSendable = errors.New("invitation was revoked, has expired or was already accepted")

	// ErrNotRevocable is returned when revoking an accepted invitation
	ErrNotRevocable = errors.New("invitation was already accepted")

	// ErrDispatchFailed wraps notification dispatcher failures
	ErrDispatchFailed = errors.New("failed to dispatch invitation")
)

// Options configures a Service
type Options struct {
	BaseURL  string
	MailFrom string
	Now      func() time.Time
}

// Service implements the invitation lifecycle
type Service struct {
	store    Store
	catalog  modules.Loader
	mail     mailer.Dispatcher
	auditor  *audit.Writer
	baseURL  string
	mailFrom string
	now      func() time.Time
}

// NewService creates an invitation service
func NewService(store Store, catalog modules.Loader, mail mailer.Dispatcher, auditor *audit.Writer, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		mail:     mail,
		auditor:  auditor,
		baseURL:  opts.BaseURL,
		mailFrom: opts.MailFrom,
		now:      func() time.Time { return now().UTC() },
	}
}

// CreateParams describes a new invitation. Exactly one of ToUserID and
// ToEmail must be set, and at least one Into* target.
type CreateParams struct {
	FromUserID    uuid.UUID
	FromProjectID uuid.UUID

	PromptTaskID     uuid.NullUUID
	PromptQuestionID string

	ToUserID uuid.NullUUID
	ToEmail  string

	Text string

	IntoProject          bool
	IntoNewTaskModuleID  string
	IntoTaskEditorshipID uuid.NullUUID
	IntoDiscussionID     uuid.NullUUID
}

// AcceptancePath is the path of the acceptance link for code
func AcceptancePath(code string) string {
	return "/invitation/accept/" + code
}

// AcceptanceURL is the absolute acceptance link sent to the recipient
func (s *Service) AcceptanceURL(inv *Invitation) string {
	return s.baseURL + AcceptancePath(inv.Code)
}

// Create validates and stores a new invitation. Nothing is sent.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Invitation, error) {
	if params.ToUserID.Valid == (params.ToEmail != "") {
		return nil, ErrInvalidRecipient
	}
	if utf8.RuneCountInString(params.Text) > MaxTextLength {
		return nil, ErrTextTooLong
	}

	inv := &Invitation{
		FromUserID:           params.FromUserID,
		FromProjectID:        params.FromProjectID,
		PromptTaskID:         params.PromptTaskID,
		PromptQuestionID:     strPtr(params.PromptQuestionID),
		IntoProject:          params.IntoProject,
		IntoNewTaskModuleID:  strPtr(params.IntoNewTaskModuleID),
		IntoTaskEditorshipID: params.IntoTaskEditorshipID,
		IntoDiscussionID:     params.IntoDiscussionID,
		ToUserID:             params.ToUserID,
		Text:                 params.Text,
	}
	if !inv.HasTarget() {
		return nil, ErrNoTarget
	}

	if _, err := s.store.GetMembership(ctx, params.FromProjectID, params.FromUserID); err != nil {
		return nil, err
	}

	if err := s.validateRecipient(ctx, inv, params.ToEmail); err != nil {
		return nil, err
	}
	if err := s.validateTargets(ctx, inv); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		inv.Code = code

		err = s.store.CreateInvitation(ctx, inv)
		if err == nil {
			metrics.InvitationsCreated.Inc()
			log.Info().
				Str("invitation_id", inv.ID.String()).
				Str("project_id", inv.FromProjectID.String()).
				Str("from_user_id", inv.FromUserID.String()).
				Msg("Invitation created")
			return inv, nil
		}
		if errors.Is(err, ErrCodeCollision) {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("failed to create invitation: code collision retry exhausted")
}

func (s *Service) validateRecipient(ctx context.Context, inv *Invitation, email string) error {
	if inv.ToUserID.Valid {
		if inv.ToUserID.UUID == inv.FromUserID {
			return ErrInvalidRecipient
		}
		if _, err := s.store.GetUser(ctx, inv.ToUserID.UUID); err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				return ErrInvalidRecipient
			}
			return err
		}
		return nil
	}

	normalized, err := validation.NormalizeEmail(email)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecipient, err)
	}
	inv.ToEmail = &normalized
	return nil
}

func (s *Service) validateTargets(ctx context.Context, inv *Invitation) error {
	if inv.PromptQuestionID != nil && !inv.PromptTaskID.Valid {
		return fmt.Errorf("%w: prompt question without prompt task", ErrInvalidTarget)
	}
	if inv.PromptTaskID.Valid {
		if _, err := s.projectTask(ctx, inv.FromProjectID, inv.PromptTaskID.UUID); err != nil {
			return err
		}
	}

	if inv.IntoNewTaskModuleID != nil {
		if _, err := s.catalog.Load(*inv.IntoNewTaskModuleID); err != nil {
			if errors.Is(err, modules.ErrModuleNotFound) {
				return fmt.Errorf("%w: unknown module %q", ErrInvalidTarget, *inv.IntoNewTaskModuleID)
			}
			return err
		}
	}

	if inv.IntoTaskEditorshipID.Valid {
		task, err := s.projectTask(ctx, inv.FromProjectID, inv.IntoTaskEditorshipID.UUID)
		if err != nil {
			return err
		}
		if task.EditorID != inv.FromUserID {
			return fmt.Errorf("%w: only the task editor can hand it over", ErrInvalidTarget)
		}
	}

	if inv.IntoDiscussionID.Valid {
		d, err := s.store.GetDiscussion(ctx, inv.IntoDiscussionID.UUID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
		}
		if d.ProjectID != inv.FromProjectID {
			return fmt.Errorf("%w: discussion belongs to another project", ErrInvalidTarget)
		}
	}

	return nil
}

func (s *Service) projectTask(ctx context.Context, projectID, taskID uuid.UUID) (*tasks.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
		}
		return nil, err
	}
	if !task.ProjectID.Valid || task.ProjectID.UUID != projectID {
		return nil, fmt.Errorf("%w: task belongs to another project", ErrInvalidTarget)
	}
	return task, nil
}

// Send dispatches the invitation email and records sent_at. If dispatch
// fails sent_at is left unchanged and the caller may retry. Accepted, revoked
// and expired invitations are final; the sender has to create a new one.
func (s *Service) Send(ctx context.Context, inv *Invitation) error {
	if inv.AcceptedAt != nil || inv.RevokedAt != nil || inv.IsExpired(s.now()) {
		return ErrNotSendable
	}

	to, err := s.recipientAddress(ctx, inv)
	if err != nil {
		return err
	}
	sender, err := s.store.GetUser(ctx, inv.FromUserID)
	if err != nil {
		return fmt.Errorf("failed to load sender: %w", err)
	}
	project, err := s.store.GetProject(ctx, inv.FromProjectID)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}
	purpose, err := s.purpose(ctx, inv)
	if err != nil {
		return err
	}

	data := map[string]any{
		"FromEmail":     sender.Email,
		"Purpose":       purpose,
		"ProjectTitle":  project.Title,
		"Text":          inv.Text,
		"AcceptURL":     s.AcceptanceURL(inv),
		"ExpiresInDays": int(ExpiryWindow.Hours() / 24),
	}

	if err := s.mail.Send(ctx, EmailTemplate, s.mailFrom, []string{to}, data); err != nil {
		metrics.InvitationsSendFailed.Inc()
		log.Warn().
			Err(err).
			Str("invitation_id", inv.ID.String()).
			Msg("Failed to send invitation")
		if aerr := s.auditor.LogInvitationSendFailed(ctx, inv.FromProjectID, inv.ID, err.Error()); aerr != nil {
			log.Error().Err(aerr).Msg("Failed to log audit event")
		}
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	now := s.now()
	if err := s.store.MarkSent(ctx, inv.ID, now); err != nil {
		return err
	}
	inv.SentAt = &now
	metrics.InvitationsSent.Inc()

	if err := s.auditor.LogInvitationSent(ctx, inv.FromProjectID, inv.ID, to); err != nil {
		log.Error().Err(err).Msg("Failed to log audit event")
	}

	log.Info().
		Str("invitation_id", inv.ID.String()).
		Msg("Invitation sent")
	return nil
}

func (s *Service) recipientAddress(ctx context.Context, inv *Invitation) (string, error) {
	if inv.ToUserID.Valid {
		u, err := s.store.GetUser(ctx, inv.ToUserID.UUID)
		if err != nil {
			return "", fmt.Errorf("failed to load recipient: %w", err)
		}
		return u.Email, nil
	}
	if inv.ToEmail == nil {
		return "", ErrInvalidRecipient
	}
	return *inv.ToEmail, nil
}

func (s *Service) purpose(ctx context.Context, inv *Invitation) (string, error) {
	var parts []string
	if inv.IntoProject {
		parts = append(parts, "join the team")
	}
	if inv.IntoNewTaskModuleID != nil {
		m, err := s.catalog.Load(*inv.IntoNewTaskModuleID)
		if err != nil {
			return "", fmt.Errorf("failed to load module: %w", err)
		}
		parts = append(parts, "start "+m.Title)
	}
	if inv.IntoTaskEditorshipID.Valid {
		task, err := s.store.GetTask(ctx, inv.IntoTaskEditorshipID.UUID)
		if err != nil {
			return "", fmt.Errorf("failed to load task: %w", err)
		}
		parts = append(parts, "take over "+task.Title)
	}
	if inv.IntoDiscussionID.Valid {
		d, err := s.store.GetDiscussion(ctx, inv.IntoDiscussionID.UUID)
		if err != nil {
			return "", fmt.Errorf("failed to load discussion: %w", err)
		}
		parts = append(parts, "join the discussion on "+d.Title())
	}
	return describePurpose(parts), nil
}

// authorize loads the invitation and checks the actor is its sender or an
// admin of its project. Non-members get ErrInvitationNotFound.
func (s *Service) authorize(ctx context.Context, actorID, invitationID uuid.UUID) (*Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.FromUserID == actorID {
		return inv, nil
	}

	m, err := s.store.GetMembership(ctx, inv.FromProjectID, actorID)
	if err != nil {
		if errors.Is(err, projects.ErrNotMember) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	if !m.IsAdmin {
		return nil, projects.ErrInsufficientPermissions
	}
	return inv, nil
}

// Revoke cancels an unaccepted invitation. Revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, actorID, invitationID uuid.UUID) (*Invitation, error) {
	inv, err := s.authorize(ctx, actorID, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.AcceptedAt != nil {
		return nil, ErrNotRevocable
	}
	if inv.RevokedAt != nil {
		return inv, nil
	}

	now := s.now()
	if err := s.store.MarkRevoked(ctx, inv.ID, now); err != nil {
		return nil, err
	}
	inv.RevokedAt = &now
	metrics.InvitationsRevoked.Inc()

	log.Info().
		Str("invitation_id", inv.ID.String()).
		Str("actor_user_id", actorID.String()).
		Msg("Invitation revoked")
	return inv, nil
}

// Resend retries delivery on behalf of the sender or a project admin
func (s *Service) Resend(ctx context.Context, actorID, invitationID uuid.UUID) (*Invitation, error) {
	inv, err := s.authorize(ctx, actorID, invitationID)
	if err != nil {
		return nil, err
	}
	if err := s.Send(ctx, inv); err != nil {
		return inv, err
	}
	return inv, nil
}

// ListOpen returns the project's unaccepted, unrevoked, unexpired invitations
func (s *Service) ListOpen(ctx context.Context, actorID, projectID uuid.UUID) ([]ListItem, error) {
	if _, err := s.store.GetMembership(ctx, projectID, actorID); err != nil {
		return nil, err
	}

	now := s.now()
	items, err := s.store.ListOpen(ctx, projectID, now.Add(-ExpiryWindow))
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].State = items[i].Invitation.State(now)
		items[i].ExpiresAt = items[i].Invitation.ExpiresAt()
	}
	return items, nil
}

// ResendUnsent retries invitations created within ResendWindow that were never sent
func (s *Service) ResendUnsent(ctx context.Context) (sent, failed int, err error) {
	pending, err := s.store.ListUnsent(ctx, s.now().Add(-ResendWindow), resendBatch)
	if err != nil {
		return 0, 0, err
	}

	for _, inv := range pending {
		if err := ctx.Err(); err != nil {
			return sent, failed, err
		}
		if err := s.Send(ctx, inv); err != nil {
			failed++
			continue
		}
		sent++
	}
	return sent, failed, nil
}

// PurgeStale deletes unaccepted invitations revoked or expired more than PurgeAfter ago
func (s *Service) PurgeStale(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-PurgeAfter)
	n, err := s.store.PurgeStale(ctx, cutoff, cutoff.Add(-ExpiryWindow))
	if err != nil {
		return 0, err
	}
	metrics.InvitationsPurged.Add(float64(n))
	return n, nil
}
