package invitations

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/metrics"
	"github.com/aliuyar1234/guidedq/internal/tasks"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// SignupPath is where visitors without a usable account are sent
	SignupPath = "/accounts/signup"

	msgExpired         = "The invitation you wanted to accept has expired."
	msgDeactivated     = "Your account has been deactivated."
	msgLoggedInAs      = "You have been logged in as %s."
	msgJoinedTeam      = "You have joined the team %s."
	msgStale           = "The invitation is no longer valid."
	msgEditor          = "You are now the editor for module %s."
	msgDiscussionJoin  = "You are now a participant in the discussion on %s."
	defaultDestination = "/"
)

// Outcome tells the web layer what to do after an acceptance attempt
type Outcome struct {
	// Redirect is where the visitor goes next
	Redirect string

	// Messages are shown to the visitor on the next page
	Messages []string

	// Logout asks the web layer to end the current session
	Logout bool

	// LoginAs asks the web layer to start a session for this user
	LoginAs *auth.User

	// AlreadyAccepted is set when the invitation had been used before
	AlreadyAccepted bool

	// BranchErrors holds offers that could not be honored even though the
	// acceptance as a whole went through, such as ErrStaleEditorship
	BranchErrors []error
}

// HasBranchError reports whether target matches one of the branch errors
func (o *Outcome) HasBranchError(target error) bool {
	for _, err := range o.BranchErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type identityAction int

const (
	identityProceed identityAction = iota
	identitySwitch
	identityDeactivated
	identityRequired
)

// resolveIdentity decides who accepts the invitation. session is the
// signed-in user (nil when anonymous); matched is the account the invitation
// points at (nil when none exists).
func resolveIdentity(inv *Invitation, session, matched *auth.User) (identityAction, *auth.User) {
	if inv.ToUserID.Valid && session != nil && session.ID == inv.ToUserID.UUID {
		return identityProceed, session
	}

	if matched != nil {
		if !matched.IsActive {
			return identityDeactivated, matched
		}
		if session != nil && session.ID == matched.ID {
			return identityProceed, session
		}
		// Following the link proves control of the recipient's address
		return identitySwitch, matched
	}

	if session != nil && session.ID != inv.FromUserID {
		return identityProceed, session
	}

	return identityRequired, nil
}

// destinations collects the candidate redirects from each accepted offer
type destinations struct {
	discussion string
	editorship string
	newTask    string
	project    string
}

// resolve picks the most specific destination: discussion, then task
// editorship, then new task, then the project homepage
func (d destinations) resolve() string {
	for _, candidate := range []string{d.discussion, d.editorship, d.newTask, d.project} {
		if candidate != "" {
			return candidate
		}
	}
	return defaultDestination
}

// Accept runs the acceptance flow for the invitation with code on behalf of
// the visitor signed in as sessionUserID (uuid.Nil when anonymous).
//
// The returned Outcome is non-nil whenever err is nil or one of
// ErrInvitationExpiredOrRevoked, ErrDeactivatedAccount and ErrIdentityRequired.
func (s *Service) Accept(ctx context.Context, code string, sessionUserID uuid.UUID) (*Outcome, error) {
	if !ValidateCodeFormat(code) {
		return nil, ErrInvitationNotFound
	}
	inv, err := s.store.GetInvitationByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if inv.AcceptedAt != nil {
		return alreadyAccepted(inv), nil
	}
	if !inv.IsUsable(s.now()) {
		metrics.InvitationsRejected.WithLabelValues("expired_or_revoked").Inc()
		return &Outcome{Redirect: defaultDestination, Messages: []string{msgExpired}}, ErrInvitationExpiredOrRevoked
	}

	session, err := s.sessionUser(ctx, sessionUserID)
	if err != nil {
		return nil, err
	}
	matched, err := s.matchRecipient(ctx, inv)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	action, user := resolveIdentity(inv, session, matched)
	switch action {
	case identityDeactivated:
		metrics.InvitationsRejected.WithLabelValues("deactivated").Inc()
		out.Redirect = defaultDestination
		out.Messages = []string{msgDeactivated}
		return out, ErrDeactivatedAccount
	case identityRequired:
		metrics.InvitationsRejected.WithLabelValues("identity_required").Inc()
		out.Logout = sessionUserID != uuid.Nil
		out.Redirect = SignupPath + "?next=" + url.QueryEscape(AcceptancePath(inv.Code))
		return out, ErrIdentityRequired
	case identitySwitch:
		if sessionUserID != uuid.Nil {
			out.Logout = true
			out.Messages = append(out.Messages, fmt.Sprintf(msgLoggedInAs, user))
		}
		out.LoginAs = user
	}

	var first bool
	err = s.store.InTx(ctx, func(tx TxStore) error {
		var err error
		first, err = s.applyAcceptance(ctx, tx, inv.ID, user, out)
		return err
	})
	if errors.Is(err, ErrInvitationExpiredOrRevoked) {
		metrics.InvitationsRejected.WithLabelValues("expired_or_revoked").Inc()
		return &Outcome{Redirect: defaultDestination, Messages: []string{msgExpired}}, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	if first {
		metrics.InvitationsAccepted.Inc()
		log.Info().
			Str("invitation_id", inv.ID.String()).
			Str("user_id", user.ID.String()).
			Str("destination", out.Redirect).
			Msg("Invitation accepted")
	}
	return out, nil
}

func alreadyAccepted(inv *Invitation) *Outcome {
	dest := deref(inv.AcceptedDestination)
	if dest == "" {
		dest = defaultDestination
	}
	return &Outcome{Redirect: dest, AlreadyAccepted: true}
}

func (s *Service) sessionUser(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, nil
	}
	return u, nil
}

// matchRecipient finds the account the invitation was addressed to: the
// known user, or an account registered under the invited address other than
// the sender's
func (s *Service) matchRecipient(ctx context.Context, inv *Invitation) (*auth.User, error) {
	var (
		u   *auth.User
		err error
	)
	switch {
	case inv.ToUserID.Valid:
		u, err = s.store.GetUser(ctx, inv.ToUserID.UUID)
	case inv.ToEmail != nil:
		u, err = s.store.FindUserByEmailExcluding(ctx, *inv.ToEmail, inv.FromUserID)
	default:
		return nil, nil
	}
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, nil
	}
	return u, err
}

// applyAcceptance performs the side effects under the invitation row lock.
// It returns false when a concurrent acceptance got there first, in which
// case out is rewritten to that acceptance's destination.
func (s *Service) applyAcceptance(ctx context.Context, tx TxStore, invitationID uuid.UUID, user *auth.User, out *Outcome) (bool, error) {
	inv, err := tx.LockInvitation(ctx, invitationID)
	if err != nil {
		return false, err
	}
	if inv.AcceptedAt != nil {
		// lost a race; keep the session instructions already decided
		done := alreadyAccepted(inv)
		out.Redirect = done.Redirect
		out.AlreadyAccepted = true
		return false, nil
	}
	if inv.RevokedAt != nil {
		// revoked while we were resolving identity; nothing to undo
		return false, ErrInvitationExpiredOrRevoked
	}

	project, err := tx.GetProject(ctx, inv.FromProjectID)
	if err != nil {
		return false, err
	}

	dest := destinations{project: project.URL()}
	var acceptedTask uuid.NullUUID

	if inv.IntoProject {
		added, err := tx.AddProjectMember(ctx, project.ID, user.ID)
		if err != nil {
			return false, err
		}
		if added {
			if err := tx.Audit().LogProjectMemberAdded(ctx, project.ID, user.ID, inv.ID); err != nil {
				return false, err
			}
		}
		out.Messages = append(out.Messages, fmt.Sprintf(msgJoinedTeam, project.Title))
	}

	if inv.IntoNewTaskModuleID != nil {
		module, err := s.catalog.Load(*inv.IntoNewTaskModuleID)
		if err != nil {
			return false, fmt.Errorf("failed to load module: %w", err)
		}
		task, err := tx.CreateTask(ctx, tasks.CreateParams{
			ProjectID: uuid.NullUUID{UUID: project.ID, Valid: true},
			EditorID:  user.ID,
			ModuleID:  module.ID,
			Title:     module.Title,
		})
		if err != nil {
			return false, err
		}
		if err := tx.Audit().LogTaskCreated(ctx, project.ID, task.ID, user.ID, module.ID); err != nil {
			return false, err
		}
		acceptedTask = uuid.NullUUID{UUID: task.ID, Valid: true}
		dest.newTask = task.URL()
	}

	if inv.IntoTaskEditorshipID.Valid {
		task, err := tx.LockTask(ctx, inv.IntoTaskEditorshipID.UUID)
		if err != nil && !errors.Is(err, tasks.ErrTaskNotFound) {
			return false, err
		}
		if task == nil || task.EditorID != inv.FromUserID {
			out.BranchErrors = append(out.BranchErrors, ErrStaleEditorship)
			out.Messages = append(out.Messages, msgStale)
		} else {
			if err := tx.SetTaskEditor(ctx, task.ID, user.ID); err != nil {
				return false, err
			}
			if err := tx.Audit().LogTaskEditorChanged(ctx, project.ID, task.ID, task.EditorID, user.ID); err != nil {
				return false, err
			}
			out.Messages = append(out.Messages, fmt.Sprintf(msgEditor, task.Title))
			acceptedTask = uuid.NullUUID{UUID: task.ID, Valid: true}
			dest.editorship = task.URL()
		}
	}

	if inv.IntoDiscussionID.Valid {
		d, err := tx.GetDiscussion(ctx, inv.IntoDiscussionID.UUID)
		if err != nil {
			return false, err
		}
		participant, err := tx.IsDiscussionParticipant(ctx, d, user.ID)
		if err != nil {
			return false, err
		}
		if !participant {
			if _, err := tx.AddDiscussionParticipant(ctx, d.ID, user.ID); err != nil {
				return false, err
			}
			if err := tx.Audit().LogDiscussionParticipantAdded(ctx, project.ID, d.ID, user.ID); err != nil {
				return false, err
			}
			out.Messages = append(out.Messages, fmt.Sprintf(msgDiscussionJoin, d.Title()))
		}
		dest.discussion = d.URL()
	}

	out.Redirect = dest.resolve()

	err = tx.MarkAccepted(ctx, inv.ID, Acceptance{
		At:          s.now(),
		UserID:      user.ID,
		TaskID:      acceptedTask,
		Destination: out.Redirect,
	})
	if err != nil {
		return false, err
	}
	if err := tx.Audit().LogInvitationAccepted(ctx, project.ID, user.ID, inv.ID, out.Redirect); err != nil {
		return false, err
	}
	return true, nil
}
