package invitations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/db"
	"github.com/aliuyar1234/guidedq/internal/discussions"
	"github.com/aliuyar1234/guidedq/internal/projects"
	"github.com/aliuyar1234/guidedq/internal/tasks"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCodeCollision is returned by CreateInvitation when the code is already taken
var ErrCodeCollision = errors.New("invitation code collision")

// Lookups are the reads shared by Store and TxStore
type Lookups interface {
	GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error)
	FindUserByEmailExcluding(ctx context.Context, email string, excludeID uuid.UUID) (*auth.User, error)
	GetProject(ctx context.Context, id uuid.UUID) (*projects.Project, error)
	GetMembership(ctx context.Context, projectID, userID uuid.UUID) (*projects.Membership, error)
	GetTask(ctx context.Context, id uuid.UUID) (*tasks.Task, error)
	GetDiscussion(ctx context.Context, id uuid.UUID) (*discussions.Discussion, error)
}

// Store persists invitations
type Store interface {
	Lookups

	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error)
	GetInvitationByCode(ctx context.Context, code string) (*Invitation, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRevoked(ctx context.Context, id uuid.UUID, at time.Time) error
	ListOpen(ctx context.Context, projectID uuid.UUID, sentAfter time.Time) ([]ListItem, error)
	ListUnsent(ctx context.Context, createdAfter time.Time, limit int) ([]*Invitation, error)
	PurgeStale(ctx context.Context, revokedBefore, sentBefore time.Time) (int64, error)

	// InTx runs fn in one transaction; fn's writes are discarded if it returns an error
	InTx(ctx context.Context, fn func(tx TxStore) error) error
}

// Acceptance records the outcome of the first acceptance
type Acceptance struct {
	At          time.Time
	UserID      uuid.UUID
	TaskID      uuid.NullUUID
	Destination string
}

// TxStore holds the writes of an acceptance. Every method runs in the
// transaction opened by Store.InTx.
type TxStore interface {
	Lookups

	LockInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error)
	AddProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error)
	CreateTask(ctx context.Context, params tasks.CreateParams) (*tasks.Task, error)
	LockTask(ctx context.Context, id uuid.UUID) (*tasks.Task, error)
	SetTaskEditor(ctx context.Context, taskID, editorID uuid.UUID) error
	IsDiscussionParticipant(ctx context.Context, d *discussions.Discussion, userID uuid.UUID) (bool, error)
	AddDiscussionParticipant(ctx context.Context, discussionID, userID uuid.UUID) (bool, error)
	MarkAccepted(ctx context.Context, id uuid.UUID, acc Acceptance) error

	// Audit writes entries that commit or roll back with the transaction
	Audit() *audit.Writer
}

// pgLookups implements Lookups on top of the other packages' services
type pgLookups struct {
	q db.DBTX
}

func (p pgLookups) GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	return auth.NewUsers(p.q).GetByID(ctx, id)
}

func (p pgLookups) FindUserByEmailExcluding(ctx context.Context, email string, excludeID uuid.UUID) (*auth.User, error) {
	return auth.NewUsers(p.q).FindByEmailExcluding(ctx, email, excludeID)
}

func (p pgLookups) GetProject(ctx context.Context, id uuid.UUID) (*projects.Project, error) {
	return projects.NewService(p.q).GetByID(ctx, id)
}

func (p pgLookups) GetMembership(ctx context.Context, projectID, userID uuid.UUID) (*projects.Membership, error) {
	return projects.NewService(p.q).GetMembership(ctx, projectID, userID)
}

func (p pgLookups) GetTask(ctx context.Context, id uuid.UUID) (*tasks.Task, error) {
	return tasks.NewService(p.q).GetByID(ctx, id)
}

func (p pgLookups) GetDiscussion(ctx context.Context, id uuid.UUID) (*discussions.Discussion, error) {
	return discussions.NewService(p.q).GetByID(ctx, id)
}

const invitationColumns = `
	id, from_user_id, from_project_id, prompt_task_id, prompt_question_id,
	into_project, into_new_task_module_id, into_task_editorship_id, into_discussion_id,
	to_user_id, to_email, text, sent_at, accepted_at, revoked_at,
	accepted_user_id, accepted_task_id, accepted_destination, email_invitation_code,
	created_at, updated_at`

// prefixed qualifies every column in a comma-separated list with alias
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation
	err := row.Scan(
		&inv.ID, &inv.FromUserID, &inv.FromProjectID, &inv.PromptTaskID, &inv.PromptQuestionID,
		&inv.IntoProject, &inv.IntoNewTaskModuleID, &inv.IntoTaskEditorshipID, &inv.IntoDiscussionID,
		&inv.ToUserID, &inv.ToEmail, &inv.Text, &inv.SentAt, &inv.AcceptedAt, &inv.RevokedAt,
		&inv.AcceptedUserID, &inv.AcceptedTaskID, &inv.AcceptedDestination, &inv.Code,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}
	return &inv, nil
}

// PGStore is the Postgres-backed Store
type PGStore struct {
	pgLookups
	pool *pgxpool.Pool
}

// NewPGStore creates a Store over the pool
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pgLookups: pgLookups{q: pool}, pool: pool}
}

func (s *PGStore) CreateInvitation(ctx context.Context, inv *Invitation) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO invitations (
		  from_user_id, from_project_id, prompt_task_id, prompt_question_id,
		  into_project, into_new_task_module_id, into_task_editorship_id, into_discussion_id,
		  to_user_id, to_email, text, email_invitation_code
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`,
		inv.FromUserID, inv.FromProjectID, inv.PromptTaskID, inv.PromptQuestionID,
		inv.IntoProject, inv.IntoNewTaskModuleID, inv.IntoTaskEditorshipID, inv.IntoDiscussionID,
		inv.ToUserID, inv.ToEmail, inv.Text, inv.Code,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrCodeCollision
		}
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

func (s *PGStore) GetInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	return scanInvitation(s.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id))
}

func (s *PGStore) GetInvitationByCode(ctx context.Context, code string) (*Invitation, error) {
	return scanInvitation(s.pool.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE email_invitation_code = $1`, code))
}

func (s *PGStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invitations SET sent_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark invitation sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

func (s *PGStore) MarkRevoked(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invitations SET revoked_at = $2, updated_at = NOW()
		WHERE id = $1
		  AND accepted_at IS NULL
		  AND revoked_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotRevocable
	}
	return nil
}

func (s *PGStore) ListOpen(ctx context.Context, projectID uuid.UUID, sentAfter time.Time) ([]ListItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+prefixed("i", invitationColumns)+`,
		  COALESCE(tu.email, i.to_email, ''),
		  fu.email
		FROM invitations i
		INNER JOIN users fu ON fu.id = i.from_user_id
		LEFT JOIN users tu ON tu.id = i.to_user_id
		WHERE i.from_project_id = $1
		  AND i.accepted_at IS NULL
		  AND i.revoked_at IS NULL
		  AND (i.sent_at IS NULL OR i.sent_at >= $2)
		ORDER BY i.created_at DESC
	`, projectID, sentAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var inv Invitation
		var item ListItem
		if err := rows.Scan(
			&inv.ID, &inv.FromUserID, &inv.FromProjectID, &inv.PromptTaskID, &inv.PromptQuestionID,
			&inv.IntoProject, &inv.IntoNewTaskModuleID, &inv.IntoTaskEditorshipID, &inv.IntoDiscussionID,
			&inv.ToUserID, &inv.ToEmail, &inv.Text, &inv.SentAt, &inv.AcceptedAt, &inv.RevokedAt,
			&inv.AcceptedUserID, &inv.AcceptedTaskID, &inv.AcceptedDestination, &inv.Code,
			&inv.CreatedAt, &inv.UpdatedAt,
			&item.Recipient, &item.FromEmail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		item.Invitation = &inv
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}

	return items, nil
}

func (s *PGStore) ListUnsent(ctx context.Context, createdAfter time.Time, limit int) ([]*Invitation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE sent_at IS NULL
		  AND accepted_at IS NULL
		  AND revoked_at IS NULL
		  AND created_at >= $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsent invitations: %w", err)
	}
	defer rows.Close()

	var out []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}
	return out, nil
}

func (s *PGStore) PurgeStale(ctx context.Context, revokedBefore, sentBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM invitations
		WHERE accepted_at IS NULL
		  AND (revoked_at < $1 OR (revoked_at IS NULL AND sent_at < $2))
	`, revokedBefore, sentBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to purge invitations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{pgLookups: pgLookups{q: tx}, tx: tx})
	})
}

type pgTx struct {
	pgLookups
	tx pgx.Tx
}

func (t *pgTx) LockInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	return scanInvitation(t.tx.QueryRow(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) AddProjectMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	return projects.NewService(t.tx).AddMember(ctx, projectID, userID, false)
}

func (t *pgTx) CreateTask(ctx context.Context, params tasks.CreateParams) (*tasks.Task, error) {
	return tasks.NewService(t.tx).Create(ctx, params)
}

func (t *pgTx) LockTask(ctx context.Context, id uuid.UUID) (*tasks.Task, error) {
	return tasks.NewService(t.tx).GetForUpdate(ctx, id)
}

func (t *pgTx) SetTaskEditor(ctx context.Context, taskID, editorID uuid.UUID) error {
	return tasks.NewService(t.tx).SetEditor(ctx, taskID, editorID)
}

func (t *pgTx) IsDiscussionParticipant(ctx context.Context, d *discussions.Discussion, userID uuid.UUID) (bool, error) {
	return discussions.NewService(t.tx).IsParticipant(ctx, d, userID)
}

func (t *pgTx) AddDiscussionParticipant(ctx context.Context, discussionID, userID uuid.UUID) (bool, error) {
	return discussions.NewService(t.tx).AddExternalParticipant(ctx, discussionID, userID)
}

func (t *pgTx) MarkAccepted(ctx context.Context, id uuid.UUID, acc Acceptance) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invitations
		SET accepted_at = $2,
		    accepted_user_id = $3,
		    accepted_task_id = $4,
		    accepted_destination = $5,
		    updated_at = NOW()
		WHERE id = $1
		  AND accepted_at IS NULL
	`, id, acc.At, acc.UserID, acc.TaskID, acc.Destination)
	if err != nil {
		return fmt.Errorf("failed to mark invitation accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to mark invitation accepted: %w", ErrInvitationNotFound)
	}
	return nil
}

func (t *pgTx) Audit() *audit.Writer {
	return audit.NewWriter(t.tx)
}
