package invitations

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/discussions"
	"github.com/aliuyar1234/guidedq/internal/mailer"
	"github.com/aliuyar1234/guidedq/internal/modules"
	"github.com/aliuyar1234/guidedq/internal/projects"
	"github.com/aliuyar1234/guidedq/internal/tasks"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// recordingDB captures audit actions written through audit.Writer
type recordingDB struct {
	mu      sync.Mutex
	actions []string
}

func (d *recordingDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(args) > 2 {
		if action, ok := args[2].(string); ok {
			d.actions = append(d.actions, action)
		}
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *recordingDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("recordingDB: query not supported")
}

func (d *recordingDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (d *recordingDB) Actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.actions...)
}

func (d *recordingDB) count(action string) int {
	n := 0
	for _, a := range d.Actions() {
		if a == action {
			n++
		}
	}
	return n
}

type errRow struct{}

func (errRow) Scan(...any) error { return errors.New("recordingDB: scan not supported") }

type memberKey struct {
	a, b uuid.UUID
}

type memState struct {
	users        map[uuid.UUID]auth.User
	projects     map[uuid.UUID]projects.Project
	members      map[memberKey]projects.Membership
	tasks        map[uuid.UUID]tasks.Task
	discussions  map[uuid.UUID]discussions.Discussion
	participants map[memberKey]bool
	invitations  map[uuid.UUID]Invitation
}

func newMemState() memState {
	return memState{
		users:        map[uuid.UUID]auth.User{},
		projects:     map[uuid.UUID]projects.Project{},
		members:      map[memberKey]projects.Membership{},
		tasks:        map[uuid.UUID]tasks.Task{},
		discussions:  map[uuid.UUID]discussions.Discussion{},
		participants: map[memberKey]bool{},
		invitations:  map[uuid.UUID]Invitation{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s memState) clone() memState {
	return memState{
		users:        cloneMap(s.users),
		projects:     cloneMap(s.projects),
		members:      cloneMap(s.members),
		tasks:        cloneMap(s.tasks),
		discussions:  cloneMap(s.discussions),
		participants: cloneMap(s.participants),
		invitations:  cloneMap(s.invitations),
	}
}

// memStore is an in-memory Store. Transactions are serialized and roll back
// by restoring a snapshot.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   memState

	now        func() time.Time
	collisions int
	audit      *recordingDB

	// beforeTx runs once at the start of the next InTx, outside the snapshot
	beforeTx func()
}

func newMemStore(now func() time.Time, auditDB *recordingDB) *memStore {
	return &memStore{st: newMemState(), now: now, audit: auditDB}
}

func (s *memStore) GetUser(_ context.Context, id uuid.UUID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

func (s *memStore) FindUserByEmailExcluding(_ context.Context, email string, excludeID uuid.UUID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.st.users {
		if strings.EqualFold(u.Email, email) && u.ID != excludeID {
			return &u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (s *memStore) GetProject(_ context.Context, id uuid.UUID) (*projects.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.projects[id]
	if !ok {
		return nil, projects.ErrProjectNotFound
	}
	return &p, nil
}

func (s *memStore) GetMembership(_ context.Context, projectID, userID uuid.UUID) (*projects.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.members[memberKey{projectID, userID}]
	if !ok {
		return nil, projects.ErrNotMember
	}
	return &m, nil
}

func (s *memStore) GetTask(_ context.Context, id uuid.UUID) (*tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tasks[id]
	if !ok {
		return nil, tasks.ErrTaskNotFound
	}
	return &t, nil
}

func (s *memStore) GetDiscussion(_ context.Context, id uuid.UUID) (*discussions.Discussion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.discussions[id]
	if !ok {
		return nil, discussions.ErrDiscussionNotFound
	}
	if t, ok := s.st.tasks[d.TaskID]; ok {
		d.TaskTitle = t.Title
	}
	return &d, nil
}

func (s *memStore) CreateInvitation(_ context.Context, inv *Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collisions > 0 {
		s.collisions--
		return ErrCodeCollision
	}
	for _, other := range s.st.invitations {
		if other.Code == inv.Code {
			return ErrCodeCollision
		}
	}
	inv.ID = uuid.New()
	inv.CreatedAt = s.now()
	inv.UpdatedAt = inv.CreatedAt
	s.st.invitations[inv.ID] = *inv
	return nil
}

func (s *memStore) GetInvitation(_ context.Context, id uuid.UUID) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.st.invitations[id]
	if !ok {
		return nil, ErrInvitationNotFound
	}
	return &inv, nil
}

func (s *memStore) GetInvitationByCode(_ context.Context, code string) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.st.invitations {
		if inv.Code == code {
			return &inv, nil
		}
	}
	return nil, ErrInvitationNotFound
}

func (s *memStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.st.invitations[id]
	if !ok {
		return ErrInvitationNotFound
	}
	inv.SentAt = &at
	s.st.invitations[id] = inv
	return nil
}

func (s *memStore) MarkRevoked(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.st.invitations[id]
	if !ok || inv.AcceptedAt != nil || inv.RevokedAt != nil {
		return ErrNotRevocable
	}
	inv.RevokedAt = &at
	s.st.invitations[id] = inv
	return nil
}

func (s *memStore) ListOpen(_ context.Context, projectID uuid.UUID, sentAfter time.Time) ([]ListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []ListItem
	for _, inv := range s.st.invitations {
		if inv.FromProjectID != projectID || inv.AcceptedAt != nil || inv.RevokedAt != nil {
			continue
		}
		if inv.SentAt != nil && inv.SentAt.Before(sentAfter) {
			continue
		}
		inv := inv
		item := ListItem{Invitation: &inv, Recipient: deref(inv.ToEmail), FromEmail: s.st.users[inv.FromUserID].Email}
		if inv.ToUserID.Valid {
			item.Recipient = s.st.users[inv.ToUserID.UUID].Email
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *memStore) ListUnsent(_ context.Context, createdAfter time.Time, limit int) ([]*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Invitation
	for _, inv := range s.st.invitations {
		if inv.SentAt != nil || inv.AcceptedAt != nil || inv.RevokedAt != nil || inv.CreatedAt.Before(createdAfter) {
			continue
		}
		inv := inv
		out = append(out, &inv)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) PurgeStale(_ context.Context, revokedBefore, sentBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, inv := range s.st.invitations {
		if inv.AcceptedAt != nil {
			continue
		}
		if (inv.RevokedAt != nil && inv.RevokedAt.Before(revokedBefore)) ||
			(inv.RevokedAt == nil && inv.SentAt != nil && inv.SentAt.Before(sentBefore)) {
			delete(s.st.invitations, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) InTx(ctx context.Context, fn func(tx TxStore) error) error {
	if hook := s.beforeTx; hook != nil {
		s.beforeTx = nil
		hook()
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	tx := &memTx{memStore: s, auditDB: &recordingDB{}}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}

	for _, a := range tx.auditDB.Actions() {
		_, _ = s.audit.Exec(ctx, "", nil, nil, a)
	}
	return nil
}

type memTx struct {
	*memStore
	auditDB *recordingDB
}

func (t *memTx) LockInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	return t.GetInvitation(ctx, id)
}

func (t *memTx) AddProjectMember(_ context.Context, projectID, userID uuid.UUID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := memberKey{projectID, userID}
	if _, ok := t.st.members[key]; ok {
		return false, nil
	}
	t.st.members[key] = projects.Membership{ProjectID: projectID, UserID: userID, CreatedAt: t.now()}
	return true, nil
}

func (t *memTx) CreateTask(_ context.Context, params tasks.CreateParams) (*tasks.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task := tasks.Task{
		ID:        uuid.New(),
		ProjectID: params.ProjectID,
		EditorID:  params.EditorID,
		ModuleID:  params.ModuleID,
		Title:     params.Title,
		CreatedAt: t.now(),
	}
	t.st.tasks[task.ID] = task
	return &task, nil
}

func (t *memTx) LockTask(ctx context.Context, id uuid.UUID) (*tasks.Task, error) {
	return t.GetTask(ctx, id)
}

func (t *memTx) SetTaskEditor(_ context.Context, taskID, editorID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.st.tasks[taskID]
	if !ok {
		return tasks.ErrTaskNotFound
	}
	task.EditorID = editorID
	t.st.tasks[taskID] = task
	return nil
}

func (t *memTx) IsDiscussionParticipant(_ context.Context, d *discussions.Discussion, userID uuid.UUID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.st.members[memberKey{d.ProjectID, userID}]; ok {
		return true, nil
	}
	return t.st.participants[memberKey{d.ID, userID}], nil
}

func (t *memTx) AddDiscussionParticipant(_ context.Context, discussionID, userID uuid.UUID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := memberKey{discussionID, userID}
	if t.st.participants[key] {
		return false, nil
	}
	t.st.participants[key] = true
	return true, nil
}

func (t *memTx) MarkAccepted(_ context.Context, id uuid.UUID, acc Acceptance) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.st.invitations[id]
	if !ok || inv.AcceptedAt != nil {
		return ErrInvitationNotFound
	}
	at := acc.At
	dest := acc.Destination
	inv.AcceptedAt = &at
	inv.AcceptedUserID = uuid.NullUUID{UUID: acc.UserID, Valid: true}
	inv.AcceptedTaskID = acc.TaskID
	inv.AcceptedDestination = &dest
	t.st.invitations[id] = inv
	return nil
}

func (t *memTx) Audit() *audit.Writer {
	return audit.NewWriter(t.auditDB)
}

// fakeMailer records dispatched messages
type fakeMailer struct {
	mu   sync.Mutex
	err  error
	sent []sentMail
}

type sentMail struct {
	templateID string
	to         []string
	data       map[string]any
}

func (m *fakeMailer) Send(_ context.Context, templateID, _ string, to []string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{templateID: templateID, to: to, data: data})
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var _ mailer.Dispatcher = (*fakeMailer)(nil)

// fakeCatalog is a fixed set of modules
type fakeCatalog map[string]*modules.Module

func (c fakeCatalog) Load(id string) (*modules.Module, error) {
	m, ok := c[id]
	if !ok {
		return nil, modules.ErrModuleNotFound
	}
	return m, nil
}
