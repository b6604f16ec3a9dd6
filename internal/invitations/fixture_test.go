package invitations

import (
	"context"
	"testing"
	"time"

	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/aliuyar1234/guidedq/internal/auth"
	"github.com/aliuyar1234/guidedq/internal/discussions"
	"github.com/aliuyar1234/guidedq/internal/modules"
	"github.com/aliuyar1234/guidedq/internal/projects"
	"github.com/aliuyar1234/guidedq/internal/tasks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://q.example.com"

type fixture struct {
	now     time.Time
	store   *memStore
	mail    *fakeMailer
	auditDB *recordingDB
	catalog fakeCatalog
	svc     *Service

	sender  auth.User
	project projects.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		now:     time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
		mail:    &fakeMailer{},
		auditDB: &recordingDB{},
		catalog: fakeCatalog{
			"security_review": {ID: "security_review", Title: "Security Review", Questions: []modules.Question{{ID: "has_mfa", Title: "Is MFA enforced?"}}},
			"intake":          {ID: "intake", Title: "Vendor Intake"},
		},
	}
	clock := func() time.Time { return f.now }
	f.store = newMemStore(clock, f.auditDB)
	f.svc = NewService(f.store, f.catalog, f.mail, audit.NewWriter(f.auditDB), Options{
		BaseURL:  testBaseURL,
		MailFrom: "Q <q@example.com>",
		Now:      clock,
	})

	f.sender = f.addUser("alice@example.com", true)
	f.project = projects.Project{ID: uuid.New(), Title: "Acme Compliance", CreatedByUserID: f.sender.ID}
	f.store.st.projects[f.project.ID] = f.project
	f.addMember(f.project.ID, f.sender.ID, true)
	return f
}

func (f *fixture) addUser(email string, active bool) auth.User {
	u := auth.User{ID: uuid.New(), Email: email, IsActive: active, CreatedAt: f.now}
	f.store.st.users[u.ID] = u
	return u
}

func (f *fixture) addMember(projectID, userID uuid.UUID, isAdmin bool) {
	f.store.st.members[memberKey{projectID, userID}] = projects.Membership{ProjectID: projectID, UserID: userID, IsAdmin: isAdmin}
}

func (f *fixture) isMember(userID uuid.UUID) bool {
	_, ok := f.store.st.members[memberKey{f.project.ID, userID}]
	return ok
}

func (f *fixture) addTask(editorID uuid.UUID, title string) tasks.Task {
	t := tasks.Task{
		ID:        uuid.New(),
		ProjectID: uuid.NullUUID{UUID: f.project.ID, Valid: true},
		EditorID:  editorID,
		ModuleID:  "security_review",
		Title:     title,
	}
	f.store.st.tasks[t.ID] = t
	return t
}

func (f *fixture) addDiscussion(task tasks.Task, questionID string) discussions.Discussion {
	d := discussions.Discussion{ID: uuid.New(), ProjectID: f.project.ID, TaskID: task.ID, QuestionID: questionID}
	f.store.st.discussions[d.ID] = d
	return d
}

func (f *fixture) tasksEditedBy(userID uuid.UUID) []tasks.Task {
	var out []tasks.Task
	for _, t := range f.store.st.tasks {
		if t.EditorID == userID {
			out = append(out, t)
		}
	}
	return out
}

// emailParams is an invitation from the sender to address offering project membership
func (f *fixture) emailParams(address string) CreateParams {
	return CreateParams{
		FromUserID:    f.sender.ID,
		FromProjectID: f.project.ID,
		ToEmail:       address,
		Text:          "Please join us.",
		IntoProject:   true,
	}
}

// createAndSend creates an invitation and sends it at the fixture's current time
func (f *fixture) createAndSend(t *testing.T, params CreateParams) *Invitation {
	t.Helper()
	inv, err := f.svc.Create(context.Background(), params)
	require.NoError(t, err)
	require.NoError(t, f.svc.Send(context.Background(), inv))
	return inv
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *Invitation {
	t.Helper()
	inv, err := f.store.GetInvitation(context.Background(), id)
	require.NoError(t, err)
	return inv
}
