package invitations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aliuyar1234/guidedq/internal/audit"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccept_TwiceReturnsSameDestination(t *testing.T) {
	f := newFixture(t)
	carol := f.addUser("carol@example.com", true)

	params := f.emailParams("carol.work@example.com")
	params.IntoNewTaskModuleID = "intake"
	inv := f.createAndSend(t, params)

	first, err := f.svc.Accept(context.Background(), inv.Code, carol.ID)
	require.NoError(t, err)
	require.False(t, first.AlreadyAccepted)
	require.Contains(t, first.Messages, "You have joined the team Acme Compliance.")

	created := f.tasksEditedBy(carol.ID)
	require.Len(t, created, 1)
	assert.Equal(t, created[0].URL(), first.Redirect)
	assert.Equal(t, "Vendor Intake", created[0].Title)

	events := len(f.auditDB.Actions())

	second, err := f.svc.Accept(context.Background(), inv.Code, carol.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyAccepted)
	assert.Equal(t, first.Redirect, second.Redirect)
	assert.Empty(t, second.Messages)
	assert.Len(t, f.tasksEditedBy(carol.ID), 1)
	assert.Len(t, f.auditDB.Actions(), events)

	stored := f.reload(t, inv.ID)
	require.NotNil(t, stored.AcceptedAt)
	assert.Equal(t, carol.ID, stored.AcceptedUserID.UUID)
	assert.Equal(t, created[0].ID, stored.AcceptedTaskID.UUID)
	assert.Equal(t, first.Redirect, deref(stored.AcceptedDestination))
}

func TestAccept_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	carol := f.addUser("carol@example.com", true)
	sentAt := f.now

	early := f.createAndSend(t, f.emailParams("x1@example.com"))
	late := f.createAndSend(t, f.emailParams("x2@example.com"))

	f.now = sentAt.Add(ExpiryWindow - time.Second)
	_, err := f.svc.Accept(context.Background(), early.Code, carol.ID)
	require.NoError(t, err)

	f.now = sentAt.Add(ExpiryWindow + time.Second)
	out, err := f.svc.Accept(context.Background(), late.Code, carol.ID)
	require.ErrorIs(t, err, ErrInvitationExpiredOrRevoked)
	require.NotNil(t, out)
	assert.Equal(t, "/", out.Redirect)
	assert.Equal(t, []string{"The invitation you wanted to accept has expired."}, out.Messages)
	assert.Nil(t, f.reload(t, late.ID).AcceptedAt)

	// an accepted invitation keeps working after expiry
	out, err = f.svc.Accept(context.Background(), early.Code, carol.ID)
	require.NoError(t, err)
	assert.True(t, out.AlreadyAccepted)
}

func TestAccept_RevokedNeverAcceptable(t *testing.T) {
	f := newFixture(t)
	carol := f.addUser("carol@example.com", true)
	inv := f.createAndSend(t, f.emailParams("carol@example.com"))

	_, err := f.svc.Revoke(context.Background(), f.sender.ID, inv.ID)
	require.NoError(t, err)

	for _, session := range []uuid.UUID{uuid.Nil, carol.ID, f.sender.ID} {
		out, err := f.svc.Accept(context.Background(), inv.Code, session)
		require.ErrorIs(t, err, ErrInvitationExpiredOrRevoked)
		assert.Equal(t, "/", out.Redirect)
	}
	assert.False(t, f.isMember(carol.ID))
}

func TestAccept_DiscussionBeatsNewTask(t *testing.T) {
	f := newFixture(t)
	carol := f.addUser("carol@example.com", true)
	task := f.addTask(f.sender.ID, "Security Review")
	d := f.addDiscussion(task, "has_mfa")

	inv := f.createAndSend(t, CreateParams{
		FromUserID:          f.sender.ID,
		FromProjectID:       f.project.ID,
		ToUserID:            uuid.NullUUID{UUID: carol.ID, Valid: true},
		IntoNewTaskModuleID: "intake",
		IntoDiscussionID:    uuid.NullUUID{UUID: d.ID, Valid: true},
	})

	out, err := f.svc.Accept(context.Background(), inv.Code, carol.ID)
	require.NoError(t, err)

	d.TaskTitle = task.Title
	assert.Equal(t, d.URL(), out.Redirect)
	assert.Contains(t, out.Messages, "You are now a participant in the discussion on Security Review (has_mfa).")
	assert.Len(t, f.tasksEditedBy(carol.ID), 1)
	assert.True(t, f.store.st.participants[memberKey{d.ID, carol.ID}])
}

func TestAccept_DiscussionSkipsExistingParticipant(t *testing.T) {
	f := newFixture(t)
	bob := f.addUser("bob@example.com", true)
	f.addMember(f.project.ID, bob.ID, false)
	task := f.addTask(f.sender.ID, "Security Review")
	d := f.addDiscussion(task, "has_mfa")

	inv := f.createAndSend(t, CreateParams{
		FromUserID:       f.sender.ID,
		FromProjectID:    f.project.ID,
		ToUserID:         uuid.NullUUID{UUID: bob.ID, Valid: true},
		IntoDiscussionID: uuid.NullUUID{UUID: d.ID, Valid: true},
	})

	out, err := f.svc.Accept(context.Background(), inv.Code, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, out.Messages)
	assert.False(t, f.store.st.participants[memberKey{d.ID, bob.ID}])
	assert.Equal(t, 0, f.auditDB.count(audit.EventDiscussionParticipantAdded))
}

func TestAccept_EditorshipTransfersTask(t *testing.T) {
	f := newFixture(t)
	carol := f.addUser("carol@example.com", true)
	task := f.addTask(f.sender.ID, "Security Review")

	inv := f.createAndSend(t, CreateParams{
		FromUserID:           f.sender.ID,
		FromProjectID:        f.project.ID,
		ToEmail:              "carol@example.com",
		IntoProject:          true,
		IntoNewTaskModuleID:  "intake",
		IntoTaskEditorshipID: uuid.NullUUID{UUID: task.ID, Valid: true},
	})

	out, err := f.svc.Accept(context.Background(), inv.Code, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, task.URL(), out.Redirect)
	assert.Contains(t, out.Messages, "You are now the editor for module Security Review.")
	assert.Equal(t, carol.ID, f.store.st.tasks[task.ID].EditorID)
	assert.Equal(t, task.ID, f.reload(t, inv.ID).AcceptedTaskID.UUID)
	assert.Equal(t, 1, f.auditDB.count(audit.EventTaskEditorChanged))
}

func TestAccept_StaleEditorship(t *testing.T) {
	f := newFixture(t)
	carol := f.addUser("carol@example.com", true)
	dan := f.addUser("dan@example.com", true)
	task := f.addTask(f.sender.ID, "Security Review")

	inv := f.createAndSend(t, CreateParams{
		FromUserID:           f.sender.ID,
		FromProjectID:        f.project.ID,
		ToUserID:             uuid.NullUUID{UUID: carol.ID, Valid: true},
		IntoProject:          true,
		IntoTaskEditorshipID: uuid.NullUUID{UUID: task.ID, Valid: true},
	})

	// the task changes hands before the invitation is used
	moved := f.store.st.tasks[task.ID]
	moved.EditorID = dan.ID
	f.store.st.tasks[task.ID] = moved

	out, err := f.svc.Accept(context.Background(), inv.Code, carol.ID)
	require.NoError(t, err)
	assert.True(t, out.HasBranchError(ErrStaleEditorship))
	assert.Contains(t, out.Messages, "The invitation is no longer valid.")
	assert.Equal(t, dan.ID, f.store.st.tasks[task.ID].EditorID)
	assert.True(t, f.isMember(carol.ID))
	assert.Equal(t, f.project.URL(), out.Redirect)
	assert.False(t, f.reload(t, inv.ID).AcceptedTaskID.Valid)
}

func TestAccept_EmailMatchesExistingAccount(t *testing.T) {
	f := newFixture(t)
	dave := f.addUser("Dave@Example.com", true)
	inv := f.createAndSend(t, f.emailParams("dave@example.com"))

	out, err := f.svc.Accept(context.Background(), inv.Code, uuid.Nil)
	require.NoError(t, err)
	require.NotNil(t, out.LoginAs)
	assert.Equal(t, dave.ID, out.LoginAs.ID)
	assert.False(t, out.Logout)
	assert.NotContains(t, out.Messages, "You have been logged in as Dave@Example.com.")
	assert.True(t, f.isMember(dave.ID))
	assert.Equal(t, f.project.URL(), out.Redirect)
}

func TestAccept_EmailMatchSwitchesSession(t *testing.T) {
	f := newFixture(t)
	dave := f.addUser("dave@example.com", true)
	erin := f.addUser("erin@example.com", true)
	inv := f.createAndSend(t, f.emailParams("dave@example.com"))

	out, err := f.svc.Accept(context.Background(), inv.Code, erin.ID)
	require.NoError(t, err)
	assert.True(t, out.Logout)
	require.NotNil(t, out.LoginAs)
	assert.Equal(t, dave.ID, out.LoginAs.ID)
	assert.Equal(t, "You have been logged in as dave@example.com.", out.Messages[0])
	assert.True(t, f.isMember(dave.ID))
	assert.False(t, f.isMember(erin.ID))
}

func TestAccept_LosingRaceKeepsSessionSwitch(t *testing.T) {
	f := newFixture(t)
	dave := f.addUser("dave@example.com", true)
	erin := f.addUser("erin@example.com", true)
	inv := f.createAndSend(t, f.emailParams("dave@example.com"))

	// another request accepts between the lookup and the transaction
	dest := f.project.URL()
	f.store.beforeTx = func() {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		stored := f.store.st.invitations[inv.ID]
		at := f.now
		stored.AcceptedAt = &at
		stored.AcceptedUserID = uuid.NullUUID{UUID: dave.ID, Valid: true}
		stored.AcceptedDestination = &dest
		f.store.st.invitations[inv.ID] = stored
	}

	out, err := f.svc.Accept(context.Background(), inv.Code, erin.ID)
	require.NoError(t, err)
	assert.True(t, out.AlreadyAccepted)
	assert.Equal(t, dest, out.Redirect)
	assert.True(t, out.Logout)
	require.NotNil(t, out.LoginAs)
	assert.Equal(t, dave.ID, out.LoginAs.ID)
	assert.False(t, f.isMember(dave.ID))
}

func TestAccept_EmailMatchIgnoresSender(t *testing.T) {
	f := newFixture(t)
	inv := f.createAndSend(t, f.emailParams(f.sender.Email))

	out, err := f.svc.Accept(context.Background(), inv.Code, uuid.Nil)
	require.ErrorIs(t, err, ErrIdentityRequired)
	assert.Nil(t, out.LoginAs)
}

func TestAccept_DeactivatedAccount(t *testing.T) {
	f := newFixture(t)
	gone := f.addUser("gone@example.com", false)
	inv := f.createAndSend(t, f.emailParams("gone@example.com"))

	out, err := f.svc.Accept(context.Background(), inv.Code, uuid.Nil)
	require.ErrorIs(t, err, ErrDeactivatedAccount)
	assert.Equal(t, "/", out.Redirect)
	assert.Equal(t, []string{"Your account has been deactivated."}, out.Messages)
	assert.Nil(t, out.LoginAs)
	assert.False(t, f.isMember(gone.ID))
	assert.Nil(t, f.reload(t, inv.ID).AcceptedAt)
}

func TestAccept_IdentityRequired(t *testing.T) {
	f := newFixture(t)
	inv := f.createAndSend(t, f.emailParams("newcomer@example.com"))

	out, err := f.svc.Accept(context.Background(), inv.Code, uuid.Nil)
	require.ErrorIs(t, err, ErrIdentityRequired)
	assert.False(t, out.Logout)
	assert.Equal(t, "/accounts/signup?next=%2Finvitation%2Faccept%2F"+inv.Code, out.Redirect)

	// the sender following their own link is signed out first
	out, err = f.svc.Accept(context.Background(), inv.Code, f.sender.ID)
	require.ErrorIs(t, err, ErrIdentityRequired)
	assert.True(t, out.Logout)
	assert.Nil(t, f.reload(t, inv.ID).AcceptedAt)
}

func TestAccept_OtherSessionProceeds(t *testing.T) {
	f := newFixture(t)
	frank := f.addUser("frank@example.com", true)
	inv := f.createAndSend(t, f.emailParams("frank.alt@example.com"))

	out, err := f.svc.Accept(context.Background(), inv.Code, frank.ID)
	require.NoError(t, err)
	assert.Nil(t, out.LoginAs)
	assert.False(t, out.Logout)
	assert.True(t, f.isMember(frank.ID))
}

func TestAccept_UnknownCode(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Accept(context.Background(), "AAAAAAAAAAAAAAAAAAAAAAAA", uuid.Nil)
	require.ErrorIs(t, err, ErrInvitationNotFound)
	assert.Nil(t, out)

	out, err = f.svc.Accept(context.Background(), "bad", uuid.Nil)
	require.ErrorIs(t, err, ErrInvitationNotFound)
	assert.Nil(t, out)
}

func TestAccept_FailureRollsBack(t *testing.T) {
	f := newFixture(t)
	carol := f.addUser("carol@example.com", true)

	params := f.emailParams("carol@example.com")
	params.IntoNewTaskModuleID = "intake"
	inv := f.createAndSend(t, params)

	delete(f.catalog, "intake")

	out, err := f.svc.Accept(context.Background(), inv.Code, carol.ID)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.False(t, f.isMember(carol.ID))
	assert.Nil(t, f.reload(t, inv.ID).AcceptedAt)
	assert.Equal(t, 0, f.auditDB.count(audit.EventProjectMemberAdded))
}

func TestAccept_ExistingMembershipUntouched(t *testing.T) {
	f := newFixture(t)
	bob := f.addUser("bob@example.com", true)
	f.addMember(f.project.ID, bob.ID, true)

	inv := f.createAndSend(t, CreateParams{
		FromUserID:    f.sender.ID,
		FromProjectID: f.project.ID,
		ToUserID:      uuid.NullUUID{UUID: bob.ID, Valid: true},
		IntoProject:   true,
	})

	_, err := f.svc.Accept(context.Background(), inv.Code, bob.ID)
	require.NoError(t, err)
	assert.True(t, f.store.st.members[memberKey{f.project.ID, bob.ID}].IsAdmin)
	assert.Equal(t, 0, f.auditDB.count(audit.EventProjectMemberAdded))
}

func TestAccept_ConcurrentCreatesOneTask(t *testing.T) {
	f := newFixture(t)
	carol := f.addUser("carol@example.com", true)

	params := f.emailParams("carol@example.com")
	params.IntoNewTaskModuleID = "intake"
	inv := f.createAndSend(t, params)

	const workers = 8
	var wg sync.WaitGroup
	redirects := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.svc.Accept(context.Background(), inv.Code, carol.ID)
			errs[i] = err
			if out != nil {
				redirects[i] = out.Redirect
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, redirects[0], redirects[i])
	}
	assert.Len(t, f.tasksEditedBy(carol.ID), 1)
	assert.Equal(t, 1, f.auditDB.count(audit.EventInvitationAccepted))
	assert.Equal(t, 1, f.auditDB.count(audit.EventProjectMemberAdded))
}

func TestResolveDestination(t *testing.T) {
	assert.Equal(t, "/", destinations{}.resolve())
	assert.Equal(t, "/p", destinations{project: "/p"}.resolve())
	assert.Equal(t, "/n", destinations{project: "/p", newTask: "/n"}.resolve())
	assert.Equal(t, "/e", destinations{project: "/p", newTask: "/n", editorship: "/e"}.resolve())
	assert.Equal(t, "/d", destinations{project: "/p", newTask: "/n", editorship: "/e", discussion: "/d"}.resolve())
}
