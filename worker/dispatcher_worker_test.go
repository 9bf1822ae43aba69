package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltcrm/models"
	"voltcrm/store"
)

// seedApproved builds a member mid-sequence with an approved, due message at
// the current step. Returns the message and member.
func seedApproved(t *testing.T, s *store.Store, stepTypes ...string) (*models.SequenceMessage, *models.SequenceMember) {
	t.Helper()
	sequence := seedSequence(t, s, stepTypes...)
	contact := seedContact(t, s, "dana@acme-energy.example")

	member := &models.SequenceMember{
		SequenceID: sequence.ID,
		ContactID:  contact.ID,
		OwnerID:    1,
		EnrolledAt: time.Now(),
	}
	require.NoError(t, s.CreateMember(member))

	message := &models.SequenceMessage{
		SequenceID:        sequence.ID,
		MemberID:          member.ID,
		StepIndex:         0,
		OwnerID:           1,
		Status:            models.MessageStatusApproved,
		Subject:           "Renewal window",
		Body:              "Your contract ends soon.",
		ScheduledSendTime: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.DB.Create(message).Error)
	return message, member
}

func TestDispatcherSendsAndAdvances(t *testing.T) {
	s := testStore(t)
	mailer := &fakeMailer{}
	w := NewDispatcherWorker(s, mailer, noopNotifier(), testLogger(), testCfg())

	message, member := seedApproved(t, s,
		models.StepTypeAutoMessage, models.StepTypeAutoMessage)

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.CreatedOrSentCount)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "dana@acme-energy.example", mailer.sent[0].To)
	assert.Equal(t, "Renewal window", mailer.sent[0].Subject)

	got, err := s.GetMessage(message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	assert.Equal(t, "delivery-1", got.DeliveryID)

	// The cursor moved and the next step's draft appeared immediately.
	gotMember, err := s.GetMember(member.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotMember.CurrentStepIndex)

	var next models.SequenceMessage
	require.NoError(t, s.DB.
		Where("member_id = ? AND step_index = ?", member.ID, 1).
		First(&next).Error)
	assert.Equal(t, models.MessageStatusNotGenerated, next.Status)

	// The next draft is not approved, so a second run sends nothing.
	result, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.CreatedOrSentCount)
	assert.Len(t, mailer.sent, 1)
}

func TestDispatcherCompletesMemberAfterLastStep(t *testing.T) {
	s := testStore(t)
	mailer := &fakeMailer{}
	w := NewDispatcherWorker(s, mailer, noopNotifier(), testLogger(), testCfg())

	_, member := seedApproved(t, s, models.StepTypeAutoMessage)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	gotMember, err := s.GetMember(member.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberStatusCompleted, gotMember.Status)
	assert.Equal(t, "all steps completed", gotMember.ExitReason)
}

func TestDispatcherRetriesThenFailsPermanently(t *testing.T) {
	s := testStore(t)
	mailer := &fakeMailer{err: errors.New("smtp connection refused")}
	cfg := testCfg() // MaxSendAttempts = 2
	w := NewDispatcherWorker(s, mailer, noopNotifier(), testLogger(), cfg)

	message, member := seedApproved(t, s, models.StepTypeAutoMessage)

	// First attempt fails, message goes back to approved for the next tick.
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	got, err := s.GetMessage(message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusApproved, got.Status)
	assert.Equal(t, 1, got.AttemptCount)

	// Second attempt exhausts the budget: terminal failed, cursor untouched.
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	got, err = s.GetMessage(message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, "smtp connection refused", got.LastError)

	gotMember, err := s.GetMember(member.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotMember.CurrentStepIndex)
	assert.Equal(t, models.MemberStatusActive, gotMember.Status)

	// Terminal means terminal: nothing left to dispatch.
	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.SkippedCount)
}

func TestDispatcherSkipsInactiveMember(t *testing.T) {
	s := testStore(t)
	mailer := &fakeMailer{}
	w := NewDispatcherWorker(s, mailer, noopNotifier(), testLogger(), testCfg())

	message, member := seedApproved(t, s, models.StepTypeAutoMessage)
	require.NoError(t, s.RemoveMember(member.ID, "replied"))

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Empty(t, mailer.sent)

	got, err := s.GetMessage(message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	assert.Equal(t, "member no longer active", got.LastError)
	assert.Zero(t, got.AttemptCount)
}

func TestDispatcherCancelsWhenMemberRowGone(t *testing.T) {
	s := testStore(t)
	mailer := &fakeMailer{}
	w := NewDispatcherWorker(s, mailer, noopNotifier(), testLogger(), testCfg())

	message, member := seedApproved(t, s, models.StepTypeAutoMessage)
	require.NoError(t, s.DB.Unscoped().Delete(member).Error)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mailer.sent)

	got, err := s.GetMessage(message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	assert.Equal(t, "member not found", got.LastError)
}

func TestDispatcherReleasesClaimOnTransientLookupError(t *testing.T) {
	s := testStore(t)
	mailer := &fakeMailer{}
	w := NewDispatcherWorker(s, mailer, noopNotifier(), testLogger(), testCfg())

	message, _ := seedApproved(t, s, models.StepTypeAutoMessage)

	// Break the member lookup with an infrastructure-level error, not a
	// missing row. The message must go back to approved, attempts intact.
	require.NoError(t, s.DB.Migrator().DropTable(&models.SequenceMember{}))

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Empty(t, mailer.sent)

	got, err := s.GetMessage(message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusApproved, got.Status)
	assert.Zero(t, got.AttemptCount)
	assert.Nil(t, got.ClaimedAt)
}

func TestDispatcherSkipsDoNotContact(t *testing.T) {
	s := testStore(t)
	mailer := &fakeMailer{}
	w := NewDispatcherWorker(s, mailer, noopNotifier(), testLogger(), testCfg())

	message, _ := seedApproved(t, s, models.StepTypeAutoMessage)

	// The contact opted out after approval; the send must not happen.
	require.NoError(t, s.DB.Model(&models.Contact{}).
		Where("email = ?", "dana@acme-energy.example").
		Update("do_not_contact", true).Error)

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Empty(t, mailer.sent)

	got, err := s.GetMessage(message.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	assert.Equal(t, "contact is do-not-contact", got.LastError)
}

func TestDispatcherAtMostOnceAgainstStolenClaim(t *testing.T) {
	s := testStore(t)
	mailer := &fakeMailer{}
	w := NewDispatcherWorker(s, mailer, noopNotifier(), testLogger(), testCfg())

	message, _ := seedApproved(t, s, models.StepTypeAutoMessage)

	// An overlapping invocation takes the claim between our listing and our
	// claim attempt: dispatchOne still holds the stale approved row.
	claimed, err := s.ClaimForDispatch(message.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	var result RunResult
	w.dispatchOne(context.Background(), message, &result)
	assert.Empty(t, mailer.sent)
	assert.Zero(t, result.CreatedOrSentCount)
}
