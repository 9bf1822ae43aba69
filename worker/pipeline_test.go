package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltcrm/models"
)

// TestPipelineEndToEnd walks two contacts through the whole pipeline:
// batch enrollment, content generation, human approval, dispatch, and the
// cursor advance that stages the next step.
func TestPipelineEndToEnd(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	notifier := noopNotifier()
	logger := testLogger()
	cfg := testCfg()

	activation := NewActivationWorker(s, notifier, logger, cfg)
	generator := NewGeneratorWorker(s, &fakeGenerator{}, notifier, logger, cfg)
	mailer := &fakeMailer{}
	dispatcher := NewDispatcherWorker(s, mailer, notifier, logger, cfg)

	sequence := seedSequence(t, s,
		models.StepTypeAutoMessage, models.StepTypeAutoMessage)
	c1 := seedContact(t, s, "dana@acme-energy.example")
	c2 := seedContact(t, s, "li@volt-supply.example")
	require.NoError(t, s.CreateActivation(&models.SequenceActivation{
		SequenceID: sequence.ID,
		OwnerID:    1,
		ContactIDs: []uint{c1.ID, c2.ID},
		Status:     models.ActivationStatusPending,
	}))

	// Enrollment: two members, two step-0 drafts.
	result, err := activation.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.CreatedOrSentCount)

	// Generation parks both drafts for approval; nothing dispatches yet.
	result, err = generator.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.CreatedOrSentCount)

	result, err = dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.CreatedOrSentCount)
	assert.Empty(t, mailer.sent)

	// The human approves both.
	pending, err := s.PendingApproval(1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, message := range pending {
		approved, err := s.ApproveMessage(message.ID, "", "", nil)
		require.NoError(t, err)
		require.True(t, approved)
	}

	// Dispatch sends both and stages step 1.
	result, err = dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CreatedOrSentCount)
	assert.Len(t, mailer.sent, 2)

	var members []models.SequenceMember
	require.NoError(t, s.DB.Find(&members).Error)
	require.Len(t, members, 2)
	for _, member := range members {
		assert.Equal(t, 1, member.CurrentStepIndex)
		assert.Equal(t, models.MemberStatusActive, member.Status)
	}

	var drafts []models.SequenceMessage
	require.NoError(t, s.DB.
		Where("step_index = ? AND status = ?", 1, models.MessageStatusNotGenerated).
		Find(&drafts).Error)
	assert.Len(t, drafts, 2)

	// Re-running every worker changes nothing until step 1 is approved.
	_, err = activation.RunOnce(ctx)
	require.NoError(t, err)
	result, err = dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.CreatedOrSentCount)
	assert.Len(t, mailer.sent, 2)

	// Finish step 1 for both; the sequence is done and members complete.
	_, err = generator.RunOnce(ctx)
	require.NoError(t, err)
	pending, err = s.PendingApproval(1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, message := range pending {
		approved, err := s.ApproveMessage(message.ID, "", "", nil)
		require.NoError(t, err)
		require.True(t, approved)
	}

	result, err = dispatcher.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CreatedOrSentCount)

	require.NoError(t, s.DB.Find(&members).Error)
	for _, member := range members {
		assert.Equal(t, models.MemberStatusCompleted, member.Status)
		assert.Equal(t, "all steps completed", member.ExitReason)
	}
}
