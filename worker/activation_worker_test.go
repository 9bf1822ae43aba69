package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voltcrm/models"
	"voltcrm/store"
)

func newActivationWorker(s *store.Store) *ActivationWorker {
	return NewActivationWorker(s, noopNotifier(), testLogger(), testCfg())
}

func queueActivation(t *testing.T, s *store.Store, sequenceID uint, contactIDs []uint) *models.SequenceActivation {
	t.Helper()
	activation := &models.SequenceActivation{
		SequenceID: sequenceID,
		OwnerID:    1,
		ContactIDs: contactIDs,
		Status:     models.ActivationStatusPending,
	}
	require.NoError(t, s.CreateActivation(activation))
	return activation
}

func TestActivationEnrollsBatch(t *testing.T) {
	s := testStore(t)
	w := newActivationWorker(s)

	sequence := seedSequence(t, s, models.StepTypeAutoMessage, models.StepTypeAutoMessage)
	c1 := seedContact(t, s, "dana@acme-energy.example")
	c2 := seedContact(t, s, "li@volt-supply.example")
	activation := queueActivation(t, s, sequence.ID, []uint{c1.ID, c2.ID})

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.CreatedOrSentCount)
	assert.Zero(t, result.SkippedCount)

	got, err := s.GetActivation(activation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActivationStatusCompleted, got.Status)
	assert.Equal(t, 2, got.ProcessedCount)

	// Both contacts enrolled at step 0 with a draft for step 0 only.
	var members []models.SequenceMember
	require.NoError(t, s.DB.Find(&members).Error)
	require.Len(t, members, 2)
	for _, member := range members {
		assert.Equal(t, 0, member.CurrentStepIndex)
		assert.Equal(t, models.MemberStatusActive, member.Status)
	}

	var messages []models.SequenceMessage
	require.NoError(t, s.DB.Find(&messages).Error)
	require.Len(t, messages, 2)
	for _, message := range messages {
		assert.Equal(t, 0, message.StepIndex)
		assert.Equal(t, models.MessageStatusNotGenerated, message.Status)
	}
}

func TestActivationIsIdempotent(t *testing.T) {
	s := testStore(t)
	w := newActivationWorker(s)

	sequence := seedSequence(t, s, models.StepTypeAutoMessage)
	contact := seedContact(t, s, "dana@acme-energy.example")
	queueActivation(t, s, sequence.ID, []uint{contact.ID})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	// A second batch naming the same contact creates nothing new.
	queueActivation(t, s, sequence.ID, []uint{contact.ID})
	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.CreatedOrSentCount)

	var memberCount, messageCount int64
	require.NoError(t, s.DB.Model(&models.SequenceMember{}).Count(&memberCount).Error)
	require.NoError(t, s.DB.Model(&models.SequenceMessage{}).Count(&messageCount).Error)
	assert.Equal(t, int64(1), memberCount)
	assert.Equal(t, int64(1), messageCount)
}

func TestActivationResumesFromCheckpoint(t *testing.T) {
	s := testStore(t)
	w := newActivationWorker(s)

	sequence := seedSequence(t, s, models.StepTypeAutoMessage)
	var contactIDs []uint
	emails := []string{
		"a@acme-energy.example",
		"b@acme-energy.example",
		"c@acme-energy.example",
		"d@acme-energy.example",
	}
	for _, email := range emails {
		contactIDs = append(contactIDs, seedContact(t, s, email).ID)
	}
	activation := queueActivation(t, s, sequence.ID, contactIDs)

	// Simulate a run that died after the first two targets: claim taken,
	// checkpoint at 2, members and drafts for A and B already created.
	claimed, err := s.ClaimActivation(activation.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	for _, contactID := range contactIDs[:2] {
		member := &models.SequenceMember{
			SequenceID: sequence.ID,
			ContactID:  contactID,
			OwnerID:    1,
			EnrolledAt: time.Now(),
		}
		require.NoError(t, s.CreateMember(member))
		require.NoError(t, s.CreateMessage(&models.SequenceMessage{
			SequenceID:        sequence.ID,
			MemberID:          member.ID,
			StepIndex:         0,
			OwnerID:           1,
			ScheduledSendTime: time.Now(),
		}))
	}
	require.NoError(t, s.CheckpointActivation(activation.ID, 2, nil))

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.CreatedOrSentCount)

	got, err := s.GetActivation(activation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActivationStatusCompleted, got.Status)
	assert.Equal(t, 4, got.ProcessedCount)

	// Exactly one member and one draft per contact, no duplicates for A/B.
	var memberCount, messageCount int64
	require.NoError(t, s.DB.Model(&models.SequenceMember{}).Count(&memberCount).Error)
	require.NoError(t, s.DB.Model(&models.SequenceMessage{}).Count(&messageCount).Error)
	assert.Equal(t, int64(4), memberCount)
	assert.Equal(t, int64(4), messageCount)
}

func TestActivationSkipsBadTargets(t *testing.T) {
	s := testStore(t)
	w := newActivationWorker(s)

	sequence := seedSequence(t, s, models.StepTypeAutoMessage)
	good := seedContact(t, s, "dana@acme-energy.example")
	optedOut := seedContact(t, s, "li@volt-supply.example")
	require.NoError(t, s.DB.Model(optedOut).Update("do_not_contact", true).Error)
	badEmail := seedContact(t, s, "not-an-email")

	activation := queueActivation(t, s, sequence.ID,
		[]uint{good.ID, optedOut.ID, badEmail.ID, 9999})

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.CreatedOrSentCount)
	assert.Equal(t, 3, result.SkippedCount)

	// Skips never stall the batch, and every one keeps its reason.
	got, err := s.GetActivation(activation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActivationStatusCompleted, got.Status)
	assert.Equal(t, 4, got.ProcessedCount)
	require.Len(t, got.SkippedTargets, 3)

	reasons := make(map[string]bool)
	for _, skip := range got.SkippedTargets {
		reasons[skip.Reason] = true
	}
	assert.True(t, reasons["contact is do-not-contact"])
	assert.True(t, reasons["invalid email"])
	assert.True(t, reasons["contact not found"])
}

func TestActivationFailsWhenSequenceNotActive(t *testing.T) {
	s := testStore(t)
	w := newActivationWorker(s)

	sequence := seedSequence(t, s, models.StepTypeAutoMessage)
	require.NoError(t, s.DB.Model(sequence).
		Update("status", models.SequenceStatusPaused).Error)
	contact := seedContact(t, s, "dana@acme-energy.example")
	activation := queueActivation(t, s, sequence.ID, []uint{contact.ID})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	got, err := s.GetActivation(activation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActivationStatusFailed, got.Status)

	var memberCount int64
	require.NoError(t, s.DB.Model(&models.SequenceMember{}).Count(&memberCount).Error)
	assert.Zero(t, memberCount)
}

func TestActivationManualTaskFirstStep(t *testing.T) {
	s := testStore(t)
	w := newActivationWorker(s)

	sequence := seedSequence(t, s, models.StepTypeManualTask, models.StepTypeAutoMessage)
	contact := seedContact(t, s, "dana@acme-energy.example")
	queueActivation(t, s, sequence.ID, []uint{contact.ID})

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.CreatedOrSentCount)

	var tasks []models.SequenceTask
	require.NoError(t, s.DB.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, 0, tasks[0].StepIndex)
	assert.Equal(t, models.TaskStatusPending, tasks[0].Status)

	var messageCount int64
	require.NoError(t, s.DB.Model(&models.SequenceMessage{}).Count(&messageCount).Error)
	assert.Zero(t, messageCount)
}
