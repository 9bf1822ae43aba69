package worker

import (
	"errors"
	"fmt"
	"time"

	"voltcrm/models"
	"voltcrm/store"
	"voltcrm/utils"
)

// stepDueTime derives when a step's artifact becomes actionable: the step
// offset in whole days from enrollment.
func stepDueTime(member *models.SequenceMember, step *models.SequenceStep) time.Time {
	return utils.StartOfDay(member.EnrolledAt).AddDate(0, 0, step.OffsetDays)
}

// EnsureStepArtifact creates the artifact for the member's current step if
// it is missing: a draft message for auto_message steps, a task for
// manual_task steps. It is the shared incremental-creation path used at
// enrollment and after every cursor advance, and it is idempotent — an
// existing artifact, or losing a creation race to the unique index, is a
// clean no-op.
//
// Returns (created, skipReason, err). A non-empty skipReason means the
// artifact cannot exist (e.g. the cursor ran past the last step).
func EnsureStepArtifact(s *store.Store, sequence *models.Sequence, member *models.SequenceMember) (bool, string, error) {
	step := sequence.StepAt(member.CurrentStepIndex)
	if step == nil {
		return false, "no step template", nil
	}

	switch step.StepType {
	case models.StepTypeManualTask:
		exists, err := s.TaskExists(member.ID, step.StepIndex)
		if err != nil {
			return false, "", err
		}
		if exists {
			return false, "", nil
		}
		task := &models.SequenceTask{
			SequenceID: sequence.ID,
			MemberID:   member.ID,
			StepIndex:  step.StepIndex,
			OwnerID:    member.OwnerID,
			DueAt:      stepDueTime(member, step),
			Note:       step.TaskNote,
		}
		if err := s.CreateTask(task); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return false, "", nil
			}
			return false, "", err
		}
		return true, "", nil

	case models.StepTypeAutoMessage:
		exists, err := s.MessageExists(member.ID, step.StepIndex)
		if err != nil {
			return false, "", err
		}
		if exists {
			return false, "", nil
		}
		message := &models.SequenceMessage{
			SequenceID:        sequence.ID,
			MemberID:          member.ID,
			StepIndex:         step.StepIndex,
			OwnerID:           member.OwnerID,
			Status:            models.MessageStatusNotGenerated,
			ScheduledSendTime: stepDueTime(member, step),
		}
		if err := s.CreateMessage(message); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return false, "", nil
			}
			return false, "", err
		}
		return true, "", nil

	default:
		return false, fmt.Sprintf("unknown step type %q", step.StepType), nil
	}
}
