package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voltcrm/models"
	"voltcrm/store"
	"voltcrm/utils"

	"github.com/sirupsen/logrus"
)

// Backfill is the operator-invoked repair pass: it recomputes which
// artifacts should exist from the membership registry, diffs against what
// does exist, and creates only the missing ones. The regular workers never
// do this — drift is repaired explicitly so bugs stay visible instead of
// being silently masked.
type Backfill struct {
	Store    *store.Store
	Notifier *utils.Notifier
	Logger   *logrus.Logger

	// PageSize bounds each membership scan page.
	PageSize int
}

type BackfillOptions struct {
	// DryRun reports what would be created without mutating anything.
	DryRun bool
	// Force also backfills steps before the cursor, assuming their sends
	// happened without records; those are created as sent placeholders so
	// the dispatcher won't redeliver them.
	Force bool
	// SequenceID restricts the pass to one sequence; zero means all.
	SequenceID uint
}

// BackfillResult reports one pass. For a fixed store snapshot, a dry run's
// ToCreate equals the subsequent real run's Created.
type BackfillResult struct {
	ToCreate     int      `json:"to_create"`
	Created      int      `json:"created"`
	SkippedCount int      `json:"skipped_count"`
	SkipReasons  []string `json:"skip_reasons,omitempty"`
}

func NewBackfill(s *store.Store, notifier *utils.Notifier, logger *logrus.Logger, pageSize int) *Backfill {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Backfill{Store: s, Notifier: notifier, Logger: logger, PageSize: pageSize}
}

// Run executes one reconciliation pass.
func (b *Backfill) Run(ctx context.Context, opts BackfillOptions) (BackfillResult, error) {
	var result BackfillResult
	sequences := make(map[uint]*models.Sequence)
	touched := make(map[uint]bool)

	for offset := 0; ; offset += b.PageSize {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		members, err := b.Store.ActiveMembersPage(opts.SequenceID, offset, b.PageSize)
		if err != nil {
			return result, fmt.Errorf("scan members: %w", err)
		}
		if len(members) == 0 {
			break
		}

		for i := range members {
			member := &members[i]

			sequence, ok := sequences[member.SequenceID]
			if !ok {
				sequence, err = b.Store.GetSequenceWithSteps(member.SequenceID)
				if err != nil {
					sequence = nil
				}
				sequences[member.SequenceID] = sequence
			}
			if sequence == nil {
				result.skipMember("sequence not found")
				continue
			}

			if err := b.reconcileMember(sequence, member, opts, &result, touched); err != nil {
				return result, err
			}
		}
	}

	if !opts.DryRun && result.Created > 0 {
		for sequenceID := range touched {
			b.Notifier.InvalidateSequenceCache(ctx, sequenceID)
		}
		b.Notifier.Publish(ctx, "backfill.completed", map[string]interface{}{
			"created": result.Created,
			"skipped": result.SkippedCount,
		})
	}

	b.Logger.WithFields(logrus.Fields{
		"dry_run":   opts.DryRun,
		"force":     opts.Force,
		"to_create": result.ToCreate,
		"created":   result.Created,
		"skipped":   result.SkippedCount,
	}).Info("backfill pass finished")
	return result, nil
}

// reconcileMember ensures every step artifact the member should have exists:
// the current step always, earlier steps too under Force.
func (b *Backfill) reconcileMember(sequence *models.Sequence, member *models.SequenceMember, opts BackfillOptions, result *BackfillResult, touched map[uint]bool) error {
	first := member.CurrentStepIndex
	if opts.Force {
		first = 0
	}

	for stepIndex := first; stepIndex <= member.CurrentStepIndex; stepIndex++ {
		step := sequence.StepAt(stepIndex)
		if step == nil {
			// A cursor sitting one past the last step is a member the
			// dispatcher hasn't completed yet, not missing data.
			if stepIndex == member.CurrentStepIndex && stepIndex >= len(sequence.Steps) {
				continue
			}
			result.skipMember("no step template")
			continue
		}

		missing, err := b.artifactMissing(member, step)
		if err != nil {
			return err
		}
		if !missing {
			continue
		}

		result.ToCreate++
		if opts.DryRun {
			continue
		}

		assumeSent := stepIndex < member.CurrentStepIndex
		created, err := b.createArtifact(sequence, member, step, assumeSent)
		if err != nil {
			return err
		}
		if created {
			result.Created++
			touched[sequence.ID] = true
		}
	}
	return nil
}

func (b *Backfill) artifactMissing(member *models.SequenceMember, step *models.SequenceStep) (bool, error) {
	if step.StepType == models.StepTypeManualTask {
		exists, err := b.Store.TaskExists(member.ID, step.StepIndex)
		return !exists, err
	}
	exists, err := b.Store.MessageExists(member.ID, step.StepIndex)
	return !exists, err
}

// createArtifact inserts the missing artifact. Earlier-step messages under
// Force become sent placeholders: the send is assumed to have happened, the
// record just went missing, and recreating it as a draft would redeliver.
func (b *Backfill) createArtifact(sequence *models.Sequence, member *models.SequenceMember, step *models.SequenceStep, assumeSent bool) (bool, error) {
	if step.StepType == models.StepTypeManualTask {
		task := &models.SequenceTask{
			SequenceID: sequence.ID,
			MemberID:   member.ID,
			StepIndex:  step.StepIndex,
			OwnerID:    member.OwnerID,
			DueAt:      stepDueTime(member, step),
			Note:       step.TaskNote,
		}
		if assumeSent {
			task.Status = models.TaskStatusCompleted
			task.CompletedAt = utils.Pointer(time.Now())
		}
		if err := b.Store.CreateTask(task); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}

	message := &models.SequenceMessage{
		SequenceID:        sequence.ID,
		MemberID:          member.ID,
		StepIndex:         step.StepIndex,
		OwnerID:           member.OwnerID,
		Status:            models.MessageStatusNotGenerated,
		ScheduledSendTime: stepDueTime(member, step),
	}
	if assumeSent {
		message.Status = models.MessageStatusSent
		message.SentAt = utils.Pointer(time.Now())
		message.LastError = "backfilled placeholder, send assumed"
	}
	if err := b.Store.CreateMessage(message); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *BackfillResult) skipMember(reason string) {
	r.SkippedCount++
	r.SkipReasons = append(r.SkipReasons, reason)
}
