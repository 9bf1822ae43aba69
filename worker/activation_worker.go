package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voltcrm/config"
	"voltcrm/models"
	"voltcrm/store"
	"voltcrm/utils"

	"github.com/badoux/checkmail"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// ActivationWorker drains the activation queue: for every open batch it
// enrolls the remaining contacts and creates the first step's artifact.
// All progress is checkpointed per target, so an interrupted run resumes
// where it stopped without re-enrolling anyone.
type ActivationWorker struct {
	Store    *store.Store
	Notifier *utils.Notifier
	Logger   *logrus.Logger
	Cfg      config.WorkerConfig
}

func NewActivationWorker(s *store.Store, notifier *utils.Notifier, logger *logrus.Logger, cfg config.WorkerConfig) *ActivationWorker {
	return &ActivationWorker{Store: s, Notifier: notifier, Logger: logger, Cfg: cfg}
}

// Start runs the worker on its interval until the context is canceled.
func (w *ActivationWorker) Start(ctx context.Context) {
	w.Logger.Info("activation worker started")
	ticker := time.NewTicker(w.Cfg.ActivationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("activation worker shutting down")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.Logger.WithError(err).Error("activation run failed")
				sentry.CaptureException(err)
			}
		}
	}
}

// RunOnce processes up to one page of open batches and returns the
// structured result for the diagnostics surface.
func (w *ActivationWorker) RunOnce(ctx context.Context) (RunResult, error) {
	var result RunResult

	activations, err := w.Store.OpenActivations(w.Cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list open activations: %w", err)
	}

	for i := range activations {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		w.processActivation(ctx, &activations[i], &result)
	}
	return result, nil
}

func (w *ActivationWorker) processActivation(ctx context.Context, activation *models.SequenceActivation, result *RunResult) {
	log := w.Logger.WithFields(logrus.Fields{
		"activation_id": activation.ID,
		"sequence_id":   activation.SequenceID,
	})

	sequence, err := w.Store.GetSequenceWithSteps(activation.SequenceID)
	if err != nil {
		log.WithError(err).Warn("sequence not found, failing batch")
		if err := w.Store.FailActivation(activation.ID, "sequence not found"); err != nil {
			log.WithError(err).Error("failed to fail activation")
		}
		result.skip("sequence not found")
		return
	}
	if sequence.Status != models.SequenceStatusActive {
		if err := w.Store.FailActivation(activation.ID, "sequence not active"); err != nil {
			log.WithError(err).Error("failed to fail activation")
		}
		result.skip("sequence not active")
		return
	}

	// Claim pending→processing. A batch already in processing is resumed
	// from its checkpoint instead of re-claimed; the per-target existence
	// checks make that safe.
	if activation.Status == models.ActivationStatusPending {
		claimed, err := w.Store.ClaimActivation(activation.ID)
		if err != nil {
			log.WithError(err).Error("claim failed")
			return
		}
		if !claimed {
			// Another invocation got here first.
			return
		}
	}

	skipped := activation.SkippedTargets

	for i := activation.ProcessedCount; i < len(activation.ContactIDs); i++ {
		if ctx.Err() != nil {
			// Truncated by the host's time limit; the checkpoint makes
			// this safe to resume next tick.
			return
		}

		contactID := activation.ContactIDs[i]
		created, reason := w.enrollTarget(sequence, activation, contactID)
		if reason != "" {
			log.WithFields(logrus.Fields{"contact_id": contactID, "reason": reason}).
				Warn("target skipped")
			skipped = append(skipped, models.SkippedTarget{ContactID: contactID, Reason: reason})
			result.skip(reason)
		} else if created {
			result.CreatedOrSentCount++
		}

		// The resumability checkpoint: persist progress after every target.
		if err := w.Store.CheckpointActivation(activation.ID, i+1, skipped); err != nil {
			log.WithError(err).Error("checkpoint failed")
			sentry.CaptureException(err)
			return
		}
	}

	if err := w.Store.CompleteActivation(activation.ID); err != nil {
		log.WithError(err).Error("complete failed")
		return
	}

	log.WithFields(logrus.Fields{
		"targets": len(activation.ContactIDs),
		"skipped": len(skipped),
	}).Info("activation batch completed")
	w.Notifier.Publish(ctx, "activation.completed", map[string]interface{}{
		"activation_id": activation.ID,
		"sequence_id":   activation.SequenceID,
		"targets":       len(activation.ContactIDs),
		"skipped":       len(skipped),
	})
}

// enrollTarget enrolls one contact: check-then-create the member, then
// check-then-create the current step's artifact. Re-running it for an
// already-processed contact creates nothing. A non-empty reason means the
// target was skipped; the batch moves on regardless.
func (w *ActivationWorker) enrollTarget(sequence *models.Sequence, activation *models.SequenceActivation, contactID uint) (bool, string) {
	contact, err := w.Store.GetContactWithAccount(contactID)
	if err != nil {
		return false, "contact not found"
	}
	if contact.DoNotContact {
		return false, "contact is do-not-contact"
	}
	if err := checkmail.ValidateFormat(contact.Email); err != nil {
		return false, "invalid email"
	}

	member, err := w.Store.ActiveMember(sequence.ID, contactID)
	if err != nil {
		sentry.CaptureException(err)
		return false, fmt.Sprintf("member lookup failed: %v", err)
	}
	if member == nil {
		member = &models.SequenceMember{
			SequenceID: sequence.ID,
			ContactID:  contactID,
			OwnerID:    activation.OwnerID,
			EnrolledAt: time.Now(),
		}
		if err := w.Store.CreateMember(member); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				// An overlapping run enrolled this contact between our
				// check and create; adopt its member.
				member, err = w.Store.ActiveMember(sequence.ID, contactID)
				if err != nil || member == nil {
					return false, "member create race lost"
				}
			} else {
				sentry.CaptureException(err)
				return false, fmt.Sprintf("member create failed: %v", err)
			}
		}
	}

	created, reason, err := EnsureStepArtifact(w.Store, sequence, member)
	if err != nil {
		sentry.CaptureException(err)
		return false, fmt.Sprintf("artifact create failed: %v", err)
	}
	return created, reason
}

// StaleActivations surfaces batches stuck in processing past the configured
// threshold. They are flagged for operator attention, never auto-retried —
// an actually-still-running process holding the claim would duplicate side
// effects.
func (w *ActivationWorker) StaleActivations() ([]models.SequenceActivation, error) {
	return w.Store.StaleActivations(w.Cfg.StaleProcessing)
}
