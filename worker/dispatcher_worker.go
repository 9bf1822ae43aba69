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
	"gorm.io/gorm"
)

// DispatcherWorker sends approved messages whose scheduled time has
// elapsed. The approved→sending claim is the at-most-once gate: of two
// overlapping invocations racing on the same message, only the one that
// flips the status makes the delivery call. On success it advances the
// member cursor, which makes the next step's artifact eligible for creation
// right away.
type DispatcherWorker struct {
	Store    *store.Store
	Mailer   utils.MailService
	Notifier *utils.Notifier
	Logger   *logrus.Logger
	Cfg      config.WorkerConfig
}

func NewDispatcherWorker(s *store.Store, mailer utils.MailService, notifier *utils.Notifier, logger *logrus.Logger, cfg config.WorkerConfig) *DispatcherWorker {
	return &DispatcherWorker{Store: s, Mailer: mailer, Notifier: notifier, Logger: logger, Cfg: cfg}
}

func (w *DispatcherWorker) Start(ctx context.Context) {
	w.Logger.Info("dispatcher worker started")
	ticker := time.NewTicker(w.Cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("dispatcher worker shutting down")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.Logger.WithError(err).Error("dispatch run failed")
				sentry.CaptureException(err)
			}
		}
	}
}

// RunOnce dispatches up to one page of due messages.
func (w *DispatcherWorker) RunOnce(ctx context.Context) (RunResult, error) {
	var result RunResult

	messages, err := w.Store.DueForDispatch(time.Now(), w.Cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list due messages: %w", err)
	}

	for i := range messages {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		w.dispatchOne(ctx, &messages[i], &result)
	}
	return result, nil
}

func (w *DispatcherWorker) dispatchOne(ctx context.Context, message *models.SequenceMessage, result *RunResult) {
	log := w.Logger.WithFields(logrus.Fields{
		"message_id": message.ID,
		"member_id":  message.MemberID,
		"step_index": message.StepIndex,
	})

	claimed, err := w.Store.ClaimForDispatch(message.ID)
	if err != nil {
		log.WithError(err).Error("dispatch claim failed")
		return
	}
	if !claimed {
		// Lost the race to an overlapping tick.
		return
	}

	member, err := w.Store.GetMember(message.MemberID)
	if err != nil {
		// Only a definitive not-found justifies the permanent cancel. A
		// transient lookup failure releases the claim so the next tick
		// retries.
		if errors.Is(err, gorm.ErrRecordNotFound) {
			w.cancel(log, message.ID, "member not found", result)
			return
		}
		w.release(log, message.ID, "member lookup failed", err, result)
		return
	}
	if member.Status != models.MemberStatusActive {
		w.cancel(log, message.ID, "member no longer active", result)
		return
	}

	contact, err := w.Store.GetContactWithAccount(member.ContactID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			w.cancel(log, message.ID, "contact not found", result)
			return
		}
		w.release(log, message.ID, "contact lookup failed", err, result)
		return
	}
	if contact.DoNotContact {
		w.cancel(log, message.ID, "contact is do-not-contact", result)
		return
	}
	if err := checkmail.ValidateFormat(contact.Email); err != nil {
		w.cancel(log, message.ID, "invalid email", result)
		return
	}

	deliveryID, err := w.Mailer.Send(utils.Email{
		To:      contact.Email,
		Subject: message.Subject,
		Body:    message.Body,
	})
	if err != nil {
		permanent, failErr := w.Store.MarkSendFailed(message.ID, err.Error(), w.Cfg.MaxSendAttempts)
		if failErr != nil {
			log.WithError(failErr).Error("mark failed errored")
			sentry.CaptureException(failErr)
		}
		log.WithError(err).WithField("permanent", permanent).Warn("delivery failed")
		result.skip(fmt.Sprintf("delivery failed: %v", err))
		if permanent {
			w.Notifier.Publish(ctx, "message.failed", map[string]interface{}{
				"message_id":  message.ID,
				"sequence_id": message.SequenceID,
			})
		}
		return
	}

	if err := w.Store.MarkSent(message.ID, deliveryID); err != nil {
		// The mail went out but the record didn't flip; surface loudly,
		// the backfill tool is the repair path.
		log.WithError(err).Error("mark sent failed after delivery")
		sentry.CaptureException(err)
		return
	}
	result.CreatedOrSentCount++

	w.advanceMember(ctx, member, message, log)

	w.Notifier.Publish(ctx, "message.sent", map[string]interface{}{
		"message_id":  message.ID,
		"sequence_id": message.SequenceID,
		"delivery_id": deliveryID,
	})
}

// advanceMember moves the cursor past the sent step and immediately creates
// the next step's artifact, or completes the member when the sequence has
// no more steps.
func (w *DispatcherWorker) advanceMember(ctx context.Context, member *models.SequenceMember, message *models.SequenceMessage, log *logrus.Entry) {
	advanced, err := w.Store.AdvanceCursor(member.ID, message.StepIndex)
	if err != nil {
		log.WithError(err).Error("cursor advance failed")
		sentry.CaptureException(err)
		return
	}
	if !advanced {
		// Cursor already moved (e.g. a prior run sent this step but died
		// before marking it); nothing to do.
		return
	}
	member.CurrentStepIndex = message.StepIndex + 1

	sequence, err := w.Store.GetSequenceWithSteps(member.SequenceID)
	if err != nil {
		log.WithError(err).Error("sequence load failed after advance")
		return
	}

	if sequence.StepAt(member.CurrentStepIndex) == nil {
		if err := w.Store.CompleteMember(member.ID, "all steps completed"); err != nil {
			log.WithError(err).Error("complete member failed")
			return
		}
		w.Notifier.Publish(ctx, "member.completed", map[string]interface{}{
			"member_id":   member.ID,
			"sequence_id": member.SequenceID,
		})
		return
	}

	if _, _, err := EnsureStepArtifact(w.Store, sequence, member); err != nil {
		log.WithError(err).Error("next step artifact failed")
		sentry.CaptureException(err)
	}
}

func (w *DispatcherWorker) cancel(log *logrus.Entry, messageID uint, reason string, result *RunResult) {
	log.Warn(reason)
	if err := w.Store.CancelSending(messageID, reason); err != nil {
		log.WithError(err).Error("cancel failed")
	}
	result.skip(reason)
}

// release hands the claim back after a transient error so the message stays
// dispatchable instead of dying with zero attempts.
func (w *DispatcherWorker) release(log *logrus.Entry, messageID uint, reason string, cause error, result *RunResult) {
	log.WithError(cause).Error(reason + ", releasing claim")
	sentry.CaptureException(cause)
	if err := w.Store.ReleaseSending(messageID); err != nil {
		log.WithError(err).Error("release failed")
	}
	result.skip(reason)
}
