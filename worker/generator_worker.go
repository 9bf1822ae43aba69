package worker

import (
	"context"
	"fmt"
	"time"

	"voltcrm/config"
	"voltcrm/models"
	"voltcrm/store"
	"voltcrm/utils"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// GeneratorWorker drafts content for messages in not_generated: it claims
// each one, calls the generation service, and parks the result in
// pending_approval for a human. Failures revert the claim so the next tick
// retries; claims abandoned by a dead process are swept back by age.
type GeneratorWorker struct {
	Store     *store.Store
	Generator utils.ContentGenerator
	Notifier  *utils.Notifier
	Logger    *logrus.Logger
	Cfg       config.WorkerConfig
}

func NewGeneratorWorker(s *store.Store, generator utils.ContentGenerator, notifier *utils.Notifier, logger *logrus.Logger, cfg config.WorkerConfig) *GeneratorWorker {
	return &GeneratorWorker{Store: s, Generator: generator, Notifier: notifier, Logger: logger, Cfg: cfg}
}

func (w *GeneratorWorker) Start(ctx context.Context) {
	w.Logger.Info("generator worker started")
	ticker := time.NewTicker(w.Cfg.GeneratorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("generator worker shutting down")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.Logger.WithError(err).Error("generator run failed")
				sentry.CaptureException(err)
			}
		}
	}
}

// RunOnce sweeps stale claims, then generates content for up to one page of
// draft messages.
func (w *GeneratorWorker) RunOnce(ctx context.Context) (RunResult, error) {
	var result RunResult

	swept, err := w.Store.ResetStaleGenerating(w.Cfg.StaleGenerating)
	if err != nil {
		return result, fmt.Errorf("stale sweep: %w", err)
	}
	if swept > 0 {
		w.Logger.WithField("count", swept).Warn("reset stale generating claims")
	}

	messages, err := w.Store.MessagesNeedingContent(w.Cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list drafts: %w", err)
	}

	for i := range messages {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		w.generateOne(ctx, &messages[i], &result)
	}
	return result, nil
}

func (w *GeneratorWorker) generateOne(ctx context.Context, message *models.SequenceMessage, result *RunResult) {
	log := w.Logger.WithFields(logrus.Fields{
		"message_id": message.ID,
		"member_id":  message.MemberID,
		"step_index": message.StepIndex,
	})

	claimed, err := w.Store.ClaimForGeneration(message.ID)
	if err != nil {
		log.WithError(err).Error("generation claim failed")
		return
	}
	if !claimed {
		// Another invocation is already on it.
		return
	}

	req, reason := w.buildRequest(message)
	if reason != "" {
		log.Warn(reason)
		if err := w.Store.RevertGeneration(message.ID, reason); err != nil {
			log.WithError(err).Error("revert failed")
		}
		result.skip(reason)
		return
	}

	generated, err := w.Generator.Generate(ctx, *req)
	if err != nil {
		log.WithError(err).Warn("generation failed, reverting for retry")
		if revertErr := w.Store.RevertGeneration(message.ID, err.Error()); revertErr != nil {
			log.WithError(revertErr).Error("revert failed")
			sentry.CaptureException(revertErr)
		}
		result.skip(fmt.Sprintf("generation failed: %v", err))
		return
	}

	if err := w.Store.FinishGeneration(message.ID, generated.Subject, generated.Body); err != nil {
		log.WithError(err).Error("finish generation failed")
		sentry.CaptureException(err)
		return
	}

	result.CreatedOrSentCount++
	w.Notifier.Publish(ctx, "message.generated", map[string]interface{}{
		"message_id":  message.ID,
		"sequence_id": message.SequenceID,
	})
}

// buildRequest assembles the generation request from the member's contact,
// account, and the step's template. A non-empty reason means the context
// cannot be assembled; the message is reverted with that reason so the
// problem is visible instead of silently stuck.
func (w *GeneratorWorker) buildRequest(message *models.SequenceMessage) (*utils.GenerationRequest, string) {
	member, err := w.Store.GetMember(message.MemberID)
	if err != nil {
		return nil, "member not found"
	}
	contact, err := w.Store.GetContactWithAccount(member.ContactID)
	if err != nil {
		return nil, "contact not found"
	}
	sequence, err := w.Store.GetSequenceWithSteps(message.SequenceID)
	if err != nil {
		return nil, "sequence not found"
	}
	step := sequence.StepAt(message.StepIndex)
	if step == nil {
		return nil, "no step template"
	}

	var tmpl utils.StepTemplate
	if step.TemplateID != 0 {
		template, err := w.Store.GetTemplate(step.TemplateID)
		if err != nil {
			return nil, "template not found"
		}
		tmpl = utils.StepTemplate{
			Subject:      template.Subject,
			Body:         template.Body,
			Instructions: template.Instructions,
		}
	}

	target := utils.TargetContext{
		FirstName:    contact.FirstName,
		LastName:     contact.LastName,
		Email:        contact.Email,
		Title:        contact.Title,
		SequenceName: sequence.Name,
		StepIndex:    message.StepIndex,
	}
	if contact.Account != nil {
		target.AccountName = contact.Account.Name
		target.Industry = contact.Account.Industry
		target.CurrentSupplier = contact.Account.CurrentSupplier
		target.AnnualUsageKWh = contact.Account.AnnualUsageKWh
		target.ContractEndDate = contact.Account.ContractEndDate
	}

	return &utils.GenerationRequest{TargetContext: target, StepTemplate: tmpl}, ""
}
