package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"voltcrm/config"
	"voltcrm/models"
	"voltcrm/store"
	"voltcrm/worker"
)

// AdminController is the operator surface: pipeline diagnostics, manual
// worker triggers for incident response, and the reconciliation/backfill
// tool. Everything here requires an admin token.
type AdminController struct {
	Store      *store.Store
	Activation *worker.ActivationWorker
	Generator  *worker.GeneratorWorker
	Dispatcher *worker.DispatcherWorker
	Reply      *worker.ReplyWorker
	Backfill   *worker.Backfill
	Logger     *logrus.Logger
	Cfg        config.WorkerConfig
}

// Diagnostics reports pipeline health in one shot: message counts by
// status, the per-sequence breakdown, and anything stuck in a claimed
// state past the staleness thresholds.
func (ac *AdminController) Diagnostics(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	counts, err := ac.Store.MessageCountsByStatus(user.ID)
	if err != nil {
		ac.Logger.WithError(err).Error("status counts failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute diagnostics",
		})
	}

	breakdown, err := ac.Store.MessageBreakdownBySequence(user.ID)
	if err != nil {
		ac.Logger.WithError(err).Error("sequence breakdown failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute diagnostics",
		})
	}

	staleActivations, err := ac.Store.StaleActivations(ac.Cfg.StaleProcessing)
	if err != nil {
		ac.Logger.WithError(err).Error("stale activation scan failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute diagnostics",
		})
	}

	return c.JSON(fiber.Map{
		"message_counts":     counts,
		"sequence_breakdown": breakdown,
		"stale_activations":  staleActivations,
	})
}

// RunActivation triggers one activation pass immediately instead of waiting
// for the next tick. The claim semantics make this safe to run alongside
// the ticker.
func (ac *AdminController) RunActivation(c *fiber.Ctx) error {
	result, err := ac.Activation.RunOnce(c.Context())
	if err != nil {
		ac.Logger.WithError(err).Error("manual activation run failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Activation run failed",
		})
	}
	return c.JSON(result)
}

func (ac *AdminController) RunGenerator(c *fiber.Ctx) error {
	result, err := ac.Generator.RunOnce(c.Context())
	if err != nil {
		ac.Logger.WithError(err).Error("manual generator run failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Generator run failed",
		})
	}
	return c.JSON(result)
}

func (ac *AdminController) RunDispatcher(c *fiber.Ctx) error {
	result, err := ac.Dispatcher.RunOnce(c.Context())
	if err != nil {
		ac.Logger.WithError(err).Error("manual dispatch run failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Dispatch run failed",
		})
	}
	return c.JSON(result)
}

func (ac *AdminController) RunReplyCheck(c *fiber.Ctx) error {
	result, err := ac.Reply.RunOnce(c.Context())
	if err != nil {
		ac.Logger.WithError(err).Error("manual reply check failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Reply check failed",
		})
	}
	return c.JSON(result)
}

type BackfillRequest struct {
	DryRun     bool `json:"dry_run"`
	Force      bool `json:"force"`
	SequenceID uint `json:"sequence_id"`
}

// RunBackfill executes one reconciliation pass. Operators are expected to
// run with dry_run first and compare the reported to_create against the
// subsequent real run's created.
func (ac *AdminController) RunBackfill(c *fiber.Ctx) error {
	var req BackfillRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := ac.Backfill.Run(c.Context(), worker.BackfillOptions{
		DryRun:     req.DryRun,
		Force:      req.Force,
		SequenceID: req.SequenceID,
	})
	if err != nil {
		ac.Logger.WithError(err).Error("backfill run failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Backfill run failed",
		})
	}
	return c.JSON(result)
}
