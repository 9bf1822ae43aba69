package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"voltcrm/models"
	"voltcrm/store"
	"voltcrm/utils"
)

// SequenceController owns the operator-facing sequence endpoints: sequence
// CRUD and the enrollment action that queues a SequenceActivation for the
// activation worker.
type SequenceController struct {
	Store  *store.Store
	Logger *logrus.Logger
}

func NewSequenceController(s *store.Store, logger *logrus.Logger) *SequenceController {
	return &SequenceController{Store: s, Logger: logger}
}

type StepRequest struct {
	StepType   string `json:"step_type" validate:"required,oneof=auto_message manual_task"`
	OffsetDays int    `json:"offset_days" validate:"min=0"`
	TemplateID uint   `json:"template_id"`
	TaskNote   string `json:"task_note"`
}

type CreateSequenceRequest struct {
	Name        string        `json:"name" validate:"required,max=200"`
	Description string        `json:"description"`
	Steps       []StepRequest `json:"steps" validate:"required,min=1,dive"`
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateSequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sequence := models.Sequence{
		OwnerID:     user.ID,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.SequenceStatusActive,
	}
	for i, step := range req.Steps {
		sequence.Steps = append(sequence.Steps, models.SequenceStep{
			StepIndex:  i,
			StepType:   step.StepType,
			OffsetDays: step.OffsetDays,
			TemplateID: step.TemplateID,
			TaskNote:   step.TaskNote,
		})
	}

	if err := sc.Store.DB.Create(&sequence).Error; err != nil {
		sc.Logger.WithError(err).Error("sequence create failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(sequence)
}

func (sc *SequenceController) ListSequences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequences []models.Sequence
	if err := sc.Store.DB.Preload("Steps").
		Where("owner_id = ?", user.ID).
		Order("created_at DESC").
		Find(&sequences).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sequences",
		})
	}
	return c.JSON(sequences)
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sequence id",
		})
	}

	var sequence models.Sequence
	if err := sc.Store.DB.Preload("Steps").
		Where("id = ? AND owner_id = ?", id, user.ID).
		First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	return c.JSON(sequence)
}

type UpdateSequenceStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused archived"`
}

// UpdateSequenceStatus pauses, resumes, or archives a sequence. The
// pipeline itself never touches sequence status.
func (sc *SequenceController) UpdateSequenceStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sequence id",
		})
	}

	var req UpdateSequenceStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	res := sc.Store.DB.Model(&models.Sequence{}).
		Where("id = ? AND owner_id = ?", id, user.ID).
		Update("status", req.Status)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Sequence updated"})
}

type ActivateSequenceRequest struct {
	ContactIDs []uint `json:"contact_ids" validate:"required,min=1"`
}

// ActivateSequence queues a batch enrollment. The activation worker picks
// it up on its next tick; this endpoint only creates the durable request.
func (sc *SequenceController) ActivateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid sequence id",
		})
	}

	var req ActivateSequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var sequence models.Sequence
	if err := sc.Store.DB.Where("id = ? AND owner_id = ?", id, user.ID).
		First(&sequence).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}
	if sequence.Status != models.SequenceStatusActive {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Sequence is not active",
		})
	}

	activation := models.SequenceActivation{
		SequenceID: sequence.ID,
		OwnerID:    user.ID,
		ContactIDs: req.ContactIDs,
		Status:     models.ActivationStatusPending,
	}
	if err := sc.Store.CreateActivation(&activation); err != nil {
		sc.Logger.WithError(err).Error("activation create failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to queue activation",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(activation)
}

// GetActivation reports a batch's progress.
func (sc *SequenceController) GetActivation(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid activation id",
		})
	}

	activation, err := sc.Store.GetActivation(uint(id))
	if err != nil || activation.OwnerID != user.ID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Activation not found",
		})
	}
	return c.JSON(activation)
}
