package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"voltcrm/models"
	"voltcrm/store"
	"voltcrm/utils"
	"voltcrm/worker"
)

// MessageController is the approval gate's HTTP surface: the approval UI
// reads pending messages here and approves them, optionally editing content
// and the scheduled send time. It also exposes manual tasks, whose
// completion advances the member cursor the way a dispatch does.
type MessageController struct {
	Store    *store.Store
	Notifier *utils.Notifier
	Logger   *logrus.Logger
}

func NewMessageController(s *store.Store, notifier *utils.Notifier, logger *logrus.Logger) *MessageController {
	return &MessageController{Store: s, Notifier: notifier, Logger: logger}
}

func (mc *MessageController) ListPendingApproval(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	messages, err := mc.Store.PendingApproval(user.ID, 200)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list messages",
		})
	}
	return c.JSON(messages)
}

type ApproveMessageRequest struct {
	Subject  string     `json:"subject"`
	Body     string     `json:"body"`
	SendTime *time.Time `json:"send_time"`
}

// ApproveMessage performs pending_approval→approved. This is the only point
// in the pipeline where a human can alter the automation's output; there is
// no automatic approval path.
func (mc *MessageController) ApproveMessage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid message id",
		})
	}

	var req ApproveMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	message, err := mc.Store.GetMessage(uint(id))
	if err != nil || message.OwnerID != user.ID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Message not found",
		})
	}

	approved, err := mc.Store.ApproveMessage(uint(id), req.Subject, req.Body, req.SendTime)
	if err != nil {
		mc.Logger.WithError(err).Error("approve failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to approve message",
		})
	}
	if !approved {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Message is not pending approval",
		})
	}

	mc.Notifier.Publish(c.Context(), "message.approved", map[string]interface{}{
		"message_id":  message.ID,
		"sequence_id": message.SequenceID,
	})
	return c.JSON(fiber.Map{"message": "Message approved"})
}

func (mc *MessageController) ListPendingTasks(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	tasks, err := mc.Store.PendingTasks(user.ID, 200)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list tasks",
		})
	}
	return c.JSON(tasks)
}

// CompleteTask closes a manual step and advances the member, creating the
// next step's artifact like a successful dispatch does.
func (mc *MessageController) CompleteTask(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid task id",
		})
	}

	task, err := mc.Store.GetTask(uint(id))
	if err != nil || task.OwnerID != user.ID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Task not found",
		})
	}

	completed, err := mc.Store.CompleteTask(task.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to complete task",
		})
	}
	if !completed {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Task is not pending",
		})
	}

	// Advance the cursor past the manual step.
	member, err := mc.Store.GetMember(task.MemberID)
	if err == nil && member.Status == models.MemberStatusActive {
		advanced, err := mc.Store.AdvanceCursor(member.ID, task.StepIndex)
		if err != nil {
			mc.Logger.WithError(err).Error("cursor advance failed")
		} else if advanced {
			member.CurrentStepIndex = task.StepIndex + 1
			if sequence, err := mc.Store.GetSequenceWithSteps(member.SequenceID); err == nil {
				if sequence.StepAt(member.CurrentStepIndex) == nil {
					if err := mc.Store.CompleteMember(member.ID, "all steps completed"); err != nil {
						mc.Logger.WithError(err).Error("complete member failed")
					}
				} else if _, _, err := worker.EnsureStepArtifact(mc.Store, sequence, member); err != nil {
					mc.Logger.WithError(err).Error("next step artifact failed")
				}
			}
		}
	}

	mc.Notifier.Publish(c.Context(), "task.completed", map[string]interface{}{
		"task_id":     task.ID,
		"sequence_id": task.SequenceID,
	})
	return c.JSON(fiber.Map{"message": "Task completed"})
}
