package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"voltcrm/config"
	controller "voltcrm/controllers"
	"voltcrm/middleware"
	"voltcrm/store"
	"voltcrm/utils"
	"voltcrm/worker"
)

// Deps carries the shared services the route handlers need. Everything is
// constructed once in main and threaded through here.
type Deps struct {
	Store      *store.Store
	Notifier   *utils.Notifier
	Logger     *logrus.Logger
	Activation *worker.ActivationWorker
	Generator  *worker.GeneratorWorker
	Dispatcher *worker.DispatcherWorker
	Reply      *worker.ReplyWorker
	Backfill   *worker.Backfill
	Cfg        config.WorkerConfig
}

func SetupRoutes(app *fiber.App, deps Deps) {
	requestLogger := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})

	// Public auth endpoints
	auth := app.Group("/auth", requestLogger)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)

	sequenceController := controller.NewSequenceController(deps.Store, deps.Logger)
	messageController := controller.NewMessageController(deps.Store, deps.Notifier, deps.Logger)
	eventsController := controller.NewEventsController(deps.Notifier, deps.Logger)
	adminController := &controller.AdminController{
		Store:      deps.Store,
		Activation: deps.Activation,
		Generator:  deps.Generator,
		Dispatcher: deps.Dispatcher,
		Reply:      deps.Reply,
		Backfill:   deps.Backfill,
		Logger:     deps.Logger,
		Cfg:        deps.Cfg,
	}

	api := app.Group("/api/v1", middleware.Protected(), requestLogger)

	// Sequence definitions and batch enrollment
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.ListSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id/status", sequenceController.UpdateSequenceStatus)
	sequence.Post("/:id/activate", sequenceController.ActivateSequence)
	api.Get("/activations/:id", sequenceController.GetActivation)

	// Approval gate and manual tasks
	message := api.Group("/messages")
	message.Get("/pending-approval", messageController.ListPendingApproval)
	message.Post("/:id/approve", messageController.ApproveMessage)

	task := api.Group("/tasks")
	task.Get("/pending", messageController.ListPendingTasks)
	task.Post("/:id/complete", messageController.CompleteTask)

	// Operator tooling: diagnostics, manual triggers, backfill
	admin := api.Group("/admin", middleware.AdminOnly())
	admin.Get("/diagnostics", adminController.Diagnostics)

	trigger := admin.Group("", middleware.TriggerRateLimiter())
	trigger.Post("/run/activation", adminController.RunActivation)
	trigger.Post("/run/generator", adminController.RunGenerator)
	trigger.Post("/run/dispatcher", adminController.RunDispatcher)
	trigger.Post("/run/reply-check", adminController.RunReplyCheck)
	trigger.Post("/backfill", adminController.RunBackfill)

	// WebSocket route for pipeline events
	app.Get("/ws/events", middleware.Protected(), websocket.New(func(c *websocket.Conn) {
		eventsController.HandleEventsWS(c)
	}))
}
