package http

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/config"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/core/ports"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/metrics"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/transport/http/handlers"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/transport/http/middleware"
)

type RouterConfig struct {
	Service ports.SnapshotTaskService
	Events  ports.TaskEventSource
	Metrics *metrics.Registry
	Logger  *logger.Logger
	Config  *config.Config
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	taskHandler := handlers.NewSnapshotTaskHandler(cfg.Service, cfg.Logger)
	agentHandler := handlers.NewAgentHandler(cfg.Config.Agent)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if cfg.Config.Features.EnableMetrics && cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	if cfg.Config.Features.EnableEventStream && cfg.Events != nil {
		eventHandler := handlers.NewEventHandler(cfg.Service, cfg.Events, cfg.Logger)
		app.Get("/ws/snapshot-tasks", eventHandler.Authorize, websocket.New(eventHandler.Stream))
	}

	rest := app.Group("/rest")
	rest.Get("/version", agentHandler.Version)

	api := rest.Group("/" + cfg.Config.Agent.APIVersion)
	api.Get("/agent", agentHandler.Agent)

	tasks := api.Group("/snapshot-tasks")
	tasks.Post("/preSnapshotTask", taskHandler.PreSnapshotTask)
	tasks.Post("/postSnapshotTask", taskHandler.PostSnapshotTask)
	tasks.Get("/", taskHandler.ListTasks)
	tasks.Get("/:id", taskHandler.GetTask)
	tasks.Delete("/:id", taskHandler.DeleteTask)
}

// ErrorHandler logs failed requests and answers with the bare status code.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		if code < fiber.StatusInternalServerError {
			log.Warnw("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", middleware.GetRequestID(c),
			)
		} else {
			log.Errorw("request error",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", middleware.GetRequestID(c),
			)
		}
		return c.SendStatus(code)
	}
}
