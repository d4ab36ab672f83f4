package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/core/ports"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/core/services"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/transport/http/dto"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/transport/http/middleware"
)

type SnapshotTaskHandler struct {
	service ports.SnapshotTaskService
	logger  *logger.Logger
}

func NewSnapshotTaskHandler(service ports.SnapshotTaskService, logger *logger.Logger) *SnapshotTaskHandler {
	return &SnapshotTaskHandler{service: service, logger: logger}
}

func (h *SnapshotTaskHandler) PreSnapshotTask(c *fiber.Ctx) error {
	input := h.parse(c)
	task, err := h.service.BeginFreeze(c.UserContext(), credential(c), input)
	if err != nil {
		return h.fail(c, "pre_snapshot_task", err)
	}
	h.logger.Infow("pre_snapshot_task_created", "task_id", task.ID, "snapshot_name", task.SnapshotName)
	return c.JSON(task)
}

func (h *SnapshotTaskHandler) PostSnapshotTask(c *fiber.Ctx) error {
	input := h.parse(c)
	task, err := h.service.EndFreeze(c.UserContext(), credential(c), input)
	if err != nil {
		return h.fail(c, "post_snapshot_task", err)
	}
	h.logger.Infow("post_snapshot_task_completed",
		"task_id", task.ID, "snapshot_name", task.SnapshotName, "status", task.Status)
	return c.JSON(task)
}

func (h *SnapshotTaskHandler) ListTasks(c *fiber.Ctx) error {
	return c.JSON(h.service.ListTasks(c.UserContext()))
}

func (h *SnapshotTaskHandler) GetTask(c *fiber.Ctx) error {
	task, err := h.service.GetTask(c.UserContext(), credential(c), c.Params("id"))
	if err != nil {
		return h.fail(c, "snapshot_task_get", err)
	}
	return c.JSON(task)
}

func (h *SnapshotTaskHandler) DeleteTask(c *fiber.Ctx) error {
	if err := h.service.DeleteTask(c.UserContext(), credential(c), c.Params("id")); err != nil {
		return h.fail(c, "snapshot_task_delete", err)
	}
	return c.SendStatus(fiber.StatusOK)
}

// parse returns nil for an absent or undecodable body; the service reports
// that as a bad request once the caller is authenticated.
func (h *SnapshotTaskHandler) parse(c *fiber.Ctx) *ports.SnapshotTaskInput {
	input, err := dto.ParseSnapshotTaskRequest(c.Body())
	if err != nil {
		h.logger.Warnw("snapshot_task_body_parse_failed", "error", err, "request_id", middleware.GetRequestID(c))
		return nil
	}
	return input
}

func (h *SnapshotTaskHandler) fail(c *fiber.Ctx, event string, err error) error {
	code := StatusFor(err)
	if code == fiber.StatusInternalServerError {
		h.logger.Errorw(event+"_failed", "error", err, "request_id", middleware.GetRequestID(c))
	} else {
		h.logger.Debugw(event+"_rejected", "status", code, "error", err, "request_id", middleware.GetRequestID(c))
	}
	return c.SendStatus(code)
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, services.ErrBadRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrTaskNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrFreezeInProgress):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func credential(c *fiber.Ctx) string {
	return c.Get(fiber.HeaderAuthorization)
}
