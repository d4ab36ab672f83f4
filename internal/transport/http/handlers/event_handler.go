package handlers

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/core/ports"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
)

const eventBuffer = 64

// EventHandler streams task events over a websocket. A connection first
// receives one snapshot event per known task.
type EventHandler struct {
	service ports.SnapshotTaskService
	events  ports.TaskEventSource
	logger  *logger.Logger
}

func NewEventHandler(service ports.SnapshotTaskService, events ports.TaskEventSource, logger *logger.Logger) *EventHandler {
	return &EventHandler{service: service, events: events, logger: logger}
}

// Authorize admits authenticated websocket upgrades.
func (h *EventHandler) Authorize(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.SendStatus(fiber.StatusUpgradeRequired)
	}
	if err := h.service.Authenticate(c.UserContext(), credential(c)); err != nil {
		return c.SendStatus(StatusFor(err))
	}
	return c.Next()
}

func (h *EventHandler) Stream(conn *websocket.Conn) {
	events, unsubscribe := h.events.Subscribe(eventBuffer)
	defer unsubscribe()
	defer conn.Close()

	h.logger.Infow("event_stream_opened", "remote", conn.RemoteAddr().String())

	for _, task := range h.service.ListTasks(context.Background()) {
		if err := conn.WriteJSON(domain.TaskEvent{Type: domain.TaskEventSnapshot, Task: task}); err != nil {
			h.logger.Debugw("event_stream_write_failed", "error", err)
			return
		}
	}

	// The client sends nothing; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			h.logger.Infow("event_stream_closed")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debugw("event_stream_write_failed", "error", err)
				return
			}
		}
	}
}
