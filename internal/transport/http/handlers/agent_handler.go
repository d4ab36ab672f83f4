package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/config"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/transport/http/dto"
)

type AgentHandler struct {
	info       dto.AgentInfo
	apiVersion string
}

func NewAgentHandler(cfg config.AgentConfig) *AgentHandler {
	return &AgentHandler{
		info:       dto.AgentInfo{Description: cfg.Description, Version: cfg.Version},
		apiVersion: cfg.APIVersion,
	}
}

func (h *AgentHandler) Agent(c *fiber.Ctx) error {
	return c.JSON(h.info)
}

func (h *AgentHandler) Version(c *fiber.Ctx) error {
	return c.JSON(h.apiVersion)
}
