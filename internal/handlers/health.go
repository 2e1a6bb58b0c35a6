package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"aiconsole/internal/models"
	"aiconsole/internal/services"
	"aiconsole/internal/storage"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	connManager *services.ConnectionManager
	core        *services.Core
	store       *storage.FileStorage
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connManager *services.ConnectionManager, core *services.Core, store *storage.FileStorage) *HealthHandler {
	return &HealthHandler{connManager: connManager, core: core, store: store}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := "healthy"
	states := make(fiber.Map, len(models.AssetTypes))
	for _, t := range models.AssetTypes {
		state := h.store.State(t)
		states[string(t)] = state.String()
		if state != storage.StateLoaded {
			status = "degraded"
		}
	}

	return c.JSON(fiber.Map{
		"status":      status,
		"connections": h.connManager.Count(),
		"locks":       h.core.Locks().Len(),
		"assets":      states,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}
