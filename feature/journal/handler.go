package journal

import (
	"lms-zabbix-sync/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler serves the journal over HTTP.
type Handler struct {
	store  *Store
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(store *Store, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes registers the journal routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/journal", h.HandleList)
}

// HandleList returns recent journal entries, newest first.
// Query parameters: device_id, outcome, limit.
func (h *Handler) HandleList(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)

	f := Filter{
		DeviceID: int64(c.QueryInt("device_id", 0)),
		Outcome:  c.Query("outcome"),
		Limit:    c.QueryInt("limit", DefaultLimit),
	}
	if f.DeviceID < 0 || f.Limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "device_id and limit must not be negative",
		})
	}

	entries, err := h.store.Recent(c.Context(), f)
	if err != nil {
		l.Error("Journal query failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}
