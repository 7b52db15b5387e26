package hostsync

import (
	"strconv"

	"lms-zabbix-sync/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler exposes the buffer state over HTTP.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the sync routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Get("/sync/buffer", h.HandleBuffer)
	app.Get("/sync/buffer/:id", h.HandlePending)
}

// HandleBuffer reports the number of pending records, the age of the oldest
// one and the per-shard distribution.
func (h *Handler) HandleBuffer(c *fiber.Ctx) error {
	buf := h.service.Buffer()
	snap := buf.Snapshot()

	required := make([]string, 0)
	for _, f := range buf.Required() {
		required = append(required, string(f))
	}

	return c.JSON(fiber.Map{
		"pending":         snap.Pending,
		"oldest_seconds":  snap.Oldest.Seconds(),
		"shards":          snap.Shards,
		"workers":         h.service.Workers(),
		"required_fields": required,
	})
}

// HandlePending returns the pending record of one device.
func (h *Handler) HandlePending(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "device id must be a positive integer",
		})
	}

	rec, ok := h.service.Buffer().Get(id)
	if !ok {
		l.Debug("No pending record", zap.Int64("device_id", id))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no pending record for device",
		})
	}

	return c.JSON(fiber.Map{
		"record":  rec,
		"missing": rec.Missing(h.service.Buffer().Required()),
	})
}
