package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/app"
	"github.com/acme/lead-dialer/internal/dialer"
	"github.com/acme/lead-dialer/internal/repository"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	registry  *dialer.Registry
	calls     repository.CallLog
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	return &HandlerSet{
		container: container,
		registry:  container.Registry(),
		calls:     container.Repositories().CallLog,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	dialer := v1.Group("/dialer/:campaignID")
	dialer.Post("/start", h.startDialer)
	dialer.Post("/pause", h.pauseDialer)
	dialer.Post("/resume", h.resumeDialer)
	dialer.Post("/stop", h.stopDialer)
	dialer.Get("/status", h.dialerStatus)
	dialer.Get("/calls", h.listCallEvents)

	// Provider call-status callbacks relay through here.
	v1.Post("/calls/completion", h.callCompletion)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error": message,
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"status": "ok"})
}
