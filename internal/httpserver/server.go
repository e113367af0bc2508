package httpserver

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	apperrors "github.com/irfndi/notifybus/internal/errors"
	"github.com/irfndi/notifybus/internal/notification"
	sentrypkg "github.com/irfndi/notifybus/internal/sentry"
)

// Options configures the Fiber app.
type Options struct {
	Engine *notification.Engine
	Queue  *notification.DispatchQueue
	Logger *log.Logger
}

// New builds the Fiber app serving admission, the Belio delivery-report
// callback, and a health check.
func New(opts Options) *fiber.App {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(sentrypkg.FiberMiddleware())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/send-notification/", func(c *fiber.Ctx) error {
		var req notification.AdmissionRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusOK).JSON(notification.AdmissionFailed("malformed request body"))
		}

		n, err := opts.Engine.SaveNotification(c.Context(), req)
		if err != nil {
			logger.Printf("admission failed: %v", err)
			return c.Status(fiber.StatusOK).JSON(notification.AdmissionFailed(err.Error()))
		}

		if opts.Queue != nil {
			if err := opts.Queue.Publish(c.Context(), n.ID); err != nil {
				logger.Printf("failed to enqueue notification %s: %v", n.ID, err)
				return c.Status(fiber.StatusOK).JSON(notification.AdmissionFailed("queue unavailable"))
			}
		}

		return c.Status(fiber.StatusOK).JSON(notification.AdmissionAccepted())
	})

	app.Post("/belio-sms-callback/", func(c *fiber.Ctx) error {
		var report notification.BelioDeliveryReport
		if err := c.BodyParser(&report); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed delivery report"})
		}

		if err := opts.Engine.ApplyDeliveryReport(c.Context(), report); err != nil {
			logger.Printf("delivery report reconciliation failed: %v", err)
			httpStatus := fiber.StatusInternalServerError
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				httpStatus = appErr.HTTPStatus
			}
			message := "Internal server error"
			if httpStatus < fiber.StatusInternalServerError {
				message = err.Error()
			}
			return c.Status(httpStatus).JSON(fiber.Map{"message": message})
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "Success"})
	})

	return app
}
