package trigger

import (
	"strings"

	"github.com/kushagra0333/complete-mitr/internal/auth"
	"github.com/kushagra0333/complete-mitr/internal/logging"
	"github.com/kushagra0333/complete-mitr/internal/session"

	"github.com/gofiber/fiber/v2"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type startRequest struct {
	DeviceID        string            `json:"deviceId"`
	InitialLocation *session.Location `json:"initialLocation"`
}

type coordinateRequest struct {
	DeviceID  string   `json:"deviceId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Speed     *float64 `json:"speed"`
}

type stopRequest struct {
	DeviceID   string `json:"deviceId"`
	ManualStop *bool  `json:"manualStop"`
}

// RegisterRoutes mounts the session API. Device-origin mutations use
// deviceAuth; user queries use userAuth.
func RegisterRoutes(r fiber.Router, m *Manager, deviceAuth, userAuth fiber.Handler) {
	r.Post("/start", deviceAuth, startHandler(m))
	r.Post("/coordinates", deviceAuth, coordinatesHandler(m))
	r.Post("/stop", deviceAuth, stopHandler(m))

	r.Get("/history", userAuth, func(c *fiber.Ctx) error {
		page, err := m.History(c.UserContext(), auth.UserID(c), c.Query("deviceId"), c.QueryInt("page", 1), c.QueryInt("limit", defaultHistoryLimit))
		if err != nil {
			return fail(err)
		}
		return ok(c, fiber.StatusOK, "Success", page)
	})

	r.Get("/active", userAuth, func(c *fiber.Ctx) error {
		sessions, err := m.ActiveForUser(c.UserContext(), auth.UserID(c))
		if err != nil {
			return fail(err)
		}
		return ok(c, fiber.StatusOK, "Success", fiber.Map{"activeSessions": sessions})
	})

	r.Get("/status/:deviceId", userAuth, func(c *fiber.Ctx) error {
		st, err := m.StatusForDevice(c.UserContext(), c.Params("deviceId"), auth.UserID(c))
		if err != nil {
			return fail(err)
		}
		return ok(c, fiber.StatusOK, "Success", st)
	})

	r.Get("/:sessionId", userAuth, func(c *fiber.Ctx) error {
		d, err := m.Details(c.UserContext(), c.Params("sessionId"), auth.UserID(c))
		if err != nil {
			return fail(err)
		}
		return ok(c, fiber.StatusOK, "Success", fiber.Map{"session": d})
	})
}

// RegisterDeviceAliases mounts the firmware-facing paths for the same mutations.
func RegisterDeviceAliases(r fiber.Router, m *Manager, deviceAuth fiber.Handler) {
	r.Post("/trigger/start", deviceAuth, startHandler(m))
	r.Post("/coordinates/add", deviceAuth, coordinatesHandler(m))
	r.Post("/trigger/stop", deviceAuth, stopHandler(m))
}

// StreamGuard admits a live viewer only for sessions owned by the caller.
func StreamGuard(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := m.Details(c.UserContext(), c.Params("sessionID"), auth.UserID(c)); err != nil {
			return fail(err)
		}
		return c.Next()
	}
}

func startHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req startRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if req.DeviceID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Device ID is required")
		}
		res, err := m.Start(c.UserContext(), req.DeviceID, req.InitialLocation)
		if err != nil {
			return fail(err)
		}
		return ok(c, fiber.StatusCreated, "Trigger session started", res)
	}
}

func coordinatesHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req coordinateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if req.DeviceID == "" || req.Latitude == nil || req.Longitude == nil {
			return fiber.NewError(fiber.StatusBadRequest, "Device ID and coordinates are required")
		}
		res, err := m.AddCoordinate(c.UserContext(), req.DeviceID, *req.Latitude, *req.Longitude, req.Accuracy, req.Speed)
		if err != nil {
			return fail(err)
		}
		return ok(c, fiber.StatusOK, "Coordinates added to session", res)
	}
}

func stopHandler(m *Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req stopRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if req.DeviceID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Device ID is required")
		}
		manual := true
		if req.ManualStop != nil {
			manual = *req.ManualStop
		}
		res, err := m.Stop(c.UserContext(), req.DeviceID, manual)
		if err != nil {
			return fail(err)
		}
		return ok(c, fiber.StatusOK, "Trigger session stopped", res)
	}
}

func ok(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(envelope{Success: true, Message: message, Data: data})
}

// fail maps a manager error to an HTTP error. Internal details stay in the log.
func fail(err error) error {
	switch KindOf(err) {
	case KindNotFound:
		return fiber.NewError(fiber.StatusNotFound, publicMessage(err))
	case KindConflict, KindInvalidInput:
		return fiber.NewError(fiber.StatusBadRequest, publicMessage(err))
	default:
		logging.Component("trigger").Error("request failed", "err", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Internal server error")
	}
}

func publicMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidInput.Error()+": ")
}
