package server

import (
	"context"
	"errors"

	"github.com/kushagra0333/complete-mitr/internal/auth"
	"github.com/kushagra0333/complete-mitr/internal/config"
	"github.com/kushagra0333/complete-mitr/internal/device"
	"github.com/kushagra0333/complete-mitr/internal/logging"
	"github.com/kushagra0333/complete-mitr/internal/notify"
	"github.com/kushagra0333/complete-mitr/internal/session"
	"github.com/kushagra0333/complete-mitr/internal/stream"
	"github.com/kushagra0333/complete-mitr/internal/trigger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Stream  *stream.Hub
	Trigger *trigger.Manager
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)
	s := &Server{
		App:     app,
		Cfg:     cfg,
		DB:      db,
		Redis:   redisClient,
		Stream:  hub,
		Trigger: newManager(cfg, db, hub),
	}

	registerRoutes(s)
	return s
}

func newManager(cfg config.Config, db *pgxpool.Pool, hub *stream.Hub) *trigger.Manager {
	log := logging.Component("notify")

	var gateway notify.Gateway
	if cfg.TwilioConfigured() {
		gateway = notify.NewTwilioGateway(cfg.TwilioBaseURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)
	} else {
		log.Warn("sms gateway not configured, alerts will be recorded as failed")
	}

	return trigger.NewManager(trigger.Deps{
		Devices:     device.NewStore(db),
		Sessions:    session.NewStore(db),
		Tx:          trigger.NewPgTransactor(db),
		Notifier:    notify.NewDispatcher(gateway, cfg.TrackingURL, cfg.NotifyTimeout, log),
		Hub:         hub,
		AsyncNotify: cfg.NotifyAsync,
		Logger:      logging.Component("trigger"),
	})
}

// Prepare rebuilds in-memory state from the database before serving.
func (s *Server) Prepare(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	return s.Trigger.Rehydrate(ctx)
}

// Close drains background work started by the server.
func (s *Server) Close() {
	s.Trigger.Wait()
	s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "activeSessions": s.Trigger.Index().Len()})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	deviceMiddleware := auth.DeviceKeyMiddleware(auth.NewSecret(s.Cfg.APIKey, s.Cfg.APIKeyHash))

	trigger.RegisterRoutes(s.App.Group("/api/sessions"), s.Trigger, deviceMiddleware, jwtMiddleware)
	trigger.RegisterDeviceAliases(s.App.Group("/api/device"), s.Trigger, deviceMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware, trigger.StreamGuard(s.Trigger))
}

// ErrorHandler renders every error in the API envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		logging.Component("server").Error("unhandled error", "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(fiber.Map{"success": false, "message": message})
}
