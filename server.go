package main

import (
	"fmt"
	"time"

	"gotmail/audit"
	"gotmail/config"
	"gotmail/dispatch"
	"gotmail/handlers/api"
	"gotmail/mailer"
	"gotmail/metrics"
	"gotmail/middleware"
	"gotmail/realtime"
	"gotmail/serializer"
	"gotmail/storage"
	"gotmail/utils"
	"gotmail/verify"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// server owns the fiber app and everything it must release on shutdown
type server struct {
	app      *fiber.App
	db       *storage.DB
	cache    *utils.MemoryCache[int64]
	recorder *audit.Recorder
	stop     chan struct{}
}

func newRecorder(cfg config.AuditConfig) *audit.Recorder {
	sinks := []audit.Sink{audit.NewLogSink(utils.Log.Zap())}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			utils.Log.Error("Kafka audit sink disabled: %v", err)
		} else {
			sinks = append(sinks, kafkaSink)
		}
	}
	return audit.NewRecorder(sinks...)
}

func newServer(cfg *config.Config) (*server, error) {
	db, err := storage.InitDB(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	users := storage.NewUserStorage(db)
	emails := storage.NewEmailStorage(db)
	notifications := storage.NewNotificationStorage(db)
	labels := storage.NewLabelStorage(db)

	cache := utils.NewMemoryCache[int64](cfg.Session.CacheTTL.Duration)
	sessions := api.NewSessionResolver(users, cache, cfg.Session.CacheTTL.Duration)
	registry := realtime.NewRegistry(realtime.NewMemoryBus(), sessions)

	recorder := newRecorder(cfg.Audit)
	renderer := serializer.New(users, labels)
	dispatcher := dispatch.NewDispatcher(users, emails, notifications, registry, renderer,
		dispatch.WithLanguage(cfg.Server.DefaultLang),
		dispatch.WithRecorder(recorder),
	)

	handlers := &api.Handlers{
		Sessions: sessions,
		Auth: api.NewAuthHandler(users, labels, notifications, sessions,
			mailer.NewSender(cfg.Mail), verify.New(cfg.Verify), recorder, cfg.Session),
		Users:         api.NewUserHandler(users),
		Labels:        api.NewLabelHandler(labels, emails, renderer),
		Emails:        api.NewEmailHandler(users, emails, dispatcher, renderer, recorder),
		Notifications: api.NewNotificationHandler(notifications, registry, cfg.Live),
	}

	app := fiber.New(fiber.Config{
		AppName:      "GotMail",
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
		ErrorHandler: api.ErrorHandler,
	})

	stop := make(chan struct{})

	// Add global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New(compress.Config{
		// SSE frames must not sit in a compression buffer
		Next: func(c *fiber.Ctx) bool { return c.Path() == "/api/notifications/stream" },
	}))
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "no-referrer",
	}))
	app.Use(middleware.LocaleMiddleware(cfg.Server.DefaultLang))
	app.Use(middleware.RateLimiter(cfg.RateLimit, stop))

	app.Get("/health", api.Health)
	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(metrics.MetricsHandler()))
	}

	api.RegisterRoutes(app, handlers)

	// 404 Handler for undefined routes
	app.Use(api.NotFound)

	return &server{
		app:      app,
		db:       db,
		cache:    cache,
		recorder: recorder,
		stop:     stop,
	}, nil
}

// Listen blocks serving on port
func (s *server) Listen(port int) error {
	return s.app.Listen(fmt.Sprintf(":%d", port))
}

// Close stops the server and releases storage, cache and audit sinks
func (s *server) Close() error {
	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		utils.Log.Warn("Server shutdown: %v", err)
	}
	close(s.stop)
	s.cache.Close()
	if err := s.recorder.Close(); err != nil {
		utils.Log.Warn("Audit sinks close: %v", err)
	}
	return s.db.Close()
}
