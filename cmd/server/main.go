package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"aiconsole/internal/config"
	"aiconsole/internal/events"
	"aiconsole/internal/handlers"
	"aiconsole/internal/jobs"
	"aiconsole/internal/logging"
	"aiconsole/internal/middleware"
	"aiconsole/internal/services"
	"aiconsole/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting AIConsole Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Project: %s, Core assets: %s)", cfg.Port, cfg.ProjectDir, cfg.CoreAssetsDir)

	// Asset core
	bus := events.NewBus()
	notifications := services.NewNotifications(cfg.SuppressWindow)
	store := storage.NewFileStorage(storage.Options{
		Bus:            bus,
		DisableWatcher: cfg.DisableWatcher,
		Debounce:       cfg.WatchDebounce,
		ParseWorkers:   cfg.ParseWorkers,
	})
	connManager := services.NewConnectionManager()
	core := services.NewCore(store, connManager, services.CoreOptions{
		LockTimeout:   cfg.LockTimeout,
		Notifications: notifications,
	})

	metrics := services.InitMetrics(connManager, core.Locks())
	connManager.SetMetrics(metrics)
	core.SetMetrics(metrics)
	log.Println("📊 Prometheus metrics initialized")

	settings := services.NewSettingsService(bus, notifications)
	assets := services.NewAssets(core, store, settings, notifications, bus, connManager, metrics)

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 2*time.Minute)
	if ok, err := assets.Configure(setupCtx, storage.Paths{
		ProjectDir: cfg.ProjectDir,
		CoreDir:    cfg.CoreAssetsDir,
	}); !ok {
		log.Printf("⚠️ Asset storage not ready: %v (serving without assets)", err)
	} else {
		log.Printf("✅ Asset storage ready (%d assets)", len(store.Assets()))
	}
	cancelSetup()

	// Cross-instance relay (optional)
	var redisService *services.RedisService
	var pubsubService *services.PubSubService
	if cfg.RedisURL != "" {
		var err error
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (broadcasts stay local)", err)
		} else {
			pubsubService = services.NewPubSubService(redisService, connManager, cfg.InstanceID)
			if err := pubsubService.Start(); err != nil {
				log.Printf("⚠️ Failed to start PubSub relay: %v (broadcasts stay local)", err)
				pubsubService = nil
			} else {
				connManager.SetRelay(pubsubService)
				log.Printf("✅ PubSub relay started (instance %s)", cfg.InstanceID)
			}
		}
	} else {
		log.Println("⚠️ REDIS_URL not set, broadcasts stay on this instance")
	}

	// Background jobs
	jobScheduler := jobs.NewJobScheduler()
	if cfg.LockMaxHold > 0 {
		jobScheduler.Register("stale_lock_reaper", jobs.NewStaleLockJob(core, time.Minute, cfg.LockMaxHold))
	}
	if cfg.TrashRetention > 0 {
		if trashJob, err := jobs.NewTrashCleanupJob(store, cfg.TrashRetention, cfg.TrashSchedule); err != nil {
			log.Printf("⚠️ Trash cleanup disabled: %v", err)
		} else {
			jobScheduler.Register("trash_cleanup", trashJob)
		}
	}
	if cfg.RescanInterval > 0 {
		jobScheduler.Register("asset_rescan", jobs.NewAssetRescanJob(assets, cfg.RescanInterval))
	}
	jobScheduler.Start()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "AIConsole v1.0",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    50 * 1024 * 1024, // chats with long histories
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("aiconsole")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg)
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: API=%d/min, Writes=%d/min, WS=%d/min",
		rateLimitConfig.APIMax,
		rateLimitConfig.WriteMax,
		rateLimitConfig.WebSocketMax,
	)

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins.
	allowedOrigins := cfg.AllowedOrigins
	allowCredentials := allowedOrigins != "*"

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", allowedOrigins)

	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	app.Use("/api/assets", middleware.WriteRateLimiter(rateLimitConfig))

	healthHandler := handlers.NewHealthHandler(connManager, core, store)
	assetHandler := handlers.NewAssetHandler(assets, core)
	wsHandler := handlers.NewWebSocketHandler(connManager, core, metrics, handlers.WebSocketOptions{
		MessageRate:  float64(cfg.WSMessageRate),
		MessageBurst: cfg.WSMessageBurst,
	})

	app.Get("/health", healthHandler.Handle)
	assetHandler.Register(app.Group("/api"))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("client_ip", c.IP())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Use("/ws", middleware.WebSocketRateLimiter(rateLimitConfig))

	// WebSocket config with allowed origins (same as CORS config)
	wsConfig := websocket.Config{
		Origins: strings.Split(allowedOrigins, ","),
	}
	app.Get("/ws", websocket.New(wsHandler.Handle, wsConfig))

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 WebSocket endpoint: ws://localhost:%s/ws", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		jobScheduler.Stop()

		if pubsubService != nil {
			if err := pubsubService.Stop(); err != nil {
				log.Printf("⚠️ Error stopping PubSub: %v", err)
			}
		}
		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}

		assets.CleanUp()

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
