package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"travelgate/internal/config"
	"travelgate/internal/handlers"
	"travelgate/internal/logging"
	"travelgate/internal/middleware"
	"travelgate/internal/models"
	"travelgate/internal/services"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting travelgate server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err == nil {
		log.Println("✅ .env file loaded")
	}

	cfg := config.Load()
	if cfg.OpenAIAPIKey == "" && cfg.ProviderFile == "" {
		log.Println("⚠️  OPENAI_API_KEY not set - advisory calls will degrade to fallback")
	}

	// Cache layer: Redis when configured, in-memory otherwise
	var store services.Store
	if cfg.RedisURL != "" {
		redisStore, err := services.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, using in-memory cache: %v", err)
			store = services.NewMemoryStore(cfg.CacheTTLAI)
		} else {
			log.Println("✅ Redis cache connected")
			store = redisStore
		}
	} else {
		store = services.NewMemoryStore(cfg.CacheTTLAI)
	}

	countries := services.NewCountryService(cfg.CountryAPIURL, cfg.CountryTimeout)
	advisor := services.NewAdvisoryService(cfg)

	// Optional provider override file with hot-reload
	if cfg.ProviderFile != "" {
		if p, err := config.LoadProvider(cfg.ProviderFile); err != nil {
			log.Printf("⚠️  Failed to load provider file: %v", err)
		} else {
			advisor.ApplyProvider(p)
			log.Printf("✅ Provider file applied (model override: %s)", p.Model)
		}
		go config.WatchProvider(cfg.ProviderFile, advisor.ApplyProvider)
	}

	app := fiber.New(fiber.Config{
		AppName:      "travelgate",
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New())

	// CORS: reflect the configured allow-list, wildcard otherwise.
	// Preflights are answered here with a long cache lifetime and never
	// reach the cache or upstreams.
	allowOrigins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Content-Type",
		MaxAge:       86400,
	}))

	prometheus := fiberprometheus.New("travelgate")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	rateCfg := middleware.LoadRateLimitConfig()
	gateway := handlers.NewTravelSafetyHandler(cfg, store, countries, advisor)
	health := handlers.NewHealthHandler()

	app.Get("/health", health.Handle)

	api := app.Group("/api")
	// Add(GET) instead of Get: Fiber's Get also registers HEAD, which
	// would bypass the allow-list and run the full gateway path.
	api.Add(fiber.MethodGet, "/travel-safety", middleware.AdvisoryRateLimiter(rateCfg), gateway.Handle)
	api.All("/travel-safety", handlers.MethodNotAllowed)

	go func() {
		log.Printf("🌍 travelgate listening on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("⚠️  Shutdown error: %v", err)
	}
}

// errorHandler keeps unexpected failures to a generic message plus a
// string representation for diagnostics.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		log.Printf("❌ Unhandled error on %s: %v", c.Path(), err)
		return c.Status(code).JSON(models.ErrorResponse{
			Error: message,
			Meta:  map[string]interface{}{"detail": err.Error()},
		})
	}
	return c.Status(code).JSON(models.ErrorResponse{Error: message})
}
