package main // Entry point package

import (
	"log"  // Logging library
	"time" // Policy durations derived from config

	"github.com/joho/godotenv"    // Loads .env files into the environment
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/openshelf/circulation/internal/config"     // Internal config loader
	"github.com/openshelf/circulation/internal/database"   // MySQL connection helper
	"github.com/openshelf/circulation/internal/engine"     // Circulation engine
	"github.com/openshelf/circulation/internal/handler"    // HTTP handlers
	"github.com/openshelf/circulation/internal/middleware" // Rate limiting and caching
	"github.com/openshelf/circulation/internal/queue"      // Background event consumer
	"github.com/openshelf/circulation/internal/repository" // Data access layer
	"github.com/openshelf/circulation/internal/router"     // Route registration
	queue_publisher "github.com/openshelf/circulation/internal/service"
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load() // Load environment config

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: when unavailable the middleware constructors
	// degrade to pass-through and the API keeps serving.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; rate limiting and response caching disabled")
	}

	// Repositories over the shared connection pool.
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	books := repository.NewBookRepo(db)
	loans := repository.NewLoanRepo(db)
	reservations := repository.NewReservationRepo(db)

	// The engine owns every loan and reservation transition.  Policy
	// knobs come from the environment; events go to RabbitMQ.
	policy := engine.Policy{
		LoanPeriod:      time.Duration(cfg.LoanPeriodDays) * 24 * time.Hour,
		MaxRenewals:     uint32(cfg.MaxRenewals),
		FinePerDayCents: uint32(cfg.FinePerDayCents),
		ReservationTTL:  time.Duration(cfg.ReservationTTLDays) * 24 * time.Hour,
		LockWait:        time.Duration(cfg.TitleLockWaitMS) * time.Millisecond,
		LockRetries:     cfg.TitleLockRetries,
		LockBackoff:     time.Duration(cfg.TitleLockBackoffMS) * time.Millisecond,
	}
	coordinator := engine.NewCoordinator(repository.NewStore(db), policy, queue_publisher.NewPublisher())

	e := echo.New() // Create Echo instance

	// Global token-bucket rate limiting backed by Redis.
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	// Response caching for public GET endpoints.
	e.Use(middleware.NewRedisCache(config.LoadCacheConfig(), rdb))

	router.RegisterRoutes(e) // Health check
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret)
	router.RegisterCatalog(e, handler.NewCatalogHandler(books, coordinator), cfg.JWTSecret)
	router.RegisterCirculation(e, handler.NewCirculationHandler(coordinator, loans), cfg.JWTSecret)
	router.RegisterReservations(e, handler.NewReservationHandler(coordinator, reservations), cfg.JWTSecret)

	// Background consumer appends circulation events to logs/circulation.log.
	go func() {
		if err := queue.StartCirculationConsumer(); err != nil {
			log.Printf("circulation consumer stopped: %v", err)
		}
	}()

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err) // Log and exit if server fails
	}
}
