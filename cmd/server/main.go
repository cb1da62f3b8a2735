package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"keysync-backend/internal/config"
	"keysync-backend/internal/engine"
	"keysync-backend/internal/keysync"
	"keysync-backend/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s:%d/%s, rule fan-out: %s)",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Sync.RuleFanout)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Create entity tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap tables: %v", err)
	}
	log.Println("Entity tables ready")

	// 4. Wire repositories
	fields := engine.NewSQLFieldRepo(db.Dialect)
	objects := engine.NewSQLObjectRepo(db.Dialect)
	rules := engine.NewSQLRuleRepo(db.Dialect)
	keys := engine.NewSQLKeyRepo(db.Dialect)

	// 5. Queue producer, only when rule fan-out is deferred to the worker
	var pub engine.Publisher
	if cfg.Sync.QueueFanout() {
		producer, err := keysync.NewProducer(cfg.Kafka)
		if err != nil {
			log.Fatalf("Failed to create kafka producer: %v", err)
		}
		defer producer.Close()
		pub = producer
		log.Printf("Queued rule fan-out via topic %s", cfg.Kafka.Topic)
	}

	// 6. Key synchronization engine
	syncer := engine.NewSyncer(db, fields, objects, rules, keys, pub)

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 8. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 9. Register CRUD routes
	handler := engine.NewHandler(db, syncer, fields, objects, rules, keys)
	engine.RegisterRoutes(app, handler)

	// 10. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	if appErr := engine.ToAppError(err); appErr != nil {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
