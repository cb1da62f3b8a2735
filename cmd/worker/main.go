package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"keysync-backend/internal/config"
	"keysync-backend/internal/engine"
	"keysync-backend/internal/keysync"
	"keysync-backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (db: %s:%d/%s, topic: %s, group: %s)",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Kafka.Topic, cfg.Kafka.GroupID)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Wire repositories and the resyncer
	rules := engine.NewSQLRuleRepo(db.Dialect)
	objects := engine.NewSQLObjectRepo(db.Dialect)
	keys := engine.NewSQLKeyRepo(db.Dialect)
	resyncer := keysync.NewResyncer(db, rules, objects, keys)

	// 4. Consume until shutdown
	log.Printf("Consuming sync messages from %s", cfg.Kafka.Topic)
	if err := keysync.Run(ctx, cfg.Kafka, resyncer); err != nil {
		log.Fatalf("Worker stopped: %v", err)
	}
	log.Println("Worker shut down")
}
