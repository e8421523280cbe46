package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/auth"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/components"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/config"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/repository"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	configPath := flag.String("config", "", "Path to config file")
	email := flag.String("user", auth.DevEmail, "Email of the user owning the seeded workflows")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if _, err := repository.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}
	store := repository.NewPostgresStore(pool)

	// 1. Ensure the owner exists
	user, err := store.GetUserByEmail(ctx, *email)
	if errors.Is(err, workflow.ErrNotFound) {
		logger.Info("Creating seed user", "email", *email)
		user = &models.User{Email: *email, Name: "Seed User"}
		err = store.CreateUser(ctx, user)
	}
	if err != nil {
		log.Fatalf("Failed to resolve user %s: %v", *email, err)
	}

	// 2. Seed through the service so every graph is validated
	registry, err := components.NewRegistry(components.Deps{})
	if err != nil {
		log.Fatalf("Failed to build component registry: %v", err)
	}
	svc := services.NewWorkflowService(store, registry, logger)

	seeds, err := loadSeeds(seedsYAML)
	if err != nil {
		log.Fatalf("Failed to load seeds: %v", err)
	}

	for _, seed := range seeds {
		existing, err := svc.Search(ctx, user.ID, models.WorkflowSearch{Keyword: seed.Title})
		if err != nil {
			log.Fatalf("Failed to search workflows: %v", err)
		}
		if hasTitle(existing.Records, seed.Title) {
			logger.Info("Skipping existing workflow", "title", seed.Title)
			continue
		}

		in, err := seed.input()
		if err != nil {
			log.Fatalf("Invalid seed: %v", err)
		}
		detail, err := svc.Create(ctx, user.ID, in)
		if err != nil {
			logger.Error("Failed to create workflow", "title", seed.Title, "error", err)
			continue
		}
		logger.Info("Seeded workflow", "title", seed.Title, "workflow_uuid", detail.UUID, "nodes", len(detail.Nodes))
	}
	logger.Info("Seeding complete!")
}

func hasTitle(workflows []*models.Workflow, title string) bool {
	for _, w := range workflows {
		if w.Title == title {
			return true
		}
	}
	return false
}
