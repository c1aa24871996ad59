package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/scrylabs/scry/internal/api/handlers"
	"github.com/scrylabs/scry/internal/cache"
	"github.com/scrylabs/scry/internal/config"
	"github.com/scrylabs/scry/internal/database"
	"github.com/scrylabs/scry/internal/embedding"
	"github.com/scrylabs/scry/internal/jobs"
	"github.com/scrylabs/scry/internal/metrics"
	"github.com/scrylabs/scry/internal/repository"
	"github.com/scrylabs/scry/internal/search"
	"github.com/scrylabs/scry/internal/server"
	"github.com/scrylabs/scry/internal/telemetry"
)

// cachePurgeInterval spaces out sweeps of expired cache entries, which
// otherwise only leave on read or eviction.
const cachePurgeInterval = time.Minute

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the search API server",
		Long:  "Start the scry search API server and the background index worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if cfg.SentryDSN != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	metrics.Register()

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.Connect(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	itemRepo := repository.NewItemRepository(pool)
	embeddingRepo := repository.NewEmbeddingRepository(pool)
	keywordRepo := repository.NewKeywordRepository(pool)
	jobRepo := repository.NewIndexJobRepository(pool)
	logRepo := repository.NewSearchLogRepository(pool)

	var embeddingClient *embedding.Client
	if cfg.HasEmbeddingProvider() {
		embeddingClient = embedding.NewClient(embedding.Config{
			APIKey:     cfg.EmbeddingAPIKey,
			Endpoint:   cfg.EmbeddingEndpoint,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
	} else if cfg.SemanticSearchEnabled {
		log.Println("semantic search disabled: no embedding API key configured")
	}

	searchCache, err := cache.New(cfg.CacheMaxEntries, cfg.CacheTTL())
	if err != nil {
		return fmt.Errorf("failed to create search cache: %w", err)
	}

	purgeDone := make(chan struct{})
	go purgeExpiredLoop(searchCache, purgeDone)

	var indexWorker *jobs.Worker
	if embeddingClient != nil {
		processor := jobs.NewIndexProcessor(jobRepo, itemRepo, embeddingRepo, embeddingClient, searchCache)
		indexWorker = jobs.NewWorker(processor, cfg.IndexPollInterval())
		go indexWorker.Start(ctx)
	} else {
		log.Println("index worker disabled: no embedding provider configured")
	}

	var embedder search.Embedder
	if embeddingClient != nil {
		embedder = embeddingClient
	}
	engine := search.NewEngine(embeddingRepo, keywordRepo, embedder, searchCache, logRepo, search.Config{
		SemanticWeight:  cfg.SemanticWeight,
		KeywordWeight:   cfg.KeywordWeight,
		MinSimilarity:   cfg.MinSimilarity,
		SemanticEnabled: cfg.SemanticActive(),
	})

	router := server.NewRouter(server.RouterConfig{
		SearchHandler: handlers.NewSearchHandler(engine),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if indexWorker != nil {
		indexWorker.Stop()
	}
	close(purgeDone)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func purgeExpiredLoop(c *cache.SearchCache, done <-chan struct{}) {
	ticker := time.NewTicker(cachePurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := c.PurgeExpired(); removed > 0 {
				log.Printf("purged %d expired search cache entries", removed)
			}
		case <-done:
			return
		}
	}
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
