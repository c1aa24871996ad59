package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrylabs/scry/internal/backfill"
	"github.com/scrylabs/scry/internal/config"
	"github.com/scrylabs/scry/internal/database"
	"github.com/scrylabs/scry/internal/embedding"
	"github.com/scrylabs/scry/internal/metrics"
	"github.com/scrylabs/scry/internal/repository"
)

// BackfillCmd returns the backfill command
func BackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate embeddings for items that have none",
		Long:  "Walk all items missing embeddings for the configured model, generate them in batches, and sweep orphaned embedding records",
		RunE:  runBackfill,
	}

	cmd.Flags().Int("batch-size", 0, "Items per batch (defaults to SCRY_BACKFILL_BATCH_SIZE)")
	cmd.Flags().Int("delay-ms", -1, "Delay between batches in milliseconds (defaults to SCRY_BACKFILL_DELAY_MS)")

	return cmd
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.HasEmbeddingProvider() {
		return fmt.Errorf("backfill requires an embedding provider: set SCRY_EMBEDDING_API_KEY")
	}

	metrics.Register()

	batchSize := cfg.BackfillBatchSize
	if v, _ := cmd.Flags().GetInt("batch-size"); v > 0 {
		batchSize = v
	}
	delay := cfg.BackfillDelay()
	if v, _ := cmd.Flags().GetInt("delay-ms"); v >= 0 {
		delay = time.Duration(v) * time.Millisecond
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

	embeddingClient := embedding.NewClient(embedding.Config{
		APIKey:     cfg.EmbeddingAPIKey,
		Endpoint:   cfg.EmbeddingEndpoint,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})

	runner := backfill.NewRunner(repository.NewEmbeddingRepository(pool), embeddingClient, batchSize, delay)

	stats, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}

	fmt.Printf("backfill complete: %d processed, %d skipped, %d failed (of %d missing)\n",
		stats.Processed, stats.Skipped, stats.Failed, stats.Total)

	return nil
}
