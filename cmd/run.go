// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d3xf/scenic/api/schemas"
	"github.com/d3xf/scenic/internal/browser"
	"github.com/d3xf/scenic/internal/captcha"
	"github.com/d3xf/scenic/internal/config"
	"github.com/d3xf/scenic/internal/observability"
	"github.com/d3xf/scenic/internal/runner"
	"github.com/d3xf/scenic/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [scenario files...]",
		Short: "Executes one or more scenario documents against a browser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := configFromContext(ctx)

			// Command-line overrides take precedence over file/env config.
			if cmd.Flags().Changed("concurrency") {
				cfg.Runner.Concurrency, _ = cmd.Flags().GetInt("concurrency")
			}
			if cmd.Flags().Changed("persist") {
				cfg.Runner.Persist, _ = cmd.Flags().GetBool("persist")
			}
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless, _ = cmd.Flags().GetBool("headless")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			docs, err := loadDocuments(args)
			if err != nil {
				return err
			}

			logger.Info("Starting scenario batch",
				zap.Int("documents", len(docs)),
				zap.Int("concurrency", cfg.Runner.Concurrency),
				zap.Bool("persist", cfg.Runner.Persist))

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown(ctx)
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown(ctx)

			results, err := components.Runner.RunDocuments(ctx, docs)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Batch aborted gracefully")
					return fmt.Errorf("run aborted by user signal")
				}
				return err
			}

			output, _ := cmd.Flags().GetString("output")
			if err := writeResults(results, output); err != nil {
				return err
			}

			failed := 0
			for _, res := range results {
				if !res.Success {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(results))
			}
			return nil
		},
	}

	runCmd.Flags().StringP("output", "o", "", "Output file path for the run results. If unset, results print to stdout.")
	runCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent scenario runs. (Overrides config/env)")
	runCmd.Flags().Bool("persist", false, "Persist run results to the database. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")

	return runCmd
}

// loadDocuments reads and decodes every scenario file up front, so a typo in
// the third file is reported before the first browser launches.
func loadDocuments(paths []string) ([]*schemas.Document, error) {
	docs := make([]*schemas.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
		}
		doc, err := schemas.ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// writeResults emits the batch results as indented JSON, to a file or stdout.
func writeResults(results []*schemas.RunResult, output string) error {
	data, err := schemas.EncodeResults(results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if output == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write results to %s: %w", output, err)
	}
	fmt.Printf("Results written to %s\n", output)
	return nil
}

// runComponents holds initialized services.
type runComponents struct {
	Runner         *runner.Runner
	BrowserManager *browser.Manager
	Store          *store.Store
	DBPool         *pgxpool.Pool
}

// Shutdown gracefully closes all components.
func (rc *runComponents) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if rc.BrowserManager != nil {
		if err := rc.BrowserManager.Shutdown(shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. Database and Store (only when persistence is on)
	var runStore schemas.RunStore
	if cfg.Runner.Persist {
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("database URL is not configured (SCENIC_DATABASE_URL)")
		}
		dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize database store: %w", err)
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			return components, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		components.Store = dbStore
		runStore = dbStore
	}

	// 2. Captcha solver (only when an endpoint is configured)
	var solver schemas.CaptchaSolver
	if cfg.Solver.Endpoint != "" {
		client, err := captcha.NewClient(cfg.Solver, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize captcha solver: %w", err)
		}
		solver = client
	}

	// 3. Browser Manager
	components.BrowserManager = browser.NewManager(cfg, logger)

	// 4. Runner
	components.Runner = runner.New(runner.Sessions(components.BrowserManager), solver, runStore, cfg, logger)

	return components, nil
}
