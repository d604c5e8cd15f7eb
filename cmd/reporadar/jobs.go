package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reporadar/internal/indexer"
)

var (
	seedLimit    int
	seedDryRun   bool
	seedMinStars int

	staleDays   int
	staleLimit  int
	staleDryRun bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the index from popular repositories per topic",
	Long: `Search GitHub for the most-starred repositories of each built-in topic,
dedupe them, and index them. Repositories indexed recently are skipped.

Examples:
  # Full seed with indexer.seed_min_stars
  reporadar seed

  # Preview the first 50 candidates above 500 stars
  reporadar seed --dry-run --limit 50 --min-stars 500`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

var updateStaleCmd = &cobra.Command{
	Use:   "update-stale",
	Short: "Re-index records older than the staleness window",
	Long: `Scan the store for records indexed more than --stale-days ago and
force re-index them.

Examples:
  # Refresh everything older than indexer.stale_days
  reporadar update-stale

  # Preview up to 20 records older than 30 days
  reporadar update-stale --stale-days 30 --limit 20 --dry-run`,
	Args: cobra.NoArgs,
	RunE: runUpdateStale,
}

func init() {
	seedCmd.Flags().IntVar(&seedLimit, "limit", 0, "maximum repositories to index (0 = all)")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "list candidates without indexing")
	seedCmd.Flags().IntVar(&seedMinStars, "min-stars", 0, "minimum stars (default indexer.seed_min_stars)")

	updateStaleCmd.Flags().IntVar(&staleDays, "stale-days", 0, "age in days after which a record is stale (default indexer.stale_days)")
	updateStaleCmd.Flags().IntVar(&staleLimit, "limit", 0, "maximum records to re-index (0 = all)")
	updateStaleCmd.Flags().BoolVar(&staleDryRun, "dry-run", false, "list stale records without re-indexing")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appParts{pipeline: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	minStars := a.cfg.Indexer.SeedMinStars
	if cmd.Flags().Changed("min-stars") {
		minStars = seedMinStars
	}

	seeder := indexer.NewSeeder(a.github, a.pipeline, a.logger.Named("seed"))
	report, err := seeder.Seed(ctx, indexer.SeedOptions{
		MinStars: minStars,
		Limit:    seedLimit,
		DryRun:   seedDryRun,
	})
	if err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Candidates: %d\n", len(report.Candidates))
	if len(report.FailedTopics) > 0 {
		fmt.Fprintf(out, "Failed topics: %d\n", len(report.FailedTopics))
	}
	if report.Result == nil {
		for _, id := range report.Candidates {
			fmt.Fprintln(out, id)
		}
		return nil
	}
	printBatchResult(out, *report.Result)
	return nil
}

func runUpdateStale(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appParts{pipeline: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	days := a.cfg.Indexer.StaleDays
	if cmd.Flags().Changed("stale-days") {
		days = staleDays
	}

	refresher := indexer.NewRefresher(a.store, a.pipeline, a.logger.Named("refresh"), time.Now)
	report, err := refresher.Refresh(ctx, indexer.RefreshOptions{
		StaleDays: days,
		Limit:     staleLimit,
		DryRun:    staleDryRun,
	})
	if err != nil {
		return fmt.Errorf("refreshing stale records: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Stale: %d\n", len(report.Stale))
	if len(report.Invalid) > 0 {
		fmt.Fprintf(out, "Skipped (invalid name): %d\n", len(report.Invalid))
	}
	if report.Result == nil {
		for _, r := range report.Stale {
			fmt.Fprintf(out, "%s\t%s\n", r.FullName, r.IndexedAt)
		}
		return nil
	}
	printBatchResult(out, *report.Result)
	return nil
}
