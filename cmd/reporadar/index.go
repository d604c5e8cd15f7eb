package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reporadar/internal/repository"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index <repo>...",
	Short: "Index one or more repositories",
	Long: `Fetch, embed and store one or more repositories.

Repositories may be given as owner/name or as GitHub URLs. Records indexed
within indexer.stale_days are skipped unless --force is set.

Examples:
  # Index a single repository
  reporadar index spf13/cobra

  # Re-index several repositories regardless of age
  reporadar index --force https://github.com/labstack/echo urfave/cli`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "re-index even if the record is fresh")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ids, err := parseIdentities(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appParts{pipeline: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	out := cmd.OutOrStdout()
	if len(ids) == 1 {
		result := a.pipeline.IndexSingleRepo(ctx, ids[0].Owner, ids[0].Name, indexForce)
		printIndexResult(out, result)
		if result.Status == repository.StatusFailed {
			return fmt.Errorf("indexing %s failed: %s", ids[0], result.Message)
		}
		return nil
	}

	batch := a.pipeline.IndexBatch(ctx, ids, indexForce)
	printBatchResult(out, batch)
	return batchError(batch)
}

// parseIdentities parses every argument, reporting the first invalid one.
func parseIdentities(args []string) ([]repository.Identity, error) {
	ids := make([]repository.Identity, 0, len(args))
	for _, arg := range args {
		id, err := repository.ParseIdentity(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// batchError turns failed batch entries into a non-zero exit.
func batchError(b repository.BatchIndexResult) error {
	if b.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d repositories failed to index", b.Failed, b.Total)
}
