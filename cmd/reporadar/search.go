package main

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reporadar/internal/http"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"github.com/fyrsmithlabs/reporadar/internal/vectorstore"
)

const searchMinScore = 0.1

var (
	searchWeightPurpose float64
	searchWeightStack   float64
	searchLimit         int
	searchMinStars      int
)

var searchCmd = &cobra.Command{
	Use:   "search <repo>",
	Short: "Find repositories similar to one repository",
	Long: `Index the query repository if needed, then print the most similar
indexed repositories ranked by weighted purpose and stack similarity.

Examples:
  # Default weights (0.7 purpose, 0.3 stack)
  reporadar search spf13/cobra

  # Rank mostly by tech stack, top 5
  reporadar search --weight-purpose 0.2 --weight-stack 0.8 --limit 5 spf13/cobra`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().Float64Var(&searchWeightPurpose, "weight-purpose", http.DefaultWeightPurpose, "weight of purpose similarity (0-1)")
	searchCmd.Flags().Float64Var(&searchWeightStack, "weight-stack", http.DefaultWeightStack, "weight of stack similarity (0-1)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum number of results")
	searchCmd.Flags().IntVar(&searchMinStars, "min-stars", 0, "hide results with fewer stars")
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := checkSearchFlags(searchWeightPurpose, searchWeightStack, searchLimit); err != nil {
		return err
	}
	id, err := repository.ParseIdentity(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appParts{pipeline: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	query := a.pipeline.IndexSingleRepo(ctx, id.Owner, id.Name, false)
	if query.Status == repository.StatusFailed {
		return fmt.Errorf("indexing %s failed: %s", id, query.Message)
	}

	hits, err := similarTo(ctx, a.store, uint64(query.RepoID), vectorstore.SearchQuery{
		WeightPurpose: searchWeightPurpose,
		WeightStack:   searchWeightStack,
		Limit:         searchLimit,
		MinScore:      searchMinScore,
	})
	if err != nil {
		return err
	}

	printSearchResults(cmd.OutOrStdout(), query, filterResults(hits, uint64(query.RepoID), searchMinStars, searchLimit))
	return nil
}

func checkSearchFlags(weightPurpose, weightStack float64, limit int) error {
	if weightPurpose < 0 || weightPurpose > 1 || weightStack < 0 || weightStack > 1 {
		return errors.New("weights must be between 0 and 1")
	}
	if math.Abs(weightPurpose+weightStack-1) > 0.01 {
		return fmt.Errorf("--weight-purpose + --weight-stack must equal 1.0, got %g", weightPurpose+weightStack)
	}
	if limit < 1 || limit > http.MaxLimit {
		return fmt.Errorf("--limit must be between 1 and %d", http.MaxLimit)
	}
	return nil
}

// similarTo loads the stored vectors of id and searches with them. One
// extra hit is requested so the query repository can be dropped.
func similarTo(ctx context.Context, store *vectorstore.Store, id uint64, q vectorstore.SearchQuery) ([]repository.SearchResult, error) {
	purpose, stack, ok, err := store.GetVectors(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading vectors: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("no vectors stored for repository %d", id)
	}
	q.Purpose, q.Stack = purpose, stack
	q.Limit++
	hits, err := store.SearchSimilar(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	return hits, nil
}

// filterResults drops the query repository and repositories below
// minStars, keeping at most limit hits in rank order.
func filterResults(hits []repository.SearchResult, queryID uint64, minStars, limit int) []repository.SearchResult {
	out := make([]repository.SearchResult, 0, limit)
	for _, h := range hits {
		if h.ID == queryID || h.Payload.Stars < minStars {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out
}
