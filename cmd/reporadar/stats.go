package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many repositories are indexed",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appParts{store: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Collection: %s\nIndexed repositories: %d\n", a.cfg.VectorStore.Collection, stats.Count)
	return nil
}
