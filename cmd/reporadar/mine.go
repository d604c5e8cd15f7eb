package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mineToken string

var mineCmd = &cobra.Command{
	Use:   "mine",
	Short: "List the repositories visible to a user token",
	Long: `List up to 100 repositories the given user token can see, most recently
updated first. The configured app token is not sent and its quota is
not affected.

Examples:
  reporadar mine --token "$MY_GITHUB_TOKEN"`,
	Args: cobra.NoArgs,
	RunE: runMine,
}

func init() {
	mineCmd.Flags().StringVar(&mineToken, "token", "", "GitHub user access token")
	_ = mineCmd.MarkFlagRequired("token")
}

func runMine(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appParts{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	repos, err := a.github.ListUserRepositories(ctx, mineToken)
	if err != nil {
		return fmt.Errorf("listing repositories: %w", err)
	}
	printRepositories(cmd.OutOrStdout(), repos)
	return nil
}
