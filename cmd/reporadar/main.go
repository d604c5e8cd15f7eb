// Package main implements the reporadar CLI: the HTTP API server plus the
// indexing and maintenance commands that share its configuration.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML configuration file
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reporadar",
	Short: "Find GitHub repositories similar in purpose and tech stack",
	Long: `reporadar indexes GitHub repositories into a dual-vector store and finds
repositories that are similar in what they do and what they are built with.

Configuration is read from a YAML file and REPORADAR_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the configuration file (default ./reporadar.yaml if present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(updateStaleCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(mineCmd)
}
