package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fyrsmithlabs/reporadar/internal/repository"
)

const maxDescription = 60

func printIndexResult(w io.Writer, r repository.IndexResult) {
	switch r.Status {
	case repository.StatusFailed:
		fmt.Fprintf(w, "failed   %s: %s\n", r.FullName, r.Message)
	case repository.StatusSkipped:
		fmt.Fprintf(w, "skipped  %s (%s)\n", r.FullName, r.Message)
	default:
		fmt.Fprintf(w, "indexed  %s (id %d)\n", r.FullName, r.RepoID)
	}
}

func printBatchResult(w io.Writer, b repository.BatchIndexResult) {
	fmt.Fprintf(w, "Total: %d  Indexed: %d  Skipped: %d  Failed: %d\n", b.Total, b.Indexed, b.Skipped, b.Failed)
	for _, e := range b.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func printSearchResults(w io.Writer, query repository.IndexResult, results []repository.SearchResult) {
	fmt.Fprintf(w, "Similar to %s", query.FullName)
	if query.Description != "" {
		fmt.Fprintf(w, ": %s", truncate(query.Description, maxDescription))
	}
	fmt.Fprintln(w)
	if len(results) == 0 {
		fmt.Fprintln(w, "No similar repositories found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tREPOSITORY\tSCORE\tPURPOSE\tSTACK\tSTARS\tLANGUAGE")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.3f\t%.3f\t%d\t%s\n",
			i+1, r.Payload.FullName, r.Score, r.PurposeScore, r.StackScore, r.Payload.Stars, orDash(r.Payload.LanguagePrimary))
	}
	_ = tw.Flush()
}

func printRepositories(w io.Writer, repos []repository.Metadata) {
	if len(repos) == 0 {
		fmt.Fprintln(w, "No repositories found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tSTARS\tLANGUAGE\tDESCRIPTION")
	for _, r := range repos {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.FullName, r.Stars, orDash(r.Language), truncate(r.Description, maxDescription))
	}
	_ = tw.Flush()
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
