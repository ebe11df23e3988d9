package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRepoResults(results []domain.RepoResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Commits", "Issues", "PRs", "Contributors"})
	for _, r := range results {
		table.Append([]string{
			r.RepoName,
			strconv.Itoa(r.Commits),
			strconv.Itoa(r.Issues),
			strconv.Itoa(r.PullRequests),
			strconv.Itoa(r.Contributors),
		})
	}
	table.Render()
}

func printItems(items []domain.BatchItem) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Status", "Error"})
	for _, it := range items {
		table.Append([]string{it.Input, string(it.Status), it.Error})
	}
	table.Render()
}
