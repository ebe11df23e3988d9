package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-repo-insights/internal/aggregator"
	"github.com/kurihiro0119/github-repo-insights/internal/domain"
)

var (
	contributorOrder []string
	bonusMarks       []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [repo]",
	Short: "Analyze a single repository",
	Long: `Analyze one repository given as owner/repo or a github.com URL and show
per-contributor commits, issues, pull requests, issue comments and reviews.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&contributorOrder, "order", nil, "contributors to list first, in this order")
	analyzeCmd.Flags().StringSliceVar(&bonusMarks, "bonus", nil, "bonus marks as user=mark (total at most 4)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := domain.FetchOptions{HideMergeCommits: cfg.HideMergeCommits}

	var result *domain.RepoResult
	if remote {
		result, err = remoteClient(cfg).AnalyzeRepository(ctx, args[0], opts.HideMergeCommits)
	} else {
		application, appErr := localApp(cfg)
		if appErr != nil {
			return appErr
		}
		defer application.Close()

		spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Analyzing " + args[0] + "...")
		result, err = application.Aggregator.AnalyzeRepository(ctx, args[0], cfg.GitHubToken, opts)
		_ = spinner.Stop()
	}
	if err != nil {
		return fmt.Errorf("failed to analyze repository: %w", err)
	}

	contributors := aggregator.Contributors(result.Data, contributorOrder)
	marks := aggregator.NewBonusMarks(contributors)
	for _, entry := range bonusMarks {
		user, value, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid --bonus value %q, expected user=mark", entry)
		}
		mark, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid --bonus mark %q: %w", value, err)
		}
		if err := marks.Set(user, mark); err != nil {
			return err
		}
	}

	if outputJSON {
		return printJSON(map[string]any{
			"result":       result,
			"contributors": contributors,
			"bonusMarks":   marks.List(),
		})
	}

	printRepoResults([]domain.RepoResult{*result})
	fmt.Println()
	printContributors(result.Data, contributors, marks)
	return nil
}

func printContributors(data *domain.RepoData, contributors []string, marks *aggregator.BonusMarks) {
	if data == nil {
		return
	}
	bonus := make(map[string]int)
	for _, m := range marks.List() {
		bonus[m.User] = m.Mark
	}

	weekly := make(map[string]int)
	for _, s := range data.ContributorStats {
		weekly[s.Login] = s.TotalCommits
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Contributor", "Commits", "Issues", "PRs", "Issue Comments", "PR Reviews", "Total Commits", "Bonus"})
	for _, c := range contributors {
		table.Append([]string{
			c,
			strconv.Itoa(len(data.Commits[c])),
			strconv.Itoa(len(data.Issues[c])),
			strconv.Itoa(len(data.PullRequests[c])),
			strconv.Itoa(data.Teamwork.IssueComments[c]),
			strconv.Itoa(data.Teamwork.PRReviews[c]),
			strconv.Itoa(weekly[c]),
			strconv.Itoa(bonus[c]),
		})
	}
	table.Render()

	if data.ContributorStats == nil {
		pterm.Warning.Println("Weekly contributor statistics were not available for this repository")
	}
	if total := marks.Total(); total > 0 {
		pterm.Info.Printf("Bonus marks assigned: %d of %d\n", total, aggregator.MaxBonusMarks)
	}
}
