package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-repo-insights/internal/app"
	"github.com/kurihiro0119/github-repo-insights/internal/config"
	"github.com/kurihiro0119/github-repo-insights/pkg/client"
)

var (
	outputJSON       bool
	hideMergeCommits bool
	remote           bool
)

var rootCmd = &cobra.Command{
	Use:   "repo-insights",
	Short: "GitHub repository activity analysis tool",
	Long: `A CLI tool for analyzing contributor activity in GitHub repositories.

It collects commits, issues, pull requests, review and comment activity and
weekly contributor statistics, and summarizes them per contributor. Batches of
repositories are analyzed one at a time and can be interrupted with Ctrl-C.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&hideMergeCommits, "hide-merge-commits", true, "skip commits whose message starts with \"merge \"")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "run through the API server at API_ENDPOINT instead of calling GitHub directly")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration, honouring --hide-merge-commits when given
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cmd.Flags().Changed("hide-merge-commits") {
		cfg.HideMergeCommits = hideMergeCommits
	}
	app.SetupLogger(cfg)
	return cfg, nil
}

// localApp builds the in-process components; a GitHub token is required
func localApp(cfg *config.Config) (*app.App, error) {
	if err := cfg.RequireToken(); err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func remoteClient(cfg *config.Config) *client.Client {
	return client.NewClient(cfg.APIEndpoint, cfg.GitHubToken)
}
