package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-repo-insights/internal/batch"
	"github.com/kurihiro0119/github-repo-insights/internal/config"
	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
)

var inputFile string

var batchCmd = &cobra.Command{
	Use:   "batch [repo...]",
	Short: "Analyze several repositories one after another",
	Long: `Analyze a list of repositories sequentially. Invalid and duplicate entries are
skipped with a warning. Press Ctrl-C to stop: the repository in progress is
aborted, the remaining ones are skipped and completed results are still shown.`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&inputFile, "file", "f", "", "read repositories from a file, one per line")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	inputs := args
	if inputFile != "" {
		fromFile, err := readInputs(inputFile)
		if err != nil {
			return err
		}
		inputs = append(inputs, fromFile...)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no repositories given; pass them as arguments or with --file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if remote {
		return runRemoteBatch(ctx, cfg, inputs)
	}

	application, err := localApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	handle := batch.NewCancellationHandle(context.Background())
	go func() {
		<-ctx.Done()
		handle.Signal()
	}()

	_, warnings := batch.Validate(inputs)
	for _, w := range warnings {
		pterm.Warning.Println(w)
	}

	progress, _ := pterm.DefaultProgressbar.
		WithTotal(len(inputs) - len(warnings)).
		WithTitle("Analyzing repositories...").
		Start()
	finished := make(map[string]struct{})
	onProgress := func(items []domain.BatchItem, _ int) {
		if progress == nil {
			return
		}
		for _, it := range items {
			switch it.Status {
			case domain.BatchStatusProcessing:
				progress.UpdateTitle("Analyzing " + it.Repo.FullName())
			case domain.BatchStatusCompleted, domain.BatchStatusError:
				if _, ok := finished[it.ID]; !ok {
					finished[it.ID] = struct{}{}
					progress.Increment()
				}
			}
		}
	}

	session := batch.NewSession(application.Aggregator, application.Store)
	report, runErr := session.Run(context.Background(), inputs, cfg.GitHubToken, domain.FetchOptions{HideMergeCommits: cfg.HideMergeCommits}, handle, onProgress)
	if progress != nil {
		_, _ = progress.Stop()
	}
	if report == nil {
		return runErr
	}
	return printBatchReport(report, runErr)
}

func runRemoteBatch(ctx context.Context, cfg *config.Config, inputs []string) error {
	c := remoteClient(cfg)
	started, err := c.StartBatch(ctx, inputs, cfg.HideMergeCommits)
	if err != nil {
		return fmt.Errorf("failed to start batch: %w", err)
	}
	for _, w := range started.Warnings {
		pterm.Warning.Println(w)
	}
	pterm.Info.Printf("Batch %s started on %s\n", started.ID, cfg.APIEndpoint)

	report, err := c.WaitBatch(ctx, started.ID, time.Second, func(r *domain.BatchReport) {
		pterm.Debug.Printf("%s: %d%%\n", r.State, r.Progress)
	})
	if err != nil && ctx.Err() != nil {
		pterm.Warning.Println("Interrupting batch...")
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.InterruptBatch(waitCtx, started.ID); err != nil {
			return fmt.Errorf("failed to interrupt batch: %w", err)
		}
		report, err = c.WaitBatch(waitCtx, started.ID, time.Second, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to follow batch: %w", err)
	}

	var runErr error
	if report.State == domain.RunStateFailed {
		runErr = apperrors.NewBatchFailedError(report.Error)
	}
	return printBatchReport(report, runErr)
}

func printBatchReport(report *domain.BatchReport, runErr error) error {
	if outputJSON {
		if err := printJSON(report); err != nil {
			return err
		}
		return runErr
	}

	printItems(report.Items)
	if len(report.Results) > 0 {
		fmt.Println()
		printRepoResults(report.Results)
	}

	switch report.State {
	case domain.RunStateCompleted:
		pterm.Success.Printf("Analyzed %d of %d repositories\n", len(report.Results), len(report.Items))
	case domain.RunStateInterrupted:
		pterm.Warning.Printf("Batch interrupted: %d of %d repositories analyzed\n", len(report.Results), len(report.Items))
	case domain.RunStateFailed:
		pterm.Error.Println(report.Error)
	}
	return runErr
}

// readInputs reads one repository per line, ignoring blank lines and # comments
func readInputs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var inputs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		inputs = append(inputs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return inputs, nil
}
