package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-repo-insights/internal/app"
	"github.com/kurihiro0119/github-repo-insights/internal/config"
	"github.com/kurihiro0119/github-repo-insights/pkg/client"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "Show journaled batch runs",
	Long:  `List recent batch runs from the run journal, or show the items of one run.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if remote {
		c := remoteClient(cfg)
		if len(args) == 1 {
			run, err := c.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			return showRun(*run)
		}
		runs, err := c.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		return showRuns(runs)
	}

	runs, err := localRuns(ctx, cfg, args)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		return showRun(runs[0])
	}
	return showRuns(runs)
}

// localRuns reads the journal directly and converts records to the API shape
func localRuns(ctx context.Context, cfg *config.Config, args []string) ([]client.Run, error) {
	store, err := app.OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("the run journal is disabled (STORAGE_TYPE=none)")
	}
	defer store.Close()

	if len(args) == 1 {
		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return nil, err
		}
		items, err := store.GetRunItems(ctx, args[0])
		if err != nil {
			return nil, err
		}
		out := client.Run{
			ID:         run.ID,
			State:      string(run.State),
			Message:    run.Message,
			ItemCount:  run.ItemCount,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		}
		for _, it := range items {
			out.Items = append(out.Items, client.RunItem{
				ItemID:      it.ItemID,
				Position:    it.Position,
				Input:       it.Input,
				Owner:       it.Owner,
				Repo:        it.RepoName,
				Status:      string(it.Status),
				Error:       it.Error,
				StartedAt:   it.StartedAt,
				CompletedAt: it.CompletedAt,
			})
		}
		return []client.Run{out}, nil
	}

	records, err := store.ListRuns(ctx, runsLimit)
	if err != nil {
		return nil, err
	}
	runs := make([]client.Run, 0, len(records))
	for _, r := range records {
		runs = append(runs, client.Run{
			ID:         r.ID,
			State:      string(r.State),
			Message:    r.Message,
			ItemCount:  r.ItemCount,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		})
	}
	return runs, nil
}

func showRuns(runs []client.Run) error {
	if outputJSON {
		return printJSON(runs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "State", "Repositories", "Started", "Duration", "Message"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.State,
			strconv.Itoa(r.ItemCount),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration(r.StartedAt, r.FinishedAt),
			r.Message,
		})
	}
	table.Render()
	return nil
}

func showRun(run client.Run) error {
	if outputJSON {
		return printJSON(run)
	}

	fmt.Printf("Run %s: %s (%s)\n", run.ID, run.State, run.Message)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Repository", "Status", "Duration", "Error"})
	for _, it := range run.Items {
		d := "-"
		if it.StartedAt != nil {
			d = duration(*it.StartedAt, it.CompletedAt)
		}
		table.Append([]string{
			strconv.Itoa(it.Position + 1),
			it.Owner + "/" + it.Repo,
			it.Status,
			d,
			it.Error,
		})
	}
	table.Render()
	return nil
}

func duration(start time.Time, end *time.Time) string {
	if end == nil {
		return "-"
	}
	return end.Sub(start).Round(time.Second).String()
}
