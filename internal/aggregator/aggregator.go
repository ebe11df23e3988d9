package aggregator

import (
	"context"
	"log/slog"
	"sort"

	"github.com/kurihiro0119/github-repo-insights/internal/collector"
	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
)

// Aggregator defines the interface for aggregating one repository's activity
type Aggregator interface {
	// Aggregate collects commits, issues, pull requests and contributor stats for input.
	// On cancellation it returns the partial data gathered so far together with a cancelled error.
	Aggregate(ctx context.Context, input, token string, opts domain.FetchOptions) (*domain.RepoData, error)

	// AnalyzeRepository aggregates input and summarizes it as a RepoResult
	AnalyzeRepository(ctx context.Context, input, token string, opts domain.FetchOptions) (*domain.RepoResult, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	collector collector.Collector
}

// NewAggregator creates a new aggregator
func NewAggregator(c collector.Collector) Aggregator {
	return &aggregator{
		collector: c,
	}
}

// Aggregate runs the three paginated collectors in order, then the stats collector
func (a *aggregator) Aggregate(ctx context.Context, input, token string, opts domain.FetchOptions) (*domain.RepoData, error) {
	repo, ok := domain.ParseRepoIdentifier(input)
	if !ok {
		return nil, apperrors.NewInvalidIdentifierError(input)
	}
	name := repo.FullName()
	data := domain.NewRepoData()

	slog.Info("aggregating repository", "repo", name)

	commits, err := a.collector.GetCommits(ctx, repo, token, opts)
	if err != nil {
		return nil, a.fail(name, err)
	}
	data.Commits = commits.ByAuthor
	data.Totals.Commits = commits.Total
	if ctx.Err() != nil {
		return data, interrupted(name, "commits")
	}

	issues, err := a.collector.GetIssues(ctx, repo, token)
	if err != nil {
		return nil, a.fail(name, err)
	}
	data.Issues = issues.ByAuthor
	data.Teamwork.IssueComments = issues.Comments
	data.Totals.Issues = issues.Total
	if ctx.Err() != nil {
		return data, interrupted(name, "issues")
	}

	prs, err := a.collector.GetPullRequests(ctx, repo, token)
	if err != nil {
		return nil, a.fail(name, err)
	}
	data.PullRequests = prs.ByAuthor
	data.Teamwork.PRReviews = prs.Reviews
	data.Totals.PullRequests = prs.Total
	if ctx.Err() != nil {
		return data, interrupted(name, "pull requests")
	}

	stats, err := a.collector.GetContributorStats(ctx, repo, token)
	switch {
	case err == nil:
		data.ContributorStats = stats
	case apperrors.IsCancelled(err) || ctx.Err() != nil:
		return data, interrupted(name, "contributor stats")
	default:
		slog.Warn("contributor stats unavailable, continuing without them",
			"repo", name,
			"error", err)
	}

	slog.Info("repository aggregated",
		"repo", name,
		"commits", data.Totals.Commits,
		"issues", data.Totals.Issues,
		"prs", data.Totals.PullRequests)
	return data, nil
}

// AnalyzeRepository aggregates input and derives the summary counts
func (a *aggregator) AnalyzeRepository(ctx context.Context, input, token string, opts domain.FetchOptions) (*domain.RepoResult, error) {
	data, err := a.Aggregate(ctx, input, token, opts)
	if err != nil {
		return nil, err
	}
	repo, _ := domain.ParseRepoIdentifier(input)
	return domain.NewRepoResult(input, repo, data), nil
}

func (a *aggregator) fail(name string, err error) error {
	if apperrors.IsCancelled(err) {
		return err
	}
	slog.Error("repository aggregation failed", "repo", name, "error", err)
	return apperrors.NewAggregationError(name, err)
}

func interrupted(name, stage string) error {
	slog.Info("aggregation interrupted", "repo", name, "after", stage)
	return apperrors.NewCancelledError("analysis of " + name + " interrupted during " + stage)
}

// Contributors lists every contributor key of data.
// Keys named in order come first in that order; the rest follow alphabetically.
// Entries of order that are not contributors are ignored.
func Contributors(data *domain.RepoData, order []string) []string {
	set := data.Contributors()
	out := make([]string, 0, len(set))
	placed := make(map[string]struct{}, len(order))
	for _, key := range order {
		if _, ok := set[key]; !ok {
			continue
		}
		if _, dup := placed[key]; dup {
			continue
		}
		placed[key] = struct{}{}
		out = append(out, key)
	}

	rest := make([]string, 0, len(set)-len(out))
	for key := range set {
		if _, ok := placed[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
