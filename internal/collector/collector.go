package collector

import (
	"context"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
)

// Collector defines the interface for collecting GitHub repository activity.
//
// The paginated methods stop early and return what they have accumulated
// when ctx is cancelled; cancellation is not reported as an error by them.
type Collector interface {
	// GetCommits retrieves default-branch commits bucketed by contributor
	GetCommits(ctx context.Context, repo domain.RepoIdentifier, token string, opts domain.FetchOptions) (*CommitResult, error)

	// GetIssues retrieves issues bucketed by creator plus distinct-issue comment counts
	GetIssues(ctx context.Context, repo domain.RepoIdentifier, token string) (*IssueResult, error)

	// GetPullRequests retrieves pull requests bucketed by creator plus review counts
	GetPullRequests(ctx context.Context, repo domain.RepoIdentifier, token string) (*PullRequestResult, error)

	// GetContributorStats retrieves weekly commit statistics per contributor
	GetContributorStats(ctx context.Context, repo domain.RepoIdentifier, token string) ([]domain.ContributorWeeklyStat, error)
}

// CommitResult holds commits per contributor
type CommitResult struct {
	ByAuthor map[string][]domain.Commit
	// Total counts every commit kept by the filter, including ones beyond the bucket cap
	Total int
}

// IssueResult holds issues per contributor and the issue comment counters
type IssueResult struct {
	ByAuthor map[string][]domain.Issue
	Comments map[string]int
	Total    int
}

// PullRequestResult holds pull requests per contributor and the review counters
type PullRequestResult struct {
	ByAuthor map[string][]domain.PullRequest
	Reviews  map[string]int
	Total    int
}
