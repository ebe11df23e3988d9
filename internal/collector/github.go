package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
)

// Options configures NewGitHubCollector
type Options struct {
	GraphQLURL      string
	APIURL          string
	HTTPClient      *http.Client
	MinRequestDelay time.Duration
	StatsRetries    int
	StatsRetryDelay time.Duration
}

// ContributorStatsSource fetches weekly contributor statistics
type ContributorStatsSource interface {
	Collect(ctx context.Context, repo domain.RepoIdentifier, token string) ([]domain.ContributorWeeklyStat, error)
}

// githubCollector implements Collector using the GitHub GraphQL and REST APIs
type githubCollector struct {
	transport Transport
	stats     ContributorStatsSource
}

// NewGitHubCollector creates a collector talking to GitHub.
// The GraphQL transport and the stats client share one rate limiter.
func NewGitHubCollector(opts Options) (Collector, error) {
	limiter := NewRateLimiter(opts.MinRequestDelay)
	stats, err := NewStatsClient(opts.APIURL, opts.HTTPClient, limiter, opts.StatsRetries, opts.StatsRetryDelay)
	if err != nil {
		return nil, err
	}
	return New(NewGraphQLTransport(opts.GraphQLURL, opts.HTTPClient, limiter), stats), nil
}

// New creates a collector from a transport and a stats source
func New(transport Transport, stats ContributorStatsSource) Collector {
	return &githubCollector{
		transport: transport,
		stats:     stats,
	}
}

// buckets groups items per contributor, keeping at most domain.MaxBucketEntries each
type buckets[T any] struct {
	items map[string][]T
	total int
}

func newBuckets[T any]() *buckets[T] {
	return &buckets[T]{items: make(map[string][]T)}
}

// add appends item unless key's bucket is already full; earlier entries are never evicted
func (b *buckets[T]) add(key string, item T) {
	b.total++
	if len(b.items[key]) < domain.MaxBucketEntries {
		b.items[key] = append(b.items[key], item)
	}
}

// full reports whether at least one bucket exists and every bucket is at the cap
func (b *buckets[T]) full() bool {
	if len(b.items) == 0 {
		return false
	}
	for _, items := range b.items {
		if len(items) < domain.MaxBucketEntries {
			return false
		}
	}
	return true
}

// pageHandler consumes one page and returns its page info, or nil when the
// expected connection is missing from the response
type pageHandler func(data json.RawMessage) (*pageInfo, error)

// paginate drives cursor pagination for one query.
// It stops on the last page, when full reports true, or when ctx is cancelled.
func (c *githubCollector) paginate(ctx context.Context, repo domain.RepoIdentifier, kind, query, token string, handle pageHandler, full func() bool) error {
	var cursor *string
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			slog.Info("collection interrupted, keeping partial result", "repo", repo.FullName(), "kind", kind, "page", page)
			return nil
		}

		vars := map[string]any{
			"owner":  repo.Owner,
			"repo":   repo.Repo,
			"cursor": cursor,
		}
		data, err := c.transport.Execute(ctx, query, vars, token)
		if err != nil {
			if apperrors.IsCancelled(err) {
				slog.Info("collection interrupted, keeping partial result", "repo", repo.FullName(), "kind", kind, "page", page)
				return nil
			}
			return fmt.Errorf("fetch %s page %d: %w", kind, page, err)
		}

		info, err := handle(data)
		if err != nil {
			return apperrors.NewTransportError(fmt.Sprintf("unexpected %s page %d shape", kind, page), err)
		}
		if info == nil {
			slog.Debug("connection missing, treating as end of data", "repo", repo.FullName(), "kind", kind, "page", page)
			return nil
		}
		if !info.HasNextPage || info.EndCursor == nil || full() {
			return nil
		}
		cursor = info.EndCursor
	}
}

// GetCommits retrieves default-branch commits, newest first
func (c *githubCollector) GetCommits(ctx context.Context, repo domain.RepoIdentifier, token string, opts domain.FetchOptions) (*CommitResult, error) {
	commits := newBuckets[domain.Commit]()

	handle := func(data json.RawMessage) (*pageInfo, error) {
		resp, err := decode[commitsResponse](data)
		if err != nil {
			return nil, err
		}
		if resp.Repository == nil || resp.Repository.DefaultBranchRef == nil ||
			resp.Repository.DefaultBranchRef.Target == nil || resp.Repository.DefaultBranchRef.Target.History == nil {
			return nil, nil
		}
		history := resp.Repository.DefaultBranchRef.Target.History
		for _, node := range history.Nodes {
			if opts.HideMergeCommits && isMergeCommit(node.Message) {
				continue
			}
			commits.add(node.key(), domain.Commit{
				ID:            node.OID,
				Message:       node.Message,
				CommittedDate: parseTime(node.CommittedDate),
				URL:           node.URL,
			})
		}
		return &history.PageInfo, nil
	}

	if err := c.paginate(ctx, repo, "commits", commitsQuery, token, handle, commits.full); err != nil {
		return nil, err
	}
	return &CommitResult{ByAuthor: commits.items, Total: commits.total}, nil
}

// GetIssues retrieves issues, newest first.
// Comments count once per (commenter, issue) pair and never on the commenter's own issue.
func (c *githubCollector) GetIssues(ctx context.Context, repo domain.RepoIdentifier, token string) (*IssueResult, error) {
	issues := newBuckets[domain.Issue]()
	comments := make(map[string]int)
	seen := make(map[string]map[string]struct{})

	handle := func(data json.RawMessage) (*pageInfo, error) {
		resp, err := decode[issuesResponse](data)
		if err != nil {
			return nil, err
		}
		if resp.Repository == nil || resp.Repository.Issues == nil {
			return nil, nil
		}
		for _, node := range resp.Repository.Issues.Nodes {
			author := node.Author.key()
			issues.add(author, domain.Issue{
				Title:     node.Title,
				Body:      node.Body,
				URL:       node.URL,
				CreatedAt: parseTime(node.CreatedAt),
			})

			for _, comment := range node.Comments.Nodes {
				commenter := comment.Author.key()
				if commenter == author {
					continue
				}
				if seen[commenter] == nil {
					seen[commenter] = make(map[string]struct{})
				}
				if _, ok := seen[commenter][node.ID]; ok {
					continue
				}
				seen[commenter][node.ID] = struct{}{}
				comments[commenter]++
			}
		}
		return &resp.Repository.Issues.PageInfo, nil
	}

	if err := c.paginate(ctx, repo, "issues", issuesQuery, token, handle, issues.full); err != nil {
		return nil, err
	}
	return &IssueResult{ByAuthor: issues.items, Comments: comments, Total: issues.total}, nil
}

// GetPullRequests retrieves pull requests, newest first.
// Every review on someone else's pull request counts, including repeats.
func (c *githubCollector) GetPullRequests(ctx context.Context, repo domain.RepoIdentifier, token string) (*PullRequestResult, error) {
	prs := newBuckets[domain.PullRequest]()
	reviews := make(map[string]int)

	handle := func(data json.RawMessage) (*pageInfo, error) {
		resp, err := decode[pullRequestsResponse](data)
		if err != nil {
			return nil, err
		}
		if resp.Repository == nil || resp.Repository.PullRequests == nil {
			return nil, nil
		}
		for _, node := range resp.Repository.PullRequests.Nodes {
			author := node.Author.key()
			prs.add(author, domain.PullRequest{
				Title: node.Title,
				Body:  node.Body,
				URL:   node.URL,
			})
			for _, review := range node.Reviews.Nodes {
				if reviewer := review.Author.key(); reviewer != author {
					reviews[reviewer]++
				}
			}
		}
		return &resp.Repository.PullRequests.PageInfo, nil
	}

	if err := c.paginate(ctx, repo, "pull requests", pullRequestsQuery, token, handle, prs.full); err != nil {
		return nil, err
	}
	return &PullRequestResult{ByAuthor: prs.items, Reviews: reviews, Total: prs.total}, nil
}

// GetContributorStats retrieves weekly contributor statistics from the REST API
func (c *githubCollector) GetContributorStats(ctx context.Context, repo domain.RepoIdentifier, token string) ([]domain.ContributorWeeklyStat, error) {
	if c.stats == nil {
		return nil, apperrors.NewStatsUnavailableError(repo.FullName(), 0)
	}
	return c.stats.Collect(ctx, repo, token)
}

func isMergeCommit(message string) bool {
	return strings.HasPrefix(strings.ToLower(message), "merge ")
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
