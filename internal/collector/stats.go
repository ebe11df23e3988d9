package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
)

// DefaultAPIURL is GitHub's REST API base URL
const DefaultAPIURL = "https://api.github.com/"

const defaultStatsRetryDelay = 2 * time.Second

// StatsClient fetches contributor statistics through the REST API.
// GitHub answers 202 while it computes the statistics; the client then
// waits retryDelay and asks again, up to retries more times.
type StatsClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    RateLimiter
	retries    int
	retryDelay time.Duration
}

// NewStatsClient creates a stats client for apiURL.
// Negative retries disable retrying; a zero retryDelay uses the default.
func NewStatsClient(apiURL string, httpClient *http.Client, limiter RateLimiter, retries int, retryDelay time.Duration) (*StatsClient, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("invalid API URL %q", apiURL), err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	if retries < 0 {
		retries = 0
	}
	if retryDelay <= 0 {
		retryDelay = defaultStatsRetryDelay
	}
	return &StatsClient{
		baseURL:    base,
		httpClient: httpClient,
		limiter:    limiter,
		retries:    retries,
		retryDelay: retryDelay,
	}, nil
}

func (s *StatsClient) client(token string) *github.Client {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.httpClient)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "token"})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	client.BaseURL = s.baseURL
	return client
}

// Collect returns the weekly statistics of every contributor of repo
func (s *StatsClient) Collect(ctx context.Context, repo domain.RepoIdentifier, token string) ([]domain.ContributorWeeklyStat, error) {
	client := s.client(token)
	attempts := 0

	for {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelledError("contributor stats request cancelled")
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, apperrors.NewCancelledError("contributor stats request cancelled while waiting for rate limit")
		}

		attempts++
		stats, resp, err := client.Repositories.ListContributorsStats(ctx, repo.Owner, repo.Repo)
		if resp != nil {
			updateLimitFromHeaders(s.limiter, resp.Header)
		}
		if err == nil {
			return convertContributorStats(stats), nil
		}

		var accepted *github.AcceptedError
		if !errors.As(err, &accepted) {
			return nil, classifyRESTError(ctx, err)
		}
		if attempts > s.retries {
			slog.Warn("contributor stats still being computed, giving up",
				"repo", repo.FullName(),
				"attempts", attempts)
			return nil, apperrors.NewStatsUnavailableError(repo.FullName(), attempts)
		}

		slog.Debug("contributor stats not ready, retrying",
			"repo", repo.FullName(),
			"attempt", attempts,
			"delay", s.retryDelay)
		timer := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperrors.NewCancelledError("contributor stats retry cancelled")
		case <-timer.C:
		}
	}
}

func classifyRESTError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperrors.NewCancelledError("contributor stats request aborted")
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return apperrors.NewRateLimitedError("GitHub rate limit exhausted")
	case errors.As(err, &respErr) && respErr.Response != nil:
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return apperrors.NewUnauthorizedError("GitHub rejected the credential (401)")
		case http.StatusTooManyRequests:
			return apperrors.NewRateLimitedError("GitHub rate limit exhausted (429)")
		}
		return apperrors.NewTransportError(fmt.Sprintf("contributor stats request failed with status %d", respErr.Response.StatusCode), err)
	default:
		return apperrors.NewTransportError("contributor stats request failed", err)
	}
}

// convertContributorStats maps the REST payload onto domain types with weeks in ascending order
func convertContributorStats(stats []*github.ContributorStats) []domain.ContributorWeeklyStat {
	out := make([]domain.ContributorWeeklyStat, 0, len(stats))
	for _, s := range stats {
		if s == nil {
			continue
		}
		login := domain.UnknownContributor
		if s.GetAuthor().GetLogin() != "" {
			login = s.GetAuthor().GetLogin()
		}
		weeks := make([]domain.WeeklyStat, 0, len(s.Weeks))
		for _, w := range s.Weeks {
			if w == nil {
				continue
			}
			weeks = append(weeks, domain.WeeklyStat{
				WeekStartUnix: w.GetWeek().Unix(),
				Additions:     w.GetAdditions(),
				Deletions:     w.GetDeletions(),
				Commits:       w.GetCommits(),
			})
		}
		sort.Slice(weeks, func(i, j int) bool {
			return weeks[i].WeekStartUnix < weeks[j].WeekStartUnix
		})
		out = append(out, domain.ContributorWeeklyStat{
			Login:        login,
			TotalCommits: s.GetTotal(),
			Weeks:        weeks,
		})
	}
	return out
}
