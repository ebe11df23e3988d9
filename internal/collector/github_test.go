package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
)

// fakeTransport serves canned pages in order and records the cursors it was asked for
type fakeTransport struct {
	pages   []string
	cursors []string
	err     error
	// onCall runs before a page is served, with the zero-based call index
	onCall func(i int)
}

func (f *fakeTransport) Execute(ctx context.Context, query string, variables map[string]any, token string) (json.RawMessage, error) {
	i := len(f.cursors)
	cursor := ""
	if c, ok := variables["cursor"].(*string); ok && c != nil {
		cursor = *c
	}
	f.cursors = append(f.cursors, cursor)
	if f.onCall != nil {
		f.onCall(i)
	}
	if ctx.Err() != nil {
		return nil, apperrors.NewCancelledError("cancelled")
	}
	if f.err != nil {
		return nil, f.err
	}
	if i >= len(f.pages) {
		return nil, fmt.Errorf("unexpected call %d", i)
	}
	return json.RawMessage(f.pages[i]), nil
}

var testRepo = domain.RepoIdentifier{Owner: "octo", Repo: "hello"}

func commitNodeJSON(oid, message, login, name string) string {
	author := fmt.Sprintf(`{"name":%q,"user":null}`, name)
	if login != "" {
		author = fmt.Sprintf(`{"name":%q,"user":{"login":%q}}`, name, login)
	}
	return fmt.Sprintf(`{"oid":%q,"message":%q,"committedDate":"2024-01-02T03:04:05Z","url":"u","author":%s}`, oid, message, author)
}

func commitsPage(nodes []string, hasNext bool, cursor string) string {
	end := "null"
	if cursor != "" {
		end = fmt.Sprintf("%q", cursor)
	}
	return fmt.Sprintf(`{"repository":{"defaultBranchRef":{"target":{"history":{"pageInfo":{"hasNextPage":%t,"endCursor":%s},"nodes":[%s]}}}}}`,
		hasNext, end, strings.Join(nodes, ","))
}

func TestGetCommits_BucketsAndMergeFilter(t *testing.T) {
	tr := &fakeTransport{pages: []string{
		commitsPage([]string{
			commitNodeJSON("1", "Merge pull request #1", "alice", "Alice"),
			commitNodeJSON("2", "fix bug", "alice", "Alice"),
			commitNodeJSON("3", "merged stuff", "", "Bob"),
			commitNodeJSON("4", "no author", "", ""),
		}, false, ""),
	}}
	c := New(tr, nil)

	res, err := c.GetCommits(context.Background(), testRepo, "t", domain.FetchOptions{HideMergeCommits: true})
	require.NoError(t, err)

	require.Len(t, res.ByAuthor["alice"], 1)
	assert.Equal(t, "fix bug", res.ByAuthor["alice"][0].Message)
	assert.Len(t, res.ByAuthor["Bob"], 1, "'merged' is not a merge prefix")
	assert.Len(t, res.ByAuthor[domain.UnknownContributor], 1)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2024, res.ByAuthor["alice"][0].CommittedDate.Year())
}

func TestGetCommits_CapsBucketsAcrossPages(t *testing.T) {
	var first, second []string
	for i := 0; i < 40; i++ {
		first = append(first, commitNodeJSON(fmt.Sprintf("a%d", i), "work", "alice", ""))
	}
	for i := 0; i < 20; i++ {
		second = append(second, commitNodeJSON(fmt.Sprintf("b%d", i), "more", "alice", ""))
	}
	tr := &fakeTransport{pages: []string{
		commitsPage(first, true, "c1"),
		commitsPage(second, true, "c2"),
	}}

	res, err := New(tr, nil).GetCommits(context.Background(), testRepo, "t", domain.FetchOptions{})
	require.NoError(t, err)

	assert.Len(t, res.ByAuthor["alice"], domain.MaxBucketEntries)
	assert.Equal(t, "a0", res.ByAuthor["alice"][0].ID, "earliest commits are kept")
	assert.Equal(t, 60, res.Total)
	// every bucket is full after page two, so no third page is requested
	assert.Equal(t, []string{"", "c1"}, tr.cursors)
}

func TestGetCommits_PageOfOnlyMergesKeepsPaging(t *testing.T) {
	tr := &fakeTransport{pages: []string{
		commitsPage([]string{
			commitNodeJSON("1", "Merge pull request #1", "alice", ""),
			commitNodeJSON("2", "Merge branch 'main'", "bob", ""),
		}, true, "c1"),
		commitsPage([]string{commitNodeJSON("3", "real work", "alice", "")}, false, ""),
	}}

	res, err := New(tr, nil).GetCommits(context.Background(), testRepo, "t", domain.FetchOptions{HideMergeCommits: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"", "c1"}, tr.cursors)
	require.Len(t, res.ByAuthor["alice"], 1)
	assert.Equal(t, "3", res.ByAuthor["alice"][0].ID)
	assert.Equal(t, 1, res.Total)
}

func TestGetCommits_StopsWithoutCursor(t *testing.T) {
	tr := &fakeTransport{pages: []string{
		commitsPage([]string{commitNodeJSON("1", "x", "alice", "")}, true, ""),
	}}

	res, err := New(tr, nil).GetCommits(context.Background(), testRepo, "t", domain.FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, tr.cursors, 1)
	assert.Equal(t, 1, res.Total)
}

func TestGetCommits_MissingContainerEndsCollection(t *testing.T) {
	tr := &fakeTransport{pages: []string{`{"repository":{"defaultBranchRef":null}}`}}

	res, err := New(tr, nil).GetCommits(context.Background(), testRepo, "t", domain.FetchOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.ByAuthor)
	assert.Zero(t, res.Total)
}

func TestGetCommits_CancelledMidPaginationKeepsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{
		pages: []string{
			commitsPage([]string{commitNodeJSON("1", "x", "alice", "")}, true, "c1"),
			commitsPage([]string{commitNodeJSON("2", "y", "alice", "")}, true, "c2"),
		},
		onCall: func(i int) {
			if i == 1 {
				cancel()
			}
		},
	}

	res, err := New(tr, nil).GetCommits(ctx, testRepo, "t", domain.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.ByAuthor["alice"], 1)
	assert.Equal(t, "1", res.ByAuthor["alice"][0].ID)
}

func TestGetCommits_TransportErrorPropagates(t *testing.T) {
	tr := &fakeTransport{err: apperrors.NewTransportError("boom", nil)}

	_, err := New(tr, nil).GetCommits(context.Background(), testRepo, "t", domain.FetchOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
}

func actorJSON(login string) string {
	if login == "" {
		return "null"
	}
	return fmt.Sprintf(`{"login":%q}`, login)
}

func issueNodeJSON(id, author string, commenters ...string) string {
	comments := make([]string, 0, len(commenters))
	for _, c := range commenters {
		comments = append(comments, fmt.Sprintf(`{"author":%s}`, actorJSON(c)))
	}
	return fmt.Sprintf(`{"id":%q,"title":"t","body":"b","url":"u","createdAt":"2024-01-01T00:00:00Z","author":%s,"comments":{"nodes":[%s]}}`,
		id, actorJSON(author), strings.Join(comments, ","))
}

func issuesPage(nodes []string, hasNext bool, cursor string) string {
	return fmt.Sprintf(`{"repository":{"issues":{"pageInfo":{"hasNextPage":%t,"endCursor":%q},"nodes":[%s]}}}`,
		hasNext, cursor, strings.Join(nodes, ","))
}

func TestGetIssues_CommentCounting(t *testing.T) {
	tr := &fakeTransport{pages: []string{
		issuesPage([]string{
			issueNodeJSON("I1", "alice", "bob", "bob", "alice", "carol"),
			issueNodeJSON("I2", "bob", "bob", "alice"),
		}, true, "c1"),
		issuesPage([]string{
			issueNodeJSON("I3", "", "bob"),
		}, false, "c2"),
	}}

	res, err := New(tr, nil).GetIssues(context.Background(), testRepo, "t")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Comments["bob"], "bob commented on I1 twice and on I3")
	assert.Equal(t, 1, res.Comments["alice"], "own issue comments do not count")
	assert.Equal(t, 1, res.Comments["carol"])
	assert.Len(t, res.ByAuthor["alice"], 1)
	assert.Len(t, res.ByAuthor[domain.UnknownContributor], 1)
	assert.Equal(t, 3, res.Total)
}

func prNodeJSON(author string, reviewers ...string) string {
	reviews := make([]string, 0, len(reviewers))
	for _, r := range reviewers {
		reviews = append(reviews, fmt.Sprintf(`{"author":%s}`, actorJSON(r)))
	}
	return fmt.Sprintf(`{"title":"t","body":"b","url":"u","author":%s,"reviews":{"nodes":[%s]}}`,
		actorJSON(author), strings.Join(reviews, ","))
}

func TestGetPullRequests_ReviewCounting(t *testing.T) {
	tr := &fakeTransport{pages: []string{
		`{"repository":{"pullRequests":{"pageInfo":{"hasNextPage":false,"endCursor":null},"nodes":[` +
			prNodeJSON("alice", "bob", "bob", "alice") + "," +
			prNodeJSON("bob", "alice", "bob") +
			`]}}}`,
	}}

	res, err := New(tr, nil).GetPullRequests(context.Background(), testRepo, "t")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Reviews["bob"], "repeat reviews on one PR all count")
	assert.Equal(t, 1, res.Reviews["alice"])
	assert.Len(t, res.ByAuthor["alice"], 1)
	assert.Len(t, res.ByAuthor["bob"], 1)
	assert.Equal(t, 2, res.Total)
}

func TestGetPullRequests_NonexistentRepository(t *testing.T) {
	tr := &fakeTransport{pages: []string{`{"repository":null}`}}

	res, err := New(tr, nil).GetPullRequests(context.Background(), testRepo, "t")
	require.NoError(t, err)
	assert.Empty(t, res.ByAuthor)
	assert.Empty(t, res.Reviews)
}

func TestGetContributorStats_WithoutSource(t *testing.T) {
	_, err := New(&fakeTransport{}, nil).GetContributorStats(context.Background(), testRepo, "t")
	assert.True(t, apperrors.IsStatsUnavailable(err))
}

func TestBuckets_Full(t *testing.T) {
	b := newBuckets[int]()
	assert.False(t, b.full(), "no buckets is not full")

	for i := 0; i < domain.MaxBucketEntries; i++ {
		b.add("a", i)
	}
	assert.True(t, b.full())

	b.add("b", 1)
	assert.False(t, b.full())
	assert.Equal(t, domain.MaxBucketEntries+1, b.total)
}
