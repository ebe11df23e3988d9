package domain

import "time"

// UnknownContributor is the bucket key used when an item has no resolvable author
const UnknownContributor = "Unknown"

// MaxBucketEntries caps how many items are retained per contributor bucket
const MaxBucketEntries = 50

// FetchOptions controls filtering for a single repository fetch.
// Cancellation travels separately as a context.Context.
type FetchOptions struct {
	HideMergeCommits bool `json:"hideMergeCommits"`
}

// Commit represents a commit on the default branch
type Commit struct {
	ID            string    `json:"id"`
	Message       string    `json:"message"`
	CommittedDate time.Time `json:"committedDate"`
	URL           string    `json:"url,omitempty"`
}

// Issue represents an issue opened by a contributor
type Issue struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// PullRequest represents a pull request opened by a contributor
type PullRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// WeeklyStat is one week of a contributor's commit activity
type WeeklyStat struct {
	WeekStartUnix int64 `json:"w"`
	Additions     int   `json:"a"`
	Deletions     int   `json:"d"`
	Commits       int   `json:"c"`
}

// ContributorWeeklyStat holds the weekly time series for one contributor
type ContributorWeeklyStat struct {
	Login        string       `json:"login"`
	TotalCommits int          `json:"total"`
	Weeks        []WeeklyStat `json:"weeks"`
}

// TeamworkData holds interaction counters between contributors
type TeamworkData struct {
	// IssueComments counts distinct issues a user commented on, excluding their own
	IssueComments map[string]int `json:"issueComments"`
	// PRReviews counts review events on other users' pull requests
	PRReviews map[string]int `json:"prReviews"`
}

// ActivityTotals holds item counts seen before the per-contributor cap applied
type ActivityTotals struct {
	Commits      int `json:"commits"`
	Issues       int `json:"issues"`
	PullRequests int `json:"prs"`
}

// RepoData is the normalized activity dataset for one repository
type RepoData struct {
	Commits          map[string][]Commit      `json:"commits"`
	Issues           map[string][]Issue       `json:"issues"`
	PullRequests     map[string][]PullRequest `json:"prs"`
	Teamwork         TeamworkData             `json:"teamwork"`
	ContributorStats []ContributorWeeklyStat  `json:"contributorStats,omitempty"`
	Totals           ActivityTotals           `json:"totals"`
}

// NewRepoData returns a RepoData with all maps initialized
func NewRepoData() *RepoData {
	return &RepoData{
		Commits:      make(map[string][]Commit),
		Issues:       make(map[string][]Issue),
		PullRequests: make(map[string][]PullRequest),
		Teamwork: TeamworkData{
			IssueComments: make(map[string]int),
			PRReviews:     make(map[string]int),
		},
	}
}

// Contributors returns the set of contributor keys with at least one commit, issue or pull request
func (d *RepoData) Contributors() map[string]struct{} {
	set := make(map[string]struct{})
	for k := range d.Commits {
		set[k] = struct{}{}
	}
	for k := range d.Issues {
		set[k] = struct{}{}
	}
	for k := range d.PullRequests {
		set[k] = struct{}{}
	}
	return set
}
