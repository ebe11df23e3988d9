package domain

// RepoResult summarizes one analyzed repository
type RepoResult struct {
	RepoURL      string    `json:"repoUrl"`
	RepoName     string    `json:"repoName"`
	Commits      int       `json:"commits"`
	Issues       int       `json:"issues"`
	PullRequests int       `json:"prs"`
	Contributors int       `json:"contributors"`
	Data         *RepoData `json:"data"`
}

// NewRepoResult derives the summary counts from data.
// Counts are sums of the capped contributor buckets.
func NewRepoResult(repoURL string, id RepoIdentifier, data *RepoData) *RepoResult {
	r := &RepoResult{
		RepoURL:  repoURL,
		RepoName: id.Repo,
		Data:     data,
	}
	for _, c := range data.Commits {
		r.Commits += len(c)
	}
	for _, i := range data.Issues {
		r.Issues += len(i)
	}
	for _, p := range data.PullRequests {
		r.PullRequests += len(p)
	}
	r.Contributors = len(data.Contributors())
	return r
}
