package collector

import (
	"encoding/json"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
)

const commitsQuery = `
query GetCommits($owner: String!, $repo: String!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    defaultBranchRef {
      target {
        ... on Commit {
          history(first: 100, after: $cursor) {
            pageInfo { hasNextPage endCursor }
            nodes {
              oid
              message
              committedDate
              url
              author { name user { login } }
            }
          }
        }
      }
    }
  }
}`

const issuesQuery = `
query GetIssues($owner: String!, $repo: String!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    issues(first: 100, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id
        title
        body
        url
        createdAt
        author { login ... on User { name } }
        comments(first: 30) {
          nodes { author { login ... on User { name } } }
        }
      }
    }
  }
}`

const pullRequestsQuery = `
query GetPullRequests($owner: String!, $repo: String!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequests(first: 100, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        title
        body
        url
        author { login ... on User { name } }
        reviews(first: 30) {
          nodes { author { login ... on User { name } } }
        }
      }
    }
  }
}`

type pageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// actor is an issue, pull request, comment or review author
type actor struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

// contributorKey resolves login, then display name, then the unknown sentinel
func contributorKey(login, name string) string {
	if login != "" {
		return login
	}
	if name != "" {
		return name
	}
	return domain.UnknownContributor
}

func (a *actor) key() string {
	if a == nil {
		return domain.UnknownContributor
	}
	return contributorKey(a.Login, a.Name)
}

type commitsResponse struct {
	Repository *struct {
		DefaultBranchRef *struct {
			Target *struct {
				History *struct {
					PageInfo pageInfo     `json:"pageInfo"`
					Nodes    []commitNode `json:"nodes"`
				} `json:"history"`
			} `json:"target"`
		} `json:"defaultBranchRef"`
	} `json:"repository"`
}

type commitNode struct {
	OID           string `json:"oid"`
	Message       string `json:"message"`
	CommittedDate string `json:"committedDate"`
	URL           string `json:"url"`
	Author        *struct {
		Name string `json:"name"`
		User *struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"author"`
}

func (n commitNode) key() string {
	if n.Author == nil {
		return domain.UnknownContributor
	}
	login := ""
	if n.Author.User != nil {
		login = n.Author.User.Login
	}
	return contributorKey(login, n.Author.Name)
}

type issuesResponse struct {
	Repository *struct {
		Issues *struct {
			PageInfo pageInfo    `json:"pageInfo"`
			Nodes    []issueNode `json:"nodes"`
		} `json:"issues"`
	} `json:"repository"`
}

type issueNode struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	URL       string `json:"url"`
	CreatedAt string `json:"createdAt"`
	Author    *actor `json:"author"`
	Comments  struct {
		Nodes []struct {
			Author *actor `json:"author"`
		} `json:"nodes"`
	} `json:"comments"`
}

type pullRequestsResponse struct {
	Repository *struct {
		PullRequests *struct {
			PageInfo pageInfo          `json:"pageInfo"`
			Nodes    []pullRequestNode `json:"nodes"`
		} `json:"pullRequests"`
	} `json:"repository"`
}

type pullRequestNode struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	URL     string `json:"url"`
	Author  *actor `json:"author"`
	Reviews struct {
		Nodes []struct {
			Author *actor `json:"author"`
		} `json:"nodes"`
	} `json:"reviews"`
}

func decode[T any](data json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
