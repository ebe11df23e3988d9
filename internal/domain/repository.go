package domain

import (
	"net/url"
	"strings"
)

// RepoIdentifier identifies a GitHub repository
type RepoIdentifier struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// FullName returns the owner/repo form of the identifier
func (r RepoIdentifier) FullName() string {
	return r.Owner + "/" + r.Repo
}

// Key returns the case-insensitive key used to detect duplicate repositories
func (r RepoIdentifier) Key() string {
	return strings.ToLower(r.FullName())
}

func (r RepoIdentifier) String() string {
	return r.FullName()
}

// ParseRepoIdentifier normalizes a user supplied repository reference.
//
// Accepted shapes are a full URL (optionally ending in .git), the @owner/repo
// shorthand and a bare owner/repo. Anything else returns ok == false.
func ParseRepoIdentifier(input string) (RepoIdentifier, bool) {
	clean := strings.TrimSpace(input)
	clean = strings.TrimPrefix(clean, "@")
	if len(clean) >= 4 && strings.EqualFold(clean[len(clean)-4:], ".git") {
		clean = clean[:len(clean)-4]
	}
	if clean == "" {
		return RepoIdentifier{}, false
	}

	var segments []string
	switch {
	case strings.Contains(clean, "github.com"):
		raw := clean
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return RepoIdentifier{}, false
		}
		segments = nonEmpty(strings.Split(u.Path, "/"))
	case strings.Contains(clean, "/"):
		segments = nonEmpty(strings.Split(clean, "/"))
	default:
		return RepoIdentifier{}, false
	}

	if len(segments) < 2 {
		return RepoIdentifier{}, false
	}
	id := RepoIdentifier{
		Owner: strings.TrimSpace(segments[0]),
		Repo:  strings.TrimSpace(segments[1]),
	}
	if id.Owner == "" || id.Repo == "" {
		return RepoIdentifier{}, false
	}
	return id, true
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
