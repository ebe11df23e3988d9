package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/github-repo-insights/internal/domain"
)

// Client is the API client for github-repo-insights
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client. token may be empty when the server has its own.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
}

// BatchStarted is the response to StartBatch
type BatchStarted struct {
	ID       string   `json:"id"`
	Warnings []string `json:"warnings"`
}

// RunItem is one journaled batch item
type RunItem struct {
	ItemID      string     `json:"itemId"`
	Position    int        `json:"position"`
	Input       string     `json:"url"`
	Owner       string     `json:"owner"`
	Repo        string     `json:"repo"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Run is one journaled batch run
type Run struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Message    string     `json:"message,omitempty"`
	ItemCount  int        `json:"itemCount"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Items      []RunItem  `json:"items,omitempty"`
}

// AnalyzeRepository analyzes one repository synchronously
func (c *Client) AnalyzeRepository(ctx context.Context, repo string, hideMergeCommits bool) (*domain.RepoResult, error) {
	body := map[string]any{"repo": repo, "hideMergeCommits": hideMergeCommits}

	var response struct {
		Data *domain.RepoResult `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/repositories/analyze", nil, body, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// StartBatch starts a background batch run
func (c *Client) StartBatch(ctx context.Context, repos []string, hideMergeCommits bool) (*BatchStarted, error) {
	body := map[string]any{"repos": repos, "hideMergeCommits": hideMergeCommits}

	var response BatchStarted
	if err := c.do(ctx, http.MethodPost, "/api/v1/batches", nil, body, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetBatch returns the live state of a batch run
func (c *Client) GetBatch(ctx context.Context, id string) (*domain.BatchReport, error) {
	var response struct {
		Data *domain.BatchReport `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches/"+url.PathEscape(id), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// InterruptBatch asks a batch run to stop
func (c *Client) InterruptBatch(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/batches/"+url.PathEscape(id)+"/interrupt", nil, nil, nil)
}

// WaitBatch polls a batch run every interval until it reaches a terminal state
func (c *Client) WaitBatch(ctx context.Context, id string, interval time.Duration, onUpdate func(*domain.BatchReport)) (*domain.BatchReport, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := c.GetBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(report)
		}
		if report.State.Terminal() {
			return report, nil
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListRuns returns journaled runs, most recent first
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []Run `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs", params, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRun returns one journaled run with its items
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var response struct {
		Data *Run `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// Health checks the API health
func (c *Client) Health(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
