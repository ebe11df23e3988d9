package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	apperrors "github.com/kurihiro0119/github-repo-insights/internal/errors"
)

// DefaultGraphQLURL is GitHub's GraphQL endpoint
const DefaultGraphQLURL = "https://api.github.com/graphql"

// Transport executes one GraphQL document and returns the unwrapped data field
type Transport interface {
	Execute(ctx context.Context, query string, variables map[string]any, token string) (json.RawMessage, error)
}

// GraphQLTransport posts GraphQL documents to a single endpoint with a bearer token
type GraphQLTransport struct {
	endpoint   string
	httpClient *http.Client
	limiter    RateLimiter
}

// NewGraphQLTransport creates a transport for endpoint. A nil httpClient uses http.DefaultClient.
func NewGraphQLTransport(endpoint string, httpClient *http.Client, limiter RateLimiter) *GraphQLTransport {
	if endpoint == "" {
		endpoint = DefaultGraphQLURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	return &GraphQLTransport{
		endpoint:   endpoint,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Execute sends query with variables and returns the response's data field.
//
// A context that is already done fails with a cancelled error before any
// request is issued; a context cancelled mid-flight aborts the request.
func (t *GraphQLTransport) Execute(ctx context.Context, query string, variables map[string]any, token string) (json.RawMessage, error) {
	if ctx.Err() != nil {
		return nil, apperrors.NewCancelledError("GraphQL request cancelled before it was sent")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewCancelledError("GraphQL request cancelled while waiting for rate limit")
	}

	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode GraphQL request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewTransportError("failed to build GraphQL request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client(token).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelledError("GraphQL request aborted")
		}
		return nil, apperrors.NewTransportError("GraphQL request failed", err)
	}
	defer resp.Body.Close()

	updateLimitFromHeaders(t.limiter, resp.Header)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelledError("GraphQL request aborted")
		}
		return nil, apperrors.NewTransportError("failed to read GraphQL response", err)
	}

	if err := checkStatus(resp, raw); err != nil {
		return nil, err
	}

	var env graphQLEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.NewTransportError("malformed GraphQL response", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		if len(env.Errors) > 0 {
			return nil, apperrors.NewTransportError("GraphQL errors: "+joinMessages(env.Errors), nil)
		}
		return nil, apperrors.NewTransportError("GraphQL response has no data field", nil)
	}
	if len(env.Errors) > 0 {
		slog.Warn("GraphQL response carried errors", "errors", joinMessages(env.Errors))
	}
	return env.Data, nil
}

func (t *GraphQLTransport) client(token string) *http.Client {
	base := context.WithValue(context.Background(), oauth2.HTTPClient, t.httpClient)
	return oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

// checkStatus maps a non-2xx response onto the error taxonomy
func checkStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet := strings.TrimSpace(string(body))
	if r := []rune(snippet); len(r) > 200 {
		snippet = string(r[:200])
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.NewUnauthorizedError("GitHub rejected the credential (401)")
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return apperrors.NewRateLimitedError(fmt.Sprintf("GitHub rate limit exhausted (%d)", resp.StatusCode))
	default:
		return apperrors.NewTransportError(fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, snippet), nil)
	}
}

func joinMessages(errs []graphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
