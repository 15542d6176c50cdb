// Package tracker queries GitHub for open issues carrying a label.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const githubAPIURL = "https://api.github.com"

// Issue is one open item returned by a label search.
type Issue struct {
	Repo   string   `json:"repo"`
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
	// UpdatedAt is kept verbatim as the tracker reported it.
	UpdatedAt string `json:"updated_at"`
	URL       string `json:"url"`
}

// Key identifies the issue across labels and restarts.
func (i Issue) Key() string {
	return fmt.Sprintf("%s#%d", i.Repo, i.Number)
}

// RateLimit is the core search quota.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	Reset     time.Time `json:"reset"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ErrNoScope is returned by a search on a client with no repos or owners.
var ErrNoScope = errors.New("search has no repository or owner scope")

// Client is a GitHub REST client for issue search.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	retry      RetryOptions
	repos      []string
	owners     []string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root, such as GitHub
// Enterprise or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRepos limits searches to the given "owner/repo" repositories.
func WithRepos(repos ...string) Option {
	return func(c *Client) { c.repos = append(c.repos, repos...) }
}

// WithOwners limits searches to repositories owned by the given users or
// organizations.
func WithOwners(owners ...string) Option {
	return func(c *Client) { c.owners = append(c.owners, owners...) }
}

// WithRetryOptions overrides the retry policy.
func WithRetryOptions(opts RetryOptions) Option {
	return func(c *Client) { c.retry = opts }
}

// NewClient creates a client. An empty token makes unauthenticated calls.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		baseURL: githubAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: DefaultRetryOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return apiErr
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

type searchResponse struct {
	TotalCount int          `json:"total_count"`
	Items      []searchItem `json:"items"`
}

type searchItem struct {
	Number        int    `json:"number"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	HTMLURL       string `json:"html_url"`
	RepositoryURL string `json:"repository_url"`
	UpdatedAt     string `json:"updated_at"`
	Labels        []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *json.RawMessage `json:"pull_request,omitempty"`
}

// SearchOpenIssues returns up to limit open issues labelled label, in the
// order GitHub returns them. Transient failures are retried while ctx allows.
func (c *Client) SearchOpenIssues(ctx context.Context, label string, limit int) ([]Issue, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if len(c.repos) == 0 && len(c.owners) == 0 {
		return nil, fmt.Errorf("search label %q: %w", label, ErrNoScope)
	}
	if err := ValidateLabel(label); err != nil {
		return nil, fmt.Errorf("search label %q: %w", label, err)
	}
	q := url.Values{}
	q.Set("q", c.searchQuery(label))
	q.Set("per_page", strconv.Itoa(limit))

	resp, err := WithRetry(ctx, func() (*searchResponse, error) {
		var r searchResponse
		if err := c.doRequest(ctx, "/search/issues", q, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}, c.retry)
	if err != nil {
		return nil, fmt.Errorf("search label %q: %w", label, err)
	}

	issues := make([]Issue, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.PullRequest != nil {
			continue
		}
		repo, err := repoFromURL(it.RepositoryURL)
		if err != nil {
			return nil, fmt.Errorf("search label %q: issue %d: %w", label, it.Number, err)
		}
		if !c.inScope(repo) {
			continue
		}
		labels := make([]string, 0, len(it.Labels))
		for _, l := range it.Labels {
			labels = append(labels, l.Name)
		}
		issues = append(issues, Issue{
			Repo:      repo,
			Number:    it.Number,
			Title:     it.Title,
			Body:      it.Body,
			Labels:    labels,
			UpdatedAt: it.UpdatedAt,
			URL:       it.HTMLURL,
		})
		if len(issues) == limit {
			break
		}
	}
	return issues, nil
}

// searchQuery builds the search string. GitHub ORs repeated repo: and user:
// qualifiers, so the result is bounded to the configured scope.
func (c *Client) searchQuery(label string) string {
	var b strings.Builder
	b.WriteString(`label:"`)
	b.WriteString(label)
	b.WriteString(`" state:open is:issue`)
	for _, r := range c.repos {
		b.WriteString(" repo:")
		b.WriteString(r)
	}
	for _, o := range c.owners {
		b.WriteString(" user:")
		b.WriteString(o)
	}
	return b.String()
}

// inScope reports whether repo is one of the configured repos or belongs
// to a configured owner.
func (c *Client) inScope(repo string) bool {
	for _, r := range c.repos {
		if strings.EqualFold(r, repo) {
			return true
		}
	}
	owner, _, _ := strings.Cut(repo, "/")
	for _, o := range c.owners {
		if strings.EqualFold(o, owner) {
			return true
		}
	}
	return false
}

// ValidateLabel rejects labels that cannot be written inside a quoted
// search qualifier.
func ValidateLabel(label string) error {
	if label == "" {
		return errors.New("empty label")
	}
	if strings.ContainsAny(label, "\"\\\n\r") {
		return fmt.Errorf("label %q has characters that cannot be quoted in a search", label)
	}
	return nil
}

// ValidateRepo checks an "owner/repo" scope entry.
func ValidateRepo(repo string) error {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || !validName(owner) || !validName(name) {
		return fmt.Errorf("repo %q is not of the form owner/repo", repo)
	}
	return nil
}

// ValidateOwner checks a user or organization scope entry.
func ValidateOwner(owner string) error {
	if !validName(owner) {
		return fmt.Errorf("invalid owner %q", owner)
	}
	return nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// RateLimit reports the search quota.
func (c *Client) RateLimit(ctx context.Context) (*RateLimit, error) {
	var resp struct {
		Resources map[string]struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Used      int   `json:"used"`
			Reset     int64 `json:"reset"`
		} `json:"resources"`
	}
	if err := c.doRequest(ctx, "/rate_limit", nil, &resp); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	r, ok := resp.Resources["search"]
	if !ok {
		r, ok = resp.Resources["core"]
	}
	if !ok {
		return nil, errors.New("rate limit: no search or core resource in response")
	}
	return &RateLimit{
		Limit:     r.Limit,
		Remaining: r.Remaining,
		Used:      r.Used,
		Reset:     time.Unix(r.Reset, 0).UTC(),
	}, nil
}

// repoFromURL turns https://api.github.com/repos/owner/name into owner/name.
func repoFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bad repository_url %q: %w", raw, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "repos" {
			return parts[i+1] + "/" + parts[i+2], nil
		}
	}
	return "", fmt.Errorf("bad repository_url %q", raw)
}
