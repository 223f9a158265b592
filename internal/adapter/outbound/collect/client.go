// Package collect implements the HTTP client for the remote collection
// API. The server assigns every session its numeric id at creation;
// close calls PATCH the closing time onto that id. All requests carry
// the account token.
package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/surftrail/surftrail/internal/domain/policy"
	"github.com/surftrail/surftrail/internal/domain/session"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBody caps how much of an error body is read for
	// diagnostics.
	maxResponseBody = 64 * 1024
)

// Client talks to the collection API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	requests   *prometheus.CounterVec
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRequestCounter records every request on the given counter,
// labeled by operation and outcome.
func WithRequestCounter(counter *prometheus.CounterVec) Option {
	return func(c *Client) { c.requests = counter }
}

// NewClient creates a collection API client for the given base URL and
// account token.
func NewClient(baseURL, token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends one request and decodes a 2xx JSON response into out (when
// out is non-nil). Non-2xx responses become *RemoteError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	err := c.roundTrip(ctx, method, path, body, out)
	if c.requests != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.requests.WithLabelValues(operationFor(path), outcome).Inc()
	}
	return err
}

// operationFor is the first path segment, the API's resource group
// ("globalsession", "window", "tab", "domain", "user", "host").
func operationFor(path string) string {
	p := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

type closingPayload struct {
	ClosingTime time.Time `json:"closing_time"`
}

// CreateGlobalSession registers a new global session and returns the
// server-assigned record.
func (c *Client) CreateGlobalSession(ctx context.Context, globalSessionID string, startTime time.Time) (*session.GlobalSession, error) {
	payload := struct {
		GlobalSessionID string    `json:"global_session_id"`
		StartTime       time.Time `json:"start_time"`
	}{globalSessionID, startTime}

	var out session.GlobalSession
	if err := c.do(ctx, http.MethodPost, "/globalsession/global-session/", payload, &out); err != nil {
		return nil, fmt.Errorf("create global session: %w", err)
	}
	return &out, nil
}

// CloseGlobalSession PATCHes the closing time onto a global session.
// A 404 means it is already gone server-side and is not an error.
func (c *Client) CloseGlobalSession(ctx context.Context, id int64, closingTime time.Time) error {
	path := fmt.Sprintf("/globalsession/global-session/%d/", id)
	err := c.do(ctx, http.MethodPatch, path, closingPayload{closingTime}, nil)
	if IsNotFound(err) {
		c.logger.Debug("global session already closed remotely", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("close global session: %w", err)
	}
	return nil
}

// CreateWindowSession registers a window session and returns the
// server-assigned record.
func (c *Client) CreateWindowSession(ctx context.Context, ws *session.WindowSession) (*session.WindowSession, error) {
	var out session.WindowSession
	if err := c.do(ctx, http.MethodPost, "/window/window/", ws, &out); err != nil {
		return nil, fmt.Errorf("create window session: %w", err)
	}
	return &out, nil
}

// CloseWindowSession PATCHes the closing time onto a window session.
func (c *Client) CloseWindowSession(ctx context.Context, id int64, closingTime time.Time) error {
	path := fmt.Sprintf("/window/window/%d/", id)
	err := c.do(ctx, http.MethodPatch, path, closingPayload{closingTime}, nil)
	if IsNotFound(err) {
		c.logger.Debug("window session already closed remotely", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("close window session: %w", err)
	}
	return nil
}

// CreateTabSession registers a tab session and returns the
// server-assigned record.
func (c *Client) CreateTabSession(ctx context.Context, ts *session.TabSession) (*session.TabSession, error) {
	var out session.TabSession
	if err := c.do(ctx, http.MethodPost, "/tab/tabs/", ts, &out); err != nil {
		return nil, fmt.Errorf("create tab session: %w", err)
	}
	return &out, nil
}

// CloseTabSession PATCHes the closing time onto a tab session.
func (c *Client) CloseTabSession(ctx context.Context, id int64, closingTime time.Time) error {
	path := fmt.Sprintf("/tab/tabs/%d/", id)
	err := c.do(ctx, http.MethodPatch, path, closingPayload{closingTime}, nil)
	if IsNotFound(err) {
		c.logger.Debug("tab session already closed remotely", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("close tab session: %w", err)
	}
	return nil
}

// CreateDomainSession attaches a domain session to a tab. The server
// responds with the tab's full domain list; the newest entry by start
// time is the one just created.
func (c *Client) CreateDomainSession(ctx context.Context, tabID int64, ds session.DomainSession) (*session.DomainSession, error) {
	payload := struct {
		Domains []session.DomainSession `json:"domains"`
	}{[]session.DomainSession{ds}}

	var out struct {
		Domains []session.DomainSession `json:"domains"`
	}
	path := fmt.Sprintf("/tab/tabs/%d/", tabID)
	if err := c.do(ctx, http.MethodPost, path, payload, &out); err != nil {
		return nil, fmt.Errorf("create domain session: %w", err)
	}
	if len(out.Domains) == 0 {
		return nil, fmt.Errorf("create domain session: server returned no domains for tab %d", tabID)
	}

	newest := out.Domains[0]
	for _, d := range out.Domains[1:] {
		if d.StartTime.After(newest.StartTime) {
			newest = d
		}
	}
	return &newest, nil
}

// CloseDomainSession PATCHes the closing time onto a domain session.
func (c *Client) CloseDomainSession(ctx context.Context, id int64, closingTime time.Time) error {
	path := fmt.Sprintf("/domain/domains/%d/", id)
	err := c.do(ctx, http.MethodPatch, path, closingPayload{closingTime}, nil)
	if IsNotFound(err) {
		c.logger.Debug("domain session already closed remotely", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("close domain session: %w", err)
	}
	return nil
}

// Profile is the subset of the account profile the daemon consumes.
type Profile struct {
	Extension struct {
		HostVersion string `json:"host_version"`
	} `json:"extension"`
}

// UserProfile fetches the account profile, including the current
// host-rule catalogue version.
func (c *Client) UserProfile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/user/me/", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch user profile: %w", err)
	}
	return &out, nil
}

// FetchHostRules requests the host-rule catalogue. The server either
// answers inline (taskID "") or hands back a task id to poll via
// TaskResult.
func (c *Client) FetchHostRules(ctx context.Context) (rules []policy.HostRule, taskID string, err error) {
	var out struct {
		TaskID string            `json:"task_id"`
		Hosts  []policy.HostRule `json:"hosts"`
	}
	if err := c.do(ctx, http.MethodGet, "/host/hosts/async_hosts/", nil, &out); err != nil {
		return nil, "", fmt.Errorf("fetch host rules: %w", err)
	}
	if out.TaskID != "" {
		return nil, out.TaskID, nil
	}
	return out.Hosts, "", nil
}

// TaskResult polls an async host-rule task. While the task is still
// running it returns ErrTaskPending.
func (c *Client) TaskResult(ctx context.Context, taskID string) ([]policy.HostRule, error) {
	var out struct {
		Status string            `json:"status"`
		Result []policy.HostRule `json:"result"`
	}
	path := "/host/task-result/" + url.PathEscape(taskID) + "/"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch task result: %w", err)
	}
	if !strings.EqualFold(out.Status, "SUCCESS") {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskPending)
	}
	return out.Result, nil
}
