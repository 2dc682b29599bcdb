// Package client is a Go client for the administrative HTTP API served by
// package api.
//
// Usage:
//
//	c := client.New("http://durable-admin:8080",
//	    client.WithRetry(3, 200*time.Millisecond),
//	)
//	inst, err := c.GetInstance(ctx, instanceID)
//	if err := c.CancelInstance(ctx, instanceID); errors.Is(err, client.ErrConflict) {
//	    // already finished
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/api"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/workflow"
)

// Errors an APIError unwraps to, by status code.
var (
	ErrBadRequest  = errors.New("durable/client: bad request")
	ErrNotFound    = errors.New("durable/client: not found")
	ErrConflict    = errors.New("durable/client: conflict")
	ErrUnavailable = errors.New("durable/client: unavailable")
)

// APIError is a non-2xx answer of the server.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("durable/client: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto a package sentinel.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	}
	return nil
}

// Client talks to a remote administrative API.
type Client struct {
	baseURL    string
	http       *http.Client
	logger     *slog.Logger
	maxRetries uint64
	baseDelay  time.Duration
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default(),
		baseDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOpts filters ListInstances.
type ListOpts struct {
	State  workflow.State
	Limit  int
	Offset int
}

// Workflows returns the titles of the workflows the server has registered.
func (c *Client) Workflows(ctx context.Context) ([]string, error) {
	var resp api.ListWorkflowsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/workflows", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// ListInstances lists workflow instances.
func (c *Client) ListInstances(ctx context.Context, opts ListOpts) ([]*workflow.Instance, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	var out []*workflow.Instance
	if err := c.do(ctx, http.MethodGet, "/v1/instances", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInstance fetches one workflow instance.
func (c *Client) GetInstance(ctx context.Context, instanceID id.ID) (*workflow.Instance, error) {
	var out workflow.Instance
	if err := c.do(ctx, http.MethodGet, "/v1/instances/"+instanceID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelInstance cancels a workflow instance.
func (c *Client) CancelInstance(ctx context.Context, instanceID id.ID) error {
	return c.do(ctx, http.MethodPost, "/v1/instances/"+instanceID.String()+"/cancel", nil, nil)
}

// RetryHalted resumes a halted workflow instance.
func (c *Client) RetryHalted(ctx context.Context, instanceID id.ID) error {
	return c.do(ctx, http.MethodPost, "/v1/instances/"+instanceID.String()+"/retry", nil, nil)
}

// ListActivities lists the activities of a workflow instance.
func (c *Client) ListActivities(ctx context.Context, instanceID id.ID) ([]*activity.Instance, error) {
	var out []*activity.Instance
	if err := c.do(ctx, http.MethodGet, "/v1/instances/"+instanceID.String()+"/activities", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListLogs returns the journal of a workflow instance.
func (c *Client) ListLogs(ctx context.Context, instanceID id.ID, opts journal.ListOpts) ([]*journal.Entry, error) {
	q := url.Values{}
	if !opts.ActivityInstanceID.IsNil() {
		q.Set("activity", opts.ActivityInstanceID.String())
	}
	if opts.MinSeverity > journal.SeverityVerbose {
		q.Set("min_severity", opts.MinSeverity.String())
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	var out []*journal.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/instances/"+instanceID.String()+"/logs", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RetryActivity resets a failed activity.
func (c *Client) RetryActivity(ctx context.Context, activityInstanceID id.ID) error {
	return c.do(ctx, http.MethodPost, "/v1/activities/"+activityInstanceID.String()+"/retry", nil, nil)
}

// MarkAlertHandled marks the failure alert of an activity as handled.
func (c *Client) MarkAlertHandled(ctx context.Context, activityInstanceID id.ID) error {
	return c.do(ctx, http.MethodPost, "/v1/activities/"+activityInstanceID.String()+"/alert-handled", nil, nil)
}

// RunMaintenance fires a maintenance task on the server and returns how
// many rows it affected.
func (c *Client) RunMaintenance(ctx context.Context, task string) (int64, error) {
	var resp api.RunMaintenanceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/maintenance/"+url.PathEscape(task)+"/run", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

// Stats counts instances per state.
func (c *Client) Stats(ctx context.Context) (map[workflow.State]int, error) {
	var resp api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// do sends one request, retrying 503 answers per WithRetry.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.once(ctx, method, u, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			c.logger.Debug("admin api unavailable, retrying",
				slog.String("path", path),
				slog.Duration("retry_after", apiErr.RetryAfter),
			)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) once(ctx context.Context, method, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("durable/client: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("durable/client: %s %s: %w", method, u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("durable/client: read body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er api.ErrorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
		}
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("durable/client: decode response: %w", err)
	}
	return nil
}
