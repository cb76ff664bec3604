// Package api is the client of the remote Task API.
package api

import (
	"bytes"
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

	"golang.org/x/oauth2"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/normalize"
)

const defaultTimeout = 15 * time.Second

// Client talks to the Task API. Requests carry the bearer token from the
// token source when one is available; without it they go out anonymous.
type Client struct {
	base   string
	tz     string
	http   *http.Client
	tokens oauth2.TokenSource
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request; zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithTimezone sets the zone used for creation payloads without their own tz.
func WithTimezone(tz string) Option {
	return func(c *Client) { c.tz = tz }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.base }

// ListTasks fetches up to limit task records (no limit when <= 0). The body
// may be a bare array or wrapped in "items" or "data"; other shapes and
// unparsable JSON give an empty list.
func (c *Client) ListTasks(ctx context.Context, limit int) ([]model.Record, error) {
	path := "/tasks"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	items, err := normalize.DecodeItems(body)
	if err != nil {
		appLog.Warn("task list is not JSON, treating as empty", "err", err)
	}
	appLog.Debug("tasks listed", "count", len(items))
	return items, nil
}

// CreateTask posts a new task. A 2xx without body yields a nil record.
func (c *Client) CreateTask(ctx context.Context, in CreateInput) (model.Record, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, errors.New("api: create task: title is required")
	}
	body, err := c.do(ctx, http.MethodPost, "/tasks", in.Payload(c.tz))
	if err != nil {
		return nil, fmt.Errorf("api: create task: %w", err)
	}
	rec := decodeRecord(body)
	appLog.Info("task created", "id", rec.ID(), "title", in.Title)
	return rec, nil
}

// UpdateTask patches a task. The backend answers either 200 with the record
// or 204 without body; the latter yields a nil record.
func (c *Client) UpdateTask(ctx context.Context, id string, p Patch) (model.Record, error) {
	if id == "" {
		return nil, errors.New("api: update task: empty id")
	}
	body, err := c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id), p.Fields())
	if err != nil {
		return nil, fmt.Errorf("api: update task %s: %w", id, err)
	}
	return decodeRecord(body), nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("api: delete task: empty id")
	}
	if _, err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil); err != nil {
		return fmt.Errorf("api: delete task %s: %w", id, err)
	}
	appLog.Info("task deleted", "id", id)
	return nil
}

// Ping checks the first health path that answers 2xx.
func (c *Client) Ping(ctx context.Context) error {
	var last error
	for _, p := range []string{"/", "/health", "/api/health"} {
		if _, err := c.do(ctx, http.MethodGet, p, nil); err != nil {
			last = err
			continue
		}
		return nil
	}
	return fmt.Errorf("api: ping: %w", last)
}

func decodeRecord(body []byte) model.Record {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var rec model.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil
	}
	return rec
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		appLog.Error("task api request failed", err, "method", method, "path", path)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	appLog.Debug("task api response", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromResponse(resp.StatusCode, resp.Header.Get("Content-Type"), body)
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	tok, err := c.tokens.Token()
	if err != nil || tok == nil || tok.AccessToken == "" {
		return
	}
	tok.SetAuthHeader(req)
}
