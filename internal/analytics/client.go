// Package analytics talks to the engagement analytics backend.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"engagement-gateway/internal/models"
)

var ErrNoSessionIndex = errors.New("analytics: start access response has no session_index")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("analytics %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("analytics %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client is a thin JSON client. Every call carries the viewer's bearer token.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) StartAccess(ctx context.Context, token string, resourceID uuid.UUID, learner models.Learner) (int, error) {
	var resp models.StartAccessResponse
	body := models.StartAccessRequest{Grade: learner.Grade, ClassName: learner.ClassName}
	path := fmt.Sprintf("/resources/%s/access/start", resourceID)
	if err := c.post(ctx, "start_access", token, path, body, &resp); err != nil {
		return 0, err
	}
	if resp.SessionIndex == nil {
		return 0, ErrNoSessionIndex
	}
	return *resp.SessionIndex, nil
}

func (c *Client) Heartbeat(ctx context.Context, token string, resourceID uuid.UUID, sessionIndex int, interval time.Duration) error {
	body := models.HeartbeatRequest{IntervalSeconds: int(interval / time.Second)}
	path := fmt.Sprintf("/resources/%s/access/%d/heartbeat", resourceID, sessionIndex)
	return c.post(ctx, "heartbeat", token, path, body, nil)
}

func (c *Client) VideoProgress(ctx context.Context, token string, delta models.ProgressDelta) error {
	path := fmt.Sprintf("/resources/%s/access/%d/progress", delta.ResourceID, delta.SessionIndex)
	return c.post(ctx, "video_progress", token, path, delta, nil)
}

func (c *Client) EndAccess(ctx context.Context, token string, resourceID uuid.UUID, sessionIndex int) error {
	path := fmt.Sprintf("/resources/%s/access/%d/end", resourceID, sessionIndex)
	return c.post(ctx, "end_access", token, path, nil, nil)
}

func (c *Client) post(ctx context.Context, op, token, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("analytics %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("analytics %s: build request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("analytics %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("analytics %s: decode response: %w", op, err)
	}
	return nil
}
