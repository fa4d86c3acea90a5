// Package backend is the JSON-over-HTTP transport shared by the prompt provider and
// the grading service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSessionInvalid indicates the backend rejected the account session (HTTP 401).
var ErrSessionInvalid = errors.New("session invalid; sign in again")

// StatusError is a non-2xx, non-401 backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("backend returned %d %s", e.Code, http.StatusText(e.Code))
	}
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("backend returned %d %s: %s", e.Code, http.StatusText(e.Code), body)
}

// Account identifies the learner to the backend.
type Account struct {
	Email     string
	SessionID string
}

// Client issues JSON requests against one backend base URL.
type Client struct {
	BaseURL   string
	Account   Account
	HTTP      *http.Client
	UserAgent string
}

// New returns a client with a bounded HTTP timeout. A non-positive timeout leaves
// requests bounded only by their context.
func New(baseURL string, account Account, timeout time.Duration) *Client {
	httpClient := &http.Client{}
	if timeout > 0 {
		httpClient.Timeout = timeout
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Account: account,
		HTTP:    httpClient,
	}
}

// GetJSON issues GET base+path with the account query parameters and decodes into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	target, err := c.url(path)
	if err != nil {
		return err
	}
	q := target.Query()
	q.Set("email", c.Account.Email)
	q.Set("session_id", c.Account.SessionID)
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

// PostJSON issues POST base+path with body merged over the account fields.
func (c *Client) PostJSON(ctx context.Context, path string, body map[string]any, out any) error {
	target, err := c.url(path)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"email":      c.Account.Email,
		"session_id": c.Account.SessionID,
	}
	for k, v := range body {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) url(path string) (*url.URL, error) {
	if c.BaseURL == "" {
		return nil, errors.New("backend base_url is empty")
	}
	target, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	return target, nil
}

func (c *Client) do(req *http.Request, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrSessionInvalid
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
