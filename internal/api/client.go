// Package api provides the HTTP client for the accounting backend's REST
// API. It owns request shaping, bearer auth and the mapping of transport and
// HTTP failures to the two error values the rest of the code consumes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// TokenSource supplies the bearer token attached to every request.
// Implementations live outside this package (file-backed credential store,
// static config token).
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource returning a fixed token from configuration.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", fmt.Errorf("no API token configured")
	}
	return string(t), nil
}

// Client talks to the backend API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a backend API client.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Close closes the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping verifies connectivity and credentials by listing clients.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.ListAccounts(ctx); err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	log.Info().Str("base_url", c.baseURL).Msg("Connected to backend API")
	return nil
}

// Get issues a GET request and returns the raw response body.
// Failures come back as *FetchError.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.read(ctx, http.MethodGet, path)
}

// Put issues a PUT request with a JSON body. Failures come back as
// *CommitError.
func (c *Client) Put(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.write(ctx, http.MethodPut, path, body)
}

// Patch issues a PATCH request with an optional JSON body. Failures come
// back as *CommitError.
func (c *Client) Patch(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.write(ctx, http.MethodPatch, path, body)
}

func (c *Client) read(ctx context.Context, method, path string) (json.RawMessage, error) {
	resp, err := c.do(ctx, method, path, nil)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fetchErrorf(resp.StatusCode, "%s", responseMessage(resp))
	}

	return readBody(resp)
}

func (c *Client) write(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &CommitError{Message: fmt.Sprintf("encode request: %v", err)}
		}
		reader = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, reader)
	if err != nil {
		return nil, &CommitError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, commitErrorf(resp.StatusCode, "%s", responseMessage(resp))
	}

	return readBody(resp)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func readBody(resp *http.Response) (json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("read response: %v", err), Status: resp.StatusCode}
	}
	return data, nil
}

// responseMessage extracts the backend's "message" field from an error
// response, falling back to a generic status line. Raw HTTP details never
// reach the caller beyond this string.
func responseMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return fmt.Sprintf("backend request failed (status %d)", resp.StatusCode)
}
