// Package agentclient talks to the external AI drafting service that
// converses about and renders single-line diagrams.
package agentclient

import (
	"bufio"
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

const serviceKeyHeader = "X-Service-Key"

// maxErrorBody caps how much of an error response is kept for logging.
const maxErrorBody = 8 << 10

// Client calls the drafting service over HTTP.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// APIError is a non-2xx answer from the drafting service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("drafting service status %d", e.Status)
	}
	return fmt.Sprintf("drafting service status %d: %s", e.Status, e.Body)
}

// ExchangeRequest is one user turn forwarded to the drafting service.
type ExchangeRequest struct {
	SessionID string         `json:"application_seq"`
	ActorID   string         `json:"user_seq"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"application_info"`
}

// NewClient constructs a drafting service client. timeout bounds every call,
// including the full length of a streamed exchange.
func NewClient(baseURL, serviceKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StreamExchange posts a user turn and returns the server-sent event stream.
// The caller must Close the stream.
func (c *Client) StreamExchange(ctx context.Context, req ExchangeRequest) (*Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal exchange: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open exchange stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return &Stream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// FetchArtifact downloads a generated drawing.
func (c *Client) FetchArtifact(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.get(ctx, "/api/files/"+url.PathEscape(fileID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// PreviewSVG returns the SVG rendering of a generated drawing.
func (c *Client) PreviewSVG(ctx context.Context, fileID string) (string, error) {
	resp, err := c.get(ctx, "/api/files/"+url.PathEscape(fileID)+"/svg")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read svg preview: %w", err)
	}
	return string(data), nil
}

// ResetCheckpoint drops the drafting service's conversation state for a session.
func (c *Client) ResetCheckpoint(ctx context.Context, sessionID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat/reset/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.serviceKey != "" {
		req.Header.Set(serviceKeyHeader, c.serviceKey)
	}
	return req, nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

// Stream yields the data payload of each server-sent event.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Recv returns the next event payload. Multi-line data fields are joined
// with "\n". It returns io.EOF once the server ends the stream.
func (s *Stream) Recv() (string, error) {
	var data []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) && len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		data = append(data, strings.TrimPrefix(value, " "))
	}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
