package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/turtacn/booklore-runner/internal/events"
	"github.com/turtacn/booklore-runner/pkg/errors"
)

// Client talks to a running runner over its control socket.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient returns a client for the control socket at socketPath.
func NewClient(socketPath string) *Client {
	var d net.Dialer
	return &Client{
		baseURL: "http://booklore-runner",
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		timeout: 30 * time.Second,
	}
}

// Health checks that a runner answers on the socket.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Status returns the run state and stage table.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start asks the runner to begin its startup sequence.
func (c *Client) Start(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/start", nil, nil)
}

// Shutdown stops the runner's stages and waits for completion.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/shutdown", nil, nil)
}

// Import forwards paths to the application and returns the accepted count.
func (c *Client) Import(ctx context.Context, paths []string) (int, error) {
	var out ImportResponse
	if err := c.do(ctx, http.MethodPost, "/v1/import", ImportRequest{Paths: paths}, &out); err != nil {
		return 0, err
	}
	return out.Accepted, nil
}

// Events streams events to fn until the stream ends, ctx is cancelled or fn
// returns an error.
func (c *Client) Events(ctx context.Context, replay bool, fn func(events.Event) error) error {
	url := c.baseURL + "/v1/events"
	if replay {
		url += "?replay=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeProblem(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var ev events.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// do sends one request. Calls without a deadline of their own are bounded by
// the client timeout.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeProblem(resp)
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// decodeProblem turns a problem response back into a coded runner error.
func decodeProblem(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var p Problem
	if json.Unmarshal(data, &p) != nil || p.Title == "" {
		return errors.New(errors.ErrCodeUnknown, "control", fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(data)), nil)
	}
	return errors.New(errors.ParseCode(p.Code), "control", p.Detail, nil)
}

// Personal.AI order the ending
