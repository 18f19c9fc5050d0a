// Package endpoint talks to the HTTP discovery endpoints of a browser that was started with
// remote debugging enabled, e.g. with --remote-debugging-port=9222.
package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/guseggert/maestro/internal/httpclient"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// VersionInfo is the response of /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version"`
	WebKitVersion        string `json:"WebKit-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Target is an entry of /json/list.
type Target struct {
	Description          string `json:"description"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl"`
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type Client struct {
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger

	baseURL                  string
	customizeRetryableClient func(*retryablehttp.Client)
	waitInterval             time.Duration
	requestTimeout           time.Duration
}

type ClientOption func(c *Client)

func WithWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

// WithRequestTimeout bounds each discovery request, including its retries.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("endpoint").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

// NewClient creates a client for the browser at baseURL, e.g. "http://127.0.0.1:9222".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		Logger:         zap.NewNop().Sugar(),
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		waitInterval:   100 * time.Millisecond,
		requestTimeout: 2 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	c.HTTPClient = httpclient.New(c.Logger, c.customizeRetryableClient)
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Add("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var v VersionInfo
	if err := c.getJSON(ctx, "/json/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Targets lists the debuggable targets, most recently created first for a real browser.
func (c *Client) Targets(ctx context.Context) ([]Target, error) {
	var targets []Target
	if err := c.getJSON(ctx, "/json/list", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// WebSocketURL returns the browser-level WebSocket endpoint, which can be passed to session.Connect.
func (c *Client) WebSocketURL(ctx context.Context) (string, error) {
	v, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	if v.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("browser at %s did not report a WebSocket URL", c.baseURL)
	}
	return v.WebSocketDebuggerURL, nil
}

// WaitForServer polls /json/version until it succeeds or ctx is done.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, err := c.Version(ctx)
			if err == nil {
				c.Logger.Debug("version request succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got version error: %s", err)
		}
	}
}
