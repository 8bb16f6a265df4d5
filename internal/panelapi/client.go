// Package panelapi is the HTTP client for the Emberpanel API surface the
// console depends on: session address lookup, connection ticket issuance,
// cached log tails, and command submission.
package panelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/emberpanel/emberpanel/internal/console"
)

// Client talks to the panel with a bearer session token. The token may be
// swapped at runtime (sessions rotate under long-lived consoles).
type Client struct {
	baseURL string
	http    *http.Client
	log     logr.Logger

	mu    sync.RWMutex
	token string
}

// New creates a Client for the panel at baseURL. The URL scheme doubles
// as the session origin for the transport guard.
func New(baseURL, token string, log logr.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid panel URL %q", baseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log.WithName("panelapi"),
	}, nil
}

// Origin returns the session origin scheme derived from the panel URL.
func (c *Client) Origin() console.Scheme {
	if strings.HasPrefix(c.baseURL, "https://") {
		return console.SchemeHTTPS
	}
	return console.SchemeHTTP
}

// SetToken replaces the bearer token, e.g. after a credential rotation.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshalling request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.currentToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// SessionEndpoint resolves the current push-stream endpoint address from
// the session. Called fresh on every connect attempt.
func (c *Client) SessionEndpoint(ctx context.Context) (console.Endpoint, error) {
	var body struct {
		Add string `json:"add"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/auth/getCookies", nil, &body); err != nil {
		return console.Endpoint{}, fmt.Errorf("%w: session address lookup: %v", console.ErrAuthFailure, err)
	}

	addr, err := url.QueryUnescape(body.Add)
	if err != nil {
		return console.Endpoint{}, fmt.Errorf("%w: malformed session address %q", console.ErrAuthFailure, body.Add)
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return console.Endpoint{}, fmt.Errorf("%w: malformed session address %q", console.ErrAuthFailure, addr)
	}

	scheme := console.SchemeHTTP
	if u.Scheme == "https" {
		scheme = console.SchemeHTTPS
	}
	return console.Endpoint{Host: u.Host, Scheme: scheme}, nil
}

// RequestTicket exchanges the session for a single-use connection ticket
// scoped to the target kind. Requires an authenticated session: with no
// bearer token there is no network call, just ErrUnauthorized. Remote
// rejection or a malformed body is ErrAuthFailure with the cause. No
// retries here — retry policy belongs to the caller.
func (c *Client) RequestTicket(ctx context.Context, scope console.TicketScope) (console.Ticket, error) {
	if c.currentToken() == "" {
		return console.Ticket{}, console.ErrUnauthorized
	}

	req := struct {
		Type string `json:"type"`
	}{Type: string(scope)}
	var body struct {
		Value string `json:"value"`
	}
	status, err := c.do(ctx, http.MethodPost, "/api/auth/ticket", req, &body)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return console.Ticket{}, fmt.Errorf("%w: %v", console.ErrUnauthorized, err)
		}
		return console.Ticket{}, fmt.Errorf("%w: %v", console.ErrAuthFailure, err)
	}
	if body.Value == "" {
		return console.Ticket{}, fmt.Errorf("%w: empty ticket value", console.ErrAuthFailure)
	}
	return console.Ticket{Value: body.Value, Scope: scope}, nil
}

// TailLines fetches the cached log tail for a service. Failures wrap
// ErrCacheUnavailable; the console treats them as non-fatal.
func (c *Client) TailLines(ctx context.Context, serviceID string) ([]string, error) {
	var body struct {
		Lines []string `json:"lines"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/service/"+url.PathEscape(serviceID)+"/logLines", nil, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", console.ErrCacheUnavailable, err)
	}
	return body.Lines, nil
}

// Execute submits an operator command to a service. The response is never
// surfaced into the log view; command output, if any, arrives via the
// push stream.
func (c *Client) Execute(ctx context.Context, serviceID, command string) error {
	req := struct {
		Command string `json:"command"`
	}{Command: command}
	if _, err := c.do(ctx, http.MethodPost, "/service/"+url.PathEscape(serviceID)+"/execute", req, nil); err != nil {
		return fmt.Errorf("%w: %v", console.ErrCommandFailure, err)
	}
	return nil
}
