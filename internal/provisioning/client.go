package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client talks to the pool manager's REST API. A session token is obtained
// by Connect and reused across calls; on a 401 the caller re-connects and
// retries once.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu    sync.Mutex
	token string
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Connect logs in and stores the session token. A held token is reused.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return nil
	}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/login", loginRequest{Username: c.username, Password: c.password}, &resp, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if resp.Token == "" {
		return fmt.Errorf("%w: empty session token", ErrBackendUnavailable)
	}
	c.token = resp.Token
	return nil
}

func (c *Client) Acquire(ctx context.Context, servicePoolID string) (InstanceRef, error) {
	var ref InstanceRef
	err := c.authed(ctx, http.MethodPost, "/pools/"+servicePoolID+"/reserve", nil, &ref)
	return ref, err
}

func (c *Client) Status(ctx context.Context, refID string) (InstanceRef, error) {
	var ref InstanceRef
	err := c.authed(ctx, http.MethodGet, "/machines/"+refID, nil, &ref)
	return ref, err
}

func (c *Client) Release(ctx context.Context, refID string) error {
	return c.authed(ctx, http.MethodDelete, "/machines/"+refID, nil, nil)
}

func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}

	err := c.do(ctx, method, path, body, out, token)
	if err == errUnauthorized {
		// Session expired on the backend; establish a fresh one and retry.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		if err := c.Connect(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
		err = c.do(ctx, method, path, body, out, token)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

var errUnauthorized = fmt.Errorf("unauthorized")

func (c *Client) do(ctx context.Context, method, path string, body, out any, token string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
