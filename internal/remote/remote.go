// Package remote talks to the backup server's management API.
package remote

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
	"sync"

	"github.com/rs/zerolog"
)

// ErrUnauthorized is returned when the server rejects the credentials.
var ErrUnauthorized = errors.New("invalid username or password")

// Repository is a backup destination known to the server.
type Repository struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding,omitempty"`
}

// Identity describes how to reach the server over SSH.
type Identity struct {
	// RemoteHost is the SSH host, optionally with a port.
	RemoteHost string `json:"remotehost"`
	// KnownHosts is a known_hosts formatted blob holding the server host keys.
	KnownHosts string `json:"known_hosts"`
}

// Service is the subset of the server API the agent needs.
type Service interface {
	Authenticate(ctx context.Context, username, password string) error
	AddSSHKey(ctx context.Context, title, publicKey string) error
	GetServerIdentity(ctx context.Context) (*Identity, error)
	ListRepositories(ctx context.Context) ([]Repository, error)
	SetRepositoryEncoding(ctx context.Context, repository, encoding string) error
	RefreshRepositories(ctx context.Context) error
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Client is a JSON-over-HTTP Service implementation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	mu       sync.RWMutex
	username string
	password string
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With().Str("component", "remote").Logger(),
	}
}

// Authenticate checks the credentials and keeps them for later calls.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	c.mu.Lock()
	c.username, c.password = username, password
	c.mu.Unlock()

	var user struct {
		Username string `json:"username"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/currentuser", nil, &user); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return ErrUnauthorized
		}
		return fmt.Errorf("authenticate: %w", err)
	}
	c.logger.Debug().Str("username", user.Username).Msg("authenticated")
	return nil
}

// AddSSHKey registers publicKey for the authenticated user. A key the
// server already holds is not an error.
func (c *Client) AddSSHKey(ctx context.Context, title, publicKey string) error {
	payload := map[string]string{"title": title, "key": strings.TrimSpace(publicKey)}
	err := c.do(ctx, http.MethodPost, "/api/v1/currentuser/sshkeys", payload, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		c.logger.Debug().Str("title", title).Msg("ssh key already registered")
		return nil
	}
	if err != nil {
		return fmt.Errorf("add ssh key: %w", err)
	}
	return nil
}

func (c *Client) GetServerIdentity(ctx context.Context) (*Identity, error) {
	var id Identity
	if err := c.do(ctx, http.MethodGet, "/api/v1/identity", nil, &id); err != nil {
		return nil, fmt.Errorf("get server identity: %w", err)
	}
	if id.RemoteHost == "" {
		return nil, errors.New("get server identity: server did not report a remote host")
	}
	return &id, nil
}

func (c *Client) ListRepositories(ctx context.Context) ([]Repository, error) {
	var repos []Repository
	if err := c.do(ctx, http.MethodGet, "/api/v1/currentuser/repos", nil, &repos); err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return repos, nil
}

func (c *Client) SetRepositoryEncoding(ctx context.Context, repository, encoding string) error {
	path := "/api/v1/currentuser/repos/" + url.PathEscape(repository)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"encoding": encoding}, nil); err != nil {
		return fmt.Errorf("set repository encoding: %w", err)
	}
	return nil
}

// RefreshRepositories asks the server to rescan the user's repositories.
func (c *Client) RefreshRepositories(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/currentuser/repos/refresh", nil, nil); err != nil {
		return fmt.Errorf("refresh repositories: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if result != nil && len(data) > 0 {
		return json.Unmarshal(data, result)
	}
	return nil
}
