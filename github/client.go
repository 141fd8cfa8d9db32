// Package github implements the source-control host API used by runner registration
// on top of the GitHub REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	ghAPI "github.com/cli/go-gh/v2/pkg/api"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// DefaultHost is the public GitHub host.
const DefaultHost = "github.com"

// ActionsPublicKey is the repository key Actions secrets are sealed to.
type ActionsPublicKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

// Client is a GitHub REST client authenticated with a single token.
type Client struct {
	rest *ghAPI.RESTClient
	host string
}

// Options configures a Client.
type Options struct {
	// Host is the GitHub host, DefaultHost when empty.
	// Enterprise hosts are served under https://<host>/api/v3/.
	Host string

	// Transport overrides the HTTP transport (used in tests).
	Transport http.RoundTripper

	// Timeout bounds every request.
	Timeout time.Duration
}

// NewClient creates a client authenticated with token.
func NewClient(token string, opts Options) (*Client, error) {
	if token == "" {
		return nil, errors.New("missing GitHub token")
	}
	host := opts.Host
	if host == "" {
		host = DefaultHost
	}
	transport := opts.Transport
	if transport == nil {
		// An explicit transport keeps go-gh from consulting the local gh configuration.
		transport = http.DefaultTransport
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rest, err := ghAPI.NewRESTClient(ghAPI.ClientOptions{
		AuthToken: token,
		Host:      host,
		Transport: transport,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	return &Client{rest: rest, host: host}, nil
}

func repoPath(repo interfaces.RepositoryRef, path string) string {
	if path == "" {
		return fmt.Sprintf("repos/%s/%s", repo.Owner, repo.Repository)
	}
	return fmt.Sprintf("repos/%s/%s/%s", repo.Owner, repo.Repository, path)
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return c.rest.DoWithContext(ctx, method, path, reader, result)
}

// GetRepository fetches repository metadata including the permissions of the token.
func (c *Client) GetRepository(ctx context.Context, repo interfaces.RepositoryRef) (*interfaces.Repository, error) {
	var resp interfaces.Repository
	if err := c.do(ctx, http.MethodGet, repoPath(repo, ""), nil, &resp); err != nil {
		return nil, fmt.Errorf("get repository %s: %w", repo, err)
	}
	return &resp, nil
}

// CreateRegistrationToken issues a runner registration token for the repository.
func (c *Client) CreateRegistrationToken(ctx context.Context, repo interfaces.RepositoryRef) (*interfaces.RegistrationToken, error) {
	var resp interfaces.RegistrationToken
	if err := c.do(ctx, http.MethodPost, repoPath(repo, "actions/runners/registration-token"), nil, &resp); err != nil {
		return nil, fmt.Errorf("create registration token for %s: %w", repo, err)
	}
	return &resp, nil
}

// RepositoryURL returns the web URL of the repository on this host.
func (c *Client) RepositoryURL(repo interfaces.RepositoryRef) string {
	return fmt.Sprintf("https://%s/%s/%s", c.host, repo.Owner, repo.Repository)
}

// GetActionsPublicKey fetches the key repository Actions secrets must be sealed to.
func (c *Client) GetActionsPublicKey(ctx context.Context, repo interfaces.RepositoryRef) (*ActionsPublicKey, error) {
	var resp ActionsPublicKey
	if err := c.do(ctx, http.MethodGet, repoPath(repo, "actions/secrets/public-key"), nil, &resp); err != nil {
		return nil, fmt.Errorf("get actions public key for %s: %w", repo, err)
	}
	return &resp, nil
}

// PutActionsSecret creates or updates a repository Actions secret.
// encryptedValue must already be sealed to the key identified by keyID.
func (c *Client) PutActionsSecret(ctx context.Context, repo interfaces.RepositoryRef, name, keyID, encryptedValue string) error {
	body := map[string]string{
		"encrypted_value": encryptedValue,
		"key_id":          keyID,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	// The endpoint answers 201 or 204, possibly with an empty body.
	resp, err := c.rest.RequestWithContext(ctx, http.MethodPut, repoPath(repo, "actions/secrets/"+name), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put actions secret %s for %s: %w", name, repo, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StatusCode returns the HTTP status of a failed GitHub request, or 0.
func StatusCode(err error) int {
	var httpErr *ghAPI.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// ClientFactory creates clients for a fixed host.
type ClientFactory struct {
	Options Options
}

// NewClientFactory creates a factory for the given host.
func NewClientFactory(opts Options) *ClientFactory {
	return &ClientFactory{Options: opts}
}

// ClientFor creates a client authenticated with adminToken.
func (f *ClientFactory) ClientFor(adminToken string) (interfaces.HostClient, error) {
	return NewClient(adminToken, f.Options)
}
