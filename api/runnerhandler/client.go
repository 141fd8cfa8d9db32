package runnerhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ruteri/actions-runner-provisioning-backend/api"
	"github.com/stretchr/testify/mock"
)

// PartialRegistrationError is returned by Client when the server registered
// some runners before failing. Runners holds their payloads.
type PartialRegistrationError struct {
	Response *api.RegisterResponse
	Message  string
}

func (e *PartialRegistrationError) Error() string {
	return fmt.Sprintf("registration failed after %d runner(s): %s", len(e.Response.Runners), e.Message)
}

// Client implements api.RegistrationProvider against a remote registration server.
type Client struct {
	// ServerAddr is the base URL of the registration server
	ServerAddr string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Register posts the request and decodes the registered runners.
func (c *Client) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ServerAddr+"/api/register", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("could not request register endpoint: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusAccepted:
		parsed := &api.RegisterResponse{
			Location: resp.Header.Get("Location"),
			DryRun:   resp.StatusCode == http.StatusAccepted,
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed.Runners); err != nil {
			return nil, fmt.Errorf("could not parse register response: %w", err)
		}
		if _, parsed.IDs, err = api.ParseLocation(parsed.Location); err != nil {
			return nil, err
		}
		return parsed, nil

	default:
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("register endpoint returned non-201 response: %d", resp.StatusCode)
		}
		// Both rejected (400) and failed (500) batches may carry runners registered before the failure.
		var errResp api.ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && len(errResp.Runners) > 0 {
			partial := &api.RegisterResponse{Location: resp.Header.Get("Location"), Runners: errResp.Runners}
			_, partial.IDs, _ = api.ParseLocation(partial.Location)
			return partial, &PartialRegistrationError{
				Response: partial,
				Message:  fmt.Sprintf("%d: %s", resp.StatusCode, errResp.Error),
			}
		}
		return nil, fmt.Errorf("register endpoint returned error %d: %s", resp.StatusCode, bytes.TrimSpace(bodyBytes))
	}
}

// IsPartial reports whether err carries runners that were registered before a failure.
func IsPartial(err error) (*api.RegisterResponse, bool) {
	var partial *PartialRegistrationError
	if errors.As(err, &partial) {
		return partial.Response, true
	}
	return nil, false
}

// MockProvider implements a mock api.RegistrationProvider for testing.
type MockProvider struct {
	mock.Mock
}

// Register returns what the mock is configured with.
func (m *MockProvider) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*api.RegisterResponse)
	return resp, args.Error(1)
}

// LocalProvider implements api.RegistrationProvider in-process, without a server.
type LocalProvider struct {
	Registrar Registrar
}

// Register runs the registration directly. On partial failure the produced
// runners are returned together with a *PartialRegistrationError.
func (p *LocalProvider) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	result, err := p.Registrar.RegisterAll(ctx, req.RegistrationRequest())
	if result == nil {
		return nil, err
	}

	resp := &api.RegisterResponse{
		Location: result.Location(),
		DryRun:   result.DryRun,
		Runners:  api.NewRunnerSecrets(result.Secrets()),
	}
	for _, runner := range result.Runners {
		resp.IDs = append(resp.IDs, runner.Secret.ID)
	}

	if err != nil {
		if len(result.Runners) == 0 {
			return nil, err
		}
		return resp, &PartialRegistrationError{Response: resp, Message: err.Error()}
	}
	return resp, nil
}
