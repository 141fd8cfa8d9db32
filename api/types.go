package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// LocationScheme is the scheme of the correlation URI returned in the Location header.
const LocationScheme = "runners"

// RegisterRequest is the JSON body of POST /api/register.
type RegisterRequest struct {
	Owner      string `json:"owner"`
	Repository string `json:"repository"`

	// AdminPAT is a token of a user with admin rights on the repository.
	AdminPAT string `json:"adminPat"`

	RunnerNames []string `json:"runnerNames"`

	// Labels are added to every runner in addition to the runner defaults.
	Labels []string `json:"labels"`

	// DryRun validates and authorizes the request but registers nothing.
	DryRun bool `json:"dryRun"`
}

// RegistrationRequest converts the wire request to the core request.
func (r *RegisterRequest) RegistrationRequest() *interfaces.RegistrationRequest {
	return &interfaces.RegistrationRequest{
		Owner:       r.Owner,
		Repository:  r.Repository,
		AdminToken:  r.AdminPAT,
		RunnerNames: r.RunnerNames,
		Labels:      r.Labels,
		DryRun:      r.DryRun,
	}
}

// RunnerSecrets maps each runner name to its secret payload
// (artifact name to base64 content).
type RunnerSecrets map[string]map[string]string

// NewRunnerSecrets builds the wire form of a set of bundles.
func NewRunnerSecrets(secrets map[string]*interfaces.RunnerRegistrationSecretData) RunnerSecrets {
	out := make(RunnerSecrets, len(secrets))
	for name, secret := range secrets {
		out[name] = secret.Data()
	}
	return out
}

// RegisterResponse is the decoded outcome of a registration call.
type RegisterResponse struct {
	// Location is the correlation URI runners://<owner>/<repo>/<id>/...
	Location string

	// DryRun is set when the server answered 202 Accepted.
	DryRun bool

	// IDs are the runner credential IDs in request order, parsed from Location.
	IDs []uuid.UUID

	Runners RunnerSecrets
}

// ErrorResponse is the body of a 500 response that follows a partial failure.
// Runners holds the bundles produced before the failure; those runners are
// registered on the host.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Runners RunnerSecrets `json:"runners,omitempty"`
}

// RegistrationProvider registers runners, either in-process or against a remote server.
type RegistrationProvider interface {
	Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error)
}

// ParseLocation splits a correlation URI into the repository and the runner IDs.
func ParseLocation(location string) (interfaces.RepositoryRef, []uuid.UUID, error) {
	u, err := url.Parse(location)
	if err != nil {
		return interfaces.RepositoryRef{}, nil, fmt.Errorf("invalid location %q: %w", location, err)
	}
	if u.Scheme != LocationScheme || u.Host == "" {
		return interfaces.RepositoryRef{}, nil, fmt.Errorf("invalid location %q: expected %s://owner/repo/...", location, LocationScheme)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if segments[0] == "" {
		return interfaces.RepositoryRef{}, nil, fmt.Errorf("invalid location %q: missing repository", location)
	}
	repo := interfaces.RepositoryRef{Owner: u.Host, Repository: segments[0]}

	ids := make([]uuid.UUID, 0, len(segments)-1)
	for _, s := range segments[1:] {
		id, err := uuid.Parse(s)
		if err != nil {
			return interfaces.RepositoryRef{}, nil, fmt.Errorf("invalid runner id %q in location: %w", s, err)
		}
		ids = append(ids, id)
	}
	return repo, ids, nil
}
