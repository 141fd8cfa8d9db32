// Package registration registers self-hosted runners ahead of time and
// extracts the credentials the runner binary produces into a portable bundle.
//
// A registration goes through four steps:
//
//  1. Setup validates the labels, checks that the administrative token has
//     admin rights on the repository and obtains a registration token.
//  2. Driver stages a private copy of the runner installation and runs its
//     configure command.
//  3. Extract reads the artifacts the runner wrote and re-encodes the key pair.
//  4. The working area is removed, whatever the outcome.
//
// Registrar ties the steps together for a batch of runner names.
package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// Session is the outcome of a successful Setup. It is scoped to a single
// request and never modified after creation.
type Session struct {
	// ID namespaces the working areas of this session.
	ID uuid.UUID

	Repo interfaces.RepositoryRef

	// RepositoryURL is passed to the runner as --url.
	RepositoryURL string

	// RegistrationToken is the short-lived token passed to the runner as --token.
	RegistrationToken string
	ExpiresAt         time.Time

	Labels []string
}

// Setup validates the request labels and authorizes it against the host.
// No network call is made if a label is invalid.
func Setup(ctx context.Context, host interfaces.HostClient, req *interfaces.RegistrationRequest) (*Session, error) {
	for _, label := range req.Labels {
		if err := interfaces.ValidateIdentifier(label); err != nil {
			return nil, fmt.Errorf("invalid label: %w", err)
		}
	}
	if err := interfaces.ValidateOwnerOrRepo(req.Owner); err != nil {
		return nil, err
	}
	if err := interfaces.ValidateOwnerOrRepo(req.Repository); err != nil {
		return nil, err
	}

	repo := req.Repo()
	repository, err := host.GetRepository(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: could not fetch repository %s: %w", interfaces.ErrSetup, repo, err)
	}
	if !repository.IsAdmin() {
		return nil, fmt.Errorf("%w: %w: token has no admin permission on %s", interfaces.ErrSetup, interfaces.ErrNotAdmin, repo)
	}

	token, err := host.CreateRegistrationToken(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create registration token for %s: %w", interfaces.ErrSetup, repo, err)
	}
	if token == nil || token.Token == "" {
		return nil, fmt.Errorf("%w: empty registration token for %s", interfaces.ErrSetup, repo)
	}

	return &Session{
		ID:                uuid.New(),
		Repo:              repo,
		RepositoryURL:     host.RepositoryURL(repo),
		RegistrationToken: token.Token,
		ExpiresAt:         token.ExpiresAt,
		Labels:            append([]string(nil), req.Labels...),
	}, nil
}
