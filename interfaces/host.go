package interfaces

import (
	"context"
	"time"
)

// RepositoryPermissions are the permissions the authenticated token has on a repository.
type RepositoryPermissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}

// Repository is the subset of repository metadata the provisioning flow relies on.
type Repository struct {
	FullName    string                 `json:"full_name"`
	HTMLURL     string                 `json:"html_url"`
	Permissions *RepositoryPermissions `json:"permissions"`
}

// IsAdmin reports whether the token used to fetch the repository has admin rights.
func (r *Repository) IsAdmin() bool {
	return r != nil && r.Permissions != nil && r.Permissions.Admin
}

// RegistrationToken is a short-lived, single-purpose token used to enroll one runner.
type RegistrationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HostClient is the source-control host API consumed by the registration flow.
// Implementations are authenticated with the administrative token.
type HostClient interface {
	// GetRepository fetches repository metadata including the caller's permissions.
	GetRepository(ctx context.Context, repo RepositoryRef) (*Repository, error)

	// CreateRegistrationToken issues a runner registration token for the repository.
	CreateRegistrationToken(ctx context.Context, repo RepositoryRef) (*RegistrationToken, error)

	// RepositoryURL returns the web URL the runner registers against.
	RepositoryURL(repo RepositoryRef) string
}

// HostClientFactory creates host clients authenticated with a given token.
type HostClientFactory interface {
	ClientFor(adminToken string) (HostClient, error)
}
