// Package interfaces defines the core interfaces and types for the runner provisioning system.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Artifact names written by the runner binary and used as keys of the secret payload.
const (
	RunnerFile            = ".runner"
	CredentialsFile       = ".credentials"
	CredentialsRSAParams  = ".credentials_rsaparams"
	PrivateKeyPEMArtifact = "private.pem"
	PublicKeyPEMArtifact  = "public.pem"
)

// ArtifactKeys lists the secret payload keys in a stable order.
var ArtifactKeys = []string{
	RunnerFile,
	CredentialsFile,
	CredentialsRSAParams,
	PrivateKeyPEMArtifact,
	PublicKeyPEMArtifact,
}

var identifierRegex = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

// ValidateIdentifier rejects runner names and labels that are unsafe to
// interpolate into a command line or a URL path segment.
func ValidateIdentifier(s string) error {
	if !identifierRegex.MatchString(s) {
		return fmt.Errorf("%w: '%s' contains invalid chars (allowed: %s)", ErrValidation, s, identifierRegex.String())
	}
	return nil
}

// RepositoryRef identifies a repository on the source-control host.
type RepositoryRef struct {
	Owner      string
	Repository string
}

// String returns the owner/repository form.
func (r RepositoryRef) String() string {
	return r.Owner + "/" + r.Repository
}

// RegistrationRequest describes a batch of runners to register against one repository.
type RegistrationRequest struct {
	// Owner is the repository owner (user or organization).
	Owner string

	// Repository is the repository name.
	Repository string

	// AdminToken is a token of an account with admin rights on the repository.
	// It is only used to request a registration token and is never forwarded
	// to the runner process.
	AdminToken string

	// RunnerNames are the names of the runners to register.
	RunnerNames []string

	// Labels are added to every runner (in addition to the runner defaults).
	Labels []string

	// DryRun performs validation and authorization only and returns placeholder bundles.
	DryRun bool
}

// Repo returns the repository reference of the request.
func (r *RegistrationRequest) Repo() RepositoryRef {
	return RepositoryRef{Owner: r.Owner, Repository: r.Repository}
}

// RunnerRegistrationSecretData holds everything a runner needs to start
// with an identity registered ahead of time. All artifact fields are base64 encoded.
type RunnerRegistrationSecretData struct {
	// ID is the runner's client ID from .credentials. It is used to correlate
	// the bundle with the registration and is not part of the secret payload.
	ID uuid.UUID `json:"-"`

	// Runner is general information about the runner.
	Runner string `json:".runner"`

	// Credentials is non-sensitive credential information (client ID etc).
	Credentials string `json:".credentials"`

	// CredentialsRSAParams is the runner key pair in the runner's own format.
	CredentialsRSAParams string `json:".credentials_rsaparams"`

	// PrivatePEM is the PEM encoded private key derived from CredentialsRSAParams.
	PrivatePEM string `json:"private.pem"`

	// PublicPEM is the PEM encoded public key derived from CredentialsRSAParams.
	PublicPEM string `json:"public.pem"`
}

// Data returns the secret payload keyed by artifact name.
func (s *RunnerRegistrationSecretData) Data() map[string]string {
	return map[string]string{
		RunnerFile:            s.Runner,
		CredentialsFile:       s.Credentials,
		CredentialsRSAParams:  s.CredentialsRSAParams,
		PrivateKeyPEMArtifact: s.PrivatePEM,
		PublicKeyPEMArtifact:  s.PublicPEM,
	}
}

// Decoded returns the raw bytes of every artifact.
func (s *RunnerRegistrationSecretData) Decoded() (map[string][]byte, error) {
	decoded := make(map[string][]byte, len(ArtifactKeys))
	for k, v := range s.Data() {
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("could not decode %s: %w", k, err)
		}
		decoded[k] = raw
	}
	return decoded, nil
}

// NewRunnerRegistrationSecretData builds a bundle from a payload map as returned by Data.
func NewRunnerRegistrationSecretData(id uuid.UUID, data map[string]string) (*RunnerRegistrationSecretData, error) {
	for _, k := range ArtifactKeys {
		if _, ok := data[k]; !ok {
			return nil, fmt.Errorf("missing artifact %s", k)
		}
	}
	return &RunnerRegistrationSecretData{
		ID:                   id,
		Runner:               data[RunnerFile],
		Credentials:          data[CredentialsFile],
		CredentialsRSAParams: data[CredentialsRSAParams],
		PrivatePEM:           data[PrivateKeyPEMArtifact],
		PublicPEM:            data[PublicKeyPEMArtifact],
	}, nil
}

// SecretKey identifies a stored runner bundle.
type SecretKey struct {
	Owner      string
	Repository string
	Runner     string
}

// NewSecretKey creates a key for a runner of the given repository.
func NewSecretKey(repo RepositoryRef, runner string) SecretKey {
	return SecretKey{Owner: repo.Owner, Repository: repo.Repository, Runner: runner}
}

// String returns owner/repository/runner.
func (k SecretKey) String() string {
	return strings.Join([]string{k.Owner, k.Repository, k.Runner}, "/")
}

// Validate checks that all parts of the key are safe to use in paths.
func (k SecretKey) Validate() error {
	for _, part := range []string{k.Owner, k.Repository, k.Runner} {
		if err := ValidateOwnerOrRepo(part); err != nil {
			return err
		}
	}
	return nil
}

var ownerRepoRegex = regexp.MustCompile(`^[0-9A-Za-z_.-]+$`)

// ValidateOwnerOrRepo checks an owner or repository name before it is used in a URL or path.
func ValidateOwnerOrRepo(s string) error {
	if !ownerRepoRegex.MatchString(s) || s == "." || s == ".." {
		return fmt.Errorf("%w: invalid owner or repository '%s'", ErrValidation, s)
	}
	return nil
}
