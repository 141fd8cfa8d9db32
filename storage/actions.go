package storage

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/actions-runner-provisioning-backend/github"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"golang.org/x/crypto/nacl/box"
)

// ActionsSecretsClient is the part of the GitHub API the Actions secrets backend needs.
type ActionsSecretsClient interface {
	GetActionsPublicKey(ctx context.Context, repo interfaces.RepositoryRef) (*github.ActionsPublicKey, error)
	PutActionsSecret(ctx context.Context, repo interfaces.RepositoryRef, name, keyID, encryptedValue string) error
}

// GitHubSecretsBackend writes runner secrets as GitHub Actions repository secrets.
// Secrets are sealed to the repository key and cannot be read back.
//
// By default each secret goes to the repository the runner was registered for.
// A fixed target repository can be configured instead.
type GitHubSecretsBackend struct {
	client      ActionsSecretsClient
	target      *interfaces.RepositoryRef
	log         *slog.Logger
	locationURI string
}

// NewGitHubSecretsBackend creates a backend writing through client.
// target may be nil.
func NewGitHubSecretsBackend(client ActionsSecretsClient, host string, target *interfaces.RepositoryRef, log *slog.Logger) *GitHubSecretsBackend {
	uri := fmt.Sprintf("github://%s", host)
	if target != nil {
		uri += "/" + target.String()
	}
	return &GitHubSecretsBackend{
		client:      client,
		target:      target,
		log:         log,
		locationURI: uri,
	}
}

// ActionsSecretName returns the secret name a runner bundle is stored under,
// e.g. RUNNER_GPU_1 for runner "gpu-1".
func ActionsSecretName(runner string) string {
	return "RUNNER_" + strings.ToUpper(strings.ReplaceAll(runner, "-", "_"))
}

// Store seals the secret document to the repository key and writes it.
func (b *GitHubSecretsBackend) Store(ctx context.Context, key interfaces.SecretKey, secret *interfaces.RunnerRegistrationSecretData) error {
	if err := key.Validate(); err != nil {
		return err
	}
	repo := interfaces.RepositoryRef{Owner: key.Owner, Repository: key.Repository}
	if b.target != nil {
		repo = *b.target
	}

	pub, err := b.client.GetActionsPublicKey(ctx, repo)
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}
	rawKey, err := base64.StdEncoding.DecodeString(pub.Key)
	if err != nil || len(rawKey) != 32 {
		return fmt.Errorf("invalid actions public key for %s", repo)
	}
	var recipient [32]byte
	copy(recipient[:], rawKey)

	doc, err := marshalSecret(secret)
	if err != nil {
		return err
	}
	sealed, err := box.SealAnonymous(nil, doc, &recipient, rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	name := ActionsSecretName(key.Runner)
	if err := b.client.PutActionsSecret(ctx, repo, name, pub.KeyID, base64.StdEncoding.EncodeToString(sealed)); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Info("Stored secret as GitHub Actions secret",
		slog.String("repository", repo.String()),
		slog.String("secret", name))
	return nil
}

// Fetch always fails: Actions secrets are write-only.
func (b *GitHubSecretsBackend) Fetch(ctx context.Context, key interfaces.SecretKey) (*interfaces.RunnerRegistrationSecretData, error) {
	return nil, fmt.Errorf("%w: GitHub Actions secrets cannot be read back", interfaces.ErrNotSupported)
}

// Available checks that the public key of the target repository can be fetched.
// Without a fixed target there is nothing to check ahead of time.
func (b *GitHubSecretsBackend) Available(ctx context.Context) bool {
	if b.target == nil {
		return true
	}
	if _, err := b.client.GetActionsPublicKey(ctx, *b.target); err != nil {
		b.log.Debug("GitHub secrets backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *GitHubSecretsBackend) Name() string {
	if b.target != nil {
		return "github-" + b.target.Owner + "-" + b.target.Repository
	}
	return "github-actions"
}

// LocationURI returns the URI that identifies this storage backend.
func (b *GitHubSecretsBackend) LocationURI() string {
	return b.locationURI
}
