package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/actions-runner-provisioning-backend/github"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// SecretStoreFactory creates secret stores from location URIs and manages
// multi-store configurations for redundant storage.
type SecretStoreFactory struct {
	log *slog.Logger

	// GitHubToken is used by github:// stores whose URI carries no token.
	GitHubToken string

	// GitHubOptions configure the GitHub client of github:// stores.
	GitHubOptions github.Options
}

// NewSecretStoreFactory creates a new factory instance.
func NewSecretStoreFactory(logger *slog.Logger) *SecretStoreFactory {
	return &SecretStoreFactory{log: logger}
}

// SecretStoreFor creates a store from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:///var/lib/runners?recipient=age1...&identity=/path/key.txt
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=eu-west-1&endpoint=...&pathStyle=true&recipient=age1...
//   - vault://[:TOKEN@]vault.example.com:8200/secret/runners[?tls=false]
//   - github://[:TOKEN@]github.com[/owner/repo] - write-only Actions secrets
func (sf *SecretStoreFactory) SecretStoreFor(loc interfaces.SecretStoreLocation) (interfaces.SecretStore, error) {
	sf.log.Debug("Creating secret store", slog.String("uri", loc.String()))

	switch strings.ToLower(loc.Scheme) {
	case "file":
		return sf.createFileBackend(loc)
	case "s3":
		return sf.createS3Backend(loc)
	case "vault":
		return sf.createVaultBackend(loc)
	case "github":
		return sf.createGitHubBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiStore creates a store writing to every location.
// Locations that cannot be turned into a store are skipped with a warning.
// Returns an error if no store could be created.
func (sf *SecretStoreFactory) CreateMultiStore(locations []interfaces.SecretStoreLocation) (interfaces.SecretStore, error) {
	backends := make([]interfaces.SecretStore, 0, len(locations))

	for _, loc := range locations {
		backend, err := sf.SecretStoreFor(loc)
		if err != nil {
			sf.log.Warn("Failed to create secret store",
				"err", err,
				slog.String("locationURI", loc.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid secret stores created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// createFileBackend handles file:///absolute/path and file://./relative/path.
func (sf *SecretStoreFactory) createFileBackend(loc interfaces.SecretStoreLocation) (interfaces.SecretStore, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, loc)
	}

	sealing, err := sealingFromLocation(loc)
	if err != nil {
		return nil, err
	}

	return NewFileBackend(path, *sealing, sf.log)
}

func (sf *SecretStoreFactory) createS3Backend(loc interfaces.SecretStoreLocation) (interfaces.SecretStore, error) {
	cfg := S3Config{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
		PathStyle: loc.GetParamBool("pathStyle"),
	}
	if loc.Auth != nil {
		cfg.AccessKey = loc.Auth.Username()
		cfg.SecretKey, _ = loc.Auth.Password()
	}

	sealing, err := sealingFromLocation(loc)
	if err != nil {
		return nil, err
	}

	return NewS3Backend(cfg, *sealing, sf.log)
}

// createVaultBackend handles vault://[:TOKEN@]host:port/mount/path.
// The first path segment is the KV v2 mount, the rest is the data path.
func (sf *SecretStoreFactory) createVaultBackend(loc interfaces.SecretStoreLocation) (interfaces.SecretStore, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrInvalidLocationURI, errVaultAddress)
	}

	scheme := "https"
	if loc.GetParam("tls") == "false" {
		scheme = "http"
	}

	mount, dataPath, _ := strings.Cut(strings.Trim(loc.Path, "/"), "/")

	cfg := VaultConfig{
		Address:   scheme + "://" + loc.Host,
		MountPath: mount,
		DataPath:  dataPath,
	}
	if loc.Auth != nil {
		if token, ok := loc.Auth.Password(); ok {
			cfg.Token = token
		} else {
			cfg.Token = loc.Auth.Username()
		}
	}

	return NewVaultBackend(cfg, sf.log)
}

// createGitHubBackend handles github://[:TOKEN@]host[/owner/repo].
func (sf *SecretStoreFactory) createGitHubBackend(loc interfaces.SecretStoreLocation) (interfaces.SecretStore, error) {
	token := sf.GitHubToken
	if loc.Auth != nil {
		if password, ok := loc.Auth.Password(); ok {
			token = password
		}
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no GitHub token for %s", interfaces.ErrInvalidLocationURI, loc)
	}

	opts := sf.GitHubOptions
	if loc.Host != "" {
		opts.Host = loc.Host
	}
	client, err := github.NewClient(token, opts)
	if err != nil {
		return nil, err
	}

	var target *interfaces.RepositoryRef
	if p := strings.Trim(loc.Path, "/"); p != "" {
		owner, repo, ok := strings.Cut(p, "/")
		if !ok || interfaces.ValidateOwnerOrRepo(owner) != nil || interfaces.ValidateOwnerOrRepo(repo) != nil {
			return nil, fmt.Errorf("%w: expected github://host/owner/repo, got %s", interfaces.ErrInvalidLocationURI, loc)
		}
		target = &interfaces.RepositoryRef{Owner: owner, Repository: repo}
	}

	host := opts.Host
	if host == "" {
		host = github.DefaultHost
	}
	return NewGitHubSecretsBackend(client, host, target, sf.log), nil
}
