package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/api"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

const vaultIDField = "id"

// VaultConfig configures a VaultBackend.
type VaultConfig struct {
	// Address of the Vault server (e.g. https://vault.example.com:8200).
	Address string

	// Token used to authenticate. When empty the VAULT_TOKEN environment variable is used.
	Token string

	// MountPath is the KV v2 mount (e.g. "secret").
	MountPath string

	// DataPath is the path within the mount secrets are written under (e.g. "runners").
	DataPath string
}

// VaultBackend stores runner secrets in a HashiCorp Vault KV v2 engine.
// Each runner is one Vault secret whose fields are the artifact names plus "id".
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault storage backend with token authentication.
func NewVaultBackend(cfg VaultConfig, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	if cfg.Address != "" {
		config.Address = cfg.Address
	}
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mountPath := strings.Trim(cfg.MountPath, "/")
	if mountPath == "" {
		mountPath = "secret"
	}
	dataPath := strings.Trim(cfg.DataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(config.Address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) secretPath(key interfaces.SecretKey) string {
	parts := []string{b.mountPath, "data"}
	if b.dataPath != "" {
		parts = append(parts, b.dataPath)
	}
	parts = append(parts, key.Owner, key.Repository, key.Runner)
	return strings.Join(parts, "/")
}

// Fetch reads the secret stored under key.
func (b *VaultBackend) Fetch(ctx context.Context, key interfaces.SecretKey) (*interfaces.RunnerRegistrationSecretData, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	path := b.secretPath(key)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		b.log.Debug("Secret not found in Vault", slog.String("path", path))
		return nil, interfaces.ErrSecretNotFound
	}

	// KV v2 nests the fields under "data"; it is nil for deleted versions.
	fields, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.ErrSecretNotFound
	}

	data := make(map[string]string, len(interfaces.ArtifactKeys))
	for _, k := range interfaces.ArtifactKeys {
		v, ok := fields[k].(string)
		if !ok {
			return nil, fmt.Errorf("invalid Vault secret at %s: field %s is missing", path, k)
		}
		data[k] = v
	}

	idStr, _ := fields[vaultIDField].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Vault secret at %s: %w", path, err)
	}

	b.log.Info("Successfully fetched secret from Vault",
		slog.String("key", key.String()),
		slog.Duration("duration", time.Since(start)))

	return interfaces.NewRunnerRegistrationSecretData(id, data)
}

// Store writes a new version of the secret under key.
func (b *VaultBackend) Store(ctx context.Context, key interfaces.SecretKey, secret *interfaces.RunnerRegistrationSecretData) error {
	if err := key.Validate(); err != nil {
		return err
	}
	start := time.Now()
	path := b.secretPath(key)

	fields := map[string]interface{}{vaultIDField: secret.ID.String()}
	for k, v := range secret.Data() {
		fields[k] = v
	}

	_, err := b.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{"data": fields})
	if err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err)
		return fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Info("Successfully stored secret in Vault",
		slog.String("key", key.String()),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Available checks if the Vault backend is accessible.
// It uses the health endpoint to verify that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

var errVaultAddress = errors.New("missing Vault address")
