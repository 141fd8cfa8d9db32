package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// MultiStorageBackend implements interfaces.SecretStore over multiple stores.
// Writes go to every available store, reads are served by the first store that has the secret.
type MultiStorageBackend struct {
	backends []interfaces.SecretStore
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend with fallback
func NewMultiStorageBackend(backends []interfaces.SecretStore, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch returns the secret from the first available backend that has it.
// Write-only backends are skipped.
func (m *MultiStorageBackend) Fetch(ctx context.Context, key interfaces.SecretKey) (*interfaces.RunnerRegistrationSecretData, error) {
	start := time.Now()
	var errs []error
	notFound := true

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key.String()))
			continue
		}

		secret, err := backend.Fetch(ctx, key)
		if err == nil {
			m.log.Info("Successfully fetched secret",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key.String()),
				slog.Duration("duration", time.Since(start)))
			return secret, nil
		}
		if errors.Is(err, interfaces.ErrNotSupported) {
			continue
		}
		if !errors.Is(err, interfaces.ErrSecretNotFound) {
			notFound = false
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("key", key.String()),
			"err", err)
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no readable backend available for %s", interfaces.ErrBackendUnavailable, key)
	}
	if notFound {
		return nil, interfaces.ErrSecretNotFound
	}

	m.log.Error("All backends failed to fetch secret",
		slog.String("key", key.String()),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: all backends failed to fetch %s: %w", interfaces.ErrBackendUnavailable, key, errors.Join(errs...))
}

// Store saves the secret to all available backends.
// It succeeds when at least one backend stored it.
func (m *MultiStorageBackend) Store(ctx context.Context, key interfaces.SecretKey, secret *interfaces.RunnerRegistrationSecretData) error {
	start := time.Now()
	var stored int
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		if err := backend.Store(ctx, key, secret); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key.String()),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		m.log.Error("All backends failed to store secret",
			slog.String("key", key.String()),
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("all backends failed to store %s: %w", key, errors.Join(errs...))
	}

	m.log.Info("Successfully stored secret",
		slog.String("key", key.String()),
		slog.Int("backends", stored),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI combines the location URIs of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}

// IdentityUser is implemented by stores that can open sealed secrets.
type IdentityUser interface {
	UseIdentity(identity *age.X25519Identity)
}

// UseIdentity hands the identity to every backend that can open sealed secrets.
func (m *MultiStorageBackend) UseIdentity(identity *age.X25519Identity) {
	for _, backend := range m.backends {
		if u, ok := backend.(IdentityUser); ok {
			u.UseIdentity(identity)
		}
	}
}
