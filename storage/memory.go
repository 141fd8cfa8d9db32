package storage

import (
	"context"
	"sync"

	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// MemoryBackend keeps secrets in process memory. Useful for dry runs and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	secrets map[interfaces.SecretKey]interfaces.RunnerRegistrationSecretData
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{secrets: make(map[interfaces.SecretKey]interfaces.RunnerRegistrationSecretData)}
}

func (b *MemoryBackend) Store(ctx context.Context, key interfaces.SecretKey, secret *interfaces.RunnerRegistrationSecretData) error {
	if err := key.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secrets[key] = *secret
	return nil
}

func (b *MemoryBackend) Fetch(ctx context.Context, key interfaces.SecretKey) (*interfaces.RunnerRegistrationSecretData, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	secret, ok := b.secrets[key]
	if !ok {
		return nil, interfaces.ErrSecretNotFound
	}
	return &secret, nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool { return true }

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) LocationURI() string { return "memory://" }
