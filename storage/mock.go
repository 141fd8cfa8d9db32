package storage

import (
	"context"

	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockSecretStore implements interfaces.SecretStore for testing
type MockSecretStore struct {
	mock.Mock
	StoreName string
}

func (m *MockSecretStore) Fetch(ctx context.Context, key interfaces.SecretKey) (*interfaces.RunnerRegistrationSecretData, error) {
	args := m.Called(ctx, key)
	secret, _ := args.Get(0).(*interfaces.RunnerRegistrationSecretData)
	return secret, args.Error(1)
}

func (m *MockSecretStore) Store(ctx context.Context, key interfaces.SecretKey, secret *interfaces.RunnerRegistrationSecretData) error {
	args := m.Called(ctx, key, secret)
	return args.Error(0)
}

func (m *MockSecretStore) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockSecretStore) Name() string {
	return m.StoreName
}

func (m *MockSecretStore) LocationURI() string {
	return "mock:" + m.StoreName
}
