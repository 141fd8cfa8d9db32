package github

import (
	"context"

	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockHostClient mocks the HostClient interface
type MockHostClient struct {
	mock.Mock
}

// GetRepository mocks the GetRepository method
func (m *MockHostClient) GetRepository(ctx context.Context, repo interfaces.RepositoryRef) (*interfaces.Repository, error) {
	args := m.Called(ctx, repo)
	r, _ := args.Get(0).(*interfaces.Repository)
	return r, args.Error(1)
}

// CreateRegistrationToken mocks the CreateRegistrationToken method
func (m *MockHostClient) CreateRegistrationToken(ctx context.Context, repo interfaces.RepositoryRef) (*interfaces.RegistrationToken, error) {
	args := m.Called(ctx, repo)
	t, _ := args.Get(0).(*interfaces.RegistrationToken)
	return t, args.Error(1)
}

// RepositoryURL returns the github.com URL; it is not recorded as a call.
func (m *MockHostClient) RepositoryURL(repo interfaces.RepositoryRef) string {
	return "https://" + DefaultHost + "/" + repo.Owner + "/" + repo.Repository
}

// MockClientFactory returns the same HostClient for every token
type MockClientFactory struct {
	mock.Mock
}

// ClientFor mocks the ClientFor method
func (m *MockClientFactory) ClientFor(adminToken string) (interfaces.HostClient, error) {
	args := m.Called(adminToken)
	c, _ := args.Get(0).(interfaces.HostClient)
	return c, args.Error(1)
}
