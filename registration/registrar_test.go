package registration

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ruteri/actions-runner-provisioning-backend/github"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"github.com/ruteri/actions-runner-provisioning-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type registrarFixture struct {
	base      string
	host      *github.MockHostClient
	runner    *mockProcessRunner
	registrar *Registrar
	clientIDs map[string]uuid.UUID
}

// newRegistrarFixture wires a registrar whose runner "configures" by writing
// artifacts, except for the names listed in failing.
func newRegistrarFixture(t *testing.T, sink interfaces.SecretStore, failing ...string) *registrarFixture {
	f := &registrarFixture{
		base:      t.TempDir(),
		host:      new(github.MockHostClient),
		runner:    new(mockProcessRunner),
		clientIDs: map[string]uuid.UUID{},
	}

	f.host.On("GetRepository", mock.Anything, testRepo).Return(adminRepo(true), nil)
	f.host.On("CreateRegistrationToken", mock.Anything, testRepo).Return(&interfaces.RegistrationToken{Token: "T"}, nil)

	hosts := new(github.MockClientFactory)
	hosts.On("ClientFor", "ghp_admin").Return(f.host, nil)

	f.runner.On("Run", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		inv := args.Get(1).(*interfaces.Invocation)
		name := inv.Args[3]
		for _, bad := range failing {
			if bad == name {
				return
			}
		}
		id := uuid.New()
		f.clientIDs[name] = id
		writeArtifacts(t, inv.Dir, id)
	})

	driver, err := NewDriver(DriverConfig{RunnerDir: newRunnerInstall(t), BaseDir: f.base}, f.runner, testLogger)
	require.NoError(t, err)
	f.registrar = NewRegistrar(hosts, driver, sink, testLogger)
	return f
}

func (f *registrarFixture) assertNoWorkingAreas(t *testing.T) {
	entries, err := os.ReadDir(f.base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddRunner_DryRun(t *testing.T) {
	f := newRegistrarFixture(t, nil)
	session := testSession()

	secret, err := f.registrar.AddRunner(context.Background(), session, "runner-1", true)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, secret.ID)

	placeholder := base64.StdEncoding.EncodeToString([]byte(`{"dryRun":1}`))
	for k, v := range secret.Data() {
		assert.Equal(t, placeholder, v, k)
	}

	other, err := f.registrar.AddRunner(context.Background(), session, "runner-2", true)
	require.NoError(t, err)
	assert.NotEqual(t, secret.ID, other.ID)

	_, err = f.registrar.AddRunner(context.Background(), session, "bad name", true)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	f.assertNoWorkingAreas(t)
}

func TestAddRunner_CleansUp(t *testing.T) {
	f := newRegistrarFixture(t, nil, "broken")
	session := testSession()

	secret, err := f.registrar.AddRunner(context.Background(), session, "runner-1", false)
	require.NoError(t, err)
	assert.Equal(t, f.clientIDs["runner-1"], secret.ID)
	f.assertNoWorkingAreas(t)

	// The process succeeds but leaves no artifacts behind.
	_, err = f.registrar.AddRunner(context.Background(), session, "broken", false)
	assert.ErrorIs(t, err, interfaces.ErrExtraction)
	f.assertNoWorkingAreas(t)
}

func TestRegisterAll(t *testing.T) {
	sink := storage.NewMemoryBackend()
	f := newRegistrarFixture(t, sink)

	result, err := f.registrar.RegisterAll(context.Background(), testRequest("runner-1", "runner-2"))
	require.NoError(t, err)
	require.Len(t, result.Runners, 2)
	assert.Equal(t, "runner-1", result.Runners[0].Name)
	assert.Equal(t, "runner-2", result.Runners[1].Name)
	assert.Equal(t, "runners://octo-org/hello-world/"+f.clientIDs["runner-1"].String()+"/"+f.clientIDs["runner-2"].String(), result.Location())
	assert.Len(t, result.Secrets(), 2)

	stored, err := sink.Fetch(context.Background(), interfaces.NewSecretKey(testRepo, "runner-2"))
	require.NoError(t, err)
	assert.Equal(t, result.Runners[1].Secret.Data(), stored.Data())

	f.assertNoWorkingAreas(t)
}

func TestRegisterAll_DryRun(t *testing.T) {
	sink := storage.NewMemoryBackend()
	f := newRegistrarFixture(t, sink)

	req := testRequest("runner-1", "runner-2")
	req.DryRun = true
	result, err := f.registrar.RegisterAll(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Len(t, result.Runners, 2)
	assert.True(t, strings.HasPrefix(result.Location(), "runners://octo-org/hello-world/"))

	_, err = sink.Fetch(context.Background(), interfaces.NewSecretKey(testRepo, "runner-1"))
	assert.ErrorIs(t, err, interfaces.ErrSecretNotFound)
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestRegisterAll_PartialFailure(t *testing.T) {
	f := newRegistrarFixture(t, nil)

	result, err := f.registrar.RegisterAll(context.Background(), testRequest("runner-1", "bad name", "runner-3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
	require.NotNil(t, result)
	require.Len(t, result.Runners, 1)
	assert.Equal(t, "runner-1", result.Runners[0].Name)
	f.runner.AssertNumberOfCalls(t, "Run", 1)
	f.assertNoWorkingAreas(t)
}

func TestRegisterAll_SetupFailure(t *testing.T) {
	hosts := new(github.MockClientFactory)
	hosts.On("ClientFor", "ghp_admin").Return(nil, errors.New("bad token"))

	runner := new(mockProcessRunner)
	driver, err := NewDriver(DriverConfig{RunnerDir: newRunnerInstall(t), BaseDir: t.TempDir()}, runner, testLogger)
	require.NoError(t, err)

	result, err := NewRegistrar(hosts, driver, nil, testLogger).RegisterAll(context.Background(), testRequest("runner-1"))
	assert.Nil(t, result)
	assert.ErrorIs(t, err, interfaces.ErrSetup)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestRegisterAll_DuplicateNames(t *testing.T) {
	f := newRegistrarFixture(t, nil)

	result, err := f.registrar.RegisterAll(context.Background(), testRequest("runner-1", "runner-2", "runner-1"))
	assert.Nil(t, result)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
	assert.True(t, interfaces.IsClientError(err))
	assert.Contains(t, err.Error(), "duplicate runner name 'runner-1'")
	f.host.AssertNotCalled(t, "GetRepository", mock.Anything, mock.Anything)
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}
