package storage

import (
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLocation(t *testing.T, uri string) interfaces.SecretStoreLocation {
	loc, err := interfaces.NewSecretStoreLocation(uri)
	require.NoError(t, err)
	return loc
}

func TestSecretStoreFactory(t *testing.T) {
	factory := NewSecretStoreFactory(testLogger)
	dir := t.TempDir()

	store, err := factory.SecretStoreFor(mustLocation(t, "file://"+dir))
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, store)

	store, err = factory.SecretStoreFor(mustLocation(t, "s3://AKIA:secret@bucket/prefix?region=eu-west-1"))
	require.NoError(t, err)
	assert.IsType(t, &S3Backend{}, store)
	assert.NotContains(t, store.LocationURI(), ":secret@")

	store, err = factory.SecretStoreFor(mustLocation(t, "vault://:hvs.token@vault.example.com:8200/secret/runners"))
	require.NoError(t, err)
	vault := store.(*VaultBackend)
	assert.Equal(t, "secret", vault.mountPath)
	assert.Equal(t, "runners", vault.dataPath)
	assert.Equal(t, "hvs.token", vault.client.Token())

	store, err = factory.SecretStoreFor(mustLocation(t, "github://:ghp_x@github.com/infra/runner-fleet"))
	require.NoError(t, err)
	assert.Equal(t, "github://github.com/infra/runner-fleet", store.LocationURI())

	_, err = factory.SecretStoreFor(mustLocation(t, "github://github.com"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	factory.GitHubToken = "ghp_default"
	_, err = factory.SecretStoreFor(mustLocation(t, "github://github.com"))
	assert.NoError(t, err)

	_, err = factory.SecretStoreFor(mustLocation(t, "github://github.com/only-owner"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestSecretStoreFactory_FileSealing(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(keyFile, []byte(identity.String()+"\n"), 0o600))

	factory := NewSecretStoreFactory(testLogger)
	store, err := factory.SecretStoreFor(mustLocation(t, "file://"+t.TempDir()+"?recipient="+identity.Recipient().String()+"&identity="+keyFile))
	require.NoError(t, err)

	file := store.(*FileBackend)
	assert.True(t, file.sealing.sealed())
	assert.NotNil(t, file.sealing.Identity)

	_, err = factory.SecretStoreFor(mustLocation(t, "file://"+t.TempDir()+"?recipient=age1bogus"))
	assert.Error(t, err)
}

func TestSecretStoreFactory_CreateMultiStore(t *testing.T) {
	factory := NewSecretStoreFactory(testLogger)

	single, err := factory.CreateMultiStore([]interfaces.SecretStoreLocation{mustLocation(t, "file://"+t.TempDir())})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, single)

	multi, err := factory.CreateMultiStore([]interfaces.SecretStoreLocation{
		mustLocation(t, "file://"+t.TempDir()),
		mustLocation(t, "github://github.com"),
		mustLocation(t, "file://"+t.TempDir()),
	})
	require.NoError(t, err)
	assert.IsType(t, &MultiStorageBackend{}, multi)
	assert.Len(t, multi.(*MultiStorageBackend).backends, 2)

	_, err = factory.CreateMultiStore([]interfaces.SecretStoreLocation{mustLocation(t, "github://github.com")})
	assert.Error(t, err)
}
