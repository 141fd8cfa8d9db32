package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"filippo.io/age"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeS3 serves path-style object requests for a single bucket.
func newFakeS3(t *testing.T, bucket string) (*httptest.Server, *sync.Map) {
	var objects sync.Map

	r := chi.NewRouter()
	r.Head("/"+bucket, func(w http.ResponseWriter, r *http.Request) {})
	r.Put("/"+bucket+"/*", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		objects.Store(chi.URLParam(r, "*"), body)
	})
	r.Get("/"+bucket+"/*", func(w http.ResponseWriter, r *http.Request) {
		body, ok := objects.Load(chi.URLParam(r, "*"))
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		w.Write(body.([]byte))
	})
	r.Delete("/"+bucket+"/*", func(w http.ResponseWriter, r *http.Request) {
		objects.Delete(chi.URLParam(r, "*"))
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &objects
}

func TestS3Backend_StoreFetch(t *testing.T) {
	srv, objects := newFakeS3(t, "runner-secrets")

	backend, err := NewS3Backend(S3Config{
		Bucket:    "runner-secrets",
		Prefix:    "prod/",
		Region:    "eu-west-1",
		Endpoint:  srv.URL,
		PathStyle: true,
		AccessKey: "AKIATEST",
		SecretKey: "secret",
	}, Sealing{}, testLogger)
	require.NoError(t, err)
	assert.True(t, backend.Available(context.Background()))
	assert.NotContains(t, backend.LocationURI(), "secret@")

	_, err = backend.Fetch(context.Background(), testKey)
	assert.ErrorIs(t, err, interfaces.ErrSecretNotFound)

	secret := newTestSecret()
	require.NoError(t, backend.Store(context.Background(), testKey, secret))

	_, ok := objects.Load("prod/octo-org/hello-world/runner-1.json")
	assert.True(t, ok)

	fetched, err := backend.Fetch(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, secret, fetched)
}

func TestS3Backend_Sealed(t *testing.T) {
	srv, objects := newFakeS3(t, "runner-secrets")
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	cfg := S3Config{Bucket: "runner-secrets", Endpoint: srv.URL, PathStyle: true, AccessKey: "AKIATEST", SecretKey: "secret"}
	writer, err := NewS3Backend(cfg, Sealing{Recipients: []string{identity.Recipient().String()}}, testLogger)
	require.NoError(t, err)

	secret := newTestSecret()
	require.NoError(t, writer.Store(context.Background(), testKey, secret))

	raw, ok := objects.Load("octo-org/hello-world/runner-1.age")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(raw.([]byte)), "age-encryption.org/v1"))

	reader, err := NewS3Backend(cfg, Sealing{}, testLogger)
	require.NoError(t, err)
	_, err = reader.Fetch(context.Background(), testKey)
	assert.Error(t, err)

	reader.UseIdentity(identity)
	fetched, err := reader.Fetch(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, secret, fetched)
}
