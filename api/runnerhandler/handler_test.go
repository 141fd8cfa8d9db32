package runnerhandler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ruteri/actions-runner-provisioning-backend/api"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"github.com/ruteri/actions-runner-provisioning-backend/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRegistrar struct {
	mock.Mock
}

func (m *mockRegistrar) RegisterAll(ctx context.Context, req *interfaces.RegistrationRequest) (*registration.Result, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*registration.Result)
	return result, args.Error(1)
}

var testRepo = interfaces.RepositoryRef{Owner: "octo-org", Repository: "hello-world"}

func testSecret(content string) *interfaces.RunnerRegistrationSecretData {
	v := base64.StdEncoding.EncodeToString([]byte(content))
	return &interfaces.RunnerRegistrationSecretData{
		ID:                   uuid.New(),
		Runner:               v,
		Credentials:          v,
		CredentialsRSAParams: v,
		PrivatePEM:           v,
		PublicPEM:            v,
	}
}

func setupServer(t *testing.T) (*mockRegistrar, *httptest.Server) {
	registrar := &mockRegistrar{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	NewHandler(registrar, logger).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return registrar, srv
}

func postRegister(t *testing.T, srv *httptest.Server, body string) *http.Response {
	resp, err := http.Post(srv.URL+"/api/register", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const registerBody = `{"owner":"octo-org","repository":"hello-world","adminPat":"ghp_x","runnerNames":["runner-1","runner-2"],"labels":["gpu"]}`

func TestHandleRegister_Created(t *testing.T) {
	registrar, srv := setupServer(t)

	r1, r2 := testSecret("one"), testSecret("two")
	registrar.On("RegisterAll", mock.Anything, &interfaces.RegistrationRequest{
		Owner:       "octo-org",
		Repository:  "hello-world",
		AdminToken:  "ghp_x",
		RunnerNames: []string{"runner-1", "runner-2"},
		Labels:      []string{"gpu"},
	}).Return(&registration.Result{
		Repo:    testRepo,
		Runners: []registration.RunnerBundle{{Name: "runner-1", Secret: r1}, {Name: "runner-2", Secret: r2}},
	}, nil)

	resp := postRegister(t, srv, registerBody)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("runners://octo-org/hello-world/%s/%s", r1.ID, r2.ID), resp.Header.Get("Location"))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body api.RunnerSecrets
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 2)
	assert.Equal(t, r1.Data(), body["runner-1"])
	assert.Equal(t, r2.Runner, body["runner-2"][interfaces.RunnerFile])
	registrar.AssertExpectations(t)
}

func TestHandleRegister_DryRunAccepted(t *testing.T) {
	registrar, srv := setupServer(t)

	placeholder := registration.NewDryRunSecretData()
	registrar.On("RegisterAll", mock.Anything, mock.MatchedBy(func(req *interfaces.RegistrationRequest) bool {
		return req.DryRun
	})).Return(&registration.Result{
		Repo:    testRepo,
		DryRun:  true,
		Runners: []registration.RunnerBundle{{Name: "runner-1", Secret: placeholder}},
	}, nil)

	resp := postRegister(t, srv, `{"owner":"octo-org","repository":"hello-world","adminPat":"ghp_x","runnerNames":["runner-1"],"dryRun":true}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "runners://octo-org/hello-world/"+placeholder.ID.String(), resp.Header.Get("Location"))

	var body api.RunnerSecrets
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	decoded, err := base64.StdEncoding.DecodeString(body["runner-1"][interfaces.CredentialsFile])
	require.NoError(t, err)
	assert.Equal(t, registration.DryRunPayload, string(decoded))
}

func TestHandleRegister_ClientErrors(t *testing.T) {
	registrar, srv := setupServer(t)

	registrar.On("RegisterAll", mock.Anything, mock.MatchedBy(func(req *interfaces.RegistrationRequest) bool {
		return req.Repository == "not-admin"
	})).Return(nil, fmt.Errorf("%w: %w: octo-org/not-admin", interfaces.ErrSetup, interfaces.ErrNotAdmin))

	registrar.On("RegisterAll", mock.Anything, mock.MatchedBy(func(req *interfaces.RegistrationRequest) bool {
		return req.Repository == "bad-name"
	})).Return(&registration.Result{Repo: testRepo}, fmt.Errorf("runner a b: invalid runner name: %w", interfaces.ErrValidation))

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "malformed json", body: `{"owner":`, message: "Invalid request body"},
		{name: "no runners", body: `{"owner":"octo-org","repository":"hello-world","adminPat":"x","runnerNames":[]}`, message: "runnerNames must not be empty"},
		{name: "not admin", body: `{"owner":"octo-org","repository":"not-admin","adminPat":"x","runnerNames":["r"]}`, message: "admin"},
		{name: "invalid runner name", body: `{"owner":"octo-org","repository":"bad-name","adminPat":"x","runnerNames":["a b"]}`, message: "invalid runner name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRegister(t, srv, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, resp.Header.Get("Location"))

			msg, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(msg), tt.message)
		})
	}
}

func TestHandleRegister_ServerError(t *testing.T) {
	registrar, srv := setupServer(t)

	registrar.On("RegisterAll", mock.Anything, mock.Anything).
		Return(&registration.Result{Repo: testRepo}, fmt.Errorf("runner runner-1: %w: exit status 1", interfaces.ErrProcess))

	resp := postRegister(t, srv, registerBody)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))

	msg, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(msg), "exit status 1")
}

func TestHandleRegister_PartialFailure(t *testing.T) {
	registrar, srv := setupServer(t)

	r1 := testSecret("one")
	registrar.On("RegisterAll", mock.Anything, mock.Anything).Return(&registration.Result{
		Repo:    testRepo,
		Runners: []registration.RunnerBundle{{Name: "runner-1", Secret: r1}},
	}, fmt.Errorf("runner runner-2: %w: missing .credentials", interfaces.ErrExtraction))

	resp := postRegister(t, srv, registerBody)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "runners://octo-org/hello-world/"+r1.ID.String(), resp.Header.Get("Location"))

	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "runner-2")
	assert.Equal(t, r1.Data(), body.Runners["runner-1"])
}

func TestHandleRegister_BodyTooLarge(t *testing.T) {
	registrar := &mockRegistrar{}
	handler := NewHandler(registrar, slog.New(slog.NewTextHandler(io.Discard, nil)))

	big := `{"owner":"` + strings.Repeat("a", maxBodySize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader([]byte(big)))
	rec := httptest.NewRecorder()
	handler.HandleRegister(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	registrar.AssertNotCalled(t, "RegisterAll", mock.Anything, mock.Anything)
}

func TestClient_Register(t *testing.T) {
	registrar, srv := setupServer(t)

	r1, r2 := testSecret("one"), testSecret("two")
	registrar.On("RegisterAll", mock.Anything, mock.Anything).Return(&registration.Result{
		Repo:    testRepo,
		Runners: []registration.RunnerBundle{{Name: "runner-1", Secret: r1}, {Name: "runner-2", Secret: r2}},
	}, nil).Once()

	client := &Client{ServerAddr: srv.URL}
	resp, err := client.Register(context.Background(), &api.RegisterRequest{
		Owner: "octo-org", Repository: "hello-world", AdminPAT: "ghp_x", RunnerNames: []string{"runner-1", "runner-2"},
	})
	require.NoError(t, err)
	assert.False(t, resp.DryRun)
	assert.Equal(t, []uuid.UUID{r1.ID, r2.ID}, resp.IDs)
	assert.Equal(t, r2.Data(), resp.Runners["runner-2"])
}

func TestClient_Errors(t *testing.T) {
	registrar, srv := setupServer(t)
	client := &Client{ServerAddr: srv.URL}

	registrar.On("RegisterAll", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: %w", interfaces.ErrSetup, interfaces.ErrNotAdmin)).Once()
	_, err := client.Register(context.Background(), &api.RegisterRequest{Owner: "o", Repository: "r", RunnerNames: []string{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	_, partial := IsPartial(err)
	assert.False(t, partial)

	r1 := testSecret("one")
	registrar.On("RegisterAll", mock.Anything, mock.Anything).Return(&registration.Result{
		Repo:    testRepo,
		Runners: []registration.RunnerBundle{{Name: "runner-1", Secret: r1}},
	}, errors.New("disk full")).Once()
	resp, err := client.Register(context.Background(), &api.RegisterRequest{Owner: "o", Repository: "r", RunnerNames: []string{"runner-1", "runner-2"}})
	require.Error(t, err)
	got, partial := IsPartial(err)
	require.True(t, partial)
	assert.Same(t, resp, got)
	assert.Equal(t, []uuid.UUID{r1.ID}, got.IDs)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLocalProvider(t *testing.T) {
	registrar := &mockRegistrar{}
	provider := &LocalProvider{Registrar: registrar}

	r1 := testSecret("one")
	registrar.On("RegisterAll", mock.Anything, mock.Anything).Return(&registration.Result{
		Repo:    testRepo,
		DryRun:  true,
		Runners: []registration.RunnerBundle{{Name: "runner-1", Secret: r1}},
	}, nil).Once()

	resp, err := provider.Register(context.Background(), &api.RegisterRequest{Owner: "octo-org", Repository: "hello-world", RunnerNames: []string{"runner-1"}, DryRun: true})
	require.NoError(t, err)
	assert.True(t, resp.DryRun)
	assert.Equal(t, []uuid.UUID{r1.ID}, resp.IDs)
	assert.Equal(t, "runners://octo-org/hello-world/"+r1.ID.String(), resp.Location)

	registrar.On("RegisterAll", mock.Anything, mock.Anything).Return(nil, interfaces.ErrSetup).Once()
	_, err = provider.Register(context.Background(), &api.RegisterRequest{Owner: "octo-org", Repository: "hello-world", RunnerNames: []string{"runner-1"}})
	assert.ErrorIs(t, err, interfaces.ErrSetup)
}

func TestHandleRegister_LaterNameRejected(t *testing.T) {
	registrar, srv := setupServer(t)

	r1 := testSecret("one")
	registrar.On("RegisterAll", mock.Anything, mock.Anything).Return(&registration.Result{
		Repo:    testRepo,
		Runners: []registration.RunnerBundle{{Name: "runner-1", Secret: r1}},
	}, fmt.Errorf("runner a b: invalid runner name: %w", interfaces.ErrValidation))

	resp := postRegister(t, srv, `{"owner":"octo-org","repository":"hello-world","adminPat":"ghp_x","runnerNames":["runner-1","a b"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "runners://octo-org/hello-world/"+r1.ID.String(), resp.Header.Get("Location"))

	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "invalid runner name")
	assert.Equal(t, r1.Data(), body.Runners["runner-1"])
}

func TestClient_LaterNameRejected(t *testing.T) {
	registrar, srv := setupServer(t)
	client := &Client{ServerAddr: srv.URL}

	r1 := testSecret("one")
	registrar.On("RegisterAll", mock.Anything, mock.Anything).Return(&registration.Result{
		Repo:    testRepo,
		Runners: []registration.RunnerBundle{{Name: "runner-1", Secret: r1}},
	}, fmt.Errorf("runner a b: invalid runner name: %w", interfaces.ErrValidation))

	resp, err := client.Register(context.Background(), &api.RegisterRequest{
		Owner: "octo-org", Repository: "hello-world", AdminPAT: "ghp_x", RunnerNames: []string{"runner-1", "a b"},
	})
	require.Error(t, err)
	got, partial := IsPartial(err)
	require.True(t, partial)
	assert.Same(t, resp, got)
	assert.Equal(t, []uuid.UUID{r1.ID}, got.IDs)
	assert.Equal(t, r1.Data(), got.Runners["runner-1"])
	assert.Contains(t, err.Error(), "400")
}
