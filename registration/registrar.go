package registration

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// DryRunPayload is the content of every artifact of a dry-run bundle.
const DryRunPayload = `{"dryRun":1}`

// NewDryRunSecretData returns a placeholder bundle with a random identifier.
func NewDryRunSecretData() *interfaces.RunnerRegistrationSecretData {
	data := base64.StdEncoding.EncodeToString([]byte(DryRunPayload))
	return &interfaces.RunnerRegistrationSecretData{
		ID:                   uuid.New(),
		Runner:               data,
		Credentials:          data,
		CredentialsRSAParams: data,
		PrivatePEM:           data,
		PublicPEM:            data,
	}
}

// RunnerBundle is the bundle produced for one runner name.
type RunnerBundle struct {
	Name   string
	Secret *interfaces.RunnerRegistrationSecretData
}

// Result is the outcome of a batch registration.
type Result struct {
	Repo   interfaces.RepositoryRef
	DryRun bool

	// Runners are in request order.
	Runners []RunnerBundle
}

// Location is runners://<owner>/<repo>/<id>/<id>... over the produced bundles.
func (r *Result) Location() string {
	parts := []string{r.Repo.Owner, r.Repo.Repository}
	for _, runner := range r.Runners {
		parts = append(parts, runner.Secret.ID.String())
	}
	return "runners://" + strings.Join(parts, "/")
}

// Secrets returns the bundles keyed by runner name.
func (r *Result) Secrets() map[string]*interfaces.RunnerRegistrationSecretData {
	m := make(map[string]*interfaces.RunnerRegistrationSecretData, len(r.Runners))
	for _, runner := range r.Runners {
		m[runner.Name] = runner.Secret
	}
	return m
}

// Registrar registers batches of runners. It holds no per-request state and
// is safe for concurrent use.
type Registrar struct {
	hosts  interfaces.HostClientFactory
	driver *Driver
	sink   interfaces.SecretStore
	log    *slog.Logger
}

// NewRegistrar creates a registrar. sink may be nil; when set, every
// non-dry-run bundle is stored in it as soon as it is produced.
func NewRegistrar(hosts interfaces.HostClientFactory, driver *Driver, sink interfaces.SecretStore, log *slog.Logger) *Registrar {
	return &Registrar{hosts: hosts, driver: driver, sink: sink, log: log}
}

// Setup authorizes req and obtains a registration session.
func (r *Registrar) Setup(ctx context.Context, req *interfaces.RegistrationRequest) (*Session, error) {
	host, err := r.hosts.ClientFor(req.AdminToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrSetup, err)
	}
	session, err := Setup(ctx, host, req)
	if err != nil {
		return nil, err
	}
	r.log.Info("registration session created", "repository", session.Repo.String(), "session", session.ID, "tokenExpiresAt", session.ExpiresAt)
	return session, nil
}

// AddRunner registers a single runner within session.
// In dry-run mode only the name is validated and a placeholder bundle is returned.
// Otherwise the working area is removed before returning, whatever the outcome.
func (r *Registrar) AddRunner(ctx context.Context, session *Session, name string, dryRun bool) (_ *interfaces.RunnerRegistrationSecretData, err error) {
	if dryRun {
		if err := interfaces.ValidateIdentifier(name); err != nil {
			return nil, fmt.Errorf("invalid runner name: %w", err)
		}
		return NewDryRunSecretData(), nil
	}

	area, err := r.driver.Register(ctx, session, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := area.Remove(); rmErr != nil {
			r.log.Error("could not remove working area", "dir", area.Root, "err", rmErr)
			err = errors.Join(err, rmErr)
		}
	}()

	secret, err := Extract(area.RunnerDir, area.Root)
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// RegisterAll sets up a session for req and registers every runner name in order.
//
// Processing stops at the first failing runner. Runners registered before the
// failure already exist on the host, so the partial Result is returned along
// with the error.
//
// Duplicate names are rejected before setup: registering a name again replaces
// the runner on the host and invalidates the first bundle.
func (r *Registrar) RegisterAll(ctx context.Context, req *interfaces.RegistrationRequest) (*Result, error) {
	seen := make(map[string]struct{}, len(req.RunnerNames))
	for _, name := range req.RunnerNames {
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: duplicate runner name '%s'", interfaces.ErrValidation, name)
		}
		seen[name] = struct{}{}
	}

	session, err := r.Setup(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &Result{Repo: session.Repo, DryRun: req.DryRun}
	for _, name := range req.RunnerNames {
		secret, err := r.AddRunner(ctx, session, name, req.DryRun)
		if err != nil {
			r.log.Error("runner registration failed", "runner", name, "repository", session.Repo.String(), "err", err)
			return result, fmt.Errorf("runner %s: %w", name, err)
		}
		result.Runners = append(result.Runners, RunnerBundle{Name: name, Secret: secret})
		r.log.Info("runner registered", "runner", name, "id", secret.ID, "dryRun", req.DryRun)

		if r.sink != nil && !req.DryRun {
			key := interfaces.NewSecretKey(session.Repo, name)
			if err := r.sink.Store(ctx, key, secret); err != nil {
				return result, fmt.Errorf("storing runner %s in %s: %w", name, r.sink.Name(), err)
			}
		}
	}
	return result, nil
}
