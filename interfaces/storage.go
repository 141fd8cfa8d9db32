package interfaces

import (
	"context"
	"fmt"
	"net/url"
)

// SecretStoreLocation represents URI for a secret store.
type SecretStoreLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   *url.Userinfo
}

// NewSecretStoreLocation creates a new store location from a URI string with validation.
func NewSecretStoreLocation(uri string) (SecretStoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return SecretStoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "vault", "github":
		// Valid scheme
	default:
		return SecretStoreLocation{}, fmt.Errorf("%w: unsupported scheme '%s'", ErrInvalidLocationURI, parsed.Scheme)
	}

	return SecretStoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   parsed.User,
	}, nil
}

// String returns the original URI with any password redacted.
func (loc SecretStoreLocation) String() string {
	parsed, err := url.Parse(loc.Raw)
	if err != nil {
		return loc.Raw
	}
	return parsed.Redacted()
}

// GetParam returns a query parameter value.
func (loc SecretStoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc SecretStoreLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// SecretStore persists runner registration bundles.
type SecretStore interface {
	// Store saves the bundle under key, replacing any previous bundle.
	Store(ctx context.Context, key SecretKey, secret *RunnerRegistrationSecretData) error

	// Fetch retrieves a bundle. Returns ErrSecretNotFound if there is none
	// and ErrNotSupported for write-only stores.
	Fetch(ctx context.Context, key SecretKey) (*RunnerRegistrationSecretData, error)

	// Available checks if the store is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this store (credentials redacted).
	LocationURI() string
}

// SecretStoreFactory creates secret stores.
type SecretStoreFactory interface {
	// SecretStoreFor creates a store from a location.
	// Supports file://, s3://, vault://, github://
	SecretStoreFor(location SecretStoreLocation) (SecretStore, error)

	// CreateMultiStore creates a store writing to all given locations.
	CreateMultiStore(locations []SecretStoreLocation) (SecretStore, error)
}
