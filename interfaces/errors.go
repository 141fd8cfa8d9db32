package interfaces

import "errors"

var (
	// ErrValidation is returned for runner names, labels or repository
	// coordinates containing characters outside the allowed set.
	ErrValidation = errors.New("validation error")

	// ErrSetup is returned when the repository cannot be fetched or a
	// registration token cannot be issued.
	ErrSetup = errors.New("setup error")

	// ErrNotAdmin is returned (wrapped in ErrSetup) when the administrative
	// token does not carry admin permission on the repository.
	ErrNotAdmin = errors.New("not admin")

	// ErrProcess is returned when the runner binary exits with a non-zero code.
	ErrProcess = errors.New("runner process failed")

	// ErrExtraction is returned when the runner artifacts are missing or malformed.
	ErrExtraction = errors.New("credential extraction failed")

	// ErrSecretNotFound is returned when a requested bundle is not in the store.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when a secret store is not accessible.
	ErrBackendUnavailable = errors.New("secret store unavailable")

	// ErrInvalidLocationURI is returned when a secret store URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid secret store location URI")

	// ErrNotSupported is returned by write-only stores on reads.
	ErrNotSupported = errors.New("operation not supported")
)

// IsClientError reports whether err is caused by the request itself
// (bad input, missing permissions, unknown repository) rather than by the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrSetup)
}
