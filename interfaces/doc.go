// Package interfaces defines core interfaces and types for the runner
// provisioning system, separating interface definitions from implementations.
//
// # Domain Types
//
//   - RegistrationRequest: a batch of runner names and labels to register
//     against one repository with an administrative token
//   - RunnerRegistrationSecretData: the base64 encoded credential bundle of a
//     registered runner, keyed by artifact name
//   - SecretKey: owner/repository/runner coordinates of a stored bundle
//
// # Collaborator Interfaces
//
// HostClient: the source-control host API used to check admin rights and
// issue registration tokens.
//
// ProcessRunner: runs the external runner binary to completion. The
// registration flow only relies on the exit status and on the files the
// binary leaves behind.
//
// SecretStore and SecretStoreFactory: persistence of credential bundles in
// file, S3, Vault or GitHub Actions secret backends.
//
// # Errors
//
// Sentinel errors (ErrValidation, ErrSetup, ErrNotAdmin, ErrProcess,
// ErrExtraction, ...) are wrapped with %w so callers can use errors.Is.
// IsClientError separates request faults from server faults.
package interfaces
