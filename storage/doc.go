// Package storage persists runner registration bundles behind pluggable backends.
//
// A bundle is addressed by owner, repository and runner name (interfaces.SecretKey)
// and holds the five base64 artifacts extracted after registration together
// with the runner's credential ID.
//
//   - File system storage for single hosts and development
//   - S3-compatible storage for cloud deployments
//   - Vault KV v2 storage with token authentication
//   - GitHub Actions repository secrets (write-only)
//
// # Storage URI Format
//
// Stores are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/runners
//   - s3://ACCESS_KEY:SECRET_KEY@bucket/prefix?region=eu-west-1
//   - vault://:TOKEN@vault.example.com:8200/secret/runners
//   - github://:TOKEN@github.com/owner/repo
//
// # Sealing
//
// File and S3 stores accept one or more age recipients:
//
//	file:///var/lib/runners?recipient=age1...&identity=/etc/runners/key.txt
//
// Sealed bundles are written with the .age extension and can only be read
// back by a store configured with a matching identity. The identity itself
// can be escrowed with cryptoutils.SplitIdentity.
//
// # Redundancy
//
// MultiStorageBackend writes every bundle to all available stores and reads
// from the first store that has it, skipping write-only stores:
//
//	factory := storage.NewSecretStoreFactory(logger)
//	store, err := factory.CreateMultiStore(locations)
package storage
