package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// FileBackend stores runner secrets on the local file system, one file per runner:
// <base>/<owner>/<repository>/<runner>.json, or .age when sealed to recipients.
type FileBackend struct {
	baseDir     string
	sealing     Sealing
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file backend rooted at baseDir.
func NewFileBackend(baseDir string, sealing Sealing, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		sealing:     sealing,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// UseIdentity sets the identity sealed secrets are opened with.
func (b *FileBackend) UseIdentity(identity *age.X25519Identity) {
	b.sealing.Identity = identity
}

// Fetch reads the secret stored under key.
// Returns ErrSecretNotFound if no file exists for it.
func (b *FileBackend) Fetch(ctx context.Context, key interfaces.SecretKey) (*interfaces.RunnerRegistrationSecretData, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var data []byte
	var err error
	for _, ext := range []string{".age", ".json"} {
		data, err = os.ReadFile(b.getFilePath(key, ext))
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrSecretNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	plaintext, err := b.sealing.open(data)
	if err != nil {
		return nil, err
	}

	b.log.Debug("Fetched secret from file", slog.String("key", key.String()))
	return unmarshalSecret(plaintext)
}

// Store writes the secret under key, replacing any previous one.
func (b *FileBackend) Store(ctx context.Context, key interfaces.SecretKey, secret *interfaces.RunnerRegistrationSecretData) error {
	if err := key.Validate(); err != nil {
		return err
	}

	doc, err := marshalSecret(secret)
	if err != nil {
		return err
	}
	data, err := b.sealing.seal(doc)
	if err != nil {
		return err
	}

	ext, stale := ".json", ".age"
	if b.sealing.sealed() {
		ext, stale = stale, ext
	}
	filePath := b.getFilePath(key, ext)

	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temporary file first so readers never see a partial secret.
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	_ = os.Remove(b.getFilePath(key, stale))

	b.log.Debug("Stored secret in file",
		slog.String("path", filePath),
		slog.Bool("sealed", b.sealing.sealed()))
	return nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) getFilePath(key interfaces.SecretKey, ext string) string {
	return filepath.Join(b.baseDir, key.Owner, key.Repository, key.Runner+ext)
}
