package cryptoutils

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/hashicorp/vault/shamir"
)

// Seal encrypts plaintext to every recipient (age1... strings).
// At least one recipient is required.
func Seal(plaintext []byte, recipientKeys ...string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, errors.New("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var out bytes.Buffer
	w, err := age.Encrypt(&out, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return out.Bytes(), nil
}

// Open decrypts data sealed with Seal.
func Open(ciphertext []byte, identity *age.X25519Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// ParseIdentity parses an AGE-SECRET-KEY-1... string. Blank lines and
// comments, as written by age-keygen, are skipped.
func ParseIdentity(s string) (*age.X25519Identity, error) {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("invalid age identity: %w", err)
		}
		return identity, nil
	}
	return nil, errors.New("no age identity found")
}

// SplitIdentity splits the store identity into shares so that no single
// operator can decrypt sealed bundles. Any threshold of the shares recovers it.
func SplitIdentity(identity *age.X25519Identity, shares, threshold int) ([][]byte, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if shares < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	parts, err := shamir.Split([]byte(identity.String()), shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split identity: %w", err)
	}
	return parts, nil
}

// CombineIdentity reconstructs the identity from shares produced by SplitIdentity.
func CombineIdentity(parts [][]byte) (*age.X25519Identity, error) {
	if len(parts) < 2 {
		return nil, errors.New("at least two shares are required")
	}

	secret, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}

	// Combining too few shares yields garbage rather than an error.
	identity, err := age.ParseX25519Identity(string(secret))
	if err != nil {
		return nil, errors.New("shares do not reconstruct a valid identity")
	}
	return identity, nil
}
