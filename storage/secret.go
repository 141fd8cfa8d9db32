package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/ruteri/actions-runner-provisioning-backend/cryptoutils"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// storedSecret is the document persisted by the file and S3 stores.
type storedSecret struct {
	ID   uuid.UUID         `json:"id"`
	Data map[string]string `json:"data"`
}

func marshalSecret(secret *interfaces.RunnerRegistrationSecretData) ([]byte, error) {
	return json.Marshal(storedSecret{ID: secret.ID, Data: secret.Data()})
}

func unmarshalSecret(data []byte) (*interfaces.RunnerRegistrationSecretData, error) {
	var stored storedSecret
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("invalid stored secret: %w", err)
	}
	return interfaces.NewRunnerRegistrationSecretData(stored.ID, stored.Data)
}

var ageHeader = []byte("age-encryption.org/v1\n")

// Sealing encrypts documents to age recipients before they leave the process.
// Without recipients documents are kept in plaintext.
type Sealing struct {
	// Recipients are age1... public keys.
	Recipients []string

	// Identity opens sealed documents. Stores without it are write-only for sealed data.
	Identity *age.X25519Identity
}

// sealingFromLocation reads the recipient and identity (file path) query parameters.
func sealingFromLocation(loc interfaces.SecretStoreLocation) (*Sealing, error) {
	s := &Sealing{Recipients: loc.Query["recipient"]}
	for _, r := range s.Recipients {
		if _, err := age.ParseX25519Recipient(r); err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", r, err)
		}
	}
	if path := loc.GetParam("identity"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read identity file: %w", err)
		}
		id, err := cryptoutils.ParseIdentity(string(raw))
		if err != nil {
			return nil, err
		}
		s.Identity = id
	}
	return s, nil
}

func (s *Sealing) sealed() bool {
	return len(s.Recipients) > 0
}

func (s *Sealing) seal(data []byte) ([]byte, error) {
	if !s.sealed() {
		return data, nil
	}
	return cryptoutils.Seal(data, s.Recipients...)
}

func (s *Sealing) open(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, ageHeader) {
		return data, nil
	}
	if s.Identity == nil {
		return nil, errors.New("secret is sealed and no identity is configured")
	}
	return cryptoutils.Open(data, s.Identity)
}
