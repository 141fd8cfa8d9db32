package registration

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ruteri/actions-runner-provisioning-backend/cryptoutils"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

type runnerCredentials struct {
	Data struct {
		ClientID string `json:"clientId"`
	} `json:"data"`
}

// Extract reads the artifacts a configured runner left in dirs and builds the secret bundle.
// Each artifact is looked up in dirs in order; the first directory containing it wins.
func Extract(dirs ...string) (*interfaces.RunnerRegistrationSecretData, error) {
	rsaParamsRaw, err := readArtifact(dirs, interfaces.CredentialsRSAParams)
	if err != nil {
		return nil, err
	}
	params, err := cryptoutils.ParseRSAParameters(rsaParamsRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrExtraction, err)
	}
	privatePEM, publicPEM, err := cryptoutils.KeyPairPEM(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrExtraction, err)
	}

	credentialsRaw, err := readArtifact(dirs, interfaces.CredentialsFile)
	if err != nil {
		return nil, err
	}
	var credentials runnerCredentials
	if err := json.Unmarshal(credentialsRaw, &credentials); err != nil {
		return nil, fmt.Errorf("%w: invalid %s: %w", interfaces.ErrExtraction, interfaces.CredentialsFile, err)
	}
	clientID, err := uuid.Parse(credentials.Data.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid clientId in %s: %w", interfaces.ErrExtraction, interfaces.CredentialsFile, err)
	}

	runnerRaw, err := readArtifact(dirs, interfaces.RunnerFile)
	if err != nil {
		return nil, err
	}

	return &interfaces.RunnerRegistrationSecretData{
		ID:                   clientID,
		Runner:               base64.StdEncoding.EncodeToString(runnerRaw),
		Credentials:          base64.StdEncoding.EncodeToString(credentialsRaw),
		CredentialsRSAParams: base64.StdEncoding.EncodeToString(rsaParamsRaw),
		PrivatePEM:           base64.StdEncoding.EncodeToString(privatePEM),
		PublicPEM:            base64.StdEncoding.EncodeToString(publicPEM),
	}, nil
}

func readArtifact(dirs []string, name string) ([]byte, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: no directory to read %s from", interfaces.ErrExtraction, name)
	}

	var firstErr error
	for _, dir := range dirs {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	return nil, fmt.Errorf("%w: could not read %s: %w", interfaces.ErrExtraction, name, firstErr)
}
