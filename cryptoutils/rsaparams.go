package cryptoutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// RSAParameters is the key pair as serialized by the runner into .credentials_rsaparams.
// Every component is a big-endian unsigned integer, base64 encoded in JSON.
type RSAParameters struct {
	Modulus  []byte `json:"modulus"`
	Exponent []byte `json:"exponent"`
	D        []byte `json:"d"`
	P        []byte `json:"p"`
	Q        []byte `json:"q"`
	DP       []byte `json:"dp"`
	DQ       []byte `json:"dq"`
	InverseQ []byte `json:"inverseQ"`
}

// ParseRSAParameters decodes the JSON document written by the runner.
// Unknown fields are ignored.
func ParseRSAParameters(data []byte) (*RSAParameters, error) {
	var params RSAParameters
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("invalid rsa parameters json: %w", err)
	}
	return &params, nil
}

// RSAParametersFromKey converts a private key to the runner's format.
// Lengths follow the runner's convention: d padded to the modulus size,
// CRT components padded to half of it.
func RSAParametersFromKey(key *rsa.PrivateKey) (*RSAParameters, error) {
	if len(key.Primes) != 2 {
		return nil, errors.New("only two-prime keys are supported")
	}
	key.Precompute()

	size := (key.N.BitLen() + 7) / 8
	half := (size + 1) / 2

	return &RSAParameters{
		Modulus:  key.N.Bytes(),
		Exponent: big.NewInt(int64(key.E)).Bytes(),
		D:        key.D.FillBytes(make([]byte, size)),
		P:        key.Primes[0].FillBytes(make([]byte, half)),
		Q:        key.Primes[1].FillBytes(make([]byte, half)),
		DP:       key.Precomputed.Dp.FillBytes(make([]byte, half)),
		DQ:       key.Precomputed.Dq.FillBytes(make([]byte, half)),
		InverseQ: key.Precomputed.Qinv.FillBytes(make([]byte, half)),
	}, nil
}

// PrivateKey rebuilds and validates the RSA key.
// When the CRT components are present they must match the ones derived from p, q and d.
func (p *RSAParameters) PrivateKey() (*rsa.PrivateKey, error) {
	required := map[string][]byte{"modulus": p.Modulus, "exponent": p.Exponent, "d": p.D, "p": p.P, "q": p.Q}
	for name, v := range required {
		if len(v) == 0 {
			return nil, fmt.Errorf("missing rsa parameter %s", name)
		}
	}

	e := new(big.Int).SetBytes(p.Exponent)
	if !e.IsInt64() || e.Int64() > 1<<31-1 || e.Int64() < 3 {
		return nil, errors.New("invalid rsa public exponent")
	}

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{
			N: new(big.Int).SetBytes(p.Modulus),
			E: int(e.Int64()),
		},
		D: new(big.Int).SetBytes(p.D),
		Primes: []*big.Int{
			new(big.Int).SetBytes(p.P),
			new(big.Int).SetBytes(p.Q),
		},
	}

	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rsa key: %w", err)
	}
	key.Precompute()

	crt := []struct {
		name     string
		given    []byte
		computed *big.Int
	}{
		{"dp", p.DP, key.Precomputed.Dp},
		{"dq", p.DQ, key.Precomputed.Dq},
		{"inverseQ", p.InverseQ, key.Precomputed.Qinv},
	}
	for _, c := range crt {
		if len(c.given) == 0 || c.computed == nil {
			continue
		}
		if new(big.Int).SetBytes(c.given).Cmp(c.computed) != 0 {
			return nil, fmt.Errorf("invalid rsa key: %s does not match p, q and d", c.name)
		}
	}

	return key, nil
}

// JSON encodes the parameters the way the runner writes .credentials_rsaparams.
func (p *RSAParameters) JSON() ([]byte, error) {
	return json.Marshal(p)
}

// EncodePrivateKeyPEM encodes the key as PKCS#8 in a "PRIVATE KEY" PEM block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM encodes the public key as PKIX SubjectPublicKeyInfo in a "PUBLIC KEY" PEM block.
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// KeyPairPEM converts runner RSA parameters to a PEM private/public key pair.
func KeyPairPEM(params *RSAParameters) (privatePEM []byte, publicPEM []byte, err error) {
	key, err := params.PrivateKey()
	if err != nil {
		return nil, nil, err
	}

	privatePEM, err = EncodePrivateKeyPEM(key)
	if err != nil {
		return nil, nil, err
	}

	publicPEM, err = EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	return privatePEM, publicPEM, nil
}

// VerifyKeyPairPEM checks that a PEM private key and PEM public key belong together.
func VerifyKeyPairPEM(privatePEM, publicPEM []byte) error {
	keyBlock, _ := pem.Decode(privatePEM)
	if keyBlock == nil || keyBlock.Type != "PRIVATE KEY" {
		return errors.New("failed to decode private key PEM block")
	}
	privateKey, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := privateKey.(*rsa.PrivateKey)
	if !ok {
		return errors.New("not an RSA private key")
	}

	pubBlock, _ := pem.Decode(publicPEM)
	if pubBlock == nil || pubBlock.Type != "PUBLIC KEY" {
		return errors.New("failed to decode public key PEM block")
	}
	publicKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	if !rsaKey.PublicKey.Equal(publicKey) {
		return errors.New("private key doesn't match public key")
	}
	return nil
}

// GenerateRSAParameters creates a fresh 2048-bit key in the runner's format.
func GenerateRSAParameters() (*RSAParameters, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return RSAParametersFromKey(key)
}
