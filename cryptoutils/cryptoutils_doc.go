// Package cryptoutils provides the cryptographic helpers used around runner registration.
//
// # Runner key material
//
// A runner writes its key pair to .credentials_rsaparams as a JSON object of
// base64 big-endian integers:
//
//	{"modulus": "...", "exponent": "AQAB", "d": "...", "p": "...", "q": "...",
//	 "dp": "...", "dq": "...", "inverseQ": "..."}
//
// RSAParameters parses that document, rebuilds and validates the key and
// re-encodes it as PEM:
//
//   - private key: PKCS#8 in a "PRIVATE KEY" block
//   - public key: PKIX SubjectPublicKeyInfo in a "PUBLIC KEY" block
//
// # Sealing and escrow
//
// Bundles persisted by the file store are sealed with age (X25519 recipients).
// The store identity can be split with Shamir's Secret Sharing so that a
// threshold of operators is required to read sealed bundles back:
//
//	parts, err := cryptoutils.SplitIdentity(identity, 5, 3)
//	...
//	identity, err := cryptoutils.CombineIdentity(parts[:3])
//
// Combining fewer shares than the threshold does not fail inside the Shamir
// library; it yields bytes that do not parse as an identity, which
// CombineIdentity reports as an error.
package cryptoutils
