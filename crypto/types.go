package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
)

// PublicKey is an Ed25519 verification key identifying a node on the transport.
type PublicKey []byte

// NewPublicKeyFromBytes copies data into a new PublicKey.
func NewPublicKeyFromBytes(data []byte) PublicKey {
	pk := make([]byte, len(data))
	copy(pk, data)
	return PublicKey(pk)
}

// NewPublicKeyFromString creates a PublicKey from a hex-encoded string.
func NewPublicKeyFromString(data string) (PublicKey, error) {
	rawBytes, err := hex.DecodeString(data)
	if err != nil {
		return PublicKey{}, err
	}

	return NewPublicKeyFromBytes(rawBytes), nil
}

func (pk PublicKey) Bytes() []byte {
	return pk
}

// Equal reports whether both keys contain exactly the same bytes.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk, other) == 1
}

// String returns the hex encoding of the key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk)
}

// PrivateKey is an Ed25519 signing key.
type PrivateKey []byte

// NewPrivateKeyFromBytes copies data into a new PrivateKey.
func NewPrivateKeyFromBytes(data []byte) PrivateKey {
	sk := make([]byte, len(data))
	copy(sk, data)
	return PrivateKey(sk)
}

// Bytes exposes the raw key material.
func (sk PrivateKey) Bytes() []byte {
	return sk
}

// PublicKey returns the verification key embedded in the Ed25519 private key.
func (sk PrivateKey) PublicKey() (PublicKey, error) {
	if len(sk) < ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return PublicKey(sk[32:]), nil
}

// GenerateKeyPair generates a new Ed25519 key pair.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PublicKey(publicKey), PrivateKey(privateKey), nil
}

// Signature is an Ed25519 signature over a transport envelope.
type Signature []byte

// NewSignature copies data into a new Signature.
func NewSignature(data []byte) Signature {
	sig := make([]byte, len(data))
	copy(sig, data)
	return Signature(sig)
}

func (s Signature) Bytes() []byte {
	return []byte(s)
}

// Verify checks the signature over data against publicKey. Malformed keys
// never verify.
func (s Signature) Verify(publicKey PublicKey, data []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, s)
}

func (s Signature) String() string {
	return hex.EncodeToString(s.Bytes())
}

// Sign signs data with privateKey.
func Sign(privateKey PrivateKey, data []byte) (Signature, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	signature := ed25519.Sign(ed25519.PrivateKey(privateKey), data)
	return Signature(signature), nil
}

// SharedKey is a 32-byte symmetric key derived from an agreed secret or a
// sealing passphrase. It is never the raw DH output.
type SharedKey []byte

// NewSharedKey copies data into a new SharedKey.
func NewSharedKey(data []byte) SharedKey {
	sk := make([]byte, len(data))
	copy(sk, data)
	return SharedKey(sk)
}

func (sk SharedKey) Bytes() []byte {
	return slices.Clone(sk)
}

// Redacted stands in for secret material in log attributes.
type Redacted struct{}

// LogValue implements slog.LogValuer.
func (Redacted) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}

// String implements fmt.Stringer.
func (Redacted) String() string {
	return "[redacted]"
}

// LogValue keeps shared keys out of logs.
func (sk SharedKey) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}
