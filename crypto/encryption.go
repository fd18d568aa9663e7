package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

const (
	envelopeDomain = "ssa-share-envelope-v1"
	sealingDomain  = "ssa-snapshot-seal-v1"

	nonceLen = 12
	tagLen   = 16
)

// ErrDecryption is returned when an envelope fails authentication.
var ErrDecryption = errors.New("envelope authentication failed")

// EncryptedMessage is an AES-256-GCM ciphertext.
// Format: nonce (12 bytes) || ciphertext+tag
type EncryptedMessage struct {
	Nonce      []byte
	Ciphertext []byte
}

// DeriveEnvelopeKey derives the symmetric key two clients use for share
// envelopes from their agreed DH secret.
func DeriveEnvelopeKey(agreed *big.Int) SharedKey {
	return deriveAESKey(envelopeDomain, agreed.Bytes())
}

// DeriveSealingKey derives a key for sealing data at rest from an operator
// supplied secret.
func DeriveSealingKey(secret []byte) SharedKey {
	return deriveAESKey(sealingDomain, secret)
}

// Encrypt seals plaintext under key, binding the associated data.
func Encrypt(key SharedKey, plaintext []byte, ad []byte) (*EncryptedMessage, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return &EncryptedMessage{
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, ad),
	}, nil
}

// Decrypt opens msg under key. Any tampering with the ciphertext or the
// associated data yields ErrDecryption.
func Decrypt(key SharedKey, msg *EncryptedMessage, ad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(msg.Nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}

	plaintext, err := gcm.Open(nil, msg.Nonce, msg.Ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return plaintext, nil
}

// Bytes serializes an encrypted message.
func (m *EncryptedMessage) Bytes() []byte {
	result := make([]byte, 0, len(m.Nonce)+len(m.Ciphertext))
	result = append(result, m.Nonce...)
	result = append(result, m.Ciphertext...)
	return result
}

// ParseEncryptedMessage deserializes an encrypted message.
func ParseEncryptedMessage(data []byte) (*EncryptedMessage, error) {
	if len(data) < nonceLen+tagLen {
		return nil, errors.New("encrypted message too short")
	}

	return &EncryptedMessage{
		Nonce:      data[:nonceLen],
		Ciphertext: data[nonceLen:],
	}, nil
}

func newGCM(key SharedKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

func deriveAESKey(domain string, secret []byte) SharedKey {
	hash := make([]byte, 32)
	h := sha3.New256()
	h.Write([]byte(domain))
	h.Write(secret)
	return h.Sum(hash[:0])
}
