// Package crypto provides the cryptographic primitives used by secure aggregation.
//
// This package implements the building blocks the protocol state machines are
// assembled from:
//
//   - Diffie-Hellman key agreement over the RFC 3526 2048-bit MODP group
//   - A deterministic mask generator (ChaCha20 keystream keyed by HKDF of a seed)
//   - Shamir (t, n) threshold secret sharing over the DH prime field
//   - AES-256-GCM envelopes keyed by agreed secrets, and sealing for data at rest
//   - Ed25519 signing keys used to authenticate transport envelopes
//
// Note: big.Int arithmetic is not constant-time.
//
// # Key Agreement
//
// GenerateDHKeyPair and Agree satisfy Agree(sk_u, pk_v) == Agree(sk_v, pk_u),
// which is what lets two clients derive the same pairwise mask seed.
//
// # Masks
//
// Two MaskGenerators built from equal seeds produce identical sequences. Each
// client draws exactly one value per plaintext element from each generator it
// owns, and the server mirrors the same draw counts when unmasking.
//
// # Secret Sharing
//
// SplitSecret and ReconstructSecret share secrets as points of a random
// polynomial of degree t-1. Shares carry their x coordinate so any t of them
// reconstruct regardless of order.
package crypto
