// Package common provides shared helpers for the ssa-node and ssa-demo
// commands: YAML configuration, key loading, logger setup and snapshot
// store selection.
package common

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/services"
)

// LoadOrGenerateSigningKey decodes a hex Ed25519 key, accepting either the
// 32-byte seed or the 64-byte private key. An empty string generates a key.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey == "" {
		_, privKey, err := crypto.GenerateKeyPair()
		return privKey, err
	}
	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	switch len(keyBytes) {
	case ed25519.SeedSize:
		return crypto.NewPrivateKeyFromBytes(ed25519.NewKeyFromSeed(keyBytes)), nil
	case ed25519.PrivateKeySize:
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	default:
		return nil, fmt.Errorf("signing key has %d bytes, want %d or %d", len(keyBytes), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// LoadOrGenerateSealingSecret decodes the snapshot sealing secret. An empty
// string yields a random secret, so sealed snapshots do not survive a restart.
func LoadOrGenerateSealingSecret(hexSecret string) (secret []byte, generated bool, err error) {
	if hexSecret == "" {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, false, err
		}
		return secret, true, nil
	}
	secret, err = hex.DecodeString(hexSecret)
	if err != nil {
		return nil, false, fmt.Errorf("invalid hex: %w", err)
	}
	return secret, false, nil
}

// NewLogger builds the process logger.
func NewLogger(w io.Writer, level string, json bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// NewSnapshotStore seals snapshots into Postgres when pg is set and into
// memory otherwise. The Postgres store is returned so the caller can close
// and purge it; it is nil for the in-memory backend.
func NewSnapshotStore(pg *services.PostgresConfig, secret []byte) (*services.SealedSnapshotStore, *services.PostgresStore, error) {
	if pg == nil {
		sealed, err := services.NewSealedSnapshotStore(services.NewInMemoryStore(), secret)
		return sealed, nil, err
	}

	store, err := services.NewPostgresStore(pg)
	if err != nil {
		return nil, nil, err
	}
	sealed, err := services.NewSealedSnapshotStore(store, secret)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return sealed, store, nil
}
