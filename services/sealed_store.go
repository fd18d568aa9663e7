package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/protocol"
)

// SealedSnapshotStore encrypts client secret snapshots before handing them
// to a BlobStore. The handle and client id are bound as associated data, so a
// blob cannot be replayed under another key.
type SealedSnapshotStore struct {
	blobs BlobStore
	key   crypto.SharedKey
}

var _ protocol.SnapshotStore = (*SealedSnapshotStore)(nil)

// NewSealedSnapshotStore seals snapshots with a key derived from secret.
func NewSealedSnapshotStore(blobs BlobStore, secret []byte) (*SealedSnapshotStore, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("sealing secret has %d bytes, need at least 16", len(secret))
	}
	return &SealedSnapshotStore{
		blobs: blobs,
		key:   crypto.DeriveSealingKey(secret),
	}, nil
}

func snapshotAD(handle, clientID string) []byte {
	return []byte(handle + "|" + clientID)
}

func (s *SealedSnapshotStore) Persist(ctx context.Context, snapshot *protocol.SecretSnapshot) error {
	plaintext, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	sealed, err := crypto.Encrypt(s.key, plaintext, snapshotAD(snapshot.Handle, snapshot.ClientID))
	if err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	return s.blobs.PutBlob(ctx, snapshot.Handle, snapshot.ClientID, sealed.Bytes())
}

func (s *SealedSnapshotStore) Load(ctx context.Context, handle, clientID string) (*protocol.SecretSnapshot, error) {
	blob, err := s.blobs.GetBlob(ctx, handle, clientID)
	if err != nil {
		return nil, err
	}

	msg, err := crypto.ParseEncryptedMessage(blob)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.Decrypt(s.key, msg, snapshotAD(handle, clientID))
	if err != nil {
		return nil, fmt.Errorf("opening snapshot %s/%s: %w", handle, clientID, err)
	}

	snapshot, err := protocol.UnmarshalMessage[protocol.SecretSnapshot](plaintext)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *SealedSnapshotStore) Delete(ctx context.Context, handle, clientID string) error {
	return s.blobs.DeleteBlob(ctx, handle, clientID)
}
