package protocol

import (
	"context"
	"errors"
	"math/big"
	"sync"
)

// ErrSnapshotNotFound is returned by SnapshotStore.Load for unknown keys.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// PairwiseSeed is the agreed mask seed a client shares with one peer.
type PairwiseSeed struct {
	PeerID string   `json:"peer_id"`
	Seed   *big.Int `json:"seed"`
}

// SecretSnapshot is the client state needed to rebuild its masks after a
// restart. B is nil for single-mask rounds.
type SecretSnapshot struct {
	Handle   string         `json:"handle"`
	ClientID string         `json:"client_id"`
	B        *big.Int       `json:"b,omitempty"`
	Pairwise []PairwiseSeed `json:"pairwise"`
}

// SnapshotStore persists client secret snapshots.
type SnapshotStore interface {
	Persist(ctx context.Context, snapshot *SecretSnapshot) error
	Load(ctx context.Context, handle, clientID string) (*SecretSnapshot, error)
	Delete(ctx context.Context, handle, clientID string) error
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[Address]*SecretSnapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[Address]*SecretSnapshot)}
}

func (s *MemorySnapshotStore) Persist(_ context.Context, snapshot *SecretSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[Address{Handle: snapshot.Handle, Participant: snapshot.ClientID}] = snapshot
	return nil
}

func (s *MemorySnapshotStore) Load(_ context.Context, handle, clientID string) (*SecretSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[Address{Handle: handle, Participant: clientID}]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return snapshot, nil
}

func (s *MemorySnapshotStore) Delete(_ context.Context, handle, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, Address{Handle: handle, Participant: clientID})
	return nil
}
