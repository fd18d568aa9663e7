package services

import (
	"context"
	"math/big"
	"testing"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/protocol"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *protocol.SecretSnapshot {
	return &protocol.SecretSnapshot{
		Handle:   "round-1",
		ClientID: "client-00",
		B:        big.NewInt(123456789),
		Pairwise: []protocol.PairwiseSeed{
			{PeerID: "client-01", Seed: big.NewInt(42)},
			{PeerID: "client-02", Seed: new(big.Int).Lsh(big.NewInt(1), 300)},
		},
	}
}

func TestSealedSnapshotStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := NewInMemoryStore()
	store, err := NewSealedSnapshotStore(blobs, []byte("0123456789abcdef"))
	require.NoError(t, err)

	snap := testSnapshot()
	require.NoError(t, store.Persist(ctx, snap))
	require.Equal(t, 1, blobs.Len())

	// Nothing readable at rest.
	raw, err := blobs.GetBlob(ctx, "round-1", "client-00")
	require.NoError(t, err)
	require.NotContains(t, string(raw), "client-01")

	loaded, err := store.Load(ctx, "round-1", "client-00")
	require.NoError(t, err)
	require.Equal(t, 0, snap.B.Cmp(loaded.B))
	require.Len(t, loaded.Pairwise, 2)
	require.Equal(t, 0, snap.Pairwise[1].Seed.Cmp(loaded.Pairwise[1].Seed))

	require.NoError(t, store.Delete(ctx, "round-1", "client-00"))
	_, err = store.Load(ctx, "round-1", "client-00")
	require.ErrorIs(t, err, protocol.ErrSnapshotNotFound)
}

func TestSealedSnapshotStore_WrongKeyOrSlot(t *testing.T) {
	ctx := context.Background()
	blobs := NewInMemoryStore()
	store, err := NewSealedSnapshotStore(blobs, []byte("0123456789abcdef"))
	require.NoError(t, err)
	require.NoError(t, store.Persist(ctx, testSnapshot()))

	other, err := NewSealedSnapshotStore(blobs, []byte("fedcba9876543210"))
	require.NoError(t, err)
	_, err = other.Load(ctx, "round-1", "client-00")
	require.ErrorIs(t, err, crypto.ErrDecryption)

	// A blob moved under another client does not open.
	raw, err := blobs.GetBlob(ctx, "round-1", "client-00")
	require.NoError(t, err)
	require.NoError(t, blobs.PutBlob(ctx, "round-1", "client-01", raw))
	_, err = store.Load(ctx, "round-1", "client-01")
	require.ErrorIs(t, err, crypto.ErrDecryption)
}

func TestSealedSnapshotStore_ShortSecret(t *testing.T) {
	_, err := NewSealedSnapshotStore(NewInMemoryStore(), []byte("short"))
	require.Error(t, err)
}

func TestPostgresConfig_ConnectionString(t *testing.T) {
	cfg := &PostgresConfig{Host: "db", Port: 5432, User: "ssa", Password: "pw", Database: "snapshots"}
	require.Equal(t, "host=db port=5432 user=ssa password=pw dbname=snapshots sslmode=disable", cfg.ConnectionString())

	cfg.SSLMode = "require"
	require.Contains(t, cfg.ConnectionString(), "sslmode=require")
}
