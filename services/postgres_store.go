package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/protocol"
	_ "github.com/lib/pq"
)

// BlobStore persists opaque snapshot blobs keyed by round handle and client.
type BlobStore interface {
	PutBlob(ctx context.Context, handle, clientID string, blob []byte) error
	GetBlob(ctx context.Context, handle, clientID string) ([]byte, error)
	DeleteBlob(ctx context.Context, handle, clientID string) error
}

// PostgresStore implements BlobStore with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore connects, pings and migrates the snapshot table.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS secret_snapshots (
		handle VARCHAR(256) NOT NULL,
		client_id VARCHAR(256) NOT NULL,
		blob BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (handle, client_id)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_created ON secret_snapshots(created_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// PutBlob inserts or replaces a snapshot blob.
func (s *PostgresStore) PutBlob(ctx context.Context, handle, clientID string, blob []byte) error {
	query := `
	INSERT INTO secret_snapshots (handle, client_id, blob, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (handle, client_id) DO UPDATE SET
		blob = EXCLUDED.blob,
		updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query, handle, clientID, blob)
	return err
}

// GetBlob returns protocol.ErrSnapshotNotFound for unknown keys.
func (s *PostgresStore) GetBlob(ctx context.Context, handle, clientID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT blob FROM secret_snapshots WHERE handle = $1 AND client_id = $2",
		handle, clientID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, protocol.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	return blob, nil
}

// DeleteBlob removes a snapshot blob.
func (s *PostgresStore) DeleteBlob(ctx context.Context, handle, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM secret_snapshots WHERE handle = $1 AND client_id = $2",
		handle, clientID)
	return err
}

// PurgeOlderThan deletes snapshots last written before cutoff and returns
// how many were removed.
func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM secret_snapshots WHERE updated_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InMemoryStore implements BlobStore for testing without a database.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[protocol.Address][]byte
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blobs: make(map[protocol.Address][]byte),
	}
}

// PutBlob stores a copy of blob.
func (s *InMemoryStore) PutBlob(_ context.Context, handle, clientID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[protocol.Address{Handle: handle, Participant: clientID}] = append([]byte(nil), blob...)
	return nil
}

// GetBlob returns a copy of the stored blob.
func (s *InMemoryStore) GetBlob(_ context.Context, handle, clientID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[protocol.Address{Handle: handle, Participant: clientID}]
	if !ok {
		return nil, protocol.ErrSnapshotNotFound
	}
	return append([]byte(nil), blob...), nil
}

// DeleteBlob removes a blob.
func (s *InMemoryStore) DeleteBlob(_ context.Context, handle, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, protocol.Address{Handle: handle, Participant: clientID})
	return nil
}

// Len returns the number of stored blobs.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
