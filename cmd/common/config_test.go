package common

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/services"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
http_addr: ":9090"
admin_token: "admin:secret"
log_level: debug
shutdown_timeout: 3s
keys:
  sealing_secret: "00112233445566778899aabbccddeeff"
postgres:
  host: db
  port: 5432
  user: ssa
  database: ssa
peers:
  - participant_id: server
    endpoint: http://node-a:9090
    public_key: abcd
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, 24*time.Hour, cfg.SnapshotRetention)
	require.Equal(t, services.DefaultRoundRetention, cfg.RoundRetention)
	require.Equal(t, "db", cfg.Postgres.Host)
	require.Len(t, cfg.Peers, 1)
	require.Equal(t, "http://node-a:9090", cfg.Peers[0].Endpoint)
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := ParseConfig([]byte("postgres:\n  port: 5432\n"))
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	cfg, err = ParseConfig([]byte("peers:\n  - endpoint: http://x\n"))
	require.NoError(t, err)
	require.Error(t, cfg.Validate())

	_, err = ParseConfig([]byte("http_addr: [oops"))
	require.Error(t, err)
}

func TestLoadOrGenerateSigningKey(t *testing.T) {
	generated, err := LoadOrGenerateSigningKey("")
	require.NoError(t, err)
	pub, err := generated.PublicKey()
	require.NoError(t, err)

	// Seed and full key forms load the same key.
	fromSeed, err := LoadOrGenerateSigningKey(hex.EncodeToString(generated[:32]))
	require.NoError(t, err)
	seedPub, err := fromSeed.PublicKey()
	require.NoError(t, err)
	require.Equal(t, pub, seedPub)

	full, err := LoadOrGenerateSigningKey(hex.EncodeToString(generated))
	require.NoError(t, err)
	require.Equal(t, crypto.PrivateKey(generated), full)

	_, err = LoadOrGenerateSigningKey("abcd")
	require.Error(t, err)
	_, err = LoadOrGenerateSigningKey("not hex")
	require.Error(t, err)
}

func TestLoadOrGenerateSealingSecret(t *testing.T) {
	secret, generated, err := LoadOrGenerateSealingSecret("")
	require.NoError(t, err)
	require.True(t, generated)
	require.Len(t, secret, 32)

	secret, generated, err = LoadOrGenerateSealingSecret("00ff")
	require.NoError(t, err)
	require.False(t, generated)
	require.Equal(t, []byte{0x00, 0xff}, secret)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", true)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	require.Equal(t, 1, strings.Count(buf.String(), "\n"))
	require.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = NewLogger(&buf, "loud", false)
	require.Error(t, err)
}

func TestNewSnapshotStore_InMemory(t *testing.T) {
	sealed, pg, err := NewSnapshotStore(nil, []byte("0123456789abcdef"))
	require.NoError(t, err)
	require.NotNil(t, sealed)
	require.Nil(t, pg)

	_, _, err = NewSnapshotStore(nil, []byte("short"))
	require.Error(t, err)
}
