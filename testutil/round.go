package testutil

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/protocol"
)

// DefaultWait bounds every phase of a test round.
const DefaultWait = 10 * time.Second

// RoundOption customizes a round built by NewTestRound.
type RoundOption func(*protocol.RoundConfig)

// WithHandle sets the round handle.
func WithHandle(handle string) RoundOption {
	return func(c *protocol.RoundConfig) { c.Handle = handle }
}

// WithParticipants replaces the participant list.
func WithParticipants(ids ...string) RoundOption {
	return func(c *protocol.RoundConfig) { c.Participants = ids }
}

// WithClients names n participants client-00, client-01, ...
func WithClients(n int) RoundOption {
	return func(c *protocol.RoundConfig) { c.Participants = ClientIDs(n) }
}

// WithThreshold sets the reconstruction threshold.
func WithThreshold(t int) RoundOption {
	return func(c *protocol.RoundConfig) { c.Threshold = t }
}

// WithTimeouts sets both phase timeouts.
func WithTimeouts(d time.Duration) RoundOption {
	return func(c *protocol.RoundConfig) {
		c.ReadyTimeout = d
		c.AggregateTimeout = d
	}
}

// ClientIDs returns n zero-padded client ids.
func ClientIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("client-%02d", i)
	}
	return ids
}

// NewTestRound returns a three-client round served by "server" with every
// client needed for reconstruction.
func NewTestRound(opts ...RoundOption) protocol.RoundConfig {
	cfg := protocol.RoundConfig{
		Handle:           "test-round",
		ServerID:         "server",
		Participants:     ClientIDs(3),
		ReadyTimeout:     DefaultWait,
		AggregateTimeout: DefaultWait,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = len(cfg.Participants)
	}
	return cfg
}

// RandomVectors draws n vectors in [-1, 1). A positive multiplier rounds
// every value to that fixed-point scale.
func RandomVectors(seed uint64, n, length int, multiplier float64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, ^seed))
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, length)
		for j := range v {
			v[j] = rng.Float64()*2 - 1
			if multiplier > 0 {
				v[j] = math.Round(v[j]*multiplier) / multiplier
			}
		}
		out[i] = v
	}
	return out
}

// SumVectors adds vectors of equal length.
func SumVectors(vectors ...[]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	sum := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for j, x := range v {
			sum[j] += x
		}
	}
	return sum
}
