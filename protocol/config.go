package protocol

import (
	"fmt"
	"slices"
	"time"
)

const (
	// DefaultMultiplier is the fixed-point scale of single-mask rounds.
	DefaultMultiplier = 1000

	// DefaultMaskBits bounds single-mask pairwise masks to [-2^40, 2^40).
	DefaultMaskBits = 40

	// DefaultReadyTimeout bounds key and share exchange.
	DefaultReadyTimeout = 30 * time.Second

	// DefaultAggregateTimeout bounds the aggregation and unmasking phase.
	DefaultAggregateTimeout = 2 * time.Minute
)

// RoundConfig describes one aggregation round. Every instance of a round,
// server and clients alike, is built from the same config.
type RoundConfig struct {
	// Handle identifies the round on the transport.
	Handle string `json:"handle" yaml:"handle"`

	// ServerID is the participant id of the aggregating server.
	ServerID string `json:"server_id" yaml:"server_id"`

	// Participants lists the client ids expected to take part.
	Participants []string `json:"participants" yaml:"participants"`

	// Threshold is the minimum number of clients that must survive to
	// reconstruct secrets.
	Threshold int `json:"threshold" yaml:"threshold"`

	// ReadyTimeout bounds key exchange (and share exchange for double-mask).
	// Zero disables the timer.
	ReadyTimeout time.Duration `json:"ready_timeout,string" yaml:"ready_timeout"`

	// AggregateTimeout bounds the phase between readiness and the result.
	// Zero disables the timer.
	AggregateTimeout time.Duration `json:"aggregate_timeout,string" yaml:"aggregate_timeout"`

	// Multiplier is the single-mask fixed-point scale.
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier"`

	// MaskBits bounds single-mask pairwise masks.
	MaskBits uint `json:"mask_bits,omitempty" yaml:"mask_bits"`
}

// WithDefaults returns a copy with unset single-mask parameters filled in.
func (c RoundConfig) WithDefaults() RoundConfig {
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.MaskBits == 0 {
		c.MaskBits = DefaultMaskBits
	}
	c.Participants = slices.Clone(c.Participants)
	slices.Sort(c.Participants)
	return c
}

// Validate checks the config is usable for a round.
func (c RoundConfig) Validate() error {
	if c.Handle == "" {
		return fmt.Errorf("%w: empty handle", ErrInvalidConfig)
	}
	if c.ServerID == "" {
		return fmt.Errorf("%w: empty server id", ErrInvalidConfig)
	}
	if len(c.Participants) == 0 {
		return fmt.Errorf("%w: no participants", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(c.Participants))
	for _, p := range c.Participants {
		if p == "" {
			return fmt.Errorf("%w: empty participant id", ErrInvalidConfig)
		}
		if p == c.ServerID {
			return fmt.Errorf("%w: participant %q is the server", ErrInvalidConfig, p)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: duplicate participant %q", ErrInvalidConfig, p)
		}
		seen[p] = struct{}{}
	}

	if c.Threshold < 1 || c.Threshold > len(c.Participants) {
		return fmt.Errorf("%w: threshold %d outside [1, %d]", ErrInvalidConfig, c.Threshold, len(c.Participants))
	}
	if c.ReadyTimeout < 0 || c.AggregateTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.Multiplier < 0 {
		return fmt.Errorf("%w: negative multiplier", ErrInvalidConfig)
	}
	if c.MaskBits > 52 {
		return fmt.Errorf("%w: mask bits %d exceed float64 precision", ErrInvalidConfig, c.MaskBits)
	}
	return nil
}

// IsParticipant reports whether id is one of the round's clients.
func (c RoundConfig) IsParticipant(id string) bool {
	return slices.Contains(c.Participants, id)
}

// DefaultThreshold returns ceil(n/2)+1 capped at n.
func DefaultThreshold(n int) int {
	t := (n+1)/2 + 1
	if t > n {
		t = n
	}
	return t
}
