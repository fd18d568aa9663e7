package protocol

import (
	"context"
	"fmt"
)

// Server is the aggregating side of a round, whatever its variant.
type Server interface {
	Instance
	Start(ctx context.Context) error
	WaitReady(ctx context.Context) error
	Accumulate(clientID string, ciphertext *Accumulator) error
	WaitForCiphertexts(ctx context.Context, want int) error
	Decrypt(ctx context.Context) (*Accumulator, error)
	Result() (*Accumulator, error)
	Contributors() []string
	Stage() Stage
	Err() error
	Done() <-chan struct{}
}

// Client is one contributing participant of a round.
type Client interface {
	Instance
	Start(ctx context.Context) error
	WaitReady(ctx context.Context) error
	Encrypt(ctx context.Context, plaintext *Accumulator) error
	Stage() Stage
	Err() error
	Done() <-chan struct{}
}

var (
	_ Server = (*DoubleMaskServer)(nil)
	_ Server = (*SingleMaskServer)(nil)
	_ Client = (*DoubleMaskClient)(nil)
	_ Client = (*SingleMaskClient)(nil)
)

// Valid reports whether v names a supported masking scheme.
func (v Variant) Valid() bool {
	return v == VariantDoubleMask || v == VariantSingleMask
}

// NewServer builds the server instance for variant.
func NewServer(variant Variant, cfg RoundConfig, env Env) (Server, error) {
	switch variant {
	case VariantDoubleMask:
		s, err := NewDoubleMaskServer(cfg, env)
		if err != nil {
			return nil, err
		}
		return s, nil
	case VariantSingleMask:
		s, err := NewSingleMaskServer(cfg, env)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, variant)
	}
}

// NewClient builds the client instance for variant.
func NewClient(variant Variant, cfg RoundConfig, clientID string, env Env) (Client, error) {
	switch variant {
	case VariantDoubleMask:
		c, err := NewDoubleMaskClient(cfg, clientID, env)
		if err != nil {
			return nil, err
		}
		return c, nil
	case VariantSingleMask:
		c, err := NewSingleMaskClient(cfg, clientID, env)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, variant)
	}
}
