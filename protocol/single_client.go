package protocol

import (
	"context"
	"fmt"
	"slices"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
)

// SingleMaskClient is one client's side of a single-mask round: pairwise
// masks only, no dropout recovery.
type SingleMaskClient struct {
	*base

	keys   *crypto.DHKeyPair
	bundle []PublicKeyReport
	seeds  []PairwiseSeed

	ciphertextSent bool
}

func NewSingleMaskClient(cfg RoundConfig, clientID string, env Env) (*SingleMaskClient, error) {
	b, err := newBase(cfg, clientID, RoleClient, VariantSingleMask, env)
	if err != nil {
		return nil, err
	}
	return &SingleMaskClient{base: b}, nil
}

// Start generates the client's key pair, registers it and reports the
// public key to the server.
func (c *SingleMaskClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.startLocked(c); err != nil {
		return err
	}

	keys, err := crypto.GenerateDHKeyPair()
	if err != nil {
		return c.failLocked(fmt.Errorf("generate keys: %w", err))
	}
	c.keys = keys

	if err := c.sendLocked(ctx, c.serverAddress(), &PublicKeyReport{ClientID: c.id, SPK: keys.Public}); err != nil {
		return c.failLocked(err)
	}
	return nil
}

func (c *SingleMaskClient) HandleMessage(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case *PublicKeyBroadcast:
		return c.handleBundleLocked(ctx, m)
	default:
		c.logger.Warn("unexpected message", "type", string(TypeOf(msg)), "from", msg.Sender())
		return fmt.Errorf("%w: single-mask client does not accept %s", ErrStageViolation, TypeOf(msg))
	}
}

func (c *SingleMaskClient) handleBundleLocked(ctx context.Context, m *PublicKeyBroadcast) error {
	if err := c.expectStageLocked(StageExchangePublicKey, string(TypePublicKeyBroadcast)); err != nil {
		return err
	}
	if m.From != c.cfg.ServerID {
		return fmt.Errorf("%w: bundle from %q", ErrUnexpectedSender, m.From)
	}
	if _, err := c.acceptBundleLocked(m, PublicKeyReport{ClientID: c.id, SPK: c.keys.Public}, false); err != nil {
		return c.failLocked(err)
	}

	c.bundle = slices.Clone(m.Reports)
	seeds, err := derivePairwiseSeeds(c.id, c.keys.Secret, c.bundle)
	if err != nil {
		return c.failLocked(err)
	}
	c.seeds = seeds

	if c.env.Snapshots != nil {
		snapshot := &SecretSnapshot{Handle: c.cfg.Handle, ClientID: c.id, Pairwise: seeds}
		if err := c.env.Snapshots.Persist(ctx, snapshot); err != nil {
			return c.failLocked(fmt.Errorf("persist snapshot: %w", err))
		}
	}

	c.stage = StageCiphertextAggregate
	c.markReadyLocked()
	c.armTimerLocked(c.cfg.AggregateTimeout, "aggregate")
	c.logger.Info("key exchange complete", "clients", len(c.bundle))
	return nil
}

// Encrypt encodes plaintext as fixed point, adds every pairwise mask and
// sends it to the server. The client has no further part in the round.
func (c *SingleMaskClient) Encrypt(ctx context.Context, plaintext *Accumulator) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.expectStageLocked(StageCiphertextAggregate, "encrypt"); err != nil {
		return err
	}
	if c.ciphertextSent {
		return fmt.Errorf("%w: ciphertext already sent", ErrStageViolation)
	}
	if err := plaintext.validate(); err != nil {
		return err
	}

	flat := plaintext.Flatten()
	if err := encodeFixedPoint(flat, c.cfg.Multiplier); err != nil {
		return err
	}
	for _, seed := range c.seeds {
		if err := addBoundedMask(flat, seed.Seed, crypto.MaskSign(c.id, seed.PeerID), c.cfg.MaskBits); err != nil {
			return c.failLocked(err)
		}
	}

	masked, err := plaintext.Unflatten(flat)
	if err != nil {
		return c.failLocked(err)
	}
	if err := c.sendLocked(ctx, c.serverAddress(), &CiphertextReport{ClientID: c.id, Ciphertext: masked}); err != nil {
		return c.failLocked(err)
	}
	c.ciphertextSent = true
	c.stage = StageDecryptResult

	if c.env.Snapshots != nil {
		if err := c.env.Snapshots.Delete(ctx, c.cfg.Handle, c.id); err != nil {
			c.logger.Warn("failed to delete snapshot", "err", err)
		}
	}
	c.finishLocked()
	return nil
}
