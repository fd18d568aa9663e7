package protocol

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
)

// SelfMaskBits is the size of the self-mask seed b.
const SelfMaskBits = 256

// shareEnvelope is the plaintext of an EncryptedShare.
type shareEnvelope struct {
	From          string       `json:"from"`
	To            string       `json:"to"`
	MaskKeyShare  crypto.Share `json:"sk_share"`
	SelfMaskShare crypto.Share `json:"b_share"`
}

type heldShares struct {
	maskKey  crypto.Share
	selfMask crypto.Share
}

func envelopeAD(from, to string) []byte {
	return []byte(from + "|" + to)
}

// DoubleMaskClient is one client's side of a double-mask round.
type DoubleMaskClient struct {
	*base

	cKeys *crypto.DHKeyPair
	sKeys *crypto.DHKeyPair

	bundle   []PublicKeyReport
	peers    map[string]PublicKeyReport
	position int // 1-based x coordinate of the shares this client holds

	b     *big.Int
	held  map[string]heldShares
	seeds []PairwiseSeed

	ciphertextSent bool
}

func NewDoubleMaskClient(cfg RoundConfig, clientID string, env Env) (*DoubleMaskClient, error) {
	b, err := newBase(cfg, clientID, RoleClient, VariantDoubleMask, env)
	if err != nil {
		return nil, err
	}
	return &DoubleMaskClient{base: b}, nil
}

// Start generates the client's key pairs, registers it and reports its
// public keys to the server.
func (c *DoubleMaskClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.startLocked(c); err != nil {
		return err
	}

	cKeys, err := crypto.GenerateDHKeyPair()
	if err != nil {
		return c.failLocked(fmt.Errorf("generate c keys: %w", err))
	}
	sKeys, err := crypto.GenerateDHKeyPair()
	if err != nil {
		return c.failLocked(fmt.Errorf("generate s keys: %w", err))
	}
	c.cKeys, c.sKeys = cKeys, sKeys

	report := &PublicKeyReport{ClientID: c.id, CPK: cKeys.Public, SPK: sKeys.Public}
	if err := c.sendLocked(ctx, c.serverAddress(), report); err != nil {
		return c.failLocked(err)
	}
	return nil
}

func (c *DoubleMaskClient) HandleMessage(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case *PublicKeyBroadcast:
		return c.handleBundleLocked(ctx, m)
	case *EncryptedSharesForward:
		return c.handleSharesLocked(ctx, m)
	case *AliveClientsBroadcast:
		return c.handleAliveLocked(ctx, m)
	default:
		c.logger.Warn("unexpected message", "type", string(TypeOf(msg)), "from", msg.Sender())
		return fmt.Errorf("%w: client does not accept %s", ErrStageViolation, TypeOf(msg))
	}
}

func (c *DoubleMaskClient) ownReport() PublicKeyReport {
	return PublicKeyReport{ClientID: c.id, CPK: c.cKeys.Public, SPK: c.sKeys.Public}
}

func (c *DoubleMaskClient) handleBundleLocked(ctx context.Context, m *PublicKeyBroadcast) error {
	if err := c.expectStageLocked(StageExchangePublicKey, string(TypePublicKeyBroadcast)); err != nil {
		return err
	}

	if m.From != c.cfg.ServerID {
		return fmt.Errorf("%w: bundle from %q", ErrUnexpectedSender, m.From)
	}
	peers, err := c.acceptBundleLocked(m, c.ownReport(), true)
	if err != nil {
		return c.failLocked(err)
	}

	c.bundle = slices.Clone(m.Reports)
	c.peers = peers
	for i, r := range c.bundle {
		if r.ClientID == c.id {
			c.position = i + 1
		}
	}
	c.stage = StageExchangeEncryptedShare
	c.logger.Info("received public key bundle", "clients", len(c.bundle))

	report, err := c.sealSharesLocked()
	if err != nil {
		return c.failLocked(err)
	}
	if err := c.sendLocked(ctx, c.serverAddress(), report); err != nil {
		return c.failLocked(err)
	}
	return nil
}

// sealSharesLocked draws b, shares b and s_sk among the bundle and seals
// every peer's shares under the pair's envelope key.
func (c *DoubleMaskClient) sealSharesLocked() (*EncryptedSharesReport, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), SelfMaskBits)
	b, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("draw self mask: %w", err)
	}
	c.b = b

	n := len(c.bundle)
	bShares, err := crypto.SplitSecret(b, c.cfg.Threshold, n, crypto.ShareFieldOrder)
	if err != nil {
		return nil, fmt.Errorf("share self mask: %w", err)
	}
	skShares, err := crypto.SplitSecret(c.sKeys.Secret, c.cfg.Threshold, n, crypto.ShareFieldOrder)
	if err != nil {
		return nil, fmt.Errorf("share mask key: %w", err)
	}

	c.held = make(map[string]heldShares, n)
	report := &EncryptedSharesReport{ClientID: c.id, Shares: make([]EncryptedShare, 0, n-1)}
	for i, peer := range c.bundle {
		if peer.ClientID == c.id {
			c.held[c.id] = heldShares{maskKey: skShares[i], selfMask: bShares[i]}
			continue
		}

		key, err := c.envelopeKey(peer)
		if err != nil {
			return nil, err
		}
		plaintext, err := json.Marshal(&shareEnvelope{
			From:          c.id,
			To:            peer.ClientID,
			MaskKeyShare:  skShares[i],
			SelfMaskShare: bShares[i],
		})
		if err != nil {
			return nil, err
		}
		sealed, err := crypto.Encrypt(key, plaintext, envelopeAD(c.id, peer.ClientID))
		if err != nil {
			return nil, fmt.Errorf("seal shares for %q: %w", peer.ClientID, err)
		}
		report.Shares = append(report.Shares, EncryptedShare{
			From:       c.id,
			To:         peer.ClientID,
			Ciphertext: sealed.Bytes(),
		})
	}
	return report, nil
}

func (c *DoubleMaskClient) envelopeKey(peer PublicKeyReport) (crypto.SharedKey, error) {
	agreed, err := crypto.Agree(c.cKeys.Secret, peer.CPK)
	if err != nil {
		return nil, fmt.Errorf("agree envelope key with %q: %w", peer.ClientID, err)
	}
	return crypto.DeriveEnvelopeKey(agreed), nil
}

func (c *DoubleMaskClient) handleSharesLocked(ctx context.Context, m *EncryptedSharesForward) error {
	if err := c.expectStageLocked(StageExchangeEncryptedShare, string(TypeEncryptedSharesForward)); err != nil {
		return err
	}
	if m.From != c.cfg.ServerID {
		return fmt.Errorf("%w: shares forwarded by %q", ErrUnexpectedSender, m.From)
	}

	received := make(map[string]heldShares, len(m.Shares))
	for _, share := range m.Shares {
		held, err := c.openShare(share)
		if err != nil {
			return c.failLocked(err)
		}
		if _, dup := received[share.From]; dup {
			return c.failLocked(fmt.Errorf("%w: two shares from %q", ErrDecryptionFailure, share.From))
		}
		received[share.From] = held
	}
	if len(received)+1 < c.cfg.Threshold {
		return c.failLocked(fmt.Errorf("%w: received shares from %d peers, threshold is %d",
			ErrInsufficientParticipants, len(received), c.cfg.Threshold))
	}
	for from, held := range received {
		c.held[from] = held
	}

	seeds, err := derivePairwiseSeeds(c.id, c.sKeys.Secret, c.bundle)
	if err != nil {
		return c.failLocked(err)
	}
	c.seeds = seeds

	if c.env.Snapshots != nil {
		snapshot := &SecretSnapshot{Handle: c.cfg.Handle, ClientID: c.id, B: c.b, Pairwise: seeds}
		if err := c.env.Snapshots.Persist(ctx, snapshot); err != nil {
			return c.failLocked(fmt.Errorf("persist snapshot: %w", err))
		}
	}

	c.stage = StageCiphertextAggregate
	c.markReadyLocked()
	c.armTimerLocked(c.cfg.AggregateTimeout, "aggregate")
	c.logger.Info("share exchange complete", "peers", len(received))
	return nil
}

// openShare authenticates and decodes one forwarded share.
func (c *DoubleMaskClient) openShare(share EncryptedShare) (heldShares, error) {
	if share.To != c.id {
		return heldShares{}, fmt.Errorf("%w: share addressed to %q", ErrDecryptionFailure, share.To)
	}
	peer, ok := c.peers[share.From]
	if !ok || share.From == c.id {
		return heldShares{}, fmt.Errorf("%w: share from unknown client %q", ErrDecryptionFailure, share.From)
	}

	key, err := c.envelopeKey(peer)
	if err != nil {
		return heldShares{}, fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}
	sealed, err := crypto.ParseEncryptedMessage(share.Ciphertext)
	if err != nil {
		return heldShares{}, fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}
	plaintext, err := crypto.Decrypt(key, sealed, envelopeAD(share.From, share.To))
	if err != nil {
		return heldShares{}, fmt.Errorf("%w: from %q: %v", ErrDecryptionFailure, share.From, err)
	}

	var env shareEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return heldShares{}, fmt.Errorf("%w: decode envelope from %q: %v", ErrDecryptionFailure, share.From, err)
	}
	if env.From != share.From || env.To != c.id {
		return heldShares{}, fmt.Errorf("%w: envelope names %q->%q, expected %q->%q",
			ErrDecryptionFailure, env.From, env.To, share.From, c.id)
	}
	pos := big.NewInt(int64(c.position))
	if env.MaskKeyShare.X == nil || env.SelfMaskShare.X == nil ||
		env.MaskKeyShare.X.Cmp(pos) != 0 || env.SelfMaskShare.X.Cmp(pos) != 0 {
		return heldShares{}, fmt.Errorf("%w: shares from %q are not for position %d", ErrDecryptionFailure, share.From, c.position)
	}

	return heldShares{maskKey: env.MaskKeyShare, selfMask: env.SelfMaskShare}, nil
}

// Encrypt masks plaintext with the self mask and every pairwise mask and
// sends it to the server. It may be called once, after WaitReady.
func (c *DoubleMaskClient) Encrypt(ctx context.Context, plaintext *Accumulator) error {
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
	if err := addFloatMask(flat, c.b, 1); err != nil {
		return c.failLocked(err)
	}
	for _, seed := range c.seeds {
		if err := addFloatMask(flat, seed.Seed, crypto.MaskSign(c.id, seed.PeerID)); err != nil {
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
	c.logger.Info("ciphertext sent", "elements", len(flat))
	return nil
}

func (c *DoubleMaskClient) handleAliveLocked(ctx context.Context, m *AliveClientsBroadcast) error {
	if err := c.expectStageLocked(StageCiphertextAggregate, string(TypeAliveClientsBroadcast)); err != nil {
		return err
	}
	if m.From != c.cfg.ServerID {
		return fmt.Errorf("%w: alive set from %q", ErrUnexpectedSender, m.From)
	}
	if !slices.Contains(m.Alive, c.id) {
		return c.failLocked(fmt.Errorf("%w: client is not in the alive set", ErrStageViolation))
	}
	if !c.ciphertextSent {
		return c.failLocked(fmt.Errorf("%w: alive set received before ciphertext was sent", ErrStageViolation))
	}

	alive := make(map[string]struct{}, len(m.Alive))
	for _, id := range m.Alive {
		if _, ok := c.peers[id]; !ok {
			return c.failLocked(fmt.Errorf("%w: alive set names unknown client %q", ErrUnexpectedSender, id))
		}
		alive[id] = struct{}{}
	}
	if len(alive) < c.cfg.Threshold {
		return c.failLocked(fmt.Errorf("%w: %d alive clients, threshold is %d",
			ErrInsufficientParticipants, len(alive), c.cfg.Threshold))
	}

	// Never both shares of one peer: b for survivors, s_sk for the dropped.
	report := &SecretSharesReport{ClientID: c.id}
	for _, peer := range c.bundle {
		held, ok := c.held[peer.ClientID]
		if !ok {
			continue
		}
		if _, isAlive := alive[peer.ClientID]; isAlive {
			report.Shares = append(report.Shares, RevealedShare{ClientID: peer.ClientID, Kind: ShareKindSelfMask, Share: held.selfMask})
		} else {
			report.Shares = append(report.Shares, RevealedShare{ClientID: peer.ClientID, Kind: ShareKindMaskKey, Share: held.maskKey})
		}
	}

	if err := c.sendLocked(ctx, c.serverAddress(), report); err != nil {
		return c.failLocked(err)
	}

	c.stage = StageDecryptResult
	c.logger.Info("revealed shares", "alive", len(alive), "dropped", len(c.bundle)-len(alive))
	if c.env.Snapshots != nil {
		if err := c.env.Snapshots.Delete(ctx, c.cfg.Handle, c.id); err != nil {
			c.logger.Warn("failed to delete snapshot", "err", err)
		}
	}
	c.finishLocked()
	return nil
}
