package protocol

import (
	"context"
	"fmt"
	"math/big"
	"slices"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
)

// DoubleMaskServer is the aggregating side of a double-mask round.
type DoubleMaskServer struct {
	*base
	aggregation

	reports     map[string]PublicKeyReport
	bundle      []PublicKeyReport
	bundleIndex map[string]int

	shareReports map[string]*EncryptedSharesReport

	alive      []string
	aliveSet   map[string]struct{}
	revealed   map[string][]RevealedShare
	sharesDone chan struct{}
}

func NewDoubleMaskServer(cfg RoundConfig, env Env) (*DoubleMaskServer, error) {
	b, err := newBase(cfg, cfg.ServerID, RoleServer, VariantDoubleMask, env)
	if err != nil {
		return nil, err
	}
	return &DoubleMaskServer{
		base:         b,
		aggregation:  newAggregation(),
		reports:      make(map[string]PublicKeyReport),
		shareReports: make(map[string]*EncryptedSharesReport),
		revealed:     make(map[string][]RevealedShare),
		sharesDone:   make(chan struct{}),
	}, nil
}

// Start registers the server so clients can report their keys.
func (s *DoubleMaskServer) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(s)
}

func (s *DoubleMaskServer) HandleMessage(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *PublicKeyReport:
		return s.handleKeyReportLocked(ctx, m)
	case *EncryptedSharesReport:
		return s.handleSharesReportLocked(ctx, m)
	case *CiphertextReport:
		return s.accumulateLocked(m.ClientID, m.Ciphertext)
	case *SecretSharesReport:
		return s.handleSecretSharesLocked(m)
	default:
		s.logger.Warn("unexpected message", "type", string(TypeOf(msg)), "from", msg.Sender())
		return fmt.Errorf("%w: server does not accept %s", ErrStageViolation, TypeOf(msg))
	}
}

func (s *DoubleMaskServer) handleKeyReportLocked(ctx context.Context, m *PublicKeyReport) error {
	if err := s.expectStageLocked(StageExchangePublicKey, string(TypePublicKeyReport)); err != nil {
		return err
	}
	if !s.cfg.IsParticipant(m.ClientID) {
		return fmt.Errorf("%w: %q is not a participant", ErrUnexpectedSender, m.ClientID)
	}
	if _, dup := s.reports[m.ClientID]; dup {
		return fmt.Errorf("%w: public keys from %q", ErrDuplicateMessage, m.ClientID)
	}
	if err := validateReportKeys(m, true); err != nil {
		return fmt.Errorf("rejecting keys from %q: %w", m.ClientID, err)
	}

	s.reports[m.ClientID] = *m
	s.logger.Debug("public keys received", "client", m.ClientID, "have", len(s.reports), "want", len(s.cfg.Participants))
	if len(s.reports) < len(s.cfg.Participants) {
		return nil
	}

	s.bundle = sortedReports(s.reports)
	s.bundleIndex = make(map[string]int, len(s.bundle))
	for i, r := range s.bundle {
		s.bundleIndex[r.ClientID] = i + 1
	}
	s.stage = StageExchangeEncryptedShare

	broadcast := &PublicKeyBroadcast{From: s.id, Reports: s.bundle}
	for _, r := range s.bundle {
		if err := s.sendLocked(ctx, s.clientAddress(r.ClientID), broadcast); err != nil {
			return s.failLocked(err)
		}
	}
	s.logger.Info("broadcast public key bundle", "clients", len(s.bundle))
	return nil
}

func (s *DoubleMaskServer) handleSharesReportLocked(ctx context.Context, m *EncryptedSharesReport) error {
	if err := s.expectStageLocked(StageExchangeEncryptedShare, string(TypeEncryptedSharesReport)); err != nil {
		return err
	}
	if _, ok := s.bundleIndex[m.ClientID]; !ok {
		return fmt.Errorf("%w: %q is not in the bundle", ErrUnexpectedSender, m.ClientID)
	}
	if _, dup := s.shareReports[m.ClientID]; dup {
		return fmt.Errorf("%w: encrypted shares from %q", ErrDuplicateMessage, m.ClientID)
	}
	if err := s.checkSharesReport(m); err != nil {
		return err
	}

	s.shareReports[m.ClientID] = m
	if len(s.shareReports) < len(s.bundle) {
		return nil
	}

	inboxes := make(map[string][]EncryptedShare, len(s.bundle))
	for _, r := range s.bundle {
		for _, share := range s.shareReports[r.ClientID].Shares {
			inboxes[share.To] = append(inboxes[share.To], share)
		}
	}

	s.stage = StageCiphertextAggregate
	for _, r := range s.bundle {
		fwd := &EncryptedSharesForward{From: s.id, Shares: inboxes[r.ClientID]}
		if err := s.sendLocked(ctx, s.clientAddress(r.ClientID), fwd); err != nil {
			return s.failLocked(err)
		}
	}
	s.markReadyLocked()
	s.armTimerLocked(s.cfg.AggregateTimeout, "aggregate")
	s.logger.Info("forwarded encrypted shares", "clients", len(s.bundle))
	return nil
}

// checkSharesReport requires exactly one share from the sender to every other
// bundle member.
func (s *DoubleMaskServer) checkSharesReport(m *EncryptedSharesReport) error {
	if len(m.Shares) != len(s.bundle)-1 {
		return fmt.Errorf("%w: %q sent %d shares for %d peers", ErrUnexpectedSender, m.ClientID, len(m.Shares), len(s.bundle)-1)
	}
	seen := make(map[string]struct{}, len(m.Shares))
	for _, share := range m.Shares {
		if share.From != m.ClientID {
			return fmt.Errorf("%w: %q relayed a share from %q", ErrUnexpectedSender, m.ClientID, share.From)
		}
		if _, ok := s.bundleIndex[share.To]; !ok || share.To == m.ClientID {
			return fmt.Errorf("%w: %q addressed a share to %q", ErrUnexpectedSender, m.ClientID, share.To)
		}
		if _, dup := seen[share.To]; dup {
			return fmt.Errorf("%w: %q sent two shares to %q", ErrDuplicateMessage, m.ClientID, share.To)
		}
		seen[share.To] = struct{}{}
	}
	return nil
}

// Accumulate adds a client's masked input to the aggregate.
func (s *DoubleMaskServer) Accumulate(clientID string, ciphertext *Accumulator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulateLocked(clientID, ciphertext)
}

func (s *DoubleMaskServer) accumulateLocked(clientID string, ciphertext *Accumulator) error {
	if err := s.expectStageLocked(StageCiphertextAggregate, string(TypeCiphertextReport)); err != nil {
		return err
	}
	if _, ok := s.bundleIndex[clientID]; !ok {
		return fmt.Errorf("%w: %q is not in the bundle", ErrUnexpectedSender, clientID)
	}
	if err := s.addLocked(clientID, ciphertext); err != nil {
		s.logger.Warn("rejected ciphertext", "client", clientID, "err", err)
		return err
	}
	s.logger.Debug("ciphertext accumulated", "client", clientID, "contributors", len(s.contributors))
	return nil
}

// WaitForCiphertexts blocks until want clients have contributed.
func (s *DoubleMaskServer) WaitForCiphertexts(ctx context.Context, want int) error {
	return s.waitForCiphertexts(ctx, s.base, want)
}

// Decrypt announces the alive set, collects the revealed shares and returns
// the unmasked sum of the alive clients' inputs. It may be called once.
func (s *DoubleMaskServer) Decrypt(ctx context.Context) (*Accumulator, error) {
	s.mu.Lock()
	if s.stage == StageFailed {
		s.mu.Unlock()
		return nil, s.Err()
	}
	if s.decryptRequested {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: decrypt already requested", ErrStageViolation)
	}
	if err := s.expectStageLocked(StageCiphertextAggregate, "decrypt"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.decryptRequested = true

	alive := s.sortedContributors()
	if len(alive) < s.cfg.Threshold {
		err := s.failLocked(fmt.Errorf("%w: %d alive clients, threshold is %d",
			ErrReconstructionFailure, len(alive), s.cfg.Threshold))
		s.mu.Unlock()
		return nil, err
	}

	s.alive = alive
	s.aliveSet = make(map[string]struct{}, len(alive))
	for _, id := range alive {
		s.aliveSet[id] = struct{}{}
	}
	s.stage = StageDecryptResult

	broadcast := &AliveClientsBroadcast{From: s.id, Alive: alive}
	for _, r := range s.bundle {
		err := s.sendLocked(ctx, s.clientAddress(r.ClientID), broadcast)
		if err == nil {
			continue
		}
		if _, ok := s.aliveSet[r.ClientID]; !ok {
			// Dropped clients are often unreachable.
			s.logger.Warn("alive set not delivered to dropped client", "client", r.ClientID, "err", err)
			continue
		}
		err = s.failLocked(err)
		s.mu.Unlock()
		return nil, err
	}
	s.logger.Info("broadcast alive set", "alive", len(alive), "dropped", len(s.bundle)-len(alive))
	s.mu.Unlock()

	select {
	case <-s.sharesDone:
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		s.mu.Lock()
		err := s.failLocked(fmt.Errorf("waiting for secret shares: %w", ctx.Err()))
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil, s.err
	}

	result, err := s.unmaskLocked()
	if err != nil {
		return nil, s.failLocked(err)
	}
	s.result = result
	s.finishLocked()
	return result.Clone(), nil
}

func (s *DoubleMaskServer) handleSecretSharesLocked(m *SecretSharesReport) error {
	if err := s.expectStageLocked(StageDecryptResult, string(TypeSecretSharesReport)); err != nil {
		return err
	}
	if _, ok := s.aliveSet[m.ClientID]; !ok {
		return fmt.Errorf("%w: %q is not alive", ErrUnexpectedSender, m.ClientID)
	}
	if _, dup := s.revealed[m.ClientID]; dup {
		return fmt.Errorf("%w: secret shares from %q", ErrDuplicateMessage, m.ClientID)
	}

	pos := big.NewInt(int64(s.bundleIndex[m.ClientID]))
	seen := make(map[string]struct{}, len(m.Shares))
	for _, rs := range m.Shares {
		if _, ok := s.bundleIndex[rs.ClientID]; !ok {
			return fmt.Errorf("%w: share of unknown client %q", ErrUnexpectedSender, rs.ClientID)
		}
		if _, dup := seen[rs.ClientID]; dup {
			return fmt.Errorf("%w: %q revealed two shares of %q", ErrDuplicateMessage, m.ClientID, rs.ClientID)
		}
		seen[rs.ClientID] = struct{}{}

		_, isAlive := s.aliveSet[rs.ClientID]
		if (isAlive && rs.Kind != ShareKindSelfMask) || (!isAlive && rs.Kind != ShareKindMaskKey) {
			return fmt.Errorf("%w: %q revealed a %s share of %q", ErrUnexpectedSender, m.ClientID, rs.Kind, rs.ClientID)
		}
		if rs.Share.X == nil || rs.Share.Y == nil || rs.Share.X.Cmp(pos) != 0 {
			return fmt.Errorf("%w: %q revealed a share at the wrong position", ErrUnexpectedSender, m.ClientID)
		}
	}

	s.revealed[m.ClientID] = m.Shares
	s.logger.Debug("secret shares received", "client", m.ClientID, "have", len(s.revealed), "want", len(s.alive))
	if len(s.revealed) == len(s.alive) {
		close(s.sharesDone)
	}
	return nil
}

// unmaskLocked computes
// acc - sum_alive G(b_a) + sum_{d dropped, a alive} sign(d, a) * G(agree(s_sk_d, s_pk_a)).
func (s *DoubleMaskServer) unmaskLocked() (*Accumulator, error) {
	byOwner := make(map[string][]crypto.Share)
	for _, reporter := range s.alive {
		for _, rs := range s.revealed[reporter] {
			byOwner[rs.ClientID] = append(byOwner[rs.ClientID], rs.Share)
		}
	}

	flat := s.acc.Flatten()

	for _, a := range s.alive {
		b, err := crypto.ReconstructSecret(byOwner[a], s.cfg.Threshold, crypto.ShareFieldOrder)
		if err != nil {
			return nil, fmt.Errorf("%w: self mask of %q: %v", ErrReconstructionFailure, a, err)
		}
		if err := addFloatMask(flat, b, -1); err != nil {
			return nil, err
		}
	}

	for _, d := range s.bundle {
		if _, isAlive := s.aliveSet[d.ClientID]; isAlive {
			continue
		}
		sk, err := crypto.ReconstructSecret(byOwner[d.ClientID], s.cfg.Threshold, crypto.ShareFieldOrder)
		if err != nil {
			return nil, fmt.Errorf("%w: mask key of %q: %v", ErrReconstructionFailure, d.ClientID, err)
		}
		if crypto.DHPublicValue(sk).Cmp(d.SPK) != 0 {
			return nil, fmt.Errorf("%w: reconstructed mask key of %q does not match its public key", ErrReconstructionFailure, d.ClientID)
		}

		for _, a := range s.alive {
			seed, err := crypto.Agree(sk, s.reports[a].SPK)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrReconstructionFailure, err)
			}
			if err := addFloatMask(flat, seed, crypto.MaskSign(d.ClientID, a)); err != nil {
				return nil, err
			}
		}
		s.logger.Info("recovered dropped client masks", "client", d.ClientID)
	}

	return s.acc.Unflatten(flat)
}

// Bundle returns the sorted public key bundle, once broadcast.
func (s *DoubleMaskServer) Bundle() []PublicKeyReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bundle)
}

// ReportedClients returns the ids that reported public keys so far.
func (s *DoubleMaskServer) ReportedClients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.reports))
	for id := range s.reports {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
