package protocol

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// SingleMaskServer is the aggregating side of a single-mask round. It can only
// decrypt when every client that reported keys also contributed.
type SingleMaskServer struct {
	*base
	aggregation

	reports map[string]PublicKeyReport
	bundle  []PublicKeyReport
}

func NewSingleMaskServer(cfg RoundConfig, env Env) (*SingleMaskServer, error) {
	b, err := newBase(cfg, cfg.ServerID, RoleServer, VariantSingleMask, env)
	if err != nil {
		return nil, err
	}
	return &SingleMaskServer{
		base:        b,
		aggregation: newAggregation(),
		reports:     make(map[string]PublicKeyReport),
	}, nil
}

// Start registers the server so clients can report their keys.
func (s *SingleMaskServer) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(s)
}

func (s *SingleMaskServer) HandleMessage(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *PublicKeyReport:
		return s.handleKeyReportLocked(ctx, m)
	case *CiphertextReport:
		return s.accumulateLocked(m.ClientID, m.Ciphertext)
	default:
		s.logger.Warn("unexpected message", "type", string(TypeOf(msg)), "from", msg.Sender())
		return fmt.Errorf("%w: single-mask server does not accept %s", ErrStageViolation, TypeOf(msg))
	}
}

func (s *SingleMaskServer) handleKeyReportLocked(ctx context.Context, m *PublicKeyReport) error {
	if err := s.expectStageLocked(StageExchangePublicKey, string(TypePublicKeyReport)); err != nil {
		return err
	}
	if !s.cfg.IsParticipant(m.ClientID) {
		return fmt.Errorf("%w: %q is not a participant", ErrUnexpectedSender, m.ClientID)
	}
	if _, dup := s.reports[m.ClientID]; dup {
		return fmt.Errorf("%w: public key from %q", ErrDuplicateMessage, m.ClientID)
	}
	if err := validateReportKeys(m, false); err != nil {
		return fmt.Errorf("rejecting key from %q: %w", m.ClientID, err)
	}

	s.reports[m.ClientID] = *m
	if len(s.reports) < len(s.cfg.Participants) {
		return nil
	}

	s.bundle = sortedReports(s.reports)
	s.stage = StageCiphertextAggregate

	broadcast := &PublicKeyBroadcast{From: s.id, Reports: s.bundle}
	for _, r := range s.bundle {
		if err := s.sendLocked(ctx, s.clientAddress(r.ClientID), broadcast); err != nil {
			return s.failLocked(err)
		}
	}
	s.markReadyLocked()
	s.armTimerLocked(s.cfg.AggregateTimeout, "aggregate")
	s.logger.Info("broadcast public key bundle", "clients", len(s.bundle))
	return nil
}

// Accumulate adds a client's masked input to the aggregate.
func (s *SingleMaskServer) Accumulate(clientID string, ciphertext *Accumulator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accumulateLocked(clientID, ciphertext)
}

func (s *SingleMaskServer) accumulateLocked(clientID string, ciphertext *Accumulator) error {
	if err := s.expectStageLocked(StageCiphertextAggregate, string(TypeCiphertextReport)); err != nil {
		return err
	}
	if _, ok := s.reports[clientID]; !ok {
		return fmt.Errorf("%w: %q did not report a key", ErrUnexpectedSender, clientID)
	}
	if err := s.addLocked(clientID, ciphertext); err != nil {
		s.logger.Warn("rejected ciphertext", "client", clientID, "err", err)
		return err
	}
	return nil
}

// WaitForCiphertexts blocks until want clients have contributed.
func (s *SingleMaskServer) WaitForCiphertexts(ctx context.Context, want int) error {
	return s.waitForCiphertexts(ctx, s.base, want)
}

// Decrypt returns the sum of all inputs. Every key reporter must have
// contributed, since a missing client's pairwise masks cannot be removed.
func (s *SingleMaskServer) Decrypt(_ context.Context) (*Accumulator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == StageFailed {
		return nil, s.err
	}
	if s.decryptRequested {
		return nil, fmt.Errorf("%w: decrypt already requested", ErrStageViolation)
	}
	if err := s.expectStageLocked(StageCiphertextAggregate, "decrypt"); err != nil {
		return nil, err
	}
	s.decryptRequested = true

	reporters := slices.Sorted(maps.Keys(s.reports))
	contributors := s.sortedContributors()
	if !slices.Equal(reporters, contributors) {
		return nil, s.failLocked(fmt.Errorf("%w: %d reported keys, %d contributed",
			ErrContributorMismatch, len(reporters), len(contributors)))
	}

	result := s.acc.Clone()
	multiplier := s.cfg.Multiplier
	result.Apply(func(x float64) float64 { return x / multiplier })

	s.stage = StageDecryptResult
	s.result = result
	s.finishLocked()
	return result.Clone(), nil
}
