package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
)

// Env is what a protocol instance needs from the process hosting it.
type Env struct {
	Registry  *Registry
	Transport Transport

	// Snapshots is optional. Clients persist their mask secrets into it once
	// share exchange completes.
	Snapshots SnapshotStore

	Logger *slog.Logger
}

// base carries the lifecycle every instance shares: stage, failure, timers
// and registration.
type base struct {
	mu sync.Mutex

	cfg    RoundConfig
	id     string
	role   Role
	env    Env
	logger *slog.Logger

	stage    Stage
	err      error
	started  bool
	finished bool

	ready chan struct{}
	done  chan struct{}

	timer    *time.Timer
	timerGen uint64
}

func newBase(cfg RoundConfig, id string, role Role, variant Variant, env Env) (*base, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if env.Registry == nil || env.Transport == nil {
		return nil, errors.New("registry and transport are required")
	}
	if role == RoleClient && !cfg.IsParticipant(id) {
		return nil, fmt.Errorf("%w: %q is not a participant", ErrInvalidConfig, id)
	}

	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &base{
		cfg:  cfg,
		id:   id,
		role: role,
		env:  env,
		logger: logger.With(
			"handle", cfg.Handle,
			"participant", id,
			"role", string(role),
			"variant", string(variant)),
		stage: StageExchangePublicKey,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}, nil
}

func (b *base) address() Address {
	return Address{Handle: b.cfg.Handle, Participant: b.id}
}

func (b *base) serverAddress() Address {
	return Address{Handle: b.cfg.Handle, Participant: b.cfg.ServerID}
}

func (b *base) clientAddress(clientID string) Address {
	return Address{Handle: b.cfg.Handle, Participant: clientID}
}

// startLocked registers self and arms the ready timer.
func (b *base) startLocked(self Instance) error {
	if b.started {
		return fmt.Errorf("%w: already started", ErrStageViolation)
	}
	if err := b.env.Registry.Register(b.cfg.Handle, b.id, self); err != nil {
		return err
	}
	b.started = true
	b.armTimerLocked(b.cfg.ReadyTimeout, "ready")
	b.logger.Info("instance started", "participants", len(b.cfg.Participants), "threshold", b.cfg.Threshold)
	return nil
}

func (b *base) armTimerLocked(d time.Duration, phase string) {
	b.stopTimerLocked()
	if d <= 0 {
		return
	}

	gen := b.timerGen
	b.timer = time.AfterFunc(d, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.timerGen != gen || b.finished {
			return
		}
		b.failLocked(fmt.Errorf("%w: %s phase exceeded %s in stage %s", ErrTimeout, phase, d, b.stage))
	})
}

func (b *base) stopTimerLocked() {
	b.timerGen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *base) markReadyLocked() {
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
}

// failLocked moves the instance to StageFailed and releases it. Only the
// first failure is kept.
func (b *base) failLocked(err error) error {
	if b.finished {
		return err
	}
	b.logger.Error("instance failed", "stage", b.stage.String(), "err", err)
	b.stage = StageFailed
	b.err = err
	b.releaseLocked()
	return err
}

// finishLocked releases an instance that completed its round.
func (b *base) finishLocked() {
	if b.finished {
		return
	}
	b.logger.Info("instance finished", "stage", b.stage.String())
	b.releaseLocked()
}

func (b *base) releaseLocked() {
	b.finished = true
	b.stopTimerLocked()
	if b.started {
		b.env.Registry.Unregister(b.cfg.Handle, b.id)
	}
	close(b.done)
}

// expectStageLocked rejects input outside the wanted stage without touching state.
func (b *base) expectStageLocked(want Stage, what string) error {
	if b.stage == want {
		return nil
	}
	err := fmt.Errorf("%w: %s in stage %s, want %s", ErrStageViolation, what, b.stage, want)
	if b.stage == StageFailed && b.err != nil {
		err = fmt.Errorf("%w: instance failed: %w", err, b.err)
	}
	b.logger.Warn("rejected input", "input", what, "stage", b.stage.String(), "want", want.String())
	return err
}

func (b *base) sendLocked(ctx context.Context, to Address, msg Message) error {
	if err := b.env.Transport.Send(ctx, to, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", TypeOf(msg), to, err)
	}
	return nil
}

// Stage returns the current stage.
func (b *base) Stage() Stage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stage
}

// Err returns the error that failed the instance, if any.
func (b *base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Done is closed once the instance has finished or failed and left the registry.
func (b *base) Done() <-chan struct{} {
	return b.done
}

// WaitReady blocks until the instance reached its aggregation stage, failed,
// or ctx ended.
func (b *base) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	default:
	}

	select {
	case <-b.ready:
		return nil
	case <-b.done:
		if err := b.Err(); err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acceptBundleLocked validates a public key bundle from the server and
// indexes it by client id.
func (b *base) acceptBundleLocked(msg *PublicKeyBroadcast, own PublicKeyReport, withCPK bool) (map[string]PublicKeyReport, error) {
	if msg.From != b.cfg.ServerID {
		return nil, fmt.Errorf("%w: bundle from %q", ErrUnexpectedSender, msg.From)
	}
	if len(msg.Reports) < b.cfg.Threshold {
		return nil, fmt.Errorf("%w: bundle has %d clients, threshold is %d", ErrInsufficientParticipants, len(msg.Reports), b.cfg.Threshold)
	}

	peers := make(map[string]PublicKeyReport, len(msg.Reports))
	for i, r := range msg.Reports {
		if i > 0 && msg.Reports[i-1].ClientID >= r.ClientID {
			return nil, fmt.Errorf("%w: bundle not sorted at %q", ErrInsufficientParticipants, r.ClientID)
		}
		if !b.cfg.IsParticipant(r.ClientID) {
			return nil, fmt.Errorf("%w: bundle names unknown client %q", ErrUnexpectedSender, r.ClientID)
		}
		if err := validateReportKeys(&r, withCPK); err != nil {
			return nil, fmt.Errorf("%w: client %q: %v", ErrInsufficientParticipants, r.ClientID, err)
		}
		peers[r.ClientID] = r
	}

	mine, ok := peers[b.id]
	if !ok {
		return nil, fmt.Errorf("%w: own keys missing from bundle", ErrInsufficientParticipants)
	}
	if mine.SPK.Cmp(own.SPK) != 0 || (withCPK && mine.CPK.Cmp(own.CPK) != 0) {
		return nil, fmt.Errorf("%w: bundle carries different keys for this client", ErrInsufficientParticipants)
	}
	return peers, nil
}

func validateReportKeys(r *PublicKeyReport, withCPK bool) error {
	if err := crypto.ValidateDHPublicValue(r.SPK); err != nil {
		return fmt.Errorf("s_pk: %w", err)
	}
	if withCPK {
		if err := crypto.ValidateDHPublicValue(r.CPK); err != nil {
			return fmt.Errorf("c_pk: %w", err)
		}
	} else if r.CPK != nil {
		return errors.New("c_pk set in single-mask round")
	}
	return nil
}

// derivePairwiseSeeds agrees a mask seed with every other bundle member.
func derivePairwiseSeeds(self string, secret *big.Int, bundle []PublicKeyReport) ([]PairwiseSeed, error) {
	seeds := make([]PairwiseSeed, 0, len(bundle)-1)
	for _, peer := range bundle {
		if peer.ClientID == self {
			continue
		}
		seed, err := crypto.Agree(secret, peer.SPK)
		if err != nil {
			return nil, fmt.Errorf("agree with %q: %w", peer.ClientID, err)
		}
		seeds = append(seeds, PairwiseSeed{PeerID: peer.ClientID, Seed: seed})
	}
	return seeds, nil
}

func sortedReports(reports map[string]PublicKeyReport) []PublicKeyReport {
	ids := slices.Sorted(maps.Keys(reports))
	out := make([]PublicKeyReport, len(ids))
	for i, id := range ids {
		out[i] = reports[id]
	}
	return out
}
