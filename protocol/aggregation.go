package protocol

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// aggregation is the ciphertext bookkeeping both server variants share.
// Its fields are guarded by the owning instance's lock.
type aggregation struct {
	acc          *Accumulator
	contributors map[string]struct{}

	decryptRequested bool
	result           *Accumulator

	// notify is closed and replaced on every accepted ciphertext.
	notify chan struct{}
}

func newAggregation() aggregation {
	return aggregation{
		contributors: make(map[string]struct{}),
		notify:       make(chan struct{}),
	}
}

func (g *aggregation) addLocked(clientID string, ciphertext *Accumulator) error {
	if ciphertext == nil {
		return fmt.Errorf("%w: empty ciphertext from %q", ErrTypeMismatch, clientID)
	}
	if err := ciphertext.validate(); err != nil {
		return err
	}
	if _, dup := g.contributors[clientID]; dup {
		return fmt.Errorf("%w: ciphertext from %q", ErrDuplicateMessage, clientID)
	}

	if g.acc == nil {
		g.acc = ciphertext.Clone()
	} else if err := g.acc.AddInplace(ciphertext); err != nil {
		return err
	}

	g.contributors[clientID] = struct{}{}
	close(g.notify)
	g.notify = make(chan struct{})
	return nil
}

func (g *aggregation) sortedContributors() []string {
	return slices.Sorted(maps.Keys(g.contributors))
}

func (g *aggregation) waitForCiphertexts(ctx context.Context, b *base, want int) error {
	for {
		b.mu.Lock()
		have := len(g.contributors)
		finished, err := b.finished, b.err
		ch := g.notify
		b.mu.Unlock()

		if have >= want {
			return nil
		}
		if err != nil {
			return err
		}
		if finished {
			return fmt.Errorf("%w: round finished with %d of %d ciphertexts", ErrStageViolation, have, want)
		}

		select {
		case <-ch:
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Contributors returns the ids whose ciphertext was accumulated.
func (s *DoubleMaskServer) Contributors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedContributors()
}

// Result returns the decrypted aggregate once Decrypt has succeeded.
func (s *DoubleMaskServer) Result() (*Accumulator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return resultLocked(s.base, &s.aggregation)
}

// Contributors returns the ids whose ciphertext was accumulated.
func (s *SingleMaskServer) Contributors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedContributors()
}

// Result returns the decrypted aggregate once Decrypt has succeeded.
func (s *SingleMaskServer) Result() (*Accumulator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return resultLocked(s.base, &s.aggregation)
}

func resultLocked(b *base, g *aggregation) (*Accumulator, error) {
	if g.result != nil {
		return g.result.Clone(), nil
	}
	if b.err != nil {
		return nil, b.err
	}
	return nil, ErrResultPending
}
