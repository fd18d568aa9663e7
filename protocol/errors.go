package protocol

import (
	"errors"
	"fmt"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
)

var (
	// ErrStageViolation is returned for a message or call that does not belong
	// to the instance's current stage. The offending input is never applied.
	ErrStageViolation = errors.New("stage violation")

	// ErrInsufficientParticipants is returned when fewer than threshold clients
	// remain, or when a client is missing from the public key bundle.
	ErrInsufficientParticipants = errors.New("insufficient participants")

	// ErrReconstructionFailure is returned when the server cannot recover the
	// secrets needed to unmask the aggregate.
	ErrReconstructionFailure = errors.New("secret reconstruction failed")

	// ErrTimeout is returned when a stage did not complete in time.
	ErrTimeout = errors.New("protocol timeout")

	// ErrDecryptionFailure is returned when an encrypted share cannot be opened
	// or names the wrong sender or recipient.
	ErrDecryptionFailure = fmt.Errorf("share decryption failed: %w", crypto.ErrDecryption)

	// ErrTypeMismatch is returned when accumulators of different shapes are combined.
	ErrTypeMismatch = errors.New("accumulator type mismatch")

	// ErrContributorMismatch is returned by single-mask decryption when the
	// clients that contributed differ from the clients that reported keys.
	ErrContributorMismatch = errors.New("contributors differ from key reporters")

	// ErrUnknownInstance is returned when no instance is registered at an address.
	ErrUnknownInstance = errors.New("unknown protocol instance")

	// ErrDuplicateInstance is returned when an address is registered twice.
	ErrDuplicateInstance = errors.New("protocol instance already registered")

	// ErrInvalidConfig is returned for unusable round configurations.
	ErrInvalidConfig = errors.New("invalid round config")

	// ErrUnexpectedSender is returned for messages from a party that has no
	// role in the current stage.
	ErrUnexpectedSender = errors.New("unexpected sender")

	// ErrDuplicateMessage is returned when a party reports the same message twice.
	ErrDuplicateMessage = errors.New("duplicate message")
)

// ErrResultPending is returned by Result before the server has decrypted.
var ErrResultPending = errors.New("result not available yet")
