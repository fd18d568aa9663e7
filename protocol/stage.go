package protocol

// Stage is the position of a protocol instance in its round.
// Instances only move forward, or to StageFailed.
type Stage int

const (
	StageExchangePublicKey Stage = iota
	StageExchangeEncryptedShare
	StageCiphertextAggregate
	StageDecryptResult
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageExchangePublicKey:
		return "exchange_public_key"
	case StageExchangeEncryptedShare:
		return "exchange_encrypted_share"
	case StageCiphertextAggregate:
		return "ciphertext_aggregate"
	case StageDecryptResult:
		return "decrypt_result"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Role names the side of the protocol an instance plays.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Variant selects the masking scheme of a round.
type Variant string

const (
	VariantDoubleMask Variant = "double_mask"
	VariantSingleMask Variant = "single_mask"
)
