package services

import (
	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/protocol"
)

// PeerInfo locates a participant: the node endpoint that hosts it and the
// key that node signs its messages with.
type PeerInfo struct {
	ParticipantID string `json:"participant_id" yaml:"participant_id"`
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	PublicKey     string `json:"public_key" yaml:"public_key"`
}

// ParsePublicKey returns the parsed signing public key.
func (p *PeerInfo) ParsePublicKey() (crypto.PublicKey, error) {
	return crypto.NewPublicKeyFromString(p.PublicKey)
}

// PeerListResponse lists every known peer.
type PeerListResponse struct {
	Peers []*PeerInfo `json:"peers"`
}

// PeerRegistrationResponse confirms a directory registration.
type PeerRegistrationResponse struct {
	Success       bool   `json:"success"`
	ParticipantID string `json:"participant_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// StartServerRequest asks a node to host the server of a round.
type StartServerRequest struct {
	Variant protocol.Variant     `json:"variant"`
	Round   protocol.RoundConfig `json:"round"`
}

// StartClientRequest asks a node to host one client of a round.
type StartClientRequest struct {
	Variant       protocol.Variant     `json:"variant"`
	ParticipantID string               `json:"participant_id"`
	Round         protocol.RoundConfig `json:"round"`
}

// ContributeRequest carries a client's private input.
type ContributeRequest struct {
	Input *protocol.Accumulator `json:"input"`
}

// DecryptRequest optionally makes the server wait for a number of
// ciphertexts before unmasking.
type DecryptRequest struct {
	MinContributors int `json:"min_contributors,omitempty"`
}

// InstanceStatus describes one hosted instance.
type InstanceStatus struct {
	Handle      string           `json:"handle"`
	Participant string           `json:"participant"`
	Role        protocol.Role    `json:"role"`
	Variant     protocol.Variant `json:"variant"`
	Stage       string           `json:"stage"`
	Error       string           `json:"error,omitempty"`
}

// ResultResponse carries a decrypted aggregate.
type ResultResponse struct {
	Handle       string                `json:"handle"`
	Contributors []string              `json:"contributors"`
	Result       *protocol.Accumulator `json:"result"`
}
