package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
)

// Signed wraps a message with Ed25519 signature for authentication.
type Signed[T any] struct {
	PublicKey crypto.PublicKey `json:"public_key"`
	Signature crypto.Signature `json:"signature"`
	Object    *T               `json:"object"`
}

// NewSigned creates an authenticated message by signing the serialized object and public key.
func NewSigned[T any](privkey crypto.PrivateKey, obj *T) (*Signed[T], error) {
	pubkey, err := privkey.PublicKey()
	if err != nil {
		return nil, err
	}

	serializedData, err := SerializeMessage(obj)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(privkey, append(serializedData, pubkey...))
	if err != nil {
		return nil, err
	}

	return &Signed[T]{
		PublicKey: pubkey,
		Signature: signature,
		Object:    obj,
	}, nil
}

// UnsafeObject returns the wrapped object without verifying the signature.
func (s *Signed[T]) UnsafeObject() *T {
	return s.Object
}

// Recover verifies the signature and returns the authenticated object with signer's public key.
func (s *Signed[T]) Recover() (*T, crypto.PublicKey, error) {
	serializedData, err := SerializeMessage(s.Object)
	if err != nil {
		return nil, nil, err
	}

	ok := s.Signature.Verify(s.PublicKey, append(serializedData, s.PublicKey...))
	if !ok {
		return nil, nil, errors.New("signature not valid")
	}

	return s.Object, s.PublicKey, nil
}

// Message is a protocol message. The set of implementations is closed.
type Message interface {
	// Sender is the participant id of the party that produced the message.
	Sender() string

	messageType() MessageType
}

// MessageType tags a message on the wire.
type MessageType string

const (
	TypePublicKeyReport        MessageType = "public_key_report"
	TypePublicKeyBroadcast     MessageType = "public_key_broadcast"
	TypeEncryptedSharesReport  MessageType = "encrypted_shares_report"
	TypeEncryptedSharesForward MessageType = "encrypted_shares_forward"
	TypeCiphertextReport       MessageType = "ciphertext_report"
	TypeAliveClientsBroadcast  MessageType = "alive_clients_broadcast"
	TypeSecretSharesReport     MessageType = "secret_shares_report"
)

// PublicKeyReport carries a client's DH public values. CPK is only set for
// double-mask rounds.
type PublicKeyReport struct {
	ClientID string   `json:"client_id"`
	CPK      *big.Int `json:"c_pk,omitempty"`
	SPK      *big.Int `json:"s_pk"`
}

// PublicKeyBroadcast is the bundle of all reported keys, sorted by client id.
type PublicKeyBroadcast struct {
	From    string            `json:"from"`
	Reports []PublicKeyReport `json:"reports"`
}

// EncryptedShare is one client's shares for one peer, sealed under their
// agreed envelope key.
type EncryptedShare struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Ciphertext []byte `json:"ciphertext"`
}

// EncryptedSharesReport carries a client's sealed shares for every peer.
type EncryptedSharesReport struct {
	ClientID string           `json:"client_id"`
	Shares   []EncryptedShare `json:"shares"`
}

// EncryptedSharesForward carries the sealed shares addressed to one client.
type EncryptedSharesForward struct {
	From   string           `json:"from"`
	Shares []EncryptedShare `json:"shares"`
}

// CiphertextReport carries a client's masked input.
type CiphertextReport struct {
	ClientID   string       `json:"client_id"`
	Ciphertext *Accumulator `json:"ciphertext"`
}

// AliveClientsBroadcast names the clients whose ciphertext was aggregated.
type AliveClientsBroadcast struct {
	From  string   `json:"from"`
	Alive []string `json:"alive"`
}

// ShareKind says which secret a revealed share belongs to.
type ShareKind string

const (
	// ShareKindSelfMask is a share of an alive client's self-mask seed b.
	ShareKindSelfMask ShareKind = "b"

	// ShareKindMaskKey is a share of a dropped client's mask agreement secret.
	ShareKindMaskKey ShareKind = "s_sk"
)

// RevealedShare is a share a client received from ClientID, now handed to
// the server.
type RevealedShare struct {
	ClientID string       `json:"client_id"`
	Kind     ShareKind    `json:"kind"`
	Share    crypto.Share `json:"share"`
}

// SecretSharesReport carries the shares a surviving client reveals.
type SecretSharesReport struct {
	ClientID string          `json:"client_id"`
	Shares   []RevealedShare `json:"shares"`
}

func (m *PublicKeyReport) Sender() string        { return m.ClientID }
func (m *PublicKeyBroadcast) Sender() string     { return m.From }
func (m *EncryptedSharesReport) Sender() string  { return m.ClientID }
func (m *EncryptedSharesForward) Sender() string { return m.From }
func (m *CiphertextReport) Sender() string       { return m.ClientID }
func (m *AliveClientsBroadcast) Sender() string  { return m.From }
func (m *SecretSharesReport) Sender() string     { return m.ClientID }

func (*PublicKeyReport) messageType() MessageType        { return TypePublicKeyReport }
func (*PublicKeyBroadcast) messageType() MessageType     { return TypePublicKeyBroadcast }
func (*EncryptedSharesReport) messageType() MessageType  { return TypeEncryptedSharesReport }
func (*EncryptedSharesForward) messageType() MessageType { return TypeEncryptedSharesForward }
func (*CiphertextReport) messageType() MessageType       { return TypeCiphertextReport }
func (*AliveClientsBroadcast) messageType() MessageType  { return TypeAliveClientsBroadcast }
func (*SecretSharesReport) messageType() MessageType     { return TypeSecretSharesReport }

// TypeOf returns the wire tag of msg.
func TypeOf(msg Message) MessageType {
	return msg.messageType()
}

// Address names one protocol instance: a participant within a round.
type Address struct {
	Handle      string `json:"handle"`
	Participant string `json:"participant"`
}

func (a Address) String() string {
	return a.Handle + "/" + a.Participant
}

// Envelope is the transport encoding of a routed message.
type Envelope struct {
	Type        MessageType     `json:"type"`
	Destination Address         `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope encodes msg for delivery to dest.
func NewEnvelope(dest Address, msg Message) (*Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.messageType(), err)
	}
	return &Envelope{
		Type:        msg.messageType(),
		Destination: dest,
		Payload:     payload,
	}, nil
}

// Message decodes the payload according to the envelope type.
func (e *Envelope) Message() (Message, error) {
	var msg Message
	switch e.Type {
	case TypePublicKeyReport:
		msg = &PublicKeyReport{}
	case TypePublicKeyBroadcast:
		msg = &PublicKeyBroadcast{}
	case TypeEncryptedSharesReport:
		msg = &EncryptedSharesReport{}
	case TypeEncryptedSharesForward:
		msg = &EncryptedSharesForward{}
	case TypeCiphertextReport:
		msg = &CiphertextReport{}
	case TypeAliveClientsBroadcast:
		msg = &AliveClientsBroadcast{}
	case TypeSecretSharesReport:
		msg = &SecretSharesReport{}
	default:
		return nil, fmt.Errorf("unknown message type %q", e.Type)
	}

	if err := json.Unmarshal(e.Payload, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return msg, nil
}

// UnmarshalMessage deserializes a message from JSON bytes.
func UnmarshalMessage[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// DecodeMessage deserializes a message from a JSON reader.
func DecodeMessage[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}

// SerializeMessage serializes a message to JSON bytes.
func SerializeMessage[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}
