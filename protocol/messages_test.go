package protocol

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeDecodesEveryMessageType(t *testing.T) {
	share := crypto.Share{X: big.NewInt(2), Y: big.NewInt(12345)}
	messages := []Message{
		&PublicKeyReport{ClientID: "a", CPK: big.NewInt(5), SPK: big.NewInt(7)},
		&PublicKeyBroadcast{From: "server", Reports: []PublicKeyReport{{ClientID: "a", SPK: big.NewInt(7)}}},
		&EncryptedSharesReport{ClientID: "a", Shares: []EncryptedShare{{From: "a", To: "b", Ciphertext: []byte{1, 2}}}},
		&EncryptedSharesForward{From: "server", Shares: []EncryptedShare{{From: "a", To: "b", Ciphertext: []byte{3}}}},
		&CiphertextReport{ClientID: "a", Ciphertext: NewVector([]float64{1.5, 2})},
		&AliveClientsBroadcast{From: "server", Alive: []string{"a", "b"}},
		&SecretSharesReport{ClientID: "b", Shares: []RevealedShare{{ClientID: "a", Kind: ShareKindSelfMask, Share: share}}},
	}

	dest := Address{Handle: "round-1", Participant: "b"}
	for _, msg := range messages {
		env, err := NewEnvelope(dest, msg)
		require.NoError(t, err)
		require.Equal(t, TypeOf(msg), env.Type)

		data, err := json.Marshal(env)
		require.NoError(t, err)
		decoded, err := UnmarshalMessage[Envelope](data)
		require.NoError(t, err)
		require.Equal(t, dest, decoded.Destination)

		got, err := decoded.Message()
		require.NoError(t, err)
		require.Equal(t, msg, got)
		require.Equal(t, msg.Sender(), got.Sender())
	}

	_, err := (&Envelope{Type: "bogus", Payload: []byte("{}")}).Message()
	require.Error(t, err)
}

func TestSignedEnvelope(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	env, err := NewEnvelope(Address{Handle: "h", Participant: "server"}, &AliveClientsBroadcast{From: "server", Alive: []string{"a"}})
	require.NoError(t, err)

	signed, err := NewSigned(sk, env)
	require.NoError(t, err)

	obj, signer, err := signed.Recover()
	require.NoError(t, err)
	require.Equal(t, env, obj)
	pk, err := sk.PublicKey()
	require.NoError(t, err)
	require.True(t, signer.Equal(pk))

	signed.Object.Destination.Participant = "someone-else"
	_, _, err = signed.Recover()
	require.Error(t, err)
}
