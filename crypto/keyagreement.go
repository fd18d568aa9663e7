package crypto

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// DHPrime is the RFC 3526 2048-bit MODP group (group 14) safe prime.
var DHPrime = mustParseHex(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
		"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
		"15728E5A8AACAA68FFFFFFFFFFFFFFFF")

// DHGenerator is the generator of the RFC 3526 MODP groups.
var DHGenerator = big.NewInt(2)

// DHSecretBits is the bit length of generated secret exponents.
const DHSecretBits = 256

var errInvalidPublicValue = errors.New("dh public value out of range")

func mustParseHex(h string) *big.Int {
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		panic("crypto: invalid hex constant")
	}
	return v
}

// DHKeyPair holds a secret exponent and the matching public value.
type DHKeyPair struct {
	Secret *big.Int
	Public *big.Int
}

// GenerateDHKeyPair draws a secret exponent uniformly from [2, 2^DHSecretBits)
// and returns it with g^secret mod p.
func GenerateDHKeyPair() (*DHKeyPair, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), DHSecretBits)
	limit.Sub(limit, big.NewInt(2))

	secret, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, err
	}
	secret.Add(secret, big.NewInt(2))

	return &DHKeyPair{
		Secret: secret,
		Public: DHPublicValue(secret),
	}, nil
}

// DHPublicValue returns g^secret mod p.
func DHPublicValue(secret *big.Int) *big.Int {
	return new(big.Int).Exp(DHGenerator, secret, DHPrime)
}

// Agree returns peerPublic^secret mod p.
// The result is symmetric: Agree(sk_u, pk_v) == Agree(sk_v, pk_u).
func Agree(secret *big.Int, peerPublic *big.Int) (*big.Int, error) {
	if err := ValidateDHPublicValue(peerPublic); err != nil {
		return nil, err
	}
	return new(big.Int).Exp(peerPublic, secret, DHPrime), nil
}

// ValidateDHPublicValue rejects values outside (1, p-1), which would force the
// agreed secret into a trivial subgroup.
func ValidateDHPublicValue(pk *big.Int) error {
	if pk == nil {
		return errInvalidPublicValue
	}
	upper := new(big.Int).Sub(DHPrime, big.NewInt(1))
	if pk.Cmp(big.NewInt(1)) <= 0 || pk.Cmp(upper) >= 0 {
		return errInvalidPublicValue
	}
	return nil
}
