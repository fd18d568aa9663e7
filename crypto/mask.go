package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const maskInfo = "ssa-mask-v1"

// FloatMaskRange is the exclusive upper bound of NextFloat.
const FloatMaskRange = 1 << 16

// MaxMaskBits is the largest bit bound NextBounded accepts.
const MaxMaskBits = 62

// MaskGenerator is a deterministic pseudorandom stream seeded by a shared
// secret. Generators built from equal seeds yield identical sequences.
// A MaskGenerator is not safe for concurrent use.
type MaskGenerator struct {
	stream *chacha20.Cipher
	buf    [8]byte
}

// NewMaskGenerator keys a ChaCha20 keystream with HKDF-SHA256 of seed.
func NewMaskGenerator(seed *big.Int) (*MaskGenerator, error) {
	key := make([]byte, chacha20.KeySize)
	kdf := hkdf.New(sha256.New, seed.Bytes(), nil, []byte(maskInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive mask key: %w", err)
	}

	nonce := make([]byte, chacha20.NonceSize)
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("init mask stream: %w", err)
	}

	return &MaskGenerator{stream: stream}, nil
}

// NextUint64 returns the next 8 keystream bytes as a little-endian integer.
func (g *MaskGenerator) NextUint64() uint64 {
	clear(g.buf[:])
	g.stream.XORKeyStream(g.buf[:], g.buf[:])
	return binary.LittleEndian.Uint64(g.buf[:])
}

// NextFloat returns a value in [0, FloatMaskRange) with 53 bits of precision.
func (g *MaskGenerator) NextFloat() float64 {
	return float64(g.NextUint64()>>11) * 0x1p-53 * FloatMaskRange
}

// NextBounded returns an integer uniform in [-2^bits, 2^bits).
func (g *MaskGenerator) NextBounded(bits uint) int64 {
	if bits > MaxMaskBits {
		bits = MaxMaskBits
	}
	u := g.NextUint64() >> (63 - bits)
	return int64(u) - int64(1)<<bits
}

// Floats draws n consecutive NextFloat values.
func (g *MaskGenerator) Floats(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = g.NextFloat()
	}
	return out
}

// Bounded draws n consecutive NextBounded values as float64. Values stay
// exact because bits is capped below the float64 mantissa.
func (g *MaskGenerator) Bounded(n int, bits uint) []float64 {
	if bits > 52 {
		bits = 52
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(g.NextBounded(bits))
	}
	return out
}

// MaskSign returns +1 when from orders before to and -1 otherwise, so that
// the pairwise masks of a pair cancel in the sum.
func MaskSign(from, to string) float64 {
	if from < to {
		return 1
	}
	return -1
}
