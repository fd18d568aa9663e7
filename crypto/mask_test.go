package crypto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskGeneratorDeterminism(t *testing.T) {
	seed, ok := new(big.Int).SetString("123456789abcdef0123456789abcdef", 16)
	require.True(t, ok)

	g1, err := NewMaskGenerator(seed)
	require.NoError(t, err)
	g2, err := NewMaskGenerator(new(big.Int).Set(seed))
	require.NoError(t, err)

	for i := 0; i < 10000; i++ {
		switch i % 3 {
		case 0:
			require.Equal(t, g1.NextUint64(), g2.NextUint64(), "draw %d", i)
		case 1:
			require.Equal(t, g1.NextFloat(), g2.NextFloat(), "draw %d", i)
		default:
			require.Equal(t, g1.NextBounded(40), g2.NextBounded(40), "draw %d", i)
		}
	}
}

func TestMaskGeneratorSeedsDiverge(t *testing.T) {
	g1, err := NewMaskGenerator(big.NewInt(1))
	require.NoError(t, err)
	g2, err := NewMaskGenerator(big.NewInt(2))
	require.NoError(t, err)

	same := 0
	for i := 0; i < 64; i++ {
		if g1.NextUint64() == g2.NextUint64() {
			same++
		}
	}
	require.Less(t, same, 2)
}

func TestMaskGeneratorRanges(t *testing.T) {
	g, err := NewMaskGenerator(big.NewInt(42))
	require.NoError(t, err)

	for i := 0; i < 5000; i++ {
		f := g.NextFloat()
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, float64(FloatMaskRange))
	}

	for _, bits := range []uint{1, 8, 40, MaxMaskBits} {
		lo, hi := -(int64(1) << bits), int64(1)<<bits
		sawNegative := false
		for i := 0; i < 2000; i++ {
			v := g.NextBounded(bits)
			require.GreaterOrEqual(t, v, lo)
			require.Less(t, v, hi)
			sawNegative = sawNegative || v < 0
		}
		require.True(t, sawNegative, "bits=%d", bits)
	}
}

func TestMaskGeneratorBatchMatchesSingleDraws(t *testing.T) {
	g1, err := NewMaskGenerator(big.NewInt(7))
	require.NoError(t, err)
	g2, err := NewMaskGenerator(big.NewInt(7))
	require.NoError(t, err)

	batch := g1.Floats(17)
	for i := range batch {
		require.Equal(t, g2.NextFloat(), batch[i])
	}

	bounded := g1.Bounded(9, 40)
	for i := range bounded {
		require.Equal(t, float64(g2.NextBounded(40)), bounded[i])
	}
}

func TestPairwiseMasksCancel(t *testing.T) {
	u, err := GenerateDHKeyPair()
	require.NoError(t, err)
	v, err := GenerateDHKeyPair()
	require.NoError(t, err)

	uv, err := Agree(u.Secret, v.Public)
	require.NoError(t, err)
	vu, err := Agree(v.Secret, u.Public)
	require.NoError(t, err)

	gu, err := NewMaskGenerator(uv)
	require.NoError(t, err)
	gv, err := NewMaskGenerator(vu)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		sum := MaskSign("alice", "bob")*float64(gu.NextBounded(40)) +
			MaskSign("bob", "alice")*float64(gv.NextBounded(40))
		require.Zero(t, sum)
	}
}
