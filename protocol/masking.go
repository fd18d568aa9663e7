package protocol

import (
	"fmt"
	"math"
	"math/big"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
)

// addFloatMask adds sign * G(seed).NextFloat() to every element.
func addFloatMask(flat []float64, seed *big.Int, sign float64) error {
	g, err := crypto.NewMaskGenerator(seed)
	if err != nil {
		return err
	}
	for i := range flat {
		flat[i] += sign * g.NextFloat()
	}
	return nil
}

// addBoundedMask adds sign * G(seed).NextBounded(bits) to every element.
func addBoundedMask(flat []float64, seed *big.Int, sign float64, bits uint) error {
	g, err := crypto.NewMaskGenerator(seed)
	if err != nil {
		return err
	}
	for i := range flat {
		flat[i] += sign * float64(g.NextBounded(bits))
	}
	return nil
}

// encodeFixedPoint scales and rounds every element to an integer.
func encodeFixedPoint(flat []float64, multiplier float64) error {
	for i, x := range flat {
		v := math.Round(x * multiplier)
		if math.IsNaN(v) || math.Abs(v) >= 1<<53 {
			return fmt.Errorf("element %d (%v) does not fit fixed-point encoding", i, x)
		}
		flat[i] = v
	}
	return nil
}
