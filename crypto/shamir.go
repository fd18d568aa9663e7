package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrNotEnoughShares is returned when fewer than threshold shares are given.
	ErrNotEnoughShares = errors.New("not enough shares to reconstruct secret")

	// ErrInvalidShares is returned for duplicate or zero x coordinates.
	ErrInvalidShares = errors.New("invalid shares")
)

// Share is a single point (X, Y) on a sharing polynomial.
type Share struct {
	X *big.Int `json:"x"`
	Y *big.Int `json:"y"`
}

// RandomPolynomialEvals generates a random polynomial of given degree that evaluates
// to evalAtZero at x=0, and returns its evaluations at the given x values
func RandomPolynomialEvals(deg int, xs []*big.Int, evalAtZero *big.Int, fieldOrder *big.Int) ([]*big.Int, error) {
	as := make([]*big.Int, deg+1)
	as[0] = new(big.Int).Mod(evalAtZero, fieldOrder)

	for i := 1; i <= deg; i++ {
		a, err := rand.Int(rand.Reader, fieldOrder)
		if err != nil {
			return nil, err
		}
		as[i] = a
	}

	// Horner's rule
	ys := make([]*big.Int, len(xs))
	for i := range xs {
		y := new(big.Int).Set(as[deg])
		for j := deg - 1; j >= 0; j-- {
			FieldMulInplace(y, xs[i], fieldOrder)
			FieldAddInplace(y, as[j], fieldOrder)
		}
		ys[i] = y
	}

	return ys, nil
}

// LagrangeInterpolation evaluates at x the unique polynomial of degree
// len(xs)-1 passing through (xs[i], ys[i]). A nil x evaluates at zero.
func LagrangeInterpolation(xs []*big.Int, ys []*big.Int, x *big.Int, fieldOrder *big.Int) *big.Int {
	if x == nil {
		x = big.NewInt(0)
	}

	result := big.NewInt(0)
	num := new(big.Int)
	den := new(big.Int)
	tmp := new(big.Int)

	for i := range xs {
		num.SetInt64(1)
		den.SetInt64(1)
		for j := range xs {
			if i == j {
				continue
			}
			tmp.Sub(x, xs[j])
			FieldMulInplace(num, tmp.Mod(tmp, fieldOrder), fieldOrder)
			tmp.Sub(xs[i], xs[j])
			FieldMulInplace(den, tmp.Mod(tmp, fieldOrder), fieldOrder)
		}

		term := new(big.Int).ModInverse(den, fieldOrder)
		if term == nil {
			// Only possible with duplicate xs, which callers reject.
			return nil
		}
		FieldMulInplace(term, num, fieldOrder)
		FieldMulInplace(term, ys[i], fieldOrder)
		FieldAddInplace(result, term, fieldOrder)
	}

	return result
}

// SplitSecret shares secret among holders at x = 1..n so that any threshold
// of them reconstruct it.
func SplitSecret(secret *big.Int, threshold, n int, fieldOrder *big.Int) ([]Share, error) {
	if threshold < 1 || threshold > n {
		return nil, fmt.Errorf("invalid threshold %d for %d shares", threshold, n)
	}
	if secret.Sign() < 0 || secret.Cmp(fieldOrder) >= 0 {
		return nil, errors.New("secret out of field range")
	}

	xs := make([]*big.Int, n)
	for i := range xs {
		xs[i] = big.NewInt(int64(i + 1))
	}

	ys, err := RandomPolynomialEvals(threshold-1, xs, secret, fieldOrder)
	if err != nil {
		return nil, err
	}

	shares := make([]Share, n)
	for i := range shares {
		shares[i] = Share{X: xs[i], Y: ys[i]}
	}
	return shares, nil
}

// ReconstructSecret interpolates the secret from the first threshold shares.
func ReconstructSecret(shares []Share, threshold int, fieldOrder *big.Int) (*big.Int, error) {
	if threshold < 1 || len(shares) < threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughShares, len(shares), threshold)
	}

	seen := make(map[string]struct{}, threshold)
	xs := make([]*big.Int, 0, threshold)
	ys := make([]*big.Int, 0, threshold)
	for _, share := range shares[:threshold] {
		if share.X == nil || share.Y == nil || share.X.Sign() == 0 {
			return nil, ErrInvalidShares
		}
		key := share.X.String()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate x=%s", ErrInvalidShares, key)
		}
		seen[key] = struct{}{}
		xs = append(xs, share.X)
		ys = append(ys, share.Y)
	}

	secret := LagrangeInterpolation(xs, ys, nil, fieldOrder)
	if secret == nil {
		return nil, ErrInvalidShares
	}
	return secret, nil
}
