package crypto

import (
	"math/big"
)

// ShareFieldOrder is the prime field shares live in. Secrets shared over it
// (DH exponents and self-mask seeds) are always smaller than it.
var ShareFieldOrder = DHPrime

// FieldAddInplace performs modular addition in-place: l = (l + r) mod fieldOrder.
// Both operands must already be reduced. The result is stored in l and also returned.
func FieldAddInplace(l *big.Int, r *big.Int, fieldOrder *big.Int) *big.Int {
	l.Add(l, r)
	if l.Cmp(fieldOrder) >= 0 {
		l.Sub(l, fieldOrder)
	}
	return l
}

// FieldSubInplace performs modular subtraction in-place: l = (l - r) mod fieldOrder.
// Both operands must already be reduced. The result is stored in l and also returned.
func FieldSubInplace(l *big.Int, r *big.Int, fieldOrder *big.Int) *big.Int {
	l.Sub(l, r)
	if l.Sign() < 0 {
		l.Add(l, fieldOrder)
	}
	return l
}

// FieldMulInplace performs modular multiplication in-place: l = (l * r) mod fieldOrder.
func FieldMulInplace(l *big.Int, r *big.Int, fieldOrder *big.Int) *big.Int {
	l.Mul(l, r)
	return l.Mod(l, fieldOrder)
}
