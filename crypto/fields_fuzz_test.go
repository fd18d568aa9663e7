package crypto

import (
	"math/big"
	"testing"
)

func FuzzFieldAddInplace(f *testing.F) {
	// Add seed corpus
	f.Add([]byte{0}, []byte{0})
	f.Add([]byte{1}, []byte{1})
	f.Add([]byte{255}, []byte{255})
	f.Add(make([]byte, 256), make([]byte, 256)) // DH prime element size

	f.Fuzz(func(t *testing.T, aBytes, bBytes []byte) {
		a := new(big.Int).SetBytes(aBytes)
		b := new(big.Int).SetBytes(bBytes)

		// Reduce to valid field elements
		a.Mod(a, ShareFieldOrder)
		b.Mod(b, ShareFieldOrder)

		// Make copies for verification
		aCopy := new(big.Int).Set(a)
		bCopy := new(big.Int).Set(b)

		// Perform addition
		result := FieldAddInplace(a, b, ShareFieldOrder)

		// Invariant 1: Result is in range [0, fieldOrder)
		if result.Sign() < 0 {
			t.Errorf("result is negative: %v", result)
		}
		if result.Cmp(ShareFieldOrder) >= 0 {
			t.Errorf("result >= fieldOrder: %v >= %v", result, ShareFieldOrder)
		}

		// Invariant 2: Result equals (a + b) mod fieldOrder
		expected := new(big.Int).Add(aCopy, bCopy)
		expected.Mod(expected, ShareFieldOrder)
		if result.Cmp(expected) != 0 {
			t.Errorf("incorrect result: got %v, want %v", result, expected)
		}

		// Invariant 3: Commutativity - (a + b) = (b + a)
		a2 := new(big.Int).Set(bCopy)
		b2 := new(big.Int).Set(aCopy)
		result2 := FieldAddInplace(a2, b2, ShareFieldOrder)
		if result.Cmp(result2) != 0 {
			t.Errorf("commutativity failed: %v + %v = %v, but %v + %v = %v",
				aCopy, bCopy, result, bCopy, aCopy, result2)
		}
	})
}

func FuzzFieldSubInplace(f *testing.F) {
	// Add seed corpus
	f.Add([]byte{0}, []byte{0})
	f.Add([]byte{1}, []byte{1})
	f.Add([]byte{1}, []byte{2}) // Underflow case
	f.Add(make([]byte, 256), make([]byte, 256))

	f.Fuzz(func(t *testing.T, aBytes, bBytes []byte) {
		a := new(big.Int).SetBytes(aBytes)
		b := new(big.Int).SetBytes(bBytes)

		// Reduce to valid field elements
		a.Mod(a, ShareFieldOrder)
		b.Mod(b, ShareFieldOrder)

		// Make copies for verification
		aCopy := new(big.Int).Set(a)
		bCopy := new(big.Int).Set(b)

		// Perform subtraction
		result := FieldSubInplace(a, b, ShareFieldOrder)

		// Invariant 1: Result is in range [0, fieldOrder)
		if result.Sign() < 0 {
			t.Errorf("result is negative: %v", result)
		}
		if result.Cmp(ShareFieldOrder) >= 0 {
			t.Errorf("result >= fieldOrder: %v >= %v", result, ShareFieldOrder)
		}

		// Invariant 2: Result equals (a - b) mod fieldOrder
		expected := new(big.Int).Sub(aCopy, bCopy)
		expected.Mod(expected, ShareFieldOrder)
		if expected.Sign() < 0 {
			expected.Add(expected, ShareFieldOrder)
		}
		if result.Cmp(expected) != 0 {
			t.Errorf("incorrect result: got %v, want %v (a=%v, b=%v)", result, expected, aCopy, bCopy)
		}

		// Invariant 3: (a - b + b) mod p = a mod p (inverse of addition)
		resultCopy := new(big.Int).Set(result)
		roundTrip := FieldAddInplace(resultCopy, bCopy, ShareFieldOrder)
		if roundTrip.Cmp(aCopy) != 0 {
			t.Errorf("inverse property failed: (%v - %v) + %v = %v, want %v",
				aCopy, bCopy, bCopy, roundTrip, aCopy)
		}
	})
}

func FuzzFieldAddSubRoundTrip(f *testing.F) {
	f.Add([]byte{42}, []byte{17})
	f.Add(make([]byte, 256), make([]byte, 256))

	f.Fuzz(func(t *testing.T, aBytes, bBytes []byte) {
		a := new(big.Int).SetBytes(aBytes)
		b := new(big.Int).SetBytes(bBytes)

		a.Mod(a, ShareFieldOrder)
		b.Mod(b, ShareFieldOrder)

		original := new(big.Int).Set(a)

		// Add then subtract should give original
		FieldAddInplace(a, b, ShareFieldOrder)
		FieldSubInplace(a, b, ShareFieldOrder)

		if a.Cmp(original) != 0 {
			t.Errorf("round trip failed: started with %v, ended with %v (added/subtracted %v)",
				original, a, b)
		}
	})
}

func FuzzFieldMulInplace(f *testing.F) {
	f.Add([]byte{0}, []byte{7})
	f.Add([]byte{3}, []byte{5})
	f.Add(make([]byte, 256), []byte{1})

	f.Fuzz(func(t *testing.T, aBytes, bBytes []byte) {
		a := new(big.Int).Mod(new(big.Int).SetBytes(aBytes), ShareFieldOrder)
		b := new(big.Int).Mod(new(big.Int).SetBytes(bBytes), ShareFieldOrder)

		expected := new(big.Int).Mul(a, b)
		expected.Mod(expected, ShareFieldOrder)

		result := FieldMulInplace(new(big.Int).Set(a), b, ShareFieldOrder)
		if result.Cmp(expected) != 0 {
			t.Errorf("incorrect product: got %v, want %v", result, expected)
		}
		if result.Sign() < 0 || result.Cmp(ShareFieldOrder) >= 0 {
			t.Errorf("product out of range: %v", result)
		}
	})
}
