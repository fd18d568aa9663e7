package protocol

import (
	"fmt"
	"maps"
	"slices"
)

// AccumulatorKind is the shape of an Accumulator.
type AccumulatorKind string

const (
	KindScalar AccumulatorKind = "scalar"
	KindVector AccumulatorKind = "vector"
	KindNamed  AccumulatorKind = "named"
)

// Accumulator is a plaintext, masked or aggregated input: a scalar, a vector,
// or a map of named vectors (one per model parameter tensor).
type Accumulator struct {
	Kind   AccumulatorKind      `json:"kind"`
	Scalar float64              `json:"scalar,omitempty"`
	Vector []float64            `json:"vector,omitempty"`
	Named  map[string][]float64 `json:"named,omitempty"`
}

func NewScalar(v float64) *Accumulator {
	return &Accumulator{Kind: KindScalar, Scalar: v}
}

func NewVector(v []float64) *Accumulator {
	return &Accumulator{Kind: KindVector, Vector: slices.Clone(v)}
}

func NewNamed(m map[string][]float64) *Accumulator {
	named := make(map[string][]float64, len(m))
	for k, v := range m {
		named[k] = slices.Clone(v)
	}
	return &Accumulator{Kind: KindNamed, Named: named}
}

// Len is the number of scalar elements, which is also the number of mask
// draws each generator contributes.
func (a *Accumulator) Len() int {
	switch a.Kind {
	case KindScalar:
		return 1
	case KindVector:
		return len(a.Vector)
	case KindNamed:
		n := 0
		for _, v := range a.Named {
			n += len(v)
		}
		return n
	default:
		return 0
	}
}

func (a *Accumulator) namedKeys() []string {
	return slices.Sorted(maps.Keys(a.Named))
}

// Flatten returns the elements in canonical order: named entries are
// concatenated by ascending key.
func (a *Accumulator) Flatten() []float64 {
	switch a.Kind {
	case KindScalar:
		return []float64{a.Scalar}
	case KindVector:
		return slices.Clone(a.Vector)
	case KindNamed:
		out := make([]float64, 0, a.Len())
		for _, k := range a.namedKeys() {
			out = append(out, a.Named[k]...)
		}
		return out
	default:
		return nil
	}
}

// Unflatten builds an accumulator shaped like a from flat values.
func (a *Accumulator) Unflatten(flat []float64) (*Accumulator, error) {
	if len(flat) != a.Len() {
		return nil, fmt.Errorf("%w: %d values for %d elements", ErrTypeMismatch, len(flat), a.Len())
	}

	switch a.Kind {
	case KindScalar:
		return NewScalar(flat[0]), nil
	case KindVector:
		return NewVector(flat), nil
	case KindNamed:
		named := make(map[string][]float64, len(a.Named))
		off := 0
		for _, k := range a.namedKeys() {
			n := len(a.Named[k])
			named[k] = slices.Clone(flat[off : off+n])
			off += n
		}
		return &Accumulator{Kind: KindNamed, Named: named}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrTypeMismatch, a.Kind)
	}
}

// SameShape reports whether a and b can be added element-wise.
func (a *Accumulator) SameShape(b *Accumulator) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindScalar:
		return true
	case KindVector:
		return len(a.Vector) == len(b.Vector)
	case KindNamed:
		if len(a.Named) != len(b.Named) {
			return false
		}
		for k, v := range a.Named {
			w, ok := b.Named[k]
			if !ok || len(v) != len(w) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// AddInplace adds b element-wise into a.
func (a *Accumulator) AddInplace(b *Accumulator) error {
	if !a.SameShape(b) {
		return fmt.Errorf("%w: cannot add %s(%d) to %s(%d)", ErrTypeMismatch, b.Kind, b.Len(), a.Kind, a.Len())
	}

	switch a.Kind {
	case KindScalar:
		a.Scalar += b.Scalar
	case KindVector:
		for i := range a.Vector {
			a.Vector[i] += b.Vector[i]
		}
	case KindNamed:
		for k, v := range a.Named {
			w := b.Named[k]
			for i := range v {
				v[i] += w[i]
			}
		}
	}
	return nil
}

// Apply replaces every element x with fn(x).
func (a *Accumulator) Apply(fn func(float64) float64) {
	switch a.Kind {
	case KindScalar:
		a.Scalar = fn(a.Scalar)
	case KindVector:
		for i := range a.Vector {
			a.Vector[i] = fn(a.Vector[i])
		}
	case KindNamed:
		for _, v := range a.Named {
			for i := range v {
				v[i] = fn(v[i])
			}
		}
	}
}

func (a *Accumulator) Clone() *Accumulator {
	switch a.Kind {
	case KindVector:
		return NewVector(a.Vector)
	case KindNamed:
		return NewNamed(a.Named)
	default:
		c := *a
		return &c
	}
}

func (a *Accumulator) validate() error {
	switch a.Kind {
	case KindScalar, KindVector, KindNamed:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrTypeMismatch, a.Kind)
	}
}
