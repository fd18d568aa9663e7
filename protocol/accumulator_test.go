package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccumulatorFlattenOrder(t *testing.T) {
	acc := NewNamed(map[string][]float64{
		"layer2.bias":   {5},
		"layer1.weight": {1, 2, 3},
		"layer1.bias":   {4},
	})

	require.Equal(t, 5, acc.Len())
	require.Equal(t, []float64{4, 1, 2, 3, 5}, acc.Flatten())

	back, err := acc.Unflatten([]float64{40, 10, 20, 30, 50})
	require.NoError(t, err)
	require.Equal(t, map[string][]float64{
		"layer1.bias":   {40},
		"layer1.weight": {10, 20, 30},
		"layer2.bias":   {50},
	}, back.Named)

	_, err = acc.Unflatten([]float64{1})
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestAccumulatorAddInplace(t *testing.T) {
	t.Run("scalar", func(t *testing.T) {
		acc := NewScalar(1.5)
		require.NoError(t, acc.AddInplace(NewScalar(2)))
		require.Equal(t, 3.5, acc.Scalar)
	})

	t.Run("vector", func(t *testing.T) {
		acc := NewVector([]float64{1, 2})
		require.NoError(t, acc.AddInplace(NewVector([]float64{10, 20})))
		require.Equal(t, []float64{11, 22}, acc.Vector)
	})

	t.Run("named", func(t *testing.T) {
		acc := NewNamed(map[string][]float64{"w": {1, 1}})
		require.NoError(t, acc.AddInplace(NewNamed(map[string][]float64{"w": {2, 3}})))
		require.Equal(t, []float64{3, 4}, acc.Named["w"])
	})

	t.Run("mismatch", func(t *testing.T) {
		cases := []struct {
			name string
			a, b *Accumulator
		}{
			{"kind", NewScalar(1), NewVector([]float64{1})},
			{"length", NewVector([]float64{1, 2}), NewVector([]float64{1})},
			{"keys", NewNamed(map[string][]float64{"a": {1}}), NewNamed(map[string][]float64{"b": {1}})},
			{"named length", NewNamed(map[string][]float64{"a": {1}}), NewNamed(map[string][]float64{"a": {1, 2}})},
		}
		for _, tc := range cases {
			before := tc.a.Flatten()
			require.ErrorIs(t, tc.a.AddInplace(tc.b), ErrTypeMismatch, tc.name)
			require.Equal(t, before, tc.a.Flatten(), tc.name)
		}
	})
}

func TestAccumulatorCloneIsDeep(t *testing.T) {
	orig := NewNamed(map[string][]float64{"w": {1, 2}})
	clone := orig.Clone()
	clone.Named["w"][0] = 100
	require.Equal(t, 1.0, orig.Named["w"][0])

	vec := NewVector([]float64{1})
	vclone := vec.Clone()
	vclone.Vector[0] = 7
	require.Equal(t, 1.0, vec.Vector[0])
}

func TestAccumulatorJSON(t *testing.T) {
	acc := NewNamed(map[string][]float64{"w": {1.25, -2}})
	data, err := json.Marshal(acc)
	require.NoError(t, err)

	var decoded Accumulator
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, acc.SameShape(&decoded))
	require.Equal(t, acc.Flatten(), decoded.Flatten())
}
