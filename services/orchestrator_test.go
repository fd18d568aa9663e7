package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/YanshiShield/YanshiShield-sub000/protocol"
	"github.com/stretchr/testify/require"
)

func TestRoundRunner_DoubleMaskWithDropouts(t *testing.T) {
	snapshots := protocol.NewMemorySnapshotStore()
	runner, err := NewRoundRunner(&RunnerConfig{
		Variant:      protocol.VariantDoubleMask,
		NumClients:   6,
		Dropouts:     2,
		VectorLength: 5,
		Seed:         7,
		Snapshots:    snapshots,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Threshold)
	require.Len(t, report.Contributors, 4)
	require.Equal(t, []string{"client-004", "client-005"}, report.Dropped)
	require.InDeltaSlice(t, report.Expected, report.Result, 1e-6)
	require.Less(t, report.MaxError, 1e-6)
	require.Len(t, report.Phases, 3)

	var out bytes.Buffer
	report.Print(&out)
	require.Contains(t, out.String(), "unmasking")
	require.Contains(t, out.String(), "client-004, client-005")

	// Survivors wiped their snapshots.
	for _, id := range report.Contributors {
		_, err := snapshots.Load(ctx, report.Handle, id)
		require.ErrorIs(t, err, protocol.ErrSnapshotNotFound)
	}
}

func TestRoundRunner_SingleMaskIsExact(t *testing.T) {
	runner, err := NewRoundRunner(&RunnerConfig{
		Variant:      protocol.VariantSingleMask,
		NumClients:   4,
		VectorLength: 3,
		Seed:         11,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Threshold)
	require.Empty(t, report.Dropped)
	require.InDeltaSlice(t, report.Expected, report.Result, 1e-9)
}

func TestRoundRunner_TooManyDropouts(t *testing.T) {
	runner, err := NewRoundRunner(&RunnerConfig{
		Variant:    protocol.VariantDoubleMask,
		NumClients: 4,
		Threshold:  3,
		Dropouts:   2,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	_, err = runner.Run(ctx)
	require.ErrorIs(t, err, protocol.ErrReconstructionFailure)
}

func TestRoundRunner_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config RunnerConfig
	}{
		{"unknown variant", RunnerConfig{Variant: "none", NumClients: 3}},
		{"one client", RunnerConfig{Variant: protocol.VariantDoubleMask, NumClients: 1}},
		{"everyone drops", RunnerConfig{Variant: protocol.VariantDoubleMask, NumClients: 3, Dropouts: 3}},
		{"single-mask dropout", RunnerConfig{Variant: protocol.VariantSingleMask, NumClients: 3, Dropouts: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRoundRunner(&tt.config)
			require.ErrorIs(t, err, protocol.ErrInvalidConfig)
		})
	}
}
