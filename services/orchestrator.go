package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/protocol"
)

// RunnerConfig describes a round run entirely in process.
type RunnerConfig struct {
	Handle     string
	Variant    protocol.Variant
	NumClients int

	// Threshold defaults to protocol.DefaultThreshold for double-mask rounds
	// and to NumClients for single-mask rounds.
	Threshold int

	// Dropouts is how many clients go silent after share exchange.
	// Double-mask only.
	Dropouts int

	VectorLength     int
	ReadyTimeout     time.Duration
	AggregateTimeout time.Duration

	// Seed drives input generation.
	Seed uint64

	Snapshots protocol.SnapshotStore
	Logger    *slog.Logger
}

// PhaseTiming is the wall time one phase of a round took.
type PhaseTiming struct {
	Name     string
	Duration time.Duration
}

// RoundReport summarizes a finished round.
type RoundReport struct {
	Handle       string
	Variant      protocol.Variant
	Participants []string
	Threshold    int
	Contributors []string
	Dropped      []string
	Expected     []float64
	Result       []float64
	MaxError     float64
	Phases       []PhaseTiming
}

// RoundRunner runs one aggregation round with a server and every client in
// this process, connected by a protocol.LocalTransport.
type RoundRunner struct {
	config *RunnerConfig
	logger *slog.Logger
}

// NewRoundRunner validates config and fills defaults.
func NewRoundRunner(config *RunnerConfig) (*RoundRunner, error) {
	cfg := *config
	if !cfg.Variant.Valid() {
		return nil, fmt.Errorf("%w: unknown variant %q", protocol.ErrInvalidConfig, cfg.Variant)
	}
	if cfg.NumClients < 2 {
		return nil, fmt.Errorf("%w: need at least 2 clients, got %d", protocol.ErrInvalidConfig, cfg.NumClients)
	}
	if cfg.Dropouts < 0 || cfg.Dropouts >= cfg.NumClients {
		return nil, fmt.Errorf("%w: %d dropouts of %d clients", protocol.ErrInvalidConfig, cfg.Dropouts, cfg.NumClients)
	}
	if cfg.Variant == protocol.VariantSingleMask && cfg.Dropouts > 0 {
		return nil, fmt.Errorf("%w: single-mask rounds cannot tolerate dropouts", protocol.ErrInvalidConfig)
	}
	if cfg.Threshold == 0 {
		if cfg.Variant == protocol.VariantSingleMask {
			cfg.Threshold = cfg.NumClients
		} else {
			cfg.Threshold = protocol.DefaultThreshold(cfg.NumClients)
		}
	}
	if cfg.VectorLength <= 0 {
		cfg.VectorLength = 8
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = protocol.DefaultReadyTimeout
	}
	if cfg.AggregateTimeout == 0 {
		cfg.AggregateTimeout = protocol.DefaultAggregateTimeout
	}
	if cfg.Handle == "" {
		cfg.Handle = fmt.Sprintf("round-%d", time.Now().UnixNano())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RoundRunner{config: &cfg, logger: logger}, nil
}

func (r *RoundRunner) roundConfig() protocol.RoundConfig {
	participants := make([]string, r.config.NumClients)
	for i := range participants {
		participants[i] = fmt.Sprintf("client-%03d", i)
	}
	return protocol.RoundConfig{
		Handle:           r.config.Handle,
		ServerID:         "server",
		Participants:     participants,
		Threshold:        r.config.Threshold,
		ReadyTimeout:     r.config.ReadyTimeout,
		AggregateTimeout: r.config.AggregateTimeout,
	}
}

// inputs draws one vector per client. Single-mask inputs are rounded to the
// fixed-point scale so the expected sum is exact.
func (r *RoundRunner) inputs(n int, multiplier float64) [][]float64 {
	rng := rand.New(rand.NewPCG(r.config.Seed, r.config.Seed^0x5ca1ab1e))
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, r.config.VectorLength)
		for j := range v {
			v[j] = rng.Float64()*2 - 1
			if r.config.Variant == protocol.VariantSingleMask {
				v[j] = math.Round(v[j]*multiplier) / multiplier
			}
		}
		out[i] = v
	}
	return out
}

// Run executes the round and reports what the server recovered.
func (r *RoundRunner) Run(ctx context.Context) (*RoundReport, error) {
	cfg := r.roundConfig()
	logger := r.logger.With("handle", cfg.Handle)

	registry := protocol.NewRegistry(logger)
	transport := protocol.NewLocalTransport(registry, logger)
	defer transport.Close()

	env := protocol.Env{
		Registry:  registry,
		Transport: transport,
		Snapshots: r.config.Snapshots,
		Logger:    logger,
	}

	report := &RoundReport{
		Handle:       cfg.Handle,
		Variant:      r.config.Variant,
		Participants: cfg.Participants,
		Threshold:    cfg.Threshold,
	}
	phase := func(name string, start time.Time) {
		report.Phases = append(report.Phases, PhaseTiming{Name: name, Duration: time.Since(start)})
	}

	start := time.Now()
	server, err := protocol.NewServer(r.config.Variant, cfg, env)
	if err != nil {
		return nil, err
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("start server: %w", err)
	}

	clients := make([]protocol.Client, len(cfg.Participants))
	for i, id := range cfg.Participants {
		clients[i], err = protocol.NewClient(r.config.Variant, cfg, id, env)
		if err != nil {
			return nil, err
		}
		if err := clients[i].Start(ctx); err != nil {
			return nil, fmt.Errorf("start %s: %w", id, err)
		}
	}

	if err := server.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("key exchange: %w", err)
	}
	for i, c := range clients {
		if err := c.WaitReady(ctx); err != nil {
			return nil, fmt.Errorf("key exchange of %s: %w", cfg.Participants[i], err)
		}
	}
	phase("key exchange", start)

	alive := len(clients) - r.config.Dropouts
	report.Dropped = cfg.Participants[alive:]
	multiplier := cfg.WithDefaults().Multiplier
	inputs := r.inputs(alive, multiplier)
	report.Expected = make([]float64, r.config.VectorLength)
	for _, v := range inputs {
		for j, x := range v {
			report.Expected[j] += x
		}
	}

	start = time.Now()
	for i, c := range clients[:alive] {
		if err := c.Encrypt(ctx, protocol.NewVector(inputs[i])); err != nil {
			return nil, fmt.Errorf("encrypt %s: %w", cfg.Participants[i], err)
		}
	}
	if err := server.WaitForCiphertexts(ctx, alive); err != nil {
		return nil, fmt.Errorf("collect ciphertexts: %w", err)
	}
	phase("masking", start)

	start = time.Now()
	result, err := server.Decrypt(ctx)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	phase("unmasking", start)

	// Dropped double-mask clients leave once they see the alive set.
	for i, c := range clients {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if err := c.Err(); err != nil && i < alive {
			logger.Warn("client ended with error", "client", cfg.Participants[i], "err", err)
		}
	}

	report.Contributors = server.Contributors()
	report.Result = result.Flatten()
	for j := range report.Expected {
		report.MaxError = math.Max(report.MaxError, math.Abs(report.Result[j]-report.Expected[j]))
	}

	logger.Info("round complete",
		"variant", string(r.config.Variant),
		"contributors", len(report.Contributors),
		"dropped", len(report.Dropped),
		"max_error", report.MaxError)
	return report, nil
}
