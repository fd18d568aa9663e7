// Command ssa-demo runs one aggregation round in process and prints how
// long each phase took and how close the recovered sum is to the real one.
//
// # Usage
//
//	go run ./cmd/ssa-demo --clients=20 --dropouts=5
//	go run ./cmd/ssa-demo --variant=single_mask --clients=8 --length=1000
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/cmd/common"
	"github.com/YanshiShield/YanshiShield-sub000/protocol"
	"github.com/YanshiShield/YanshiShield-sub000/services"
)

func main() {
	var (
		variant   = flag.String("variant", string(protocol.VariantDoubleMask), "double_mask or single_mask")
		clients   = flag.Int("clients", 10, "Number of clients")
		threshold = flag.Int("threshold", 0, "Reconstruction threshold (0 picks a default)")
		dropouts  = flag.Int("dropouts", 0, "Clients that go silent after share exchange")
		length    = flag.Int("length", 16, "Input vector length")
		seed      = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Input generator seed")
		timeout   = flag.Duration("timeout", time.Minute, "Overall deadline")
		logLevel  = flag.String("log-level", "warn", "debug, info, warn or error")
	)
	flag.Parse()

	logger, err := common.NewLogger(os.Stderr, *logLevel, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	runner, err := services.NewRoundRunner(&services.RunnerConfig{
		Variant:      protocol.Variant(*variant),
		NumClients:   *clients,
		Threshold:    *threshold,
		Dropouts:     *dropouts,
		VectorLength: *length,
		Seed:         *seed,
		Snapshots:    protocol.NewMemorySnapshotStore(),
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := runner.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Round failed: %v\n", err)
		os.Exit(1)
	}
	report.Print(os.Stdout)
}
