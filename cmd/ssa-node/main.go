// Command ssa-node hosts secure aggregation servers and clients.
//
// A node knows its peers from the peers list of its configuration and from
// signed registrations posted to /peers. Rounds are started through the
// admin API:
//
//	curl -u admin:secret -X POST http://localhost:8080/rounds/server -d '{
//	  "variant": "double_mask",
//	  "round": {"handle": "r1", "server_id": "server", "participants": ["a", "b", "c"], "threshold": 2}
//	}'
//
// # Usage
//
//	go run ./cmd/ssa-node --config=node.yaml
//	go run ./cmd/ssa-node --addr=:8081 --admin-token=admin:secret
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/api/httpserver"
	"github.com/YanshiShield/YanshiShield-sub000/cmd/common"
	"github.com/YanshiShield/YanshiShield-sub000/services"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		addr          = flag.String("addr", "", "HTTP listen address")
		adminToken    = flag.String("admin-token", "", "Admin credentials (user:pass)")
		signingKeyHex = flag.String("signing-key", "", "Ed25519 signing key (hex, generates if empty)")
		sealingHex    = flag.String("sealing-secret", "", "Snapshot sealing secret (hex, generates if empty)")
		logLevel      = flag.String("log-level", "", "debug, info, warn or error")
		logJSON       = flag.Bool("log-json", false, "Log as JSON")
		pprof         = flag.Bool("pprof", false, "Serve pprof under /debug")
	)
	flag.Parse()

	cfg := common.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = common.LoadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *adminToken != "" {
		cfg.AdminToken = *adminToken
	}
	if *signingKeyHex != "" {
		cfg.Keys.SigningKey = *signingKeyHex
	}
	if *sealingHex != "" {
		cfg.Keys.SealingSecret = *sealingHex
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg.LogJSON = cfg.LogJSON || *logJSON
	cfg.EnablePprof = cfg.EnablePprof || *pprof

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := common.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("node failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	signingKey, err := common.LoadOrGenerateSigningKey(cfg.Keys.SigningKey)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}

	secret, generated, err := common.LoadOrGenerateSealingSecret(cfg.Keys.SealingSecret)
	if err != nil {
		return fmt.Errorf("sealing secret: %w", err)
	}
	if generated {
		logger.Warn("no sealing secret configured, snapshots will not survive a restart")
	}

	snapshots, pg, err := common.NewSnapshotStore(cfg.Postgres, secret)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	if pg != nil {
		defer pg.Close()
		go purgeSnapshots(ctx, pg, cfg.SnapshotRetention, logger)
	}

	directory, err := services.NewPeerDirectory(cfg.Peers...)
	if err != nil {
		return fmt.Errorf("peers: %w", err)
	}

	node, err := services.NewNode(&services.NodeConfig{
		Directory:      directory,
		SigningKey:     signingKey,
		Snapshots:      snapshots,
		AdminToken:     cfg.AdminToken,
		RoundRetention: cfg.RoundRetention,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	srv, err := httpserver.New(&httpserver.Config{
		ListenAddr:               cfg.HTTPAddr,
		AllowedOrigins:           cfg.AllowedOrigins,
		EnablePprof:              cfg.EnablePprof,
		Log:                      logger,
		DrainDuration:            time.Second,
		GracefulShutdownDuration: cfg.ShutdownTimeout,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             cfg.ShutdownTimeout + time.Minute,
	}, node)
	if err != nil {
		return err
	}

	logger.Info("node starting",
		"public_key", node.PublicKey().String(),
		"peers", len(directory.Peers()),
		"postgres", pg != nil)

	return srv.Serve(ctx)
}

func purgeSnapshots(ctx context.Context, pg *services.PostgresStore, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(retention / 24)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.PurgeOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("snapshot purge failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("purged stale snapshots", "count", n)
			}
		}
	}
}
