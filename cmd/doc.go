// Package cmd holds the secure aggregation binaries.
//
// # Commands
//
// ssa-node: Hosts round servers and clients behind an HTTP API. Peers
// exchange signed protocol envelopes on POST /messages; operators start
// rounds and collect results through the admin routes.
//
//	go run ./cmd/ssa-node --config=node.yaml
//	go run ./cmd/ssa-node --addr=:8081 --admin-token=admin:secret
//
// ssa-demo: Runs one round in process and prints phase timings.
//
//	go run ./cmd/ssa-demo --clients=20 --dropouts=5
//
// # Configuration
//
// ssa-node reads YAML via --config; flags override file values.
//
//	http_addr: ":8081"
//	admin_token: "admin:secret"
//	round_retention: 10m
//	keys:
//	  signing_key: ""
//	  sealing_secret: "00112233445566778899aabbccddeeff"
//	postgres:
//	  host: "localhost"
//	  port: 5432
//	  user: "ssa"
//	  password: "ssa"
//	  database: "ssa"
//	peers:
//	  - participant_id: "server"
//	    endpoint: "http://localhost:8081"
//	    public_key: "<hex ed25519 key>"
package cmd
