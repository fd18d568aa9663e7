/*
Package services runs secure aggregation rounds across processes.

The protocol package defines the round state machines and a Transport
interface. This package supplies what a deployment needs around them.

# Components

  - PeerDirectory maps participant IDs to an endpoint and an Ed25519 key.
    Entries are added from configuration or through signed registrations.
  - HTTPTransport delivers protocol messages by POSTing a signed Envelope
    to the destination participant's endpoint.
  - Node hosts servers and clients for any number of rounds. It verifies
    each inbound envelope against the directory and hands it to the hosted
    instance through a protocol.LocalTransport, so HTTP handlers never block
    on protocol locks.
  - SealedSnapshotStore encrypts client secret snapshots with AES-GCM before
    handing them to a BlobStore. PostgresStore and InMemoryStore are the two
    BlobStores.
  - RoundRunner runs a full round in one process, optionally with dropouts,
    and reports per-phase timings and the recovery error.

# Node endpoints

	POST   /messages                                  signed envelopes from peers
	GET    /peers                                     directory listing
	GET    /peers/{participant}
	POST   /peers                                     signed registration (admin)
	DELETE /peers/{participant}                       (admin)
	GET    /rounds                                    hosted instances (admin)
	POST   /rounds/server                             start a server (admin)
	POST   /rounds/client                             start a client (admin)
	GET    /rounds/{handle}/status                    (admin)
	POST   /rounds/{handle}/decrypt                   unmask and return the sum (admin)
	GET    /rounds/{handle}/result                    (admin)
	DELETE /rounds/{handle}                           forget a round (admin)
	GET    /rounds/{handle}/clients/{participant}     (admin)
	POST   /rounds/{handle}/clients/{participant}/contribute   (admin)

Admin routes sit behind HTTP basic auth when the node has an admin token.

# Example

	directory, _ := services.NewPeerDirectory(peers...)
	node, err := services.NewNode(&services.NodeConfig{
		Directory:  directory,
		SigningKey: signingKey,
		Snapshots:  snapshots,
		AdminToken: "admin:secret",
	})
	if err != nil {
		log.Fatal(err)
	}

	r := chi.NewRouter()
	node.RegisterRoutes(r)
	http.ListenAndServe(":8080", r)
*/
package services
