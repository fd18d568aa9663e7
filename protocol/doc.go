// Package protocol implements secure aggregation for federated learning: a
// server learns the sum of many clients' vectors without learning any single
// one, and stays correct when some clients drop out mid-round.
//
// # Variants
//
// Double-mask rounds (DoubleMaskClient, DoubleMaskServer) follow Bonawitz et
// al. Every client masks its input with a private self mask derived from a
// seed b and with one pairwise mask per peer derived from a Diffie-Hellman
// agreed seed. Clients Shamir-share both b and their mask agreement secret
// s_sk among the round, so that after the server announces which clients
// contributed it can collect the b shares of survivors and the s_sk shares of
// dropped clients and cancel every remaining mask.
//
// Single-mask rounds (SingleMaskClient, SingleMaskServer) use pairwise masks
// only, over fixed-point integers. They are exact but cannot recover from a
// dropped client: the server refuses to decrypt unless every client that
// reported a key also contributed.
//
// # Stages
//
// A double-mask instance moves through
//
//	ExchangePublicKey -> ExchangeEncryptedShare -> CiphertextAggregate -> DecryptResult
//
// and single-mask instances skip ExchangeEncryptedShare. Any fatal error moves
// the instance to StageFailed. A message that arrives in the wrong stage is
// rejected with ErrStageViolation and never applied. Such a rejection does not
// fail the instance: a replayed or late message cannot abort a round, and the
// instance keeps waiting for valid input until its phase timer fires. Once an
// instance has failed, the returned error also wraps the failure cause.
//
// # Routing
//
// Every instance registers in a Registry under (handle, participant) and
// receives messages through HandleMessage. Instances only talk to each other
// through a Transport; LocalTransport delivers within a process through one
// FIFO mailbox per destination, so handlers never run on the sender's
// goroutine. A mailbox is dropped once it is empty and nothing is registered
// at its address.
package protocol
