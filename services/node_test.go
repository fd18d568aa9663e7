package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/protocol"
	"github.com/YanshiShield/YanshiShield-sub000/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const testWait = 10 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testNode struct {
	node       *Node
	server     *httptest.Server
	signingKey crypto.PrivateKey
	snapshots  *InMemoryStore
}

func startTestNode(t *testing.T, directory *PeerDirectory, adminToken string) *testNode {
	t.Helper()

	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	blobs := NewInMemoryStore()
	snapshots, err := NewSealedSnapshotStore(blobs, []byte("node sealing secret for tests"))
	require.NoError(t, err)

	node, err := NewNode(&NodeConfig{
		Directory:  directory,
		SigningKey: privKey,
		Snapshots:  snapshots,
		AdminToken: adminToken,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	node.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		node.Close()
	})

	return &testNode{node: node, server: srv, signingKey: privKey, snapshots: blobs}
}

// host records in the directory that participant lives on n.
func (n *testNode) host(t *testing.T, directory *PeerDirectory, participant string) {
	t.Helper()
	require.NoError(t, directory.Add(&PeerInfo{
		ParticipantID: participant,
		Endpoint:      n.server.URL,
		PublicKey:     n.node.PublicKey().String(),
	}))
}

func (n *testNode) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, n.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("admin", "secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func testRound(handle string, participants []string, threshold int) protocol.RoundConfig {
	return testutil.NewTestRound(
		testutil.WithHandle(handle),
		testutil.WithParticipants(participants...),
		testutil.WithThreshold(threshold),
		testutil.WithTimeouts(testWait),
	)
}

// deployRound spreads a server and clients over two nodes: the first hosts
// the server and client-00, the second the remaining clients.
func deployRound(t *testing.T, variant protocol.Variant, round protocol.RoundConfig) (*testNode, *testNode) {
	t.Helper()

	directory, err := NewPeerDirectory()
	require.NoError(t, err)

	nodeA := startTestNode(t, directory, "admin:secret")
	nodeB := startTestNode(t, directory, "admin:secret")

	nodeA.host(t, directory, round.ServerID)
	nodeA.host(t, directory, round.Participants[0])
	for _, id := range round.Participants[1:] {
		nodeB.host(t, directory, id)
	}

	resp := nodeA.post(t, "/rounds/server", &StartServerRequest{Variant: variant, Round: round})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for i, id := range round.Participants {
		host := nodeB
		if i == 0 {
			host = nodeA
		}
		resp := host.post(t, "/rounds/client", &StartClientRequest{Variant: variant, ParticipantID: id, Round: round})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	return nodeA, nodeB
}

func nodeFor(i int, nodeA, nodeB *testNode) *testNode {
	if i == 0 {
		return nodeA
	}
	return nodeB
}

func TestNode_DoubleMaskRoundOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping HTTP round in short mode")
	}

	participants := []string{"client-00", "client-01", "client-02", "client-03"}
	round := testRound("http-double", participants, 3)
	nodeA, nodeB := deployRound(t, protocol.VariantDoubleMask, round)

	// client-03 drops out after share exchange.
	inputs := [][]float64{{1, 2}, {0.5, -1}, {-0.25, 4}}
	for i, id := range participants[:3] {
		path := fmt.Sprintf("/rounds/%s/clients/%s/contribute", round.Handle, id)
		resp := nodeFor(i, nodeA, nodeB).post(t, path, &ContributeRequest{Input: protocol.NewVector(inputs[i])})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp := nodeA.post(t, "/rounds/"+round.Handle+"/decrypt", &DecryptRequest{MinContributors: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result ResultResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, participants[:3], result.Contributors)
	require.InDeltaSlice(t, []float64{1.25, 5}, result.Result.Vector, 1e-6)

	srv, err := nodeA.node.Server(round.Handle)
	require.NoError(t, err)
	require.Equal(t, protocol.StageDecryptResult, srv.Stage())

	for i, id := range participants {
		c, err := nodeFor(i, nodeA, nodeB).node.Client(round.Handle, id)
		require.NoError(t, err)
		select {
		case <-c.Done():
		case <-time.After(testWait):
			t.Fatalf("%s did not leave the round", id)
		}
		if i < 3 {
			require.NoError(t, c.Err())
		} else {
			require.ErrorIs(t, c.Err(), protocol.ErrStageViolation)
		}
	}

	// Survivors wipe their sealed snapshots; the dropped client's stays.
	require.Zero(t, nodeA.snapshots.Len())
	require.Equal(t, 1, nodeB.snapshots.Len())
}

func TestNode_SingleMaskRoundOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping HTTP round in short mode")
	}

	participants := []string{"client-00", "client-01", "client-02"}
	round := testRound("http-single", participants, 3)
	nodeA, nodeB := deployRound(t, protocol.VariantSingleMask, round)

	for i, id := range participants {
		path := fmt.Sprintf("/rounds/%s/clients/%s/contribute", round.Handle, id)
		resp := nodeFor(i, nodeA, nodeB).post(t, path, &ContributeRequest{Input: protocol.NewScalar(float64(10 * (i + 1)))})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp := nodeA.post(t, "/rounds/"+round.Handle+"/decrypt", &DecryptRequest{MinContributors: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result ResultResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, 60.0, result.Result.Scalar)

	req, err := http.NewRequest(http.MethodGet, nodeA.server.URL+"/rounds/"+round.Handle+"/result", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")
	got, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
}

func TestNode_AdminAuthRequired(t *testing.T) {
	directory, err := NewPeerDirectory()
	require.NoError(t, err)
	n := startTestNode(t, directory, "admin:secret")

	body, err := json.Marshal(&StartServerRequest{
		Variant: protocol.VariantDoubleMask,
		Round:   testRound("auth", []string{"a", "b"}, 2),
	})
	require.NoError(t, err)

	resp, err := http.Post(n.server.URL+"/rounds/server", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Reads of the directory stay public.
	list, err := http.Get(n.server.URL + "/peers")
	require.NoError(t, err)
	defer list.Body.Close()
	require.Equal(t, http.StatusOK, list.StatusCode)
}

func TestNode_RejectsInvalidRoundConfig(t *testing.T) {
	directory, err := NewPeerDirectory()
	require.NoError(t, err)
	n := startTestNode(t, directory, "admin:secret")

	resp := n.post(t, "/rounds/server", &StartServerRequest{
		Variant: protocol.VariantDoubleMask,
		Round:   testRound("bad", []string{"a", "b"}, 3),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = n.post(t, "/rounds/server", &StartServerRequest{
		Variant: "triple_mask",
		Round:   testRound("bad", []string{"a", "b"}, 2),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNode_RejectsUnauthenticatedEnvelopes(t *testing.T) {
	directory, err := NewPeerDirectory()
	require.NoError(t, err)
	n := startTestNode(t, directory, "")
	n.host(t, directory, "server")

	round := testRound("envelopes", []string{"client-00", "client-01"}, 2)
	_, err = n.node.StartServer(context.Background(), protocol.VariantDoubleMask, round)
	require.NoError(t, err)

	keys, err := crypto.GenerateDHKeyPair()
	require.NoError(t, err)
	msg := &protocol.PublicKeyReport{ClientID: "client-00", CPK: keys.Public, SPK: keys.Public}
	env, err := protocol.NewEnvelope(protocol.Address{Handle: round.Handle, Participant: "server"}, msg)
	require.NoError(t, err)

	send := func(key crypto.PrivateKey) int {
		signed, err := protocol.NewSigned(key, env)
		require.NoError(t, err)
		body, err := json.Marshal(signed)
		require.NoError(t, err)
		resp, err := http.Post(n.server.URL+MessagesPath, "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	// client-00 is not in the directory yet.
	_, clientKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, send(clientKey))

	clientPub, err := clientKey.PublicKey()
	require.NoError(t, err)
	require.NoError(t, directory.Add(&PeerInfo{
		ParticipantID: "client-00",
		Endpoint:      "http://client-node.invalid",
		PublicKey:     clientPub.String(),
	}))

	// Signed by some other key.
	_, otherKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, send(otherKey))

	require.Equal(t, http.StatusAccepted, send(clientKey))

	// Unknown destination.
	env.Destination.Handle = "no-such-round"
	require.Equal(t, http.StatusNotFound, send(clientKey))
}

func TestNode_DuplicateServer(t *testing.T) {
	directory, err := NewPeerDirectory()
	require.NoError(t, err)
	n := startTestNode(t, directory, "")

	round := testRound("dup", []string{"a", "b"}, 2)
	_, err = n.node.StartServer(context.Background(), protocol.VariantSingleMask, round)
	require.NoError(t, err)
	_, err = n.node.StartServer(context.Background(), protocol.VariantSingleMask, round)
	require.ErrorIs(t, err, protocol.ErrDuplicateInstance)

	statuses := n.node.Statuses()
	require.Len(t, statuses, 1)
	require.Equal(t, protocol.RoleServer, statuses[0].Role)
	require.Equal(t, protocol.StageExchangePublicKey.String(), statuses[0].Stage)

	n.node.Forget(round.Handle)
	_, err = n.node.Server(round.Handle)
	require.ErrorIs(t, err, ErrRoundNotHosted)
}

// discardTransport accepts every message and delivers none.
type discardTransport struct{}

func (discardTransport) Send(context.Context, protocol.Address, protocol.Message) error { return nil }

func TestNode_PrunesFinishedRounds(t *testing.T) {
	directory, err := NewPeerDirectory()
	require.NoError(t, err)
	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	node, err := NewNode(&NodeConfig{
		Directory:      directory,
		SigningKey:     privKey,
		Transport:      discardTransport{},
		RoundRetention: 100 * time.Millisecond,
		Logger:         quietLogger(),
	})
	require.NoError(t, err)
	defer node.Close()

	round := testutil.NewTestRound(
		testutil.WithHandle("short-lived"),
		testutil.WithParticipants("a", "b"),
		testutil.WithThreshold(2),
		testutil.WithTimeouts(30*time.Millisecond),
	)
	srv, err := node.StartServer(context.Background(), protocol.VariantDoubleMask, round)
	require.NoError(t, err)
	client, err := node.StartClient(context.Background(), protocol.VariantDoubleMask, "a", round)
	require.NoError(t, err)

	// Nobody answers, so both instances time out.
	<-srv.Done()
	<-client.Done()
	require.ErrorIs(t, srv.Err(), protocol.ErrTimeout)
	require.ErrorIs(t, client.Err(), protocol.ErrTimeout)

	require.Eventually(t, func() bool { return len(node.Statuses()) == 0 }, testWait, 10*time.Millisecond)
	_, err = node.Server(round.Handle)
	require.ErrorIs(t, err, ErrRoundNotHosted)
	_, err = node.Client(round.Handle, "a")
	require.ErrorIs(t, err, ErrRoundNotHosted)

	health := node.Health()
	require.Equal(t, 0, health["servers"])
	require.Equal(t, 0, health["clients"])
	require.Equal(t, 0, health["registered"])

	// The handle is free for a new round once pruned.
	_, err = node.StartServer(context.Background(), protocol.VariantDoubleMask, round)
	require.NoError(t, err)
}
