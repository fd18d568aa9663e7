package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func setupTestDirectory(t *testing.T) (*PeerDirectory, chi.Router) {
	t.Helper()

	directory, err := NewPeerDirectory()
	require.NoError(t, err)

	r := chi.NewRouter()
	directory.RegisterPublicRoutes(r)
	directory.RegisterAdminRoutes(r)
	return directory, r
}

func createSignedPeer(t *testing.T, participantID, endpoint string) (*protocol.Signed[PeerInfo], crypto.PrivateKey) {
	t.Helper()

	pubKey, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := protocol.NewSigned(privKey, &PeerInfo{
		ParticipantID: participantID,
		Endpoint:      endpoint,
		PublicKey:     pubKey.String(),
	})
	require.NoError(t, err)
	return signed, privKey
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestDirectory_SignedRegistration(t *testing.T) {
	directory, router := setupTestDirectory(t)

	signed, _ := createSignedPeer(t, "client-00", "http://localhost:9000/")
	w := postJSON(t, router, "/peers", signed)
	require.Equal(t, http.StatusOK, w.Code)

	var resp PeerRegistrationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)
	require.Equal(t, "client-00", resp.ParticipantID)

	peer, err := directory.Lookup("client-00")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9000", peer.Endpoint)
}

func TestDirectory_RejectsForeignSigner(t *testing.T) {
	_, router := setupTestDirectory(t)

	signed, _ := createSignedPeer(t, "client-00", "http://localhost:9000")
	_, otherKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	// Re-sign the same claim with a key that is not the claimed one.
	forged, err := protocol.NewSigned(otherKey, signed.UnsafeObject())
	require.NoError(t, err)

	w := postJSON(t, router, "/peers", forged)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestDirectory_RejectsTamperedRegistration(t *testing.T) {
	directory, router := setupTestDirectory(t)

	signed, _ := createSignedPeer(t, "client-00", "http://localhost:9000")
	signed.Object.Endpoint = "http://attacker:9000"

	w := postJSON(t, router, "/peers", signed)
	require.Equal(t, http.StatusForbidden, w.Code)

	_, err := directory.Lookup("client-00")
	require.ErrorIs(t, err, ErrUnknownPeer)
}

func TestDirectory_InvalidEntries(t *testing.T) {
	pubKey, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name string
		peer PeerInfo
	}{
		{"empty id", PeerInfo{Endpoint: "http://localhost:1", PublicKey: pubKey.String()}},
		{"bad key hex", PeerInfo{ParticipantID: "a", Endpoint: "http://localhost:1", PublicKey: "zz"}},
		{"short key", PeerInfo{ParticipantID: "a", Endpoint: "http://localhost:1", PublicKey: "abcd"}},
		{"relative endpoint", PeerInfo{ParticipantID: "a", Endpoint: "/peers", PublicKey: pubKey.String()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			directory, err := NewPeerDirectory()
			require.NoError(t, err)
			require.Error(t, directory.Add(&tt.peer))
		})
	}
}

func TestDirectory_ListAndRemove(t *testing.T) {
	directory, router := setupTestDirectory(t)

	for _, id := range []string{"client-02", "client-00", "client-01"} {
		signed, _ := createSignedPeer(t, id, "http://localhost:9000")
		require.NoError(t, directory.Add(signed.UnsafeObject()))
	}

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list PeerListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list.Peers, 3)
	require.Equal(t, "client-00", list.Peers[0].ParticipantID)
	require.Equal(t, "client-02", list.Peers[2].ParticipantID)

	req = httptest.NewRequest(http.MethodDelete, "/peers/client-01", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/peers/client-01", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDirectory_VerifySigner(t *testing.T) {
	signed, _ := createSignedPeer(t, "client-00", "http://localhost:9000")
	directory, err := NewPeerDirectory(signed.UnsafeObject())
	require.NoError(t, err)

	require.NoError(t, directory.VerifySigner("client-00", signed.PublicKey))

	other, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.ErrorIs(t, directory.VerifySigner("client-00", other), ErrSignerMismatch)
	require.ErrorIs(t, directory.VerifySigner("client-01", signed.PublicKey), ErrUnknownPeer)
}
