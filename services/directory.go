package services

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/protocol"
	"github.com/go-chi/chi/v5"
)

var (
	// ErrUnknownPeer is returned for participants missing from the directory.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrSignerMismatch is returned when a message is signed by a key other
	// than the one registered for its sender.
	ErrSignerMismatch = errors.New("signer does not match registered key")
)

// PeerDirectory maps participant ids to the node hosting them.
type PeerDirectory struct {
	mu    sync.RWMutex
	peers map[string]*PeerInfo
}

// NewPeerDirectory creates a directory seeded with peers.
func NewPeerDirectory(peers ...*PeerInfo) (*PeerDirectory, error) {
	d := &PeerDirectory{peers: make(map[string]*PeerInfo)}
	for _, p := range peers {
		if err := d.Add(p); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func validatePeer(p *PeerInfo) error {
	if p.ParticipantID == "" {
		return errors.New("empty participant id")
	}
	pk, err := p.ParsePublicKey()
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	if len(pk) != ed25519.PublicKeySize {
		return fmt.Errorf("public key has %d bytes", len(pk))
	}
	u, err := url.Parse(p.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q", p.Endpoint)
	}
	return nil
}

// Add inserts or replaces a peer.
func (d *PeerDirectory) Add(p *PeerInfo) error {
	if err := validatePeer(p); err != nil {
		return err
	}
	entry := *p
	entry.Endpoint = strings.TrimRight(entry.Endpoint, "/")

	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[p.ParticipantID] = &entry
	return nil
}

// Remove drops a peer. Unknown ids are ignored.
func (d *PeerDirectory) Remove(participantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, participantID)
}

// Lookup returns the entry for participantID.
func (d *PeerDirectory) Lookup(participantID string) (*PeerInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[participantID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPeer, participantID)
	}
	entry := *p
	return &entry, nil
}

// Peers returns all entries ordered by participant id.
func (d *PeerDirectory) Peers() []*PeerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*PeerInfo, 0, len(d.peers))
	for _, id := range slices.Sorted(maps.Keys(d.peers)) {
		entry := *d.peers[id]
		out = append(out, &entry)
	}
	return out
}

// VerifySigner checks that signer is the registered key of participantID.
func (d *PeerDirectory) VerifySigner(participantID string, signer crypto.PublicKey) error {
	p, err := d.Lookup(participantID)
	if err != nil {
		return err
	}
	registered, err := p.ParsePublicKey()
	if err != nil {
		return err
	}
	if !registered.Equal(signer) {
		return fmt.Errorf("%w: %q", ErrSignerMismatch, participantID)
	}
	return nil
}

// RegisterPublicRoutes exposes read access to the directory.
func (d *PeerDirectory) RegisterPublicRoutes(router chi.Router) {
	router.Get("/peers", d.handleListPeers)
	router.Get("/peers/{participant}", d.handleGetPeer)
}

// RegisterAdminRoutes exposes directory mutation. Mount behind admin auth.
func (d *PeerDirectory) RegisterAdminRoutes(router chi.Router) {
	router.Post("/peers", d.handleRegister)
	router.Delete("/peers/{participant}", d.handleUnregister)
}

func (d *PeerDirectory) handleRegister(w http.ResponseWriter, req *http.Request) {
	var signedReq protocol.Signed[PeerInfo]
	if err := json.NewDecoder(req.Body).Decode(&signedReq); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	peer, signer, err := signedReq.Recover()
	if err != nil {
		http.Error(w, fmt.Errorf("invalid signature: %w", err).Error(), http.StatusForbidden)
		return
	}
	if peer == nil {
		http.Error(w, "missing peer", http.StatusBadRequest)
		return
	}

	if signer.String() != peer.PublicKey {
		http.Error(w, "signer does not match claimed public key", http.StatusForbidden)
		return
	}

	if err := d.Add(peer); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	json.NewEncoder(w).Encode(&PeerRegistrationResponse{
		Success:       true,
		ParticipantID: peer.ParticipantID,
	})
}

func (d *PeerDirectory) handleUnregister(w http.ResponseWriter, req *http.Request) {
	d.Remove(chi.URLParam(req, "participant"))
	w.WriteHeader(http.StatusOK)
}

func (d *PeerDirectory) handleListPeers(w http.ResponseWriter, req *http.Request) {
	json.NewEncoder(w).Encode(&PeerListResponse{Peers: d.Peers()})
}

func (d *PeerDirectory) handleGetPeer(w http.ResponseWriter, req *http.Request) {
	p, err := d.Lookup(chi.URLParam(req, "participant"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(p)
}
