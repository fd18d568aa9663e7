package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var (
	// ErrRoundNotHosted is returned for rounds or participants this node does not host.
	ErrRoundNotHosted = errors.New("round not hosted on this node")

	// ErrMalformedEnvelope is returned for envelopes that do not decode.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// DefaultRoundRetention is how long a finished round stays queryable.
const DefaultRoundRetention = 10 * time.Minute

// NodeConfig configures a Node.
type NodeConfig struct {
	Directory  *PeerDirectory
	SigningKey crypto.PrivateKey

	// Snapshots receives client secret snapshots. Optional.
	Snapshots protocol.SnapshotStore

	// Transport overrides the outbound HTTPTransport.
	Transport protocol.Transport

	// AdminToken protects round and directory administration (user:pass).
	// Empty leaves the admin routes open.
	AdminToken string

	// RoundRetention is how long finished instances stay queryable before the
	// node drops them. Zero means DefaultRoundRetention.
	RoundRetention time.Duration

	Logger *slog.Logger
}

// Node hosts protocol instances of many concurrent rounds behind one HTTP
// endpoint. Inbound envelopes are verified against the peer directory and
// queued for delivery; outbound messages leave through the transport.
type Node struct {
	directory  *PeerDirectory
	signingKey crypto.PrivateKey
	snapshots  protocol.SnapshotStore
	adminToken string
	retention  time.Duration
	logger     *slog.Logger

	registry *protocol.Registry
	inbound  *protocol.LocalTransport
	outbound protocol.Transport

	mu      sync.RWMutex
	servers map[string]*hostedServer
	clients map[protocol.Address]*hostedClient

	closed    chan struct{}
	closeOnce sync.Once
}

type hostedServer struct {
	variant protocol.Variant
	server  protocol.Server
}

type hostedClient struct {
	variant protocol.Variant
	client  protocol.Client
}

// NewNode creates a node. Call Close to stop inbound delivery.
func NewNode(cfg *NodeConfig) (*Node, error) {
	if cfg.Directory == nil {
		return nil, errors.New("peer directory is required")
	}
	if _, err := cfg.SigningKey.PublicKey(); err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.RoundRetention
	if retention <= 0 {
		retention = DefaultRoundRetention
	}

	registry := protocol.NewRegistry(logger)
	outbound := cfg.Transport
	if outbound == nil {
		outbound = NewHTTPTransport(cfg.Directory, cfg.SigningKey, logger)
	}

	return &Node{
		directory:  cfg.Directory,
		signingKey: cfg.SigningKey,
		snapshots:  cfg.Snapshots,
		adminToken: cfg.AdminToken,
		retention:  retention,
		logger:     logger.With("component", "node"),
		registry:   registry,
		inbound:    protocol.NewLocalTransport(registry, logger),
		outbound:   outbound,
		servers:    make(map[string]*hostedServer),
		clients:    make(map[protocol.Address]*hostedClient),
		closed:     make(chan struct{}),
	}, nil
}

// PublicKey returns the node's signing public key.
func (n *Node) PublicKey() crypto.PublicKey {
	pubKey, _ := n.signingKey.PublicKey()
	return pubKey
}

// Registry exposes the node's protocol registry.
func (n *Node) Registry() *protocol.Registry {
	return n.registry
}

// Close stops delivering inbound messages and pruning finished rounds.
func (n *Node) Close() {
	n.closeOnce.Do(func() { close(n.closed) })
	n.inbound.Close()
}

// pruneWhenDone calls drop once done has been closed for the retention period.
func (n *Node) pruneWhenDone(done <-chan struct{}, drop func()) {
	select {
	case <-done:
	case <-n.closed:
		return
	}

	timer := time.NewTimer(n.retention)
	defer timer.Stop()
	select {
	case <-timer.C:
		drop()
	case <-n.closed:
	}
}

func (n *Node) env() protocol.Env {
	return protocol.Env{
		Registry:  n.registry,
		Transport: n.outbound,
		Snapshots: n.snapshots,
		Logger:    n.logger,
	}
}

// StartServer hosts and starts the server of a round.
func (n *Node) StartServer(ctx context.Context, variant protocol.Variant, cfg protocol.RoundConfig) (protocol.Server, error) {
	srv, err := protocol.NewServer(variant, cfg, n.env())
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if _, exists := n.servers[cfg.Handle]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: server of %q", protocol.ErrDuplicateInstance, cfg.Handle)
	}
	hosted := &hostedServer{variant: variant, server: srv}
	n.servers[cfg.Handle] = hosted
	n.mu.Unlock()

	if err := srv.Start(ctx); err != nil {
		n.mu.Lock()
		delete(n.servers, cfg.Handle)
		n.mu.Unlock()
		return nil, err
	}

	go n.pruneWhenDone(srv.Done(), func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.servers[cfg.Handle] == hosted {
			delete(n.servers, cfg.Handle)
			n.logger.Debug("pruned finished server", "handle", cfg.Handle)
		}
	})
	return srv, nil
}

// StartClient hosts and starts one client of a round.
func (n *Node) StartClient(ctx context.Context, variant protocol.Variant, clientID string, cfg protocol.RoundConfig) (protocol.Client, error) {
	c, err := protocol.NewClient(variant, cfg, clientID, n.env())
	if err != nil {
		return nil, err
	}

	addr := protocol.Address{Handle: cfg.Handle, Participant: clientID}
	n.mu.Lock()
	if _, exists := n.clients[addr]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("%w: client %s", protocol.ErrDuplicateInstance, addr)
	}
	hosted := &hostedClient{variant: variant, client: c}
	n.clients[addr] = hosted
	n.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		n.mu.Lock()
		delete(n.clients, addr)
		n.mu.Unlock()
		return nil, err
	}

	go n.pruneWhenDone(c.Done(), func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.clients[addr] == hosted {
			delete(n.clients, addr)
			n.logger.Debug("pruned finished client", "address", addr.String())
		}
	})
	return c, nil
}

// Server returns the hosted server of handle.
func (n *Node) Server(handle string) (protocol.Server, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.servers[handle]
	if !ok {
		return nil, fmt.Errorf("%w: server of %q", ErrRoundNotHosted, handle)
	}
	return h.server, nil
}

// Client returns a hosted client.
func (n *Node) Client(handle, clientID string) (protocol.Client, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.clients[protocol.Address{Handle: handle, Participant: clientID}]
	if !ok {
		return nil, fmt.Errorf("%w: client %s/%s", ErrRoundNotHosted, handle, clientID)
	}
	return h.client, nil
}

// Forget drops the records of a round. Instances still running keep running
// until they finish or time out.
func (n *Node) Forget(handle string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, handle)
	for addr := range n.clients {
		if addr.Handle == handle {
			delete(n.clients, addr)
		}
	}
}

// Health summarizes what the node is hosting for the liveness endpoint.
func (n *Node) Health() map[string]any {
	n.mu.RLock()
	servers, clients := len(n.servers), len(n.clients)
	n.mu.RUnlock()

	return map[string]any{
		"public_key":     n.PublicKey().String(),
		"servers":        servers,
		"clients":        clients,
		"registered":     n.registry.Len(),
		"open_mailboxes": n.inbound.Mailboxes(),
	}
}

// Statuses reports every hosted instance ordered by handle then participant.
func (n *Node) Statuses() []*InstanceStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*InstanceStatus, 0, len(n.servers)+len(n.clients))
	for _, handle := range slices.Sorted(maps.Keys(n.servers)) {
		h := n.servers[handle]
		out = append(out, instanceStatus(handle, h.server.Stage(), h.server.Err(), protocol.RoleServer, h.variant, ""))
	}
	addrs := slices.SortedFunc(maps.Keys(n.clients), func(a, b protocol.Address) int {
		return strings.Compare(a.String(), b.String())
	})
	for _, addr := range addrs {
		h := n.clients[addr]
		out = append(out, instanceStatus(addr.Handle, h.client.Stage(), h.client.Err(), protocol.RoleClient, h.variant, addr.Participant))
	}
	return out
}

func instanceStatus(handle string, stage protocol.Stage, err error, role protocol.Role, variant protocol.Variant, participant string) *InstanceStatus {
	st := &InstanceStatus{
		Handle:      handle,
		Participant: participant,
		Role:        role,
		Variant:     variant,
		Stage:       stage.String(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// Deliver authenticates a signed envelope and queues it for its destination.
func (n *Node) Deliver(ctx context.Context, signed *protocol.Signed[protocol.Envelope]) error {
	env, signer, err := signed.Recover()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerMismatch, err)
	}
	if env == nil {
		return fmt.Errorf("%w: no envelope", ErrMalformedEnvelope)
	}

	msg, err := env.Message()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := n.directory.VerifySigner(msg.Sender(), signer); err != nil {
		return err
	}
	if _, ok := n.registry.Lookup(env.Destination); !ok {
		return fmt.Errorf("%w: %s", protocol.ErrUnknownInstance, env.Destination)
	}
	return n.inbound.Send(ctx, env.Destination, msg)
}

// RegisterRoutes registers the message endpoint, the public directory and,
// behind admin auth, round administration.
func (n *Node) RegisterRoutes(r chi.Router) {
	r.Post(MessagesPath, n.handleMessage)
	n.directory.RegisterPublicRoutes(r)

	r.Group(func(r chi.Router) {
		if n.adminToken != "" {
			user, pass := parseAdminToken(n.adminToken)
			r.Use(middleware.BasicAuth("ssa-node", map[string]string{user: pass}))
		}
		n.directory.RegisterAdminRoutes(r)

		r.Get("/rounds", n.handleListRounds)
		r.Post("/rounds/server", n.handleStartServer)
		r.Post("/rounds/client", n.handleStartClient)
		r.Get("/rounds/{handle}/status", n.handleServerStatus)
		r.Post("/rounds/{handle}/decrypt", n.handleDecrypt)
		r.Get("/rounds/{handle}/result", n.handleResult)
		r.Delete("/rounds/{handle}", n.handleForget)
		r.Get("/rounds/{handle}/clients/{participant}", n.handleClientStatus)
		r.Post("/rounds/{handle}/clients/{participant}/contribute", n.handleContribute)
	})
}

func parseAdminToken(token string) (user, pass string) {
	idx := strings.Index(token, ":")
	if idx < 0 {
		return token, ""
	}
	return token[:idx], token[idx+1:]
}

func (n *Node) handleMessage(w http.ResponseWriter, r *http.Request) {
	var signed protocol.Signed[protocol.Envelope]
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := n.Deliver(r.Context(), &signed); err != nil {
		n.logger.Warn("rejected envelope", "err", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (n *Node) handleListRounds(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(n.Statuses())
}

func (n *Node) handleStartServer(w http.ResponseWriter, r *http.Request) {
	var req StartServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	srv, err := n.StartServer(context.Background(), req.Variant, req.Round)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(instanceStatus(req.Round.Handle, srv.Stage(), srv.Err(), protocol.RoleServer, req.Variant, ""))
}

func (n *Node) handleStartClient(w http.ResponseWriter, r *http.Request) {
	var req StartClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := n.StartClient(context.Background(), req.Variant, req.ParticipantID, req.Round)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(instanceStatus(req.Round.Handle, c.Stage(), c.Err(), protocol.RoleClient, req.Variant, req.ParticipantID))
}

func (n *Node) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	n.mu.RLock()
	h, ok := n.servers[handle]
	n.mu.RUnlock()
	if !ok {
		writeError(w, fmt.Errorf("%w: server of %q", ErrRoundNotHosted, handle))
		return
	}
	json.NewEncoder(w).Encode(instanceStatus(handle, h.server.Stage(), h.server.Err(), protocol.RoleServer, h.variant, ""))
}

func (n *Node) handleClientStatus(w http.ResponseWriter, r *http.Request) {
	addr := protocol.Address{Handle: chi.URLParam(r, "handle"), Participant: chi.URLParam(r, "participant")}
	n.mu.RLock()
	h, ok := n.clients[addr]
	n.mu.RUnlock()
	if !ok {
		writeError(w, fmt.Errorf("%w: client %s", ErrRoundNotHosted, addr))
		return
	}
	json.NewEncoder(w).Encode(instanceStatus(addr.Handle, h.client.Stage(), h.client.Err(), protocol.RoleClient, h.variant, addr.Participant))
}

func (n *Node) handleContribute(w http.ResponseWriter, r *http.Request) {
	c, err := n.Client(chi.URLParam(r, "handle"), chi.URLParam(r, "participant"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req ContributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Input == nil {
		http.Error(w, "missing input", http.StatusBadRequest)
		return
	}

	if err := c.WaitReady(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	if err := c.Encrypt(r.Context(), req.Input); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (n *Node) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	srv, err := n.Server(handle)
	if err != nil {
		writeError(w, err)
		return
	}

	var req DecryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.MinContributors > 0 {
		if err := srv.WaitForCiphertexts(r.Context(), req.MinContributors); err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := srv.Decrypt(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(&ResultResponse{
		Handle:       handle,
		Contributors: srv.Contributors(),
		Result:       result,
	})
}

func (n *Node) handleResult(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	srv, err := n.Server(handle)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := srv.Result()
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(&ResultResponse{
		Handle:       handle,
		Contributors: srv.Contributors(),
		Result:       result,
	})
}

func (n *Node) handleForget(w http.ResponseWriter, r *http.Request) {
	n.Forget(chi.URLParam(r, "handle"))
	w.WriteHeader(http.StatusOK)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRoundNotHosted),
		errors.Is(err, protocol.ErrUnknownInstance),
		errors.Is(err, protocol.ErrResultPending):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownPeer),
		errors.Is(err, ErrSignerMismatch):
		return http.StatusForbidden
	case errors.Is(err, protocol.ErrDuplicateInstance),
		errors.Is(err, protocol.ErrStageViolation),
		errors.Is(err, protocol.ErrDuplicateMessage):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrInvalidConfig),
		errors.Is(err, protocol.ErrTypeMismatch),
		errors.Is(err, ErrMalformedEnvelope):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrInsufficientParticipants),
		errors.Is(err, protocol.ErrReconstructionFailure),
		errors.Is(err, protocol.ErrContributorMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, protocol.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrTransportClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}
