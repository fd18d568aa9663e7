package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/YanshiShield/YanshiShield-sub000/crypto"
	"github.com/YanshiShield/YanshiShield-sub000/protocol"
)

// MessagesPath is where nodes accept signed protocol envelopes.
const MessagesPath = "/messages"

// HTTPTransport posts protocol messages to the node hosting the destination
// participant, signed with this node's key.
//
// Send returns once the remote node has queued the message, so the
// destination's handler never runs on the sender's goroutine.
type HTTPTransport struct {
	directory  *PeerDirectory
	signingKey crypto.PrivateKey
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPTransport creates a transport resolving destinations through directory.
func NewHTTPTransport(directory *PeerDirectory, signingKey crypto.PrivateKey, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		directory:  directory,
		signingKey: signingKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "http_transport"),
	}
}

func (t *HTTPTransport) Send(ctx context.Context, to protocol.Address, msg protocol.Message) error {
	peer, err := t.directory.Lookup(to.Participant)
	if err != nil {
		return err
	}

	env, err := protocol.NewEnvelope(to, msg)
	if err != nil {
		return err
	}
	signed, err := protocol.NewSigned(t.signingKey, env)
	if err != nil {
		return fmt.Errorf("failed to sign envelope: %w", err)
	}
	body, err := json.Marshal(signed)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.Endpoint+MessagesPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s rejected %s (%d): %s", peer.Endpoint, env.Type, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	t.logger.Debug("message sent", "to", to.String(), "type", string(env.Type), "bytes", len(body))
	return nil
}
