package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Instance is a protocol state machine reachable through a Registry.
type Instance interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// Registry routes messages to the protocol instances hosted by one process.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	instances map[Address]Instance
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		instances: make(map[Address]Instance),
		logger:    logger.With("component", "registry"),
	}
}

// Register binds inst to (handle, participant).
func (r *Registry) Register(handle, participant string, inst Instance) error {
	addr := Address{Handle: handle, Participant: participant}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[addr]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateInstance, addr)
	}
	r.instances[addr] = inst
	r.logger.Debug("registered instance", "address", addr.String())
	return nil
}

// Unregister removes the instance at (handle, participant). Removing an
// absent instance is not an error.
func (r *Registry) Unregister(handle, participant string) {
	addr := Address{Handle: handle, Participant: participant}

	r.mu.Lock()
	_, exists := r.instances[addr]
	delete(r.instances, addr)
	r.mu.Unlock()

	if !exists {
		r.logger.Warn("unregister of unknown instance", "address", addr.String())
		return
	}
	r.logger.Debug("unregistered instance", "address", addr.String())
}

// Lookup returns the instance at dest, if any.
func (r *Registry) Lookup(dest Address) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[dest]
	return inst, ok
}

// Route delivers msg to the instance at dest. The handler runs outside the
// registry lock.
func (r *Registry) Route(ctx context.Context, dest Address, msg Message) error {
	inst, ok := r.Lookup(dest)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, dest)
	}
	return inst.HandleMessage(ctx, msg)
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Handles returns the distinct round handles with a registered instance.
func (r *Registry) Handles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var handles []string
	for addr := range r.instances {
		if _, ok := seen[addr.Handle]; ok {
			continue
		}
		seen[addr.Handle] = struct{}{}
		handles = append(handles, addr.Handle)
	}
	return handles
}
