package protocol

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Transport delivers protocol messages to instances by address.
//
// Send must not run the destination's handler on the caller's goroutine:
// instances send while holding their own lock.
type Transport interface {
	Send(ctx context.Context, to Address, msg Message) error
}

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// mailboxIdle is how long a drained mailbox waits before checking whether
// its destination is still registered.
const mailboxIdle = 30 * time.Second

// LocalTransport delivers messages to instances in the same process. Each
// destination has its own FIFO mailbox drained by one goroutine, so messages
// from one sender arrive in the order they were sent. A mailbox is retired
// once it is empty and its destination is not registered.
type LocalTransport struct {
	registry *Registry
	logger   *slog.Logger
	idle     time.Duration

	mu        sync.Mutex
	mailboxes map[Address]*mailbox
	closed    bool
	wg        sync.WaitGroup
	stop      chan struct{}
}

type mailbox struct {
	mu    sync.Mutex
	queue []Message
	wake  chan struct{}
}

func NewLocalTransport(registry *Registry, logger *slog.Logger) *LocalTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalTransport{
		registry:  registry,
		logger:    logger.With("component", "local_transport"),
		idle:      mailboxIdle,
		mailboxes: make(map[Address]*mailbox),
		stop:      make(chan struct{}),
	}
}

// Send enqueues msg for to and returns without waiting for delivery.
func (t *LocalTransport) Send(ctx context.Context, to Address, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	mb, ok := t.mailboxes[to]
	if !ok {
		mb = &mailbox{wake: make(chan struct{}, 1)}
		t.mailboxes[to] = mb
		t.wg.Add(1)
		go t.drain(to, mb)
	}
	// Appending under t.mu keeps retire from dropping a mailbox that just
	// received a message.
	mb.mu.Lock()
	mb.queue = append(mb.queue, msg)
	mb.mu.Unlock()
	t.mu.Unlock()

	select {
	case mb.wake <- struct{}{}:
	default:
	}
	return nil
}

func (t *LocalTransport) drain(to Address, mb *mailbox) {
	defer t.wg.Done()

	idle := time.NewTimer(t.idle)
	defer idle.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-mb.wake:
		case <-idle.C:
		}

		for {
			mb.mu.Lock()
			if len(mb.queue) == 0 {
				mb.mu.Unlock()
				break
			}
			msg := mb.queue[0]
			mb.queue[0] = nil
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()

			if err := t.registry.Route(context.Background(), to, msg); err != nil {
				t.logger.Warn("delivery failed",
					"to", to.String(),
					"type", string(TypeOf(msg)),
					"from", msg.Sender(),
					"err", err)
			}
		}

		if t.retire(to, mb) {
			return
		}
		idle.Reset(t.idle)
	}
}

// retire removes mb if it is empty and nothing is registered at to.
func (t *LocalTransport) retire(to Address, mb *mailbox) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if len(mb.queue) > 0 {
		return false
	}
	if _, ok := t.registry.Lookup(to); ok {
		return false
	}
	delete(t.mailboxes, to)
	t.logger.Debug("mailbox retired", "to", to.String())
	return true
}

// Mailboxes returns the number of live destination mailboxes.
func (t *LocalTransport) Mailboxes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.mailboxes)
}

// Close stops all mailbox goroutines. Undelivered messages are dropped.
func (t *LocalTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.stop)
	t.mu.Unlock()

	t.wg.Wait()
}
