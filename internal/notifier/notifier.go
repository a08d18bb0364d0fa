// Package notifier defines the outbound delivery port the dispatcher sends
// rendered recommendation bodies through, and a reference in-memory
// implementation for tests and local development.
package notifier

import (
	"context"
	"errors"
	"sync"
)

// Errors a Notifier implementation may return. The dispatcher treats both
// as non-retriable within the current cycle.
var (
	ErrThrottled = errors.New("notifier: throttled")
	ErrTransport = errors.New("notifier: transport failure")
)

// Notifier is the opaque outbound channel port (WhatsApp transport in
// production). No ordering guarantees between contacts are required;
// per-contact FIFO is sufficient.
type Notifier interface {
	Send(ctx context.Context, contact, body string) error
}

// InMemory records every send and never fails unless pre-seeded to. It
// exists for tests and local `cycle` dry runs.
type InMemory struct {
	mu       sync.Mutex
	Sent     []Sent
	FailNext map[string]error
}

// Sent records one accepted Send call.
type Sent struct {
	Contact string
	Body    string
}

// NewInMemory returns a ready-to-use in-memory Notifier.
func NewInMemory() *InMemory {
	return &InMemory{FailNext: make(map[string]error)}
}

// Send implements Notifier.
func (n *InMemory) Send(_ context.Context, contact, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err, ok := n.FailNext[contact]; ok && err != nil {
		delete(n.FailNext, contact)
		return err
	}
	n.Sent = append(n.Sent, Sent{Contact: contact, Body: body})
	return nil
}

// SeedFailure makes the next Send to contact fail with err.
func (n *InMemory) SeedFailure(contact string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.FailNext[contact] = err
}

// Count returns how many messages were accepted for contact.
func (n *InMemory) Count(contact string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.Sent {
		if s.Contact == contact {
			count++
		}
	}
	return count
}
