// Package publishertest provides an in-memory Transport for tests.
package publishertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/reasoncode"
)

// SentMessage is a payload handed to the FakeTransport.
type SentMessage struct {
	Topic   string
	Payload string
}

// FakeTransport records publishes and lets a test drive the connection hooks.
// It is safe for concurrent use.
type FakeTransport struct {
	// AckOnConnect, when set, is reported synchronously from Connect.
	AckOnConnect *reasoncode.Code
	// ConnectErr is returned from Connect when set.
	ConnectErr error
	// PublishFunc overrides the default always-delivered publish.
	PublishFunc func(ctx context.Context, topic string, payload []byte) (publisher.Outcome, error)

	mu         sync.Mutex
	hooks      publisher.Hooks
	address    string
	sent       []SentMessage
	closeCalls int
	disabled   bool
	connected  chan struct{}
	sentSignal chan struct{}
}

// NewFakeTransport returns a transport that acknowledges connects with
// Success immediately.
func NewFakeTransport() *FakeTransport {
	ok := reasoncode.Success
	return &FakeTransport{
		AckOnConnect: &ok,
		connected:    make(chan struct{}),
		sentSignal:   make(chan struct{}, 1),
	}
}

// NewManualTransport returns a transport that never acknowledges on its own;
// the test calls Ack.
func NewManualTransport() *FakeTransport {
	t := NewFakeTransport()
	t.AckOnConnect = nil
	return t
}

func (f *FakeTransport) Connect(_ context.Context, address string, hooks publisher.Hooks) error {
	f.mu.Lock()
	if f.ConnectErr != nil {
		f.mu.Unlock()
		return f.ConnectErr
	}
	f.hooks = hooks
	f.address = address
	ack := f.AckOnConnect
	select {
	case <-f.connected:
	default:
		close(f.connected)
	}
	f.mu.Unlock()

	if ack != nil {
		hooks.OnConnectAck(*ack)
	}
	return nil
}

func (f *FakeTransport) Publish(ctx context.Context, topic string, payload []byte) (publisher.Outcome, error) {
	f.mu.Lock()
	if f.disabled {
		f.mu.Unlock()
		return publisher.Rejected(reasoncode.NoConn, ""), errors.New("transport disabled")
	}
	n := len(f.sent) + 1
	f.sent = append(f.sent, SentMessage{Topic: topic, Payload: string(payload)})
	fn := f.PublishFunc
	f.mu.Unlock()

	select {
	case f.sentSignal <- struct{}{}:
	default:
	}

	if fn != nil {
		return fn(ctx, topic, payload)
	}
	return publisher.Delivered(fmt.Sprintf("%d", n)), nil
}

func (f *FakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
}

// Ack reports a connect acknowledgment through the captured hooks.
func (f *FakeTransport) Ack(code reasoncode.Code) {
	f.currentHooks().OnConnectAck(code)
}

// Drop reports a disconnect through the captured hooks.
func (f *FakeTransport) Drop(code reasoncode.Code) {
	f.currentHooks().OnDisconnect(code)
}

// Disable makes every later publish fail with a transport fault.
func (f *FakeTransport) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = true
}

// Connected is closed once Connect has been called.
func (f *FakeTransport) Connected() <-chan struct{} {
	return f.connected
}

// SentSignal receives a value after each publish (coalesced).
func (f *FakeTransport) SentSignal() <-chan struct{} {
	return f.sentSignal
}

// Sent returns a copy of the recorded publishes.
func (f *FakeTransport) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentCount is the number of publishes that reached the transport while it
// was enabled.
func (f *FakeTransport) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// CloseCalls is the number of times Close was called.
func (f *FakeTransport) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

// Address is the address passed to Connect.
func (f *FakeTransport) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

func (f *FakeTransport) currentHooks() publisher.Hooks {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hooks == nil {
		panic("publishertest: hooks used before Connect")
	}
	return f.hooks
}
