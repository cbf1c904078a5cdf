package testutil

import (
	"context"
	"sync"

	"github.com/MrSigel/pulseframelabs/backend/chat"
)

// FakeConn is an in-memory chat.Conn. Connect errors are taken from
// ConnectErrs in order; once exhausted, Connect succeeds.
type FakeConn struct {
	mu          sync.Mutex
	ConnectErrs []error

	sessions    []chat.Session
	cb          chat.Callbacks
	session     chat.Session
	connected   bool
	sent        []string
	disconnects int
}

var _ chat.Conn = (*FakeConn)(nil)

func (f *FakeConn) Connect(ctx context.Context, s chat.Session, cb chat.Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(f.ConnectErrs) > 0 {
		err := f.ConnectErrs[0]
		f.ConnectErrs = f.ConnectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected, f.cb, f.session = true, cb, s
	return nil
}

func (f *FakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	f.cb = chat.Callbacks{}
}

func (f *FakeConn) Send(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
}

// Deliver plays an incoming message. It reports false when nothing was
// dispatched (not connected, or the bot's own message).
func (f *FakeConn) Deliver(ev chat.Event) bool {
	f.mu.Lock()
	connected, cb, s := f.connected, f.cb, f.session
	f.mu.Unlock()
	if !connected || s.IsSelf(ev) || cb.OnEvent == nil {
		return false
	}
	cb.OnEvent(ev)
	return true
}

// Drop simulates the server closing an established session.
func (f *FakeConn) Drop(err error) {
	f.mu.Lock()
	cb := f.cb
	f.connected = false
	f.cb = chat.Callbacks{}
	f.mu.Unlock()
	if cb.OnDrop != nil {
		cb.OnDrop(err)
	}
}

// Sessions returns every session Connect was called with.
func (f *FakeConn) Sessions() []chat.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Session(nil), f.sessions...)
}

func (f *FakeConn) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *FakeConn) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeConn) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}
