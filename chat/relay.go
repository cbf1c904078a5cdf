package chat

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// relay carries one session's IRC traffic between the client and Twitch.
// The client dials the relay's loopback listener, so closing the relay tears
// the upstream socket down at any point, including before the server's welcome.
type relay struct {
	ln          net.Listener
	upstream    string
	useTLS      bool
	dialTimeout time.Duration

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	err    error
}

func newRelay(upstream string, useTLS bool, dialTimeout time.Duration) (*relay, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("chat: relay listen: %w", err)
	}
	r := &relay{
		ln:          ln,
		upstream:    upstream,
		useTLS:      useTLS,
		dialTimeout: dialTimeout,
		conns:       make(map[net.Conn]struct{}),
	}
	go r.serve()
	return r, nil
}

// Addr is the loopback address the IRC client dials.
func (r *relay) Addr() string { return r.ln.Addr().String() }

// Err returns the upstream dial error that shut the relay down, if any.
func (r *relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops accepting and closes every socket on both sides. Safe to call twice.
func (r *relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()

	_ = r.ln.Close()
	for c := range conns {
		_ = c.Close()
	}
}

func (r *relay) serve() {
	for {
		local, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.pipe(local)
	}
}

func (r *relay) pipe(local net.Conn) {
	if !r.track(local) {
		return
	}
	defer r.untrack(local)

	remote, err := r.dial()
	if err != nil {
		slog.Warn("chat upstream dial failed", slog.String("addr", r.upstream), slog.Any("err", err))
		// an unreachable upstream ends the attempt instead of spinning the client's reconnect loop
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
		r.Close()
		return
	}
	if !r.track(remote) {
		return
	}
	defer r.untrack(remote)

	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(remote, local); done <- struct{}{} }()
	go func() { _, _ = io.Copy(local, remote); done <- struct{}{} }()
	<-done
}

func (r *relay) dial() (net.Conn, error) {
	d := &net.Dialer{Timeout: r.dialTimeout, KeepAlive: 10 * time.Second}
	if r.useTLS {
		return tls.DialWithDialer(d, "tcp", r.upstream, &tls.Config{MinVersion: tls.VersionTLS12})
	}
	return d.Dial("tcp", r.upstream)
}

// track registers c for Close. A closed relay closes c and reports false.
func (r *relay) track(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = c.Close()
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

func (r *relay) untrack(c net.Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	_ = c.Close()
}
