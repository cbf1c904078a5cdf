package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/telemetry"
)

type entry struct {
	handler Handler
	enabled bool
}

// handlerSet is never mutated after publication; a dispatch pass reads exactly one.
type handlerSet struct {
	order []entry
	index map[string]int
}

func (s *handlerSet) clone() *handlerSet {
	n := &handlerSet{order: append([]entry(nil), s.order...), index: make(map[string]int, len(s.index))}
	for k, v := range s.index {
		n.index[k] = v
	}
	return n
}

func (s *handlerSet) reindex() {
	s.index = make(map[string]int, len(s.order))
	for i, e := range s.order {
		s.index[e.handler.Name()] = i
	}
}

// Registry is the ordered set of named handlers of one bot. Writers swap an
// immutable snapshot, so a message is dispatched against either the old or the
// new set, never a mix.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[handlerSet]

	onError  func(handler string, err error)
	inflight sync.WaitGroup
}

// NewRegistry returns an empty registry. onError receives every handler failure,
// including recovered panics.
func NewRegistry(onError func(handler string, err error)) *Registry {
	r := &Registry{onError: onError}
	r.current.Store(&handlerSet{index: map[string]int{}})
	return r
}

// Register adds h enabled. A handler with the same name is replaced in place,
// keeping its position in the dispatch order.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.current.Load().clone()
	if i, ok := next.index[h.Name()]; ok {
		next.order[i] = entry{handler: h, enabled: true}
	} else {
		next.order = append(next.order, entry{handler: h, enabled: true})
		next.index[h.Name()] = len(next.order) - 1
	}
	r.current.Store(next)
}

// Unregister removes the named handler. It reports whether one was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current.Load()
	i, ok := cur.index[name]
	if !ok {
		return false
	}
	next := &handlerSet{order: make([]entry, 0, len(cur.order)-1)}
	next.order = append(next.order, cur.order[:i]...)
	next.order = append(next.order, cur.order[i+1:]...)
	next.reindex()
	r.current.Store(next)
	return true
}

// SetEnabled flips the enabled flag of a registered handler.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.current.Load()
	i, ok := cur.index[name]
	if !ok {
		return false
	}
	if cur.order[i].enabled == enabled {
		return true
	}
	next := cur.clone()
	next.order[i].enabled = enabled
	r.current.Store(next)
	return true
}

func (r *Registry) Has(name string) bool {
	_, ok := r.current.Load().index[name]
	return ok
}

// Names lists registered handlers in dispatch order.
func (r *Registry) Names() []string {
	cur := r.current.Load()
	out := make([]string, 0, len(cur.order))
	for _, e := range cur.order {
		out = append(out, e.handler.Name())
	}
	return out
}

// EnabledNames lists enabled handlers in dispatch order.
func (r *Registry) EnabledNames() []string {
	cur := r.current.Load()
	out := make([]string, 0, len(cur.order))
	for _, e := range cur.order {
		if e.enabled {
			out = append(out, e.handler.Name())
		}
	}
	return out
}

// Pass is one message's dispatch.
type Pass struct {
	handlers []string
	wg       sync.WaitGroup
}

// Handlers returns the names of the handlers the message was offered to, in order.
func (p *Pass) Handlers() []string { return p.handlers }

// Wait blocks until every handler of the pass returned.
func (p *Pass) Wait() { p.wg.Wait() }

// Dispatch offers ev to every enabled handler whose predicate matches, in
// registration order, and starts each match without waiting on the previous
// one. The handlers run on a context detached from ctx's cancellation.
func (r *Registry) Dispatch(ctx context.Context, ev chat.Event, hc HandlerContext) *Pass {
	set := r.current.Load()
	pass := &Pass{}
	base := context.WithoutCancel(ctx)
	for _, e := range set.order {
		if !e.enabled {
			continue
		}
		h := e.handler
		if !r.matches(h, ev) {
			continue
		}
		pass.handlers = append(pass.handlers, h.Name())
		pass.wg.Add(1)
		r.inflight.Add(1)
		hcCopy := hc
		hcCopy.handler = h.Name()
		go func() {
			defer r.inflight.Done()
			defer pass.wg.Done()
			r.run(base, h, ev, hcCopy)
		}()
	}
	return pass
}

func (r *Registry) matches(h Handler, ev chat.Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(h.Name(), fmt.Errorf("panic in CanHandle: %v", rec))
			ok = false
		}
	}()
	return h.CanHandle(ev)
}

func (r *Registry) run(ctx context.Context, h Handler, ev chat.Event, hc HandlerContext) {
	name := h.Name()
	ctx, span := telemetry.HandlerSpan(ctx, name, hc.OwnerID)
	start := time.Now()
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			slog.Error("handler panic", slog.String("handler", name), slog.String("stack", string(debug.Stack())))
		}
		telemetry.ObserveHandler(name, time.Since(start), err)
		telemetry.EndSpan(span, err)
		if err != nil {
			r.fail(name, err)
		}
	}()
	err = h.Handle(ctx, ev, hc)
}

func (r *Registry) fail(name string, err error) {
	if r.onError != nil {
		r.onError(name, err)
		return
	}
	slog.Error("handler failed", slog.String("handler", name), slog.Any("err", err))
}

// Drain waits for every in-flight handler or ctx, whichever comes first.
func (r *Registry) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
