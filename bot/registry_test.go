package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSigel/pulseframelabs/backend/chat"
)

type funcHandler struct {
	name   string
	match  func(chat.Event) bool
	handle func(context.Context, chat.Event, HandlerContext) error
}

func (h *funcHandler) Name() string { return h.name }

func (h *funcHandler) CanHandle(ev chat.Event) bool {
	if h.match == nil {
		return true
	}
	return h.match(ev)
}

func (h *funcHandler) Handle(ctx context.Context, ev chat.Event, hc HandlerContext) error {
	if h.handle == nil {
		return nil
	}
	return h.handle(ctx, ev, hc)
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDispatchInvokesEnabledMatchingHandlersInOrder(t *testing.T) {
	var failures []string
	var fmu sync.Mutex
	reg := NewRegistry(func(handler string, err error) {
		fmu.Lock()
		defer fmu.Unlock()
		failures = append(failures, handler)
	})
	rec := &recorder{}

	reg.Register(&funcHandler{name: "a", handle: func(context.Context, chat.Event, HandlerContext) error {
		rec.add("a")
		return nil
	}})
	reg.Register(&funcHandler{name: "boom", handle: func(context.Context, chat.Event, HandlerContext) error {
		rec.add("boom")
		return errors.New("db down")
	}})
	reg.Register(&funcHandler{name: "panics", handle: func(context.Context, chat.Event, HandlerContext) error {
		rec.add("panics")
		panic("nil map")
	}})
	reg.Register(&funcHandler{name: "never", match: func(chat.Event) bool { return false }})
	reg.Register(&funcHandler{name: "off", handle: func(context.Context, chat.Event, HandlerContext) error {
		rec.add("off")
		return nil
	}})
	reg.Register(&funcHandler{name: "z", handle: func(context.Context, chat.Event, HandlerContext) error {
		rec.add("z")
		return nil
	}})
	require.True(t, reg.SetEnabled("off", false))

	pass := reg.Dispatch(context.Background(), chat.Event{Text: "hi"}, HandlerContext{OwnerID: "o"})
	pass.Wait()

	assert.Equal(t, []string{"a", "boom", "panics", "z"}, pass.Handlers())
	assert.ElementsMatch(t, []string{"a", "boom", "panics", "z"}, rec.list())
	fmu.Lock()
	assert.ElementsMatch(t, []string{"boom", "panics"}, failures)
	fmu.Unlock()
}

func TestDispatchDoesNotWaitForSlowHandlers(t *testing.T) {
	reg := NewRegistry(nil)
	release := make(chan struct{})
	fastDone := make(chan struct{})
	reg.Register(&funcHandler{name: "slow", handle: func(context.Context, chat.Event, HandlerContext) error {
		<-release
		return nil
	}})
	reg.Register(&funcHandler{name: "fast", handle: func(context.Context, chat.Event, HandlerContext) error {
		close(fastDone)
		return nil
	}})

	pass := reg.Dispatch(context.Background(), chat.Event{}, HandlerContext{})
	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("fast handler blocked behind slow one")
	}
	close(release)
	pass.Wait()
}

func TestHandlersOutliveDispatchContext(t *testing.T) {
	reg := NewRegistry(nil)
	gotErr := make(chan error, 1)
	reg.Register(&funcHandler{name: "w", handle: func(ctx context.Context, _ chat.Event, _ HandlerContext) error {
		time.Sleep(10 * time.Millisecond)
		gotErr <- ctx.Err()
		return nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	pass := reg.Dispatch(ctx, chat.Event{}, HandlerContext{})
	cancel()
	pass.Wait()
	assert.NoError(t, <-gotErr)
}

func TestRegisterReplacesInPlace(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&funcHandler{name: "a"})
	reg.Register(&funcHandler{name: "b"})
	reg.Register(&funcHandler{name: "c"})

	replaced := &funcHandler{name: "b", match: func(chat.Event) bool { return false }}
	reg.Register(replaced)
	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())

	pass := reg.Dispatch(context.Background(), chat.Event{}, HandlerContext{})
	pass.Wait()
	assert.Equal(t, []string{"a", "c"}, pass.Handlers())

	assert.True(t, reg.Unregister("a"))
	assert.False(t, reg.Unregister("a"))
	assert.Equal(t, []string{"b", "c"}, reg.Names())
	assert.True(t, reg.Has("c"))
	assert.False(t, reg.SetEnabled("a", true))
}

func TestPassSeesOneSnapshot(t *testing.T) {
	reg := NewRegistry(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	reg.Register(&funcHandler{name: "first", handle: func(context.Context, chat.Event, HandlerContext) error {
		close(started)
		<-release
		return nil
	}})
	pass := reg.Dispatch(context.Background(), chat.Event{}, HandlerContext{})
	<-started
	reg.Register(&funcHandler{name: "late"})
	close(release)
	pass.Wait()
	assert.Equal(t, []string{"first"}, pass.Handlers())
}

func TestHandlerContextCarriesHandlerName(t *testing.T) {
	reg := NewRegistry(nil)
	var notes []string
	var mu sync.Mutex
	reg.Register(&funcHandler{name: "hotwords", handle: func(_ context.Context, _ chat.Event, hc HandlerContext) error {
		hc.Info("counted 2 words")
		hc.Reply(context.Background(), "ignored without Send")
		return nil
	}})
	pass := reg.Dispatch(context.Background(), chat.Event{}, HandlerContext{Notify: func(handler, msg string) {
		mu.Lock()
		defer mu.Unlock()
		notes = append(notes, handler+": "+msg)
	}})
	pass.Wait()
	assert.Equal(t, []string{"hotwords: counted 2 words"}, notes)
}

func TestDrainHonorsDeadline(t *testing.T) {
	reg := NewRegistry(nil)
	release := make(chan struct{})
	reg.Register(&funcHandler{name: "stuck", handle: func(context.Context, chat.Event, HandlerContext) error {
		<-release
		return nil
	}})
	reg.Dispatch(context.Background(), chat.Event{}, HandlerContext{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, reg.Drain(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, reg.Drain(context.Background()))
}
