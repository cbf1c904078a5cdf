package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/store/memory"
	"github.com/MrSigel/pulseframelabs/backend/testutil"
)

type fakeCredentials struct {
	mu         sync.Mutex
	stored     *Credentials
	refreshed  *Credentials
	refreshErr error
	refreshes  int
	cleared    int
}

func (f *fakeCredentials) GetStoredConnection(context.Context, string) (*Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored, nil
}

func (f *fakeCredentials) RefreshToken(context.Context, string) (*Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.stored = f.refreshed
	return f.refreshed, nil
}

func (f *fakeCredentials) ClearStoredConnection(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.stored = nil
	return nil
}

// echoFactory builds handlers that record the message text per feature.
type echoFactory struct {
	mu   sync.Mutex
	seen map[string][]string
}

func (f *echoFactory) Names() []string { return []string{"chat-relay", "hotwords", "loyalty"} }

func (f *echoFactory) Build(_ context.Context, _ string, name string) (Handler, error) {
	return &funcHandler{name: name, handle: func(_ context.Context, ev chat.Event, hc HandlerContext) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.seen == nil {
			f.seen = map[string][]string{}
		}
		f.seen[name] = append(f.seen[name], ev.Text)
		return nil
	}}, nil
}

func expiredToken() error {
	return fmt.Errorf("%w: login authentication failed", chat.ErrAuthFailed)
}

func newTestController(t *testing.T, conn *testutil.FakeConn, creds *fakeCredentials) *Controller {
	t.Helper()
	c, err := NewController(context.Background(), Options{
		OwnerID:         "owner-1",
		Conn:            conn,
		Credentials:     creds,
		Features:        &echoFactory{},
		DefaultFeatures: []string{"chat-relay", "hotwords"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestConnectRefreshesOnceAndSucceeds(t *testing.T) {
	conn := &testutil.FakeConn{ConnectErrs: []error{expiredToken()}}
	creds := &fakeCredentials{
		stored:    &Credentials{AccessToken: "old", ChannelName: "Streamer"},
		refreshed: &Credentials{AccessToken: "new", ChannelName: "Streamer"},
	}
	c := newTestController(t, conn, creds)

	var statuses []Status
	c.SubscribeStatus(func(s Status) { statuses = append(statuses, s) })

	res, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectResultConnected, res)
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, 1, creds.refreshes)

	sessions := conn.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "old", sessions[0].Token)
	assert.Equal(t, "new", sessions[1].Token)
	assert.Equal(t, "streamer", c.Channel())
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, statuses)
}

func TestConnectRetryFailureEndsDisconnected(t *testing.T) {
	conn := &testutil.FakeConn{ConnectErrs: []error{expiredToken(), expiredToken()}}
	creds := &fakeCredentials{
		stored:    &Credentials{AccessToken: "old", ChannelName: "streamer"},
		refreshed: &Credentials{AccessToken: "still-bad", ChannelName: "streamer"},
	}
	c := newTestController(t, conn, creds)

	_, err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, chat.IsAuthError(err))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, 1, creds.refreshes)
	assert.Len(t, conn.Sessions(), 2)

	logs := c.Logs()
	require.NotEmpty(t, logs)
	assert.Equal(t, LevelError, logs[len(logs)-1].Level)
}

func TestConnectRefreshFailureIsSurfaced(t *testing.T) {
	conn := &testutil.FakeConn{ConnectErrs: []error{expiredToken()}}
	creds := &fakeCredentials{
		stored:     &Credentials{AccessToken: "old", ChannelName: "streamer"},
		refreshErr: errors.New("invalid refresh token"),
	}
	c := newTestController(t, conn, creds)

	_, err := c.Connect(context.Background())
	require.ErrorContains(t, err, "invalid refresh token")
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Len(t, conn.Sessions(), 1)
}

func TestConnectNetworkErrorIsNotRetried(t *testing.T) {
	conn := &testutil.FakeConn{ConnectErrs: []error{chat.ErrConnectTimeout}}
	creds := &fakeCredentials{stored: &Credentials{AccessToken: "tok", ChannelName: "streamer"}}
	c := newTestController(t, conn, creds)

	_, err := c.Connect(context.Background())
	require.ErrorIs(t, err, chat.ErrConnectTimeout)
	assert.Zero(t, creds.refreshes)
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnectWithoutCredentialsRequiresAuthorization(t *testing.T) {
	conn := &testutil.FakeConn{}
	c := newTestController(t, conn, &fakeCredentials{})

	res, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectResultAuthorizationRequired, res)
	assert.Empty(t, conn.Sessions())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestReconnectClosesPriorSessionFirst(t *testing.T) {
	conn := &testutil.FakeConn{}
	c := newTestController(t, conn, &fakeCredentials{stored: &Credentials{AccessToken: "tok", ChannelName: "streamer"}})

	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	_, err = c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, conn.Disconnects())
	assert.Equal(t, StatusConnected, c.Status())
}

func TestDispatchAfterDisconnectIsSuppressed(t *testing.T) {
	conn := &testutil.FakeConn{}
	creds := &fakeCredentials{stored: &Credentials{AccessToken: "tok", ChannelName: "streamer", BotLogin: "pulsebot"}}
	c := newTestController(t, conn, creds)
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	assert.True(t, conn.Deliver(chat.Event{Text: "hello", Sender: chat.Sender{Login: "ryzen"}}))
	assert.False(t, conn.Deliver(chat.Event{Text: "own", Sender: chat.Sender{Login: "PulseBot"}}))

	c.Disconnect()
	c.Disconnect()
	assert.False(t, conn.Deliver(chat.Event{Text: "late"}))
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Zero(t, creds.refreshes)
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 0, creds.cleared)
}

func TestDisconnectAccountClearsCredentials(t *testing.T) {
	conn := &testutil.FakeConn{}
	creds := &fakeCredentials{stored: &Credentials{AccessToken: "tok", ChannelName: "streamer"}}
	c := newTestController(t, conn, creds)
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.DisconnectAccount(context.Background()))
	assert.Equal(t, 1, creds.cleared)
	assert.Equal(t, StatusDisconnected, c.Status())

	res, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnectResultAuthorizationRequired, res)
}

func TestDroppedConnectionReportsDisconnected(t *testing.T) {
	conn := &testutil.FakeConn{}
	c := newTestController(t, conn, &fakeCredentials{stored: &Credentials{AccessToken: "tok", ChannelName: "streamer"}})
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	conn.Drop(errors.New("connection reset by peer"))
	assert.Equal(t, StatusDisconnected, c.Status())
	logs := c.Logs()
	assert.Contains(t, logs[len(logs)-1].Message, "connection lost")
}

// recordingConn keeps the callbacks of every session so a test can fire a late drop.
type recordingConn struct {
	*testutil.FakeConn
	mu  sync.Mutex
	cbs []chat.Callbacks
}

func (r *recordingConn) Connect(ctx context.Context, s chat.Session, cb chat.Callbacks) error {
	r.mu.Lock()
	r.cbs = append(r.cbs, cb)
	r.mu.Unlock()
	return r.FakeConn.Connect(ctx, s, cb)
}

func (r *recordingConn) callbacks(i int) chat.Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cbs[i]
}

// statusLog collects every published status.
type statusLog struct {
	mu   sync.Mutex
	seen []Status
}

func (l *statusLog) add(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, s)
}

func (l *statusLog) last() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.seen) == 0 {
		return ""
	}
	return l.seen[len(l.seen)-1]
}

func TestStaleDropAfterReconnectIsIgnored(t *testing.T) {
	conn := &recordingConn{FakeConn: &testutil.FakeConn{}}
	c, err := NewController(context.Background(), Options{
		OwnerID:     "owner-1",
		Conn:        conn,
		Credentials: &fakeCredentials{stored: &Credentials{AccessToken: "tok", ChannelName: "streamer"}},
		Features:    &echoFactory{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	statuses := &statusLog{}
	defer c.SubscribeStatus(statuses.add)()

	_, err = c.Connect(context.Background())
	require.NoError(t, err)
	_, err = c.Connect(context.Background())
	require.NoError(t, err)

	conn.callbacks(0).OnDrop(errors.New("connection reset by peer"))
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, StatusConnected, statuses.last())
	for _, e := range c.Logs() {
		assert.NotContains(t, e.Message, "connection lost")
	}
}

func TestDropRacingReconnectPublishesFinalStatusLast(t *testing.T) {
	conn := &testutil.FakeConn{}
	c := newTestController(t, conn, &fakeCredentials{stored: &Credentials{AccessToken: "tok", ChannelName: "streamer"}})
	statuses := &statusLog{}
	defer c.SubscribeStatus(statuses.add)()

	for i := 0; i < 50; i++ {
		_, err := c.Connect(context.Background())
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			conn.Drop(errors.New("connection reset by peer"))
		}()
		go func() {
			defer wg.Done()
			_, _ = c.Connect(context.Background())
		}()
		wg.Wait()

		require.Equal(t, c.Status(), statuses.last(), "iteration %d", i)
	}
}

func TestToggleFeatureWhileConnected(t *testing.T) {
	conn := &testutil.FakeConn{}
	toggles := memory.New()
	factory := &echoFactory{}
	c, err := NewController(context.Background(), Options{
		OwnerID:         "owner-1",
		Conn:            conn,
		Credentials:     &fakeCredentials{stored: &Credentials{AccessToken: "tok", ChannelName: "streamer"}},
		Features:        factory,
		Toggles:         toggles,
		DefaultFeatures: []string{"chat-relay"},
	})
	require.NoError(t, err)
	defer c.Close(context.Background())

	_, err = c.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.ToggleFeature(context.Background(), "loyalty", true))
	require.NoError(t, c.ToggleFeature(context.Background(), "loyalty", true))
	require.NoError(t, c.ToggleFeature(context.Background(), "chat-relay", false))
	require.NoError(t, c.ToggleFeature(context.Background(), "chat-relay", false))
	assert.ErrorIs(t, c.ToggleFeature(context.Background(), "karaoke", true), ErrUnknownFeature)
	assert.Equal(t, []string{"loyalty"}, c.EnabledFeatures())

	conn.Deliver(chat.Event{Text: "!join"})
	require.NoError(t, c.registry.Drain(context.Background()))
	factory.mu.Lock()
	assert.Equal(t, []string{"!join"}, factory.seen["loyalty"])
	assert.Empty(t, factory.seen["chat-relay"])
	factory.mu.Unlock()

	saved, err := toggles.LoadFeatures(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"loyalty": true, "chat-relay": false}, saved)
}

func TestPersistedTogglesOverrideDefaults(t *testing.T) {
	toggles := memory.New()
	require.NoError(t, toggles.SaveFeature(context.Background(), "owner-1", "hotwords", true))
	require.NoError(t, toggles.SaveFeature(context.Background(), "owner-1", "chat-relay", false))

	c, err := NewController(context.Background(), Options{
		OwnerID:         "owner-1",
		Conn:            &testutil.FakeConn{},
		Credentials:     &fakeCredentials{},
		Features:        &echoFactory{},
		Toggles:         toggles,
		DefaultFeatures: []string{"chat-relay"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hotwords"}, c.EnabledFeatures())
}

func TestConnectAfterCloseFails(t *testing.T) {
	c := newTestController(t, &testutil.FakeConn{}, &fakeCredentials{stored: &Credentials{AccessToken: "tok", ChannelName: "s"}})
	require.NoError(t, c.Close(context.Background()))
	_, err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManagerBuildsOncePerOwner(t *testing.T) {
	builds := 0
	var mu sync.Mutex
	m := NewManager(func(ctx context.Context, ownerID string) (*Controller, error) {
		mu.Lock()
		builds++
		mu.Unlock()
		return NewController(ctx, Options{
			OwnerID:     ownerID,
			Conn:        &testutil.FakeConn{},
			Credentials: &fakeCredentials{},
			Features:    &echoFactory{},
		})
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Get(context.Background(), "owner-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err := m.Get(context.Background(), "owner-2")
	require.NoError(t, err)

	assert.Equal(t, 2, builds)
	assert.Equal(t, []string{"owner-1", "owner-2"}, m.Owners())
	require.NoError(t, m.Close(context.Background()))
	assert.Empty(t, m.Owners())
}
