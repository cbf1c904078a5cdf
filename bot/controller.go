package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/store"
	"github.com/MrSigel/pulseframelabs/backend/telemetry"
)

// Credentials are the chat credentials of one owner as held in memory while connected.
type Credentials struct {
	AccessToken    string
	RefreshToken   string
	ChannelName    string
	ExternalUserID string
	BotLogin       string
}

// CredentialProvider resolves and refreshes the stored chat credentials of an owner.
type CredentialProvider interface {
	// GetStoredConnection returns nil, nil when the owner never authorized the bot.
	GetStoredConnection(ctx context.Context, ownerID string) (*Credentials, error)
	RefreshToken(ctx context.Context, ownerID string) (*Credentials, error)
	ClearStoredConnection(ctx context.Context, ownerID string) error
}

// ConnectResult tells the caller what Connect achieved when it did not fail.
type ConnectResult string

const (
	ConnectResultConnected ConnectResult = "connected"
	// ConnectResultAuthorizationRequired means no credentials are stored and the OAuth flow must run first.
	ConnectResultAuthorizationRequired ConnectResult = "authorization_required"
)

type Options struct {
	OwnerID     string
	Conn        chat.Conn
	Credentials CredentialProvider
	Features    Factory
	// Toggles persists feature state; optional.
	Toggles store.Features
	// DefaultFeatures are enabled when the owner has no persisted toggles.
	DefaultFeatures []string
	LogSize         int
	DrainTimeout    time.Duration
	Clock           clockwork.Clock
}

// Controller is the facade of one owner's bot.
type Controller struct {
	owner    string
	conn     chat.Conn
	creds    CredentialProvider
	factory  Factory
	toggles  store.Features
	bus      *Bus
	registry *Registry
	drain    time.Duration

	// base outlives individual connections so disconnecting never cancels handler writes.
	base context.Context

	connecting atomic.Bool
	opMu       sync.Mutex // serializes connect, disconnect and close
	toggleMu   sync.Mutex
	// statusMu orders status changes with their publication; taken before stateMu.
	statusMu sync.Mutex

	stateMu sync.Mutex
	status  Status
	channel string
	gen     uint64
	closed  bool
}

// NewController builds a disconnected controller and registers the owner's
// features: the persisted toggles when there are any, DefaultFeatures otherwise.
func NewController(ctx context.Context, opts Options) (*Controller, error) {
	if opts.OwnerID == "" {
		return nil, errors.New("bot: owner id is required")
	}
	if opts.Conn == nil || opts.Credentials == nil || opts.Features == nil {
		return nil, errors.New("bot: conn, credentials and features are required")
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	c := &Controller{
		owner:   opts.OwnerID,
		conn:    opts.Conn,
		creds:   opts.Credentials,
		factory: opts.Features,
		toggles: opts.Toggles,
		bus:     NewBus(opts.OwnerID, opts.LogSize, opts.Clock),
		drain:   opts.DrainTimeout,
		base:    context.WithoutCancel(ctx),
		status:  StatusDisconnected,
	}
	c.registry = NewRegistry(func(handler string, err error) {
		c.bus.Log(LevelError, handler, err.Error())
	})

	enabled := slices.Clone(opts.DefaultFeatures)
	if c.toggles != nil {
		saved, err := c.toggles.LoadFeatures(ctx, c.owner)
		if err != nil {
			return nil, fmt.Errorf("load features: %w", err)
		}
		if len(saved) > 0 {
			enabled = enabled[:0]
			for _, name := range c.factory.Names() {
				if saved[name] {
					enabled = append(enabled, name)
				}
			}
		}
	}
	// register in catalog order so dispatch order does not depend on toggle history
	for _, name := range c.factory.Names() {
		if !slices.Contains(enabled, name) {
			continue
		}
		h, err := c.factory.Build(ctx, c.owner, name)
		if err != nil {
			return nil, fmt.Errorf("build feature %s: %w", name, err)
		}
		c.registry.Register(h)
	}
	return c, nil
}

func (c *Controller) OwnerID() string { return c.owner }

// Connect opens the chat session with the stored credentials. On an auth
// failure the token is refreshed once and the connect retried once.
func (c *Controller) Connect(ctx context.Context) (ConnectResult, error) {
	if !c.connecting.CompareAndSwap(false, true) {
		return "", ErrConnectInProgress
	}
	defer c.connecting.Store(false)
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.isClosed() {
		return "", ErrClosed
	}

	creds, err := c.creds.GetStoredConnection(ctx, c.owner)
	if err != nil {
		c.bus.Log(LevelError, CategorySystem, "could not load credentials: "+err.Error())
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil {
		c.bus.Log(LevelInfo, CategorySystem, "no stored credentials, authorization required")
		return ConnectResultAuthorizationRequired, nil
	}

	// never two sockets for one bot
	if c.Status() != StatusDisconnected {
		c.conn.Disconnect()
		c.setStatus(StatusDisconnected)
	}
	c.setStatus(StatusConnecting)

	err = c.attempt(ctx, creds)
	if err != nil && chat.IsAuthError(err) {
		c.bus.Log(LevelWarn, CategorySystem, "token rejected, refreshing")
		refreshed, rerr := c.creds.RefreshToken(ctx, c.owner)
		telemetry.ObserveRefresh(rerr)
		if rerr != nil {
			err = fmt.Errorf("refresh token: %w", rerr)
		} else {
			err = c.attempt(ctx, refreshed)
		}
	}
	if err != nil {
		c.setStatus(StatusDisconnected)
		c.bus.Log(LevelError, CategorySystem, "connect failed: "+err.Error())
		return "", err
	}
	c.setStatus(StatusConnected)
	c.bus.Log(LevelInfo, CategorySystem, "connected to #"+c.Channel())
	return ConnectResultConnected, nil
}

func (c *Controller) attempt(ctx context.Context, creds *Credentials) error {
	channel := chat.NormalizeChannel(creds.ChannelName)
	c.stateMu.Lock()
	c.gen++
	gen := c.gen
	c.channel = channel
	c.stateMu.Unlock()

	err := c.conn.Connect(ctx, chat.Session{
		Token:     creds.AccessToken,
		Channel:   channel,
		BotLogin:  creds.BotLogin,
		BotUserID: creds.ExternalUserID,
	}, chat.Callbacks{
		OnEvent: c.dispatch,
		OnDrop:  func(err error) { c.dropped(gen, err) },
	})
	switch {
	case err == nil:
		telemetry.ObserveConnect("ok")
	case chat.IsAuthError(err):
		telemetry.ObserveConnect("auth_failed")
	default:
		telemetry.ObserveConnect("error")
	}
	return err
}

func (c *Controller) dispatch(ev chat.Event) {
	telemetry.MessagesReceived.Inc()
	c.registry.Dispatch(c.base, ev, HandlerContext{
		OwnerID: c.owner,
		Channel: ev.Channel,
		Send:    c.conn.Send,
		Notify: func(handler, message string) {
			c.bus.Log(LevelInfo, handler, message)
		},
	})
}

func (c *Controller) dropped(gen uint64, err error) {
	c.statusMu.Lock()
	c.stateMu.Lock()
	current := gen == c.gen
	c.stateMu.Unlock()
	if current {
		c.applyStatus(StatusDisconnected)
	}
	c.statusMu.Unlock()
	if current {
		c.bus.Log(LevelError, CategorySystem, "connection lost: "+err.Error())
	}
}

// Disconnect closes the chat session. Stored credentials are kept. In-flight
// handler work is left to finish.
func (c *Controller) Disconnect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.disconnectLocked()
}

func (c *Controller) disconnectLocked() {
	c.stateMu.Lock()
	c.gen++
	c.stateMu.Unlock()
	c.conn.Disconnect()
	if c.Status() != StatusDisconnected {
		c.setStatus(StatusDisconnected)
		c.bus.Log(LevelInfo, CategorySystem, "disconnected")
	}
}

// DisconnectAccount disconnects and deletes the stored credentials.
func (c *Controller) DisconnectAccount(ctx context.Context) error {
	c.Disconnect()
	if err := c.creds.ClearStoredConnection(ctx, c.owner); err != nil {
		c.bus.Log(LevelError, CategorySystem, "could not clear credentials: "+err.Error())
		return fmt.Errorf("clear credentials: %w", err)
	}
	c.bus.Log(LevelInfo, CategorySystem, "account disconnected")
	return nil
}

// ToggleFeature registers or unregisters the named feature, also while connected.
// The new state is persisted best-effort.
func (c *Controller) ToggleFeature(ctx context.Context, name string, enabled bool) error {
	if !slices.Contains(c.factory.Names(), name) {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, name)
	}
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()

	if enabled {
		if !c.registry.SetEnabled(name, true) {
			h, err := c.factory.Build(ctx, c.owner, name)
			if err != nil {
				return fmt.Errorf("build feature %s: %w", name, err)
			}
			c.registry.Register(h)
		}
		c.bus.Log(LevelInfo, CategorySystem, "feature enabled: "+name)
	} else {
		if c.registry.Unregister(name) {
			c.bus.Log(LevelInfo, CategorySystem, "feature disabled: "+name)
		}
	}

	if c.toggles != nil {
		if err := c.toggles.SaveFeature(ctx, c.owner, name, enabled); err != nil {
			slog.Warn("persist feature toggle", slog.String("owner", c.owner), slog.String("feature", name), slog.Any("err", err))
		}
	}
	return nil
}

// EnabledFeatures lists enabled features in dispatch order.
func (c *Controller) EnabledFeatures() []string { return c.registry.EnabledNames() }

// AvailableFeatures lists every feature the controller can enable.
func (c *Controller) AvailableFeatures() []string { return slices.Clone(c.factory.Names()) }

func (c *Controller) Status() Status {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.status
}

// Channel is the channel of the current or last connection.
func (c *Controller) Channel() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.channel
}

func (c *Controller) Logs() []LogEntry { return c.bus.Entries() }

func (c *Controller) SubscribeStatus(fn func(Status)) func() { return c.bus.SubscribeStatus(fn) }

func (c *Controller) SubscribeLog(fn func(LogEntry)) func() { return c.bus.SubscribeLog(fn) }

func (c *Controller) setStatus(s Status) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.applyStatus(s)
}

// applyStatus records and publishes s. Callers hold statusMu.
func (c *Controller) applyStatus(s Status) {
	c.stateMu.Lock()
	prev := c.status
	c.status = s
	c.stateMu.Unlock()
	if prev == s {
		return
	}
	switch {
	case s == StatusConnected:
		telemetry.ConnectedBots.Inc()
	case prev == StatusConnected:
		telemetry.ConnectedBots.Dec()
	}
	c.bus.PublishStatus(s)
}

func (c *Controller) isClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}

// Close disconnects, waits for in-flight handlers up to the drain timeout (or
// ctx) and drops every subscriber. The controller cannot reconnect afterwards.
func (c *Controller) Close(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	c.stateMu.Unlock()

	c.disconnectLocked()
	ctx, cancel := context.WithTimeout(ctx, c.drain)
	defer cancel()
	err := c.registry.Drain(ctx)
	if err != nil {
		slog.Warn("bot handlers still running at close", slog.String("owner", c.owner), slog.Any("err", err))
	}
	c.bus.Close()
	return err
}
