package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/time/rate"

	"github.com/MrSigel/pulseframelabs/backend/telemetry"
)

var (
	// ErrAuthFailed means Twitch rejected the token (expired, revoked or malformed).
	ErrAuthFailed = errors.New("chat: authentication failed")
	// ErrConnectTimeout means the session was not established within the connect timeout.
	ErrConnectTimeout = errors.New("chat: connect timed out")
)

const (
	// maxMessageLen is Twitch's PRIVMSG body limit.
	maxMessageLen = 500

	twitchIRCAddress = "irc.chat.twitch.tv:6697"
)

// IsAuthError reports whether err is an authentication failure worth a token refresh.
func IsAuthError(err error) bool { return errors.Is(err, ErrAuthFailed) }

// Session binds a connection to a channel and the identity it speaks as.
type Session struct {
	Token     string
	Channel   string
	BotLogin  string
	BotUserID string
}

// Callbacks receive connection activity. OnEvent is invoked from the read loop and must not block.
type Callbacks struct {
	OnEvent func(Event)
	// OnDrop fires when an established session ends without Disconnect being called.
	OnDrop func(error)
}

// Conn is a single chat session. Implementations hold at most one live socket.
type Conn interface {
	Connect(ctx context.Context, s Session, cb Callbacks) error
	Disconnect()
	Send(ctx context.Context, text string)
}

// ircClient is the subset of *twitch.Client the connection drives.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
	Say(channel, text string)
}

// Options tune a TwitchConn.
type Options struct {
	// Address is the IRC server as host:port. PlainText disables TLS to it.
	Address        string
	PlainText      bool
	ConnectTimeout time.Duration
	// SendRate messages per SendPeriod; Twitch allows 20 per 30s for regular users.
	SendRate   int
	SendPeriod time.Duration
	// MaxSendDelay caps how long a reply may queue behind the rate limit before it is dropped.
	MaxSendDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Address == "" {
		o.Address = twitchIRCAddress
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.SendRate <= 0 {
		o.SendRate = 20
	}
	if o.SendPeriod <= 0 {
		o.SendPeriod = 30 * time.Second
	}
	if o.MaxSendDelay <= 0 {
		o.MaxSendDelay = 10 * time.Second
	}
	return o
}

// TwitchConn is a Conn backed by go-twitch-irc.
type TwitchConn struct {
	opts      Options
	newClient func(login, oauth, addr string) ircClient
	limiter   *rate.Limiter

	mu      sync.Mutex
	client  ircClient
	relay   *relay
	channel string
	live    *atomic.Bool
}

// NewTwitchConn returns a disconnected TwitchConn.
func NewTwitchConn(opts Options) *TwitchConn {
	opts = opts.withDefaults()
	return &TwitchConn{
		opts: opts,
		newClient: func(login, oauth, addr string) ircClient {
			cl := twitch.NewClient(login, oauth)
			// the relay handles TLS to the real server
			cl.IrcAddress, cl.TLS = addr, false
			return cl
		},
		limiter: rate.NewLimiter(rate.Every(opts.SendPeriod/time.Duration(opts.SendRate)), 1),
	}
}

// Connect opens the session, replacing any previous one. It returns once the
// server accepted the login, or with ErrAuthFailed, ErrConnectTimeout, ctx.Err()
// or a transport error.
func (c *TwitchConn) Connect(ctx context.Context, s Session, cb Callbacks) error {
	channel := NormalizeChannel(s.Channel)
	token := strings.TrimPrefix(strings.TrimSpace(s.Token), "oauth:")
	if channel == "" || token == "" {
		return errors.New("chat: channel and token are required")
	}
	// never two sockets for the same connection
	c.Disconnect()

	login := strings.ToLower(s.BotLogin)
	if login == "" {
		login = channel
	}
	rl, err := newRelay(c.opts.Address, !c.opts.PlainText, c.opts.ConnectTimeout)
	if err != nil {
		return err
	}
	client := c.newClient(login, "oauth:"+token, rl.Addr())
	live := &atomic.Bool{}
	// abandon tears down an attempt that never became the live session
	abandon := func() {
		live.Store(false)
		_ = client.Disconnect()
		rl.Close()
	}

	connected := make(chan struct{})
	var connectedOnce sync.Once
	client.OnConnect(func() {
		connectedOnce.Do(func() { close(connected) })
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if !live.Load() {
			return
		}
		ev := FromPrivateMessage(msg)
		if s.IsSelf(ev) {
			telemetry.MessagesSelf.Inc()
			return
		}
		if cb.OnEvent != nil {
			cb.OnEvent(ev)
		}
	})
	client.Join(channel)

	// live before Connect so nothing read after the welcome is lost
	live.Store(true)
	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-connected:
		c.mu.Lock()
		c.client, c.relay, c.channel, c.live = client, rl, channel, live
		c.mu.Unlock()
		go c.watch(client, rl, errCh, cb.OnDrop)
		slog.Info("chat connected", slog.String("channel", channel), slog.String("login", login))
		return nil
	case err := <-errCh:
		abandon()
		if rerr := rl.Err(); rerr != nil {
			err = rerr
		}
		return classify(err)
	case <-timer.C:
		abandon()
		return fmt.Errorf("%w after %s", ErrConnectTimeout, c.opts.ConnectTimeout)
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	}
}

// watch waits for the client's Connect to return and reports unplanned drops.
func (c *TwitchConn) watch(client ircClient, rl *relay, errCh <-chan error, onDrop func(error)) {
	err := <-errCh
	rl.Close()
	c.mu.Lock()
	current := c.client == client
	if current {
		c.live.Store(false)
		c.client, c.relay, c.live = nil, nil, nil
	}
	c.mu.Unlock()
	if !current || errors.Is(err, twitch.ErrClientDisconnected) {
		return
	}
	if rerr := rl.Err(); rerr != nil {
		err = rerr
	}
	err = classify(err)
	slog.Warn("chat connection dropped", slog.Any("err", err))
	if onDrop != nil {
		onDrop(err)
	}
}

// Disconnect closes the live session. Safe to call when not connected.
func (c *TwitchConn) Disconnect() {
	c.mu.Lock()
	client, rl, live := c.client, c.relay, c.live
	c.client, c.relay, c.live = nil, nil, nil
	c.mu.Unlock()
	if client == nil {
		return
	}
	live.Store(false)
	if err := client.Disconnect(); err != nil {
		slog.Debug("chat disconnect", slog.Any("err", err))
	}
	rl.Close()
}

// Send writes one line to the joined channel. Failures are logged, not returned.
// A line that would queue longer than MaxSendDelay behind the rate limit is dropped.
func (c *TwitchConn) Send(ctx context.Context, text string) {
	text = sanitize(text)
	if text == "" {
		return
	}

	r := c.limiter.Reserve()
	d := r.Delay()
	if d > c.opts.MaxSendDelay {
		r.Cancel()
		telemetry.RepliesFailed.Inc()
		slog.Warn("chat send dropped", slog.Duration("backlog", d), slog.String("text", text))
		return
	}
	if d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			r.Cancel()
			telemetry.RepliesFailed.Inc()
			slog.Warn("chat send aborted", slog.Any("err", ctx.Err()))
			return
		}
	}
	c.mu.Lock()
	client, channel := c.client, c.channel
	c.mu.Unlock()
	if client == nil {
		telemetry.RepliesFailed.Inc()
		slog.Warn("chat send without connection", slog.String("text", text))
		return
	}
	client.Say(channel, text)
	telemetry.RepliesSent.Inc()
}

func sanitize(text string) string {
	text = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(text))
	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen])
	}
	return text
}

func classify(err error) error {
	if err == nil {
		return errors.New("chat: connection closed")
	}
	if errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return err
}
