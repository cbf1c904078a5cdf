// Package oauth keeps the bot's stored Twitch credentials usable: it hands
// them to controllers, refreshes them on demand or ahead of expiry, and
// fills in the bot identity when the stored row lacks it.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/store"
	"github.com/MrSigel/pulseframelabs/backend/twitchapi"
)

// ErrNoRefreshToken means the stored row cannot be refreshed; the owner must authorize again.
var ErrNoRefreshToken = errors.New("oauth: no refresh token stored")

const refreshTimeout = 15 * time.Second

// TwitchAuth is the part of twitchapi.Client the provider uses.
type TwitchAuth interface {
	RefreshToken(ctx context.Context, refreshToken string) (*twitchapi.RefreshResult, error)
	ValidateToken(ctx context.Context, accessToken string) (*twitchapi.Validation, error)
}

// Provider implements bot.CredentialProvider over the connections table.
type Provider struct {
	conns  store.Connections
	twitch TwitchAuth
	group  singleflight.Group
}

var _ bot.CredentialProvider = (*Provider)(nil)

func NewProvider(conns store.Connections, twitch TwitchAuth) *Provider {
	return &Provider{conns: conns, twitch: twitch}
}

func toCredentials(c *store.Connection) *bot.Credentials {
	return &bot.Credentials{
		AccessToken:    c.AccessToken,
		RefreshToken:   c.RefreshToken,
		ChannelName:    c.ChannelName,
		ExternalUserID: c.ExternalUserID,
		BotLogin:       c.BotLogin,
	}
}

// GetStoredConnection returns nil when the owner never authorized the bot.
func (p *Provider) GetStoredConnection(ctx context.Context, ownerID string) (*bot.Credentials, error) {
	c, err := p.conns.GetConnection(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if c == nil || (c.AccessToken == "" && c.RefreshToken == "") {
		return nil, nil
	}
	if c.BotLogin == "" || c.ExternalUserID == "" {
		p.resolveIdentity(ctx, c)
	}
	return toCredentials(c), nil
}

// resolveIdentity asks Twitch who the token belongs to and stores the answer.
// A failure is logged; the channel name stands in for the login.
func (p *Provider) resolveIdentity(ctx context.Context, c *store.Connection) {
	log := slog.Default().With(slog.String("component", "oauth"), slog.String("owner", c.OwnerID))
	v, err := p.twitch.ValidateToken(ctx, c.AccessToken)
	if err != nil {
		log.Warn("could not resolve bot identity", slog.Any("err", err))
		if c.BotLogin == "" {
			c.BotLogin = strings.ToLower(c.ChannelName)
		}
		return
	}
	c.BotLogin = strings.ToLower(v.Login)
	c.ExternalUserID = v.UserID
	if err := p.conns.SaveConnection(ctx, *c); err != nil {
		log.Warn("could not store bot identity", slog.Any("err", err))
	}
}

// RefreshToken runs the refresh grant for the owner and persists the result.
// Concurrent calls for one owner share a single grant.
func (p *Provider) RefreshToken(ctx context.Context, ownerID string) (*bot.Credentials, error) {
	v, err, _ := p.group.Do(ownerID, func() (any, error) {
		// shared by every waiter, so not bound to the first caller's cancellation
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return p.refresh(rctx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	return toCredentials(v.(*store.Connection)), nil
}

func (p *Provider) refresh(ctx context.Context, ownerID string) (*store.Connection, error) {
	c, err := p.conns.GetConnection(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if c == nil || c.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	res, err := p.twitch.RefreshToken(ctx, c.RefreshToken)
	if err != nil {
		return nil, err
	}
	c.AccessToken = res.AccessToken
	c.RefreshToken = res.RefreshToken
	c.ExpiresAt = res.Expiry
	if res.Scope != "" {
		c.Scope = res.Scope
	}
	if err := p.conns.SaveConnection(ctx, *c); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	slog.Info("token refreshed", slog.String("component", "oauth"), slog.String("owner", ownerID))
	return c, nil
}

// RefreshOwner refreshes without returning the credentials; it is the
// refresher's per-owner callback.
func (p *Provider) RefreshOwner(ctx context.Context, ownerID string) error {
	_, err := p.RefreshToken(ctx, ownerID)
	return err
}

func (p *Provider) ClearStoredConnection(ctx context.Context, ownerID string) error {
	return p.conns.DeleteConnection(ctx, ownerID)
}
