// Package twitchapi talks to the Twitch identity service: refreshing a bot's
// user token and validating a token to learn who it belongs to.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

const defaultValidateURL = "https://id.twitch.tv/oauth2/validate"

var (
	// ErrInvalidGrant means Twitch rejected the refresh token; the owner must authorize again.
	ErrInvalidGrant = errors.New("twitchapi: refresh token rejected")
	// ErrInvalidToken means /oauth2/validate rejected the access token.
	ErrInvalidToken = errors.New("twitchapi: access token invalid")
)

// Client holds the application credentials. Zero URLs use the Twitch endpoints.
type Client struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	ValidateURL  string
	HTTPClient   *http.Client
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{ClientID: clientID, ClientSecret: clientSecret}
}

// RefreshResult is the outcome of a refresh_token grant.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	Expiry       time.Time
}

// Validation is the identity /oauth2/validate reports for a token.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) oauthConfig() *oauth2.Config {
	endpoint := twitch.Endpoint
	if c.TokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: c.TokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	return &oauth2.Config{ClientID: c.ClientID, ClientSecret: c.ClientSecret, Endpoint: endpoint}
}

// RefreshToken exchanges a refresh token for a new access token. Twitch may
// rotate the refresh token; when it does not, the old one is returned.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if c.ClientID == "" || c.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient())
	// An expired token with only a refresh token makes the source run the refresh grant.
	tok, err := c.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, re.Response.Status)
		}
		return nil, fmt.Errorf("twitch refresh failed: %w", err)
	}
	res := &RefreshResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        scopeString(tok.Extra("scope")),
		Expiry:       tok.Expiry,
	}
	if res.RefreshToken == "" {
		res.RefreshToken = refreshToken
	}
	if res.Expiry.IsZero() {
		res.Expiry = ComputeExpiry(0)
	}
	return res, nil
}

// scopeString flattens the scope field, which Twitch sends as a JSON array.
func scopeString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		parts := make([]string, 0, len(s))
		for _, p := range s {
			if str, ok := p.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// ValidateToken asks Twitch who owns accessToken.
func (c *Client) ValidateToken(ctx context.Context, accessToken string) (*Validation, error) {
	url := c.ValidateURL
	if url == "" {
		url = defaultValidateURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+strings.TrimPrefix(accessToken, "oauth:"))
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch validate failed: %s: %s", resp.Status, string(b))
	}
	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	if v.Login == "" {
		return nil, errors.New("twitch validate: no login in response")
	}
	return &v, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
