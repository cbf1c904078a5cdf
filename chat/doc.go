// Package chat owns the live connection to one Twitch chat channel.
//
// A Conn joins a single channel with a user OAuth token (chat:read/chat:edit
// scopes), turns incoming PRIVMSG lines into Event values and hands them to
// the caller's OnEvent callback one at a time, in arrival order. Messages sent
// by the bot's own identity never reach OnEvent.
//
// TwitchConn is the production implementation on top of go-twitch-irc. The
// library reconnects by itself after transient network drops; authentication
// failures are surfaced from Connect as ErrAuthFailed so the caller can
// refresh the token and retry. Outgoing messages are paced to stay under
// Twitch's per-user chat rate limit; a reply that cannot be sent, or would
// queue too long, is logged and dropped, never returned as an error.
package chat
