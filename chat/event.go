package chat

import (
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Role is the mutually exclusive chat tier of a sender.
type Role string

const (
	RoleModerator  Role = "moderator"
	RoleSubscriber Role = "subscriber"
	RoleViewer     Role = "viewer"
)

// Sender identifies the author of a chat message.
type Sender struct {
	ID            string
	Login         string
	DisplayName   string
	IsModerator   bool
	IsSubscriber  bool
	IsBroadcaster bool
}

// Role returns the first matching tier: moderator, then subscriber, then viewer.
// The broadcaster ranks as a moderator.
func (s Sender) Role() Role {
	switch {
	case s.IsModerator || s.IsBroadcaster:
		return RoleModerator
	case s.IsSubscriber:
		return RoleSubscriber
	default:
		return RoleViewer
	}
}

// Name is the display name, falling back to the login.
func (s Sender) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Login
}

// Event is one chat message as seen by the handlers. It lives for a single dispatch pass.
type Event struct {
	MessageID  string
	Channel    string
	Sender     Sender
	Text       string
	ReceivedAt time.Time
}

// FromPrivateMessage converts a go-twitch-irc PRIVMSG into an Event.
func FromPrivateMessage(msg twitch.PrivateMessage) Event {
	badges := msg.User.Badges
	received := msg.Time
	if received.IsZero() {
		received = time.Now()
	}
	return Event{
		MessageID: msg.ID,
		Channel:   strings.ToLower(msg.Channel),
		Sender: Sender{
			ID:            msg.User.ID,
			Login:         strings.ToLower(msg.User.Name),
			DisplayName:   msg.User.DisplayName,
			IsModerator:   msg.Tags["mod"] == "1" || hasBadge(badges, "moderator"),
			IsSubscriber:  msg.Tags["subscriber"] == "1" || hasBadge(badges, "subscriber") || hasBadge(badges, "founder"),
			IsBroadcaster: hasBadge(badges, "broadcaster"),
		},
		Text:       msg.Message,
		ReceivedAt: received.UTC(),
	}
}

// hasBadge checks presence only; badge versions start at 0 (founder/0).
func hasBadge(badges map[string]int, name string) bool {
	_, ok := badges[name]
	return ok
}

// IsSelf reports whether the event was sent by the session's own identity.
func (s Session) IsSelf(ev Event) bool {
	if s.BotUserID != "" && ev.Sender.ID == s.BotUserID {
		return true
	}
	return s.BotLogin != "" && strings.EqualFold(ev.Sender.Login, s.BotLogin)
}

// NormalizeChannel lowercases and strips a leading '#'.
func NormalizeChannel(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}
