// Package features holds the chat feature handlers a bot can enable and the
// catalog that builds them per owner.
package features

import (
	"strings"
	"unicode/utf8"

	"github.com/MrSigel/pulseframelabs/backend/chat"
)

// Feature names, in dispatch order.
const (
	ChatRelay    = "chat-relay"
	Hotwords     = "hotwords"
	SlotRequests = "slot-requests"
	QuickGuesses = "quick-guesses"
	PointsBattle = "points-battle"
	Loyalty      = "loyalty"
)

// All lists every feature in the order handlers are registered.
var All = []string{ChatRelay, Hotwords, SlotRequests, QuickGuesses, PointsBattle, Loyalty}

// Tokenize splits text on whitespace, lowercases, drops one-rune tokens and
// excluded words and removes duplicates, keeping first-seen order.
func Tokenize(text string, excluded map[string]struct{}) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if utf8.RuneCountInString(w) <= 1 {
			continue
		}
		if _, skip := excluded[w]; skip {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// hasPrefixFold reports whether s starts with prefix, ignoring case.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func mention(ev chat.Event, text string) string {
	return "@" + ev.Sender.Name() + " " + text
}

func wordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			m[w] = struct{}{}
		}
	}
	return m
}
