// Package activation gates group-channel traffic before admission: it
// decides whether a message should reach the queue at all, based on the
// session's activation mode.
package activation

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/session"
)

// Result explains the activation verdict.
type Result struct {
	Activate    bool   `json:"activate"`
	Reason      string `json:"reason"`
	MatchedRule string `json:"matchedRule,omitempty"`
}

// rule evaluates one activation mode. Rules are pure: no I/O, no state.
type rule func(msg bus.InboundMessage, sess *session.Session, bot bus.BotInfo) Result

var rules = map[session.ActivationMode]rule{
	session.ActivationAlways:  alwaysRule,
	session.ActivationOff:     offRule,
	session.ActivationMention: mentionRule,
	session.ActivationReply:   replyRule,
	session.ActivationKeyword: keywordRule,
}

// ShouldActivate evaluates the session's activation mode against the
// message. Unknown modes default to activating, so a bad stored value never
// silences a conversation.
func ShouldActivate(msg bus.InboundMessage, sess *session.Session, bot bus.BotInfo) Result {
	if r, ok := rules[sess.ActivationMode]; ok {
		return r(msg, sess, bot)
	}
	return Result{
		Activate: true,
		Reason:   fmt.Sprintf("unknown mode %q, defaulting to always", sess.ActivationMode),
	}
}

func alwaysRule(bus.InboundMessage, *session.Session, bus.BotInfo) Result {
	return Result{Activate: true, Reason: "activation mode is always", MatchedRule: "always"}
}

func offRule(bus.InboundMessage, *session.Session, bus.BotInfo) Result {
	return Result{Activate: false, Reason: "activation mode is off", MatchedRule: "off"}
}

func mentionRule(msg bus.InboundMessage, _ *session.Session, bot bus.BotInfo) Result {
	// Explicit mentions list from the adapter, when supplied.
	for _, m := range msg.Mentions {
		if m == bot.ID || (bot.Username != "" && strings.EqualFold(m, bot.Username)) {
			return Result{Activate: true, Reason: "bot in mentions list", MatchedRule: "mention"}
		}
	}

	lowered := strings.ToLower(msg.Text)
	for _, handle := range []string{bot.Username, bot.ID, bot.DisplayName} {
		if handle == "" {
			continue
		}
		if strings.Contains(lowered, "@"+strings.ToLower(handle)) {
			return Result{
				Activate:    true,
				Reason:      fmt.Sprintf("text mentions @%s", handle),
				MatchedRule: "mention",
			}
		}
	}
	return Result{Activate: false, Reason: "no mention of bot", MatchedRule: "mention"}
}

func replyRule(msg bus.InboundMessage, _ *session.Session, _ bus.BotInfo) Result {
	if msg.IsReply || msg.ReplyToID != "" || msg.Metadata["replyTo"] != "" {
		return Result{Activate: true, Reason: "message is a reply", MatchedRule: "reply"}
	}
	return Result{Activate: false, Reason: "message is not a reply", MatchedRule: "reply"}
}

func keywordRule(msg bus.InboundMessage, sess *session.Session, _ bus.BotInfo) Result {
	lowered := strings.ToLower(msg.Text)
	for _, kw := range sess.ActivationKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return Result{
				Activate:    true,
				Reason:      fmt.Sprintf("keyword matched: %s", kw),
				MatchedRule: "keyword",
			}
		}
	}
	return Result{Activate: false, Reason: "no keyword matched", MatchedRule: "keyword"}
}
