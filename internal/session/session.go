// Package session defines the per-conversation control-plane record and the
// store contract everything else reads and writes through.
//
// One Session exists per (channelType, channelID, chatID) triple. It carries
// the knobs the admission pipeline consults: priority, quotas, directives,
// and the activation policy for group channels. Conversation history is not
// stored here — that belongs to the agent runtime.
package session

import (
	"time"
)

// ActivationMode governs whether a group-channel message reaches the queue.
type ActivationMode string

const (
	ActivationAlways  ActivationMode = "always"
	ActivationMention ActivationMode = "mention"
	ActivationReply   ActivationMode = "reply"
	ActivationKeyword ActivationMode = "keyword"
	ActivationOff     ActivationMode = "off"
)

// DirectiveType scopes who installed a directive.
type DirectiveType string

const (
	DirectiveSystem  DirectiveType = "system"
	DirectiveUser    DirectiveType = "user"
	DirectiveChannel DirectiveType = "channel"
)

// Directive is a stored instruction attached to a session. The router scans
// active directives in list order for an "agent:<name>" assignment.
type Directive struct {
	ID        string        `json:"id"`
	Type      DirectiveType `json:"type"`
	Content   string        `json:"content"`
	Priority  int           `json:"priority"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Quota defaults applied when a stored session omits a field.
const (
	DefaultMaxTurnsPerHour  = 60
	DefaultMaxTokensPerTurn = 16000
	DefaultMaxConcurrent    = 3

	// DefaultPriority is the neutral priority for new sessions.
	// Lower values are more urgent.
	DefaultPriority = 5
)

// Quotas are per-session resource ceilings. Zero values are filled from
// defaults on load, so a partially stored record stays usable.
type Quotas struct {
	MaxTurnsPerHour  int `json:"maxTurnsPerHour"`
	MaxTokensPerTurn int `json:"maxTokensPerTurn"`
	MaxConcurrent    int `json:"maxConcurrent"`
}

// DefaultQuotas returns the documented quota defaults.
func DefaultQuotas() Quotas {
	return Quotas{
		MaxTurnsPerHour:  DefaultMaxTurnsPerHour,
		MaxTokensPerTurn: DefaultMaxTokensPerTurn,
		MaxConcurrent:    DefaultMaxConcurrent,
	}
}

// MergeDefaults fills zero fields from the documented defaults.
func (q Quotas) MergeDefaults() Quotas {
	if q.MaxTurnsPerHour <= 0 {
		q.MaxTurnsPerHour = DefaultMaxTurnsPerHour
	}
	if q.MaxTokensPerTurn <= 0 {
		q.MaxTokensPerTurn = DefaultMaxTokensPerTurn
	}
	if q.MaxConcurrent <= 0 {
		q.MaxConcurrent = DefaultMaxConcurrent
	}
	return q
}

// Session is the durable control-plane record for one conversation.
type Session struct {
	ID          string `json:"id"`
	ChannelType string `json:"channelType"`
	ChannelID   string `json:"channelId"`
	ChatID      string `json:"chatId"`

	// Priority orders this session's messages in the queue. Lower = more
	// urgent. Defaults to DefaultPriority.
	Priority int `json:"priority"`

	// AssignedAgent pins routing to one agent when set. Wins over every
	// other routing strategy.
	AssignedAgent string `json:"assignedAgent,omitempty"`

	Directives []Directive `json:"directives,omitempty"`
	Quotas     Quotas      `json:"quotas"`

	ActivationMode     ActivationMode `json:"activationMode"`
	ActivationKeywords []string       `json:"activationKeywords,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActiveAgentDirective returns the agent name from the first active
// directive whose content matches "agent:<name>", or "" if none does.
// Directives are scanned in list order.
func (s *Session) ActiveAgentDirective() string {
	for _, d := range s.Directives {
		if !d.Active {
			continue
		}
		if name := parseAgentDirective(d.Content); name != "" {
			return name
		}
	}
	return ""
}

// Normalize fills defaults on a freshly loaded or created session.
// Priority is left untouched: zero is a valid most-urgent value, so the
// default is applied once at creation, not on every load or save.
func (s *Session) Normalize() {
	s.Quotas = s.Quotas.MergeDefaults()
	if s.ActivationMode == "" {
		s.ActivationMode = ActivationAlways
	}
}
