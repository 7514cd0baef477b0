package bus

import "context"

// InboundMessage is a message received from a channel adapter
// (Discord, Slack, Telegram, ...) awaiting admission.
type InboundMessage struct {
	ID          string            `json:"id"`
	ChannelType string            `json:"channel_type"` // "discord", "slack", ...
	ChannelID   string            `json:"channel_id"`   // bot account / guild scope
	ChatID      string            `json:"chat_id"`      // conversation within the channel
	SenderID    string            `json:"sender_id"`
	Text        string            `json:"text"`
	IsGroup     bool              `json:"is_group,omitempty"`
	Mentions    []string          `json:"mentions,omitempty"` // explicit mention ids, when the adapter supplies them
	ReplyToID   string            `json:"reply_to_id,omitempty"`
	IsReply     bool              `json:"is_reply,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a response to be delivered back to a channel.
type OutboundMessage struct {
	ChannelType string            `json:"channel_type"`
	ChannelID   string            `json:"channel_id"`
	ChatID      string            `json:"chat_id"`
	Text        string            `json:"text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BotInfo identifies the bot on a channel, used by the activation gate to
// detect mentions.
type BotInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// Event is a server-side event broadcast to admin WebSocket clients.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription, decoupling the
// admin server from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message flow between channel
// adapters and the admission pipeline.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}

// Notifier delivers a scheduler-originated message to a channel target.
// channelTarget is "channelType:channelID:chatID"; empty means the default
// notification target from config.
type Notifier func(ctx context.Context, channelTarget, text string) error
