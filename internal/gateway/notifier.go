package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
)

// NewBusNotifier returns a Notifier publishing scheduler output to the
// outbound bus. channelTarget is "channelType:channelID:chatID"; an empty
// target falls back to defaultTarget from config.
func NewBusNotifier(msgBus *bus.MessageBus, defaultTarget string) bus.Notifier {
	return func(_ context.Context, channelTarget, text string) error {
		target := channelTarget
		if target == "" {
			target = defaultTarget
		}
		if target == "" {
			return fmt.Errorf("no notification target configured")
		}
		parts := strings.SplitN(target, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("malformed channel target %q, want channelType:channelID:chatID", target)
		}
		msgBus.PublishOutbound(bus.OutboundMessage{
			ChannelType: parts[0],
			ChannelID:   parts[1],
			ChatID:      parts[2],
			Text:        text,
			Metadata:    map[string]string{"origin": "scheduler"},
		})
		return nil
	}
}
