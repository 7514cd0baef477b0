package gateway

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/relaygate/internal/activation"
	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/queue"
	"github.com/nextlevelbuilder/relaygate/internal/router"
	"github.com/nextlevelbuilder/relaygate/internal/session"
)

// Consumer drives the admission pipeline for inbound messages: session
// lookup, activation gate, routing, queue submission, response delivery.
type Consumer struct {
	store   session.Store
	router  *router.Router
	manager *queue.Manager
	bot     bus.BotInfo
	msgBus  *bus.MessageBus
}

// NewConsumer wires the pipeline.
func NewConsumer(store session.Store, rt *router.Router, mgr *queue.Manager, bot bus.BotInfo, msgBus *bus.MessageBus) *Consumer {
	return &Consumer{store: store, router: rt, manager: mgr, bot: bot, msgBus: msgBus}
}

// Run consumes inbound messages until ctx is done. Each message is handled
// on its own goroutine so a slow handler doesn't stall admission of others.
func (c *Consumer) Run(ctx context.Context) {
	slog.Info("inbound message consumer started")
	for {
		msg, ok := c.msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}
		go func(msg bus.InboundMessage) {
			resp, err := c.Handle(ctx, msg)
			if err != nil {
				slog.Error("message processing failed",
					"channel", msg.ChannelType, "chat", msg.ChatID, "error", err)
				return
			}
			if resp == nil { // gated out, nothing to say
				return
			}
			c.msgBus.PublishOutbound(bus.OutboundMessage{
				ChannelType: msg.ChannelType,
				ChannelID:   msg.ChannelID,
				ChatID:      msg.ChatID,
				Text:        resp.Text,
				Metadata:    resp.Metadata,
			})
		}(msg)
	}
}

// Handle runs one message through the full pipeline and blocks until its
// future resolves. Returns (nil, nil) when the activation gate declines the
// message.
func (c *Consumer) Handle(ctx context.Context, msg bus.InboundMessage) (*queue.Response, error) {
	sess, err := c.store.GetOrCreateByChannel(ctx, msg.ChannelType, msg.ChannelID, msg.ChatID)
	if err != nil {
		return nil, err
	}

	// The activation gate applies to group traffic only; DMs always run.
	if msg.IsGroup {
		res := activation.ShouldActivate(msg, sess, c.bot)
		if !res.Activate {
			slog.Debug("message gated out",
				"session", sess.ID, "mode", sess.ActivationMode, "reason", res.Reason)
			return nil, nil
		}
	}

	decision := c.router.Route(ctx, msg, sess)
	slog.Info("message admitted",
		"session", sess.ID, "agent", decision.AgentName, "reason", decision.Reason)

	c.msgBus.Broadcast(bus.Event{Name: "admitted", Payload: map[string]string{
		"session": sess.ID,
		"agent":   decision.AgentName,
	}})

	select {
	case result := <-c.manager.Submit(sess, msg, &decision):
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
