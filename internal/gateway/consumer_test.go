package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/queue"
	"github.com/nextlevelbuilder/relaygate/internal/router"
	"github.com/nextlevelbuilder/relaygate/internal/session"
	filestore "github.com/nextlevelbuilder/relaygate/internal/store/file"
)

func newTestConsumer(t *testing.T, process queue.ProcessFunc) (*Consumer, session.Store, *bus.MessageBus) {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	mgr := queue.NewManager(queue.ManagerConfig{QueueEnabled: false}, queue.NewRateLimiter(), process)
	rt := router.New(router.Config{DefaultAgent: "main"}, nil)
	msgBus := bus.NewMessageBus(16)
	bot := bus.BotInfo{ID: "bot1", Username: "relaygate"}
	return NewConsumer(store, rt, mgr, bot, msgBus), store, msgBus
}

func echoProcess(ctx context.Context, item *queue.Item) (*queue.Response, error) {
	return &queue.Response{Text: "echo: " + item.Message.Text}, nil
}

func TestHandleDirectMessage(t *testing.T) {
	c, store, _ := newTestConsumer(t, echoProcess)
	ctx := context.Background()

	resp, err := c.Handle(ctx, bus.InboundMessage{
		ChannelType: "telegram", ChannelID: "c1", ChatID: "chat1", Text: "hello",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp == nil || resp.Text != "echo: hello" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// First contact created the session.
	if _, err := store.LoadByChannel(ctx, "telegram", "c1", "chat1"); err != nil {
		t.Fatalf("session not created: %v", err)
	}
}

func TestHandleGroupMessageGated(t *testing.T) {
	c, store, _ := newTestConsumer(t, echoProcess)
	ctx := context.Background()

	sess, err := store.GetOrCreateByChannel(ctx, "discord", "g1", "ch1")
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := store.UpdateField(ctx, sess.ID, session.FieldActivationMode, "off"); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	resp, err := c.Handle(ctx, bus.InboundMessage{
		ChannelType: "discord", ChannelID: "g1", ChatID: "ch1", Text: "hello", IsGroup: true,
	})
	if err != nil {
		t.Fatalf("gated message must not error: %v", err)
	}
	if resp != nil {
		t.Fatalf("gated message must produce no response, got %+v", resp)
	}
}

func TestHandleGroupMentionActivates(t *testing.T) {
	c, store, _ := newTestConsumer(t, echoProcess)
	ctx := context.Background()

	sess, _ := store.GetOrCreateByChannel(ctx, "discord", "g1", "ch1")
	if err := store.UpdateField(ctx, sess.ID, session.FieldActivationMode, "mention"); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	resp, err := c.Handle(ctx, bus.InboundMessage{
		ChannelType: "discord", ChannelID: "g1", ChatID: "ch1",
		Text: "hey @relaygate what's up", IsGroup: true,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp == nil {
		t.Fatal("mentioned message must be admitted")
	}
}

func TestHandleDMIgnoresActivationMode(t *testing.T) {
	c, store, _ := newTestConsumer(t, echoProcess)
	ctx := context.Background()

	sess, _ := store.GetOrCreateByChannel(ctx, "telegram", "c1", "chat1")
	store.UpdateField(ctx, sess.ID, session.FieldActivationMode, "off")

	resp, err := c.Handle(ctx, bus.InboundMessage{
		ChannelType: "telegram", ChannelID: "c1", ChatID: "chat1", Text: "hi",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp == nil {
		t.Fatal("DMs bypass the activation gate")
	}
}

func TestHandleBroadcastsAdmittedEvent(t *testing.T) {
	c, _, msgBus := newTestConsumer(t, echoProcess)

	events := make(chan bus.Event, 1)
	msgBus.Subscribe("test", func(e bus.Event) {
		select {
		case events <- e:
		default:
		}
	})

	if _, err := c.Handle(context.Background(), bus.InboundMessage{
		ChannelType: "telegram", ChannelID: "c1", ChatID: "chat1", Text: "hi",
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	select {
	case e := <-events:
		if e.Name != "admitted" {
			t.Fatalf("unexpected event: %+v", e)
		}
		payload, ok := e.Payload.(map[string]string)
		if !ok || payload["agent"] != "main" {
			t.Fatalf("unexpected payload: %+v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no admitted event broadcast")
	}
}

func TestRunPublishesOutbound(t *testing.T) {
	c, _, msgBus := newTestConsumer(t, echoProcess)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	msgBus.PublishInbound(bus.InboundMessage{
		ChannelType: "telegram", ChannelID: "c1", ChatID: "chat1", Text: "ping",
	})

	outCtx, outCancel := context.WithTimeout(ctx, 2*time.Second)
	defer outCancel()
	out, ok := msgBus.ConsumeOutbound(outCtx)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Text != "echo: ping" || out.ChatID != "chat1" {
		t.Fatalf("unexpected outbound: %+v", out)
	}
}
