package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/session"
)

func testSession(id string) *session.Session {
	s := &session.Session{ID: id, Priority: 5}
	s.Quotas = s.Quotas.MergeDefaults()
	return s
}

func testMsg(text string) bus.InboundMessage {
	return bus.InboundMessage{ChannelType: "telegram", ChannelID: "c1", ChatID: "chat1", Text: text}
}

func awaitResult(t *testing.T, done <-chan Result) Result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func echoHandler(ctx context.Context, item *Item) (*Response, error) {
	return &Response{Text: "echo: " + item.Message.Text}, nil
}

func TestManagerSyncWhenQueueDisabled(t *testing.T) {
	m := NewManager(ManagerConfig{QueueEnabled: false}, NewRateLimiter(), echoHandler)

	res := awaitResult(t, m.Submit(testSession("s1"), testMsg("hi"), nil))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Response.Text != "echo: hi" {
		t.Fatalf("unexpected response: %q", res.Response.Text)
	}

	stats := m.Stats()
	if stats.Enqueued != 0 {
		t.Fatalf("synchronous path must not touch the queue: enqueued=%d", stats.Enqueued)
	}
	if stats.Processed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
}

func TestManagerProcessesViaTick(t *testing.T) {
	cfg := ManagerConfig{MaxQueueSize: 10, QueueEnabled: true, TickInterval: 5 * time.Millisecond}
	m := NewManager(cfg, NewRateLimiter(), echoHandler)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	res := awaitResult(t, m.Submit(testSession("s1"), testMsg("queued"), nil))
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Response.Text != "echo: queued" {
		t.Fatalf("unexpected response: %q", res.Response.Text)
	}
	if stats := m.Stats(); stats.Enqueued != 1 {
		t.Fatalf("expected one enqueue, got %+v", stats)
	}
}

func TestManagerRateLimitedResponse(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), NewRateLimiter(), echoHandler)

	sess := testSession("s1")
	sess.Quotas.MaxConcurrent = 1
	sess.Quotas.MaxTurnsPerHour = 100

	// First submit holds its slot until the (never started) tick loop runs.
	m.Submit(sess, testMsg("one"), nil)

	res := awaitResult(t, m.Submit(sess, testMsg("two"), nil))
	if res.Err != nil {
		t.Fatalf("rate limiting is a response, not an error: %v", res.Err)
	}
	if res.Response.Metadata["rateLimited"] != "true" {
		t.Fatalf("expected rateLimited metadata, got %+v", res.Response.Metadata)
	}
	if !strings.Contains(res.Response.Text, "too quickly") {
		t.Fatalf("unexpected canned text: %q", res.Response.Text)
	}
	if stats := m.Stats(); stats.RateLimited != 1 {
		t.Fatalf("expected rateLimited counter 1, got %+v", stats)
	}
}

func TestManagerQueueFullReleasesSlot(t *testing.T) {
	cfg := ManagerConfig{MaxQueueSize: 1, QueueEnabled: true, TickInterval: time.Hour}
	rl := NewRateLimiter()
	m := NewManager(cfg, rl, echoHandler)

	sess := testSession("s1")
	m.Submit(sess, testMsg("fills the queue"), nil)

	res := awaitResult(t, m.Submit(sess, testMsg("overflow"), nil))
	if res.Response == nil || res.Response.Metadata["queueFull"] != "true" {
		t.Fatalf("expected queueFull response, got %+v", res)
	}

	stats, ok := rl.Stats(sess.ID)
	if !ok {
		t.Fatal("expected limiter stats for session")
	}
	// Only the enqueued item should hold a slot; the rejected one gave
	// its slot back.
	if stats.Concurrent != 1 {
		t.Fatalf("rejected submit leaked a concurrency slot: %+v", stats)
	}
	if mstats := m.Stats(); mstats.QueueFull != 1 || mstats.Pending != 1 {
		t.Fatalf("unexpected counters: %+v", mstats)
	}
}

func TestManagerHandlerMissing(t *testing.T) {
	m := NewManager(ManagerConfig{QueueEnabled: false}, NewRateLimiter(), nil)

	res := awaitResult(t, m.Submit(testSession("s1"), testMsg("hi"), nil))
	if !errors.Is(res.Err, ErrHandlerMissing) {
		t.Fatalf("want ErrHandlerMissing, got %v", res.Err)
	}
	if stats := m.Stats(); stats.Failed != 1 {
		t.Fatalf("expected failed counter 1, got %+v", stats)
	}
}

func TestManagerHandlerError(t *testing.T) {
	boom := errors.New("runtime unreachable")
	m := NewManager(ManagerConfig{QueueEnabled: false}, NewRateLimiter(), func(ctx context.Context, item *Item) (*Response, error) {
		return nil, boom
	})

	res := awaitResult(t, m.Submit(testSession("s1"), testMsg("hi"), nil))
	if !errors.Is(res.Err, boom) {
		t.Fatalf("want handler error, got %v", res.Err)
	}
}

func TestManagerHandlerPanicFailsItemOnly(t *testing.T) {
	rl := NewRateLimiter()
	m := NewManager(ManagerConfig{QueueEnabled: false}, rl, func(ctx context.Context, item *Item) (*Response, error) {
		panic("boom")
	})

	sess := testSession("s1")
	res := awaitResult(t, m.Submit(sess, testMsg("hi"), nil))
	if res.Err == nil || !strings.Contains(res.Err.Error(), "panic") {
		t.Fatalf("expected panic error, got %v", res.Err)
	}

	// Slot must be released despite the panic.
	if stats, ok := rl.Stats(sess.ID); ok && stats.Concurrent != 0 {
		t.Fatalf("panic leaked a concurrency slot: %+v", stats)
	}
}

func TestManagerHigherPriorityProcessedFirst(t *testing.T) {
	processed := make(chan string, 2)
	cfg := ManagerConfig{MaxQueueSize: 10, QueueEnabled: true, TickInterval: 5 * time.Millisecond}
	m := NewManager(cfg, NewRateLimiter(), func(ctx context.Context, item *Item) (*Response, error) {
		processed <- item.Message.Text
		return &Response{Text: "ok"}, nil
	})

	low := testSession("low")
	low.Priority = 8
	high := testSession("high")
	high.Priority = 1

	d1 := m.Submit(low, testMsg("low"), nil)
	d2 := m.Submit(high, testMsg("high"), nil)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	awaitResult(t, d1)
	awaitResult(t, d2)

	if first := <-processed; first != "high" {
		t.Fatalf("priority 1 should run before priority 8, got %q first", first)
	}
}

func TestManagerStartTwice(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), NewRateLimiter(), echoHandler)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()
	if err := m.Start(context.Background()); !errors.Is(err, ErrManagerStarted) {
		t.Fatalf("want ErrManagerStarted, got %v", err)
	}
}
