package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
		return Event{}
	}
}

func TestLocalFanOutWithoutRedis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := NewEmitter(nil, "user-1")
	got := make(chan Event, 1)
	e.Subscribe(func(ev Event) { got <- ev })
	e.Start(ctx)
	defer e.Stop()

	e.Emit(Event{Type: EventMonitorUpdate, MonitorID: "m1"})

	ev := waitEvent(t, got)
	if ev.Type != EventMonitorUpdate || ev.MonitorID != "m1" {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Emit should stamp a timestamp")
	}
}

func TestDispatchPublishesEnvelope(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := testRedis(t)
	sub := rdb.Subscribe(ctx, Topic)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe confirmation: %v", err)
	}

	e := NewEmitter(rdb, "user-1")
	e.Start(ctx)
	defer e.Stop()

	e.Emit(Event{
		Type:      EventMonitorStatusChange,
		MonitorID: "m1",
		Payload:   StatusChangePayload("up", "down"),
	})

	select {
	case msg := <-sub.Channel():
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			t.Fatalf("Bad envelope: %v", err)
		}
		if env.UserID != "user-1" {
			t.Errorf("Expected userId user-1, got %q", env.UserID)
		}
		if env.Event.Type != EventMonitorStatusChange || env.Event.MonitorID != "m1" {
			t.Errorf("Unexpected event: %+v", env.Event)
		}
		if env.Event.Payload["currentState"] != "down" {
			t.Errorf("Payload not carried: %+v", env.Event.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for publish")
	}
}

func TestForwardRelaysOnlyMatchingUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := testRedis(t)
	e := NewEmitter(rdb, "user-1")
	got := make(chan Event, 2)
	e.Subscribe(func(ev Event) { got <- ev })

	go func() { _ = e.Forward(ctx) }()

	// Wait for Forward's subscription to land before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		counts, err := rdb.PubSubNumSub(ctx, Topic).Result()
		if err == nil && counts[Topic] > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Forward never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	publish := func(userID, monitorID string) {
		data, _ := json.Marshal(Envelope{
			UserID: userID,
			Event:  Event{Type: EventMonitorDown, MonitorID: monitorID, Timestamp: time.Now()},
		})
		if err := rdb.Publish(ctx, Topic, data).Err(); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	publish("someone-else", "m-ignored")
	publish("user-1", "m1")

	ev := waitEvent(t, got)
	if ev.MonitorID != "m1" {
		t.Errorf("Relayed the wrong envelope: %+v", ev)
	}
	select {
	case extra := <-got:
		t.Errorf("Foreign envelope leaked through: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestForwardSkipsOwnEnvelopes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := testRedis(t)
	e := NewEmitter(rdb, "user-1")
	got := make(chan Event, 4)
	e.Subscribe(func(ev Event) { got <- ev })
	e.Start(ctx)
	defer e.Stop()

	go func() { _ = e.Forward(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for {
		counts, err := rdb.PubSubNumSub(ctx, Topic).Result()
		if err == nil && counts[Topic] > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Forward never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The event reaches subscribers once through dispatch; the published
	// envelope must not echo back through Forward.
	e.Emit(Event{Type: EventMonitorUpdate, MonitorID: "m1"})

	ev := waitEvent(t, got)
	if ev.MonitorID != "m1" {
		t.Errorf("Unexpected event: %+v", ev)
	}
	select {
	case dup := <-got:
		t.Errorf("Own envelope echoed back: %+v", dup)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEmitDropsWhenQueueFull(t *testing.T) {
	// No worker running, so the queue backs up instead of draining.
	e := NewEmitter(nil, "user-1")
	for i := 0; i < cap(e.queue)+10; i++ {
		e.Emit(Event{Type: EventMonitorUpdate, MonitorID: "m1"})
	}
	if len(e.queue) != cap(e.queue) {
		t.Errorf("Queue should be capped at %d, got %d", cap(e.queue), len(e.queue))
	}
}
