package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/freeeve/world-conflict/internal/service"
)

func newTestConn(userID string) *WSConn {
	return &WSConn{
		conn:   nil, // no real connection for hub tests
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

func receive(t *testing.T, c *WSConn) WSEvent {
	t.Helper()
	select {
	case msg := <-c.send:
		var event WSEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return event
	case <-time.After(time.Second):
		t.Fatalf("%s did not receive an event", c.userID)
		return WSEvent{}
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")

	hub.Register(c)
	if hub.ConnectionCount() != 1 {
		t.Errorf("expected 1 connection, got %d", hub.ConnectionCount())
	}

	hub.Unregister(c)
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections, got %d", hub.ConnectionCount())
	}

	// A second unregister must not close the channel twice.
	hub.Unregister(c)
}

func TestHubSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")
	hub.Register(c)
	defer hub.Unregister(c)

	hub.Subscribe(c, "game-1")
	if hub.GameSubscriberCount("game-1") != 1 {
		t.Errorf("expected 1 subscriber, got %d", hub.GameSubscriberCount("game-1"))
	}

	hub.Unsubscribe(c, "game-1")
	if hub.GameSubscriberCount("game-1") != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.GameSubscriberCount("game-1"))
	}
}

func TestHubNotify(t *testing.T) {
	hub := NewHub()
	c1 := newTestConn("user-1")
	c2 := newTestConn("user-2")
	c3 := newTestConn("user-3") // not subscribed

	for _, c := range []*WSConn{c1, c2, c3} {
		hub.Register(c)
		defer hub.Unregister(c)
	}
	hub.Subscribe(c1, "game-1")
	hub.Subscribe(c2, "game-1")

	hub.Notify("game-1", WSEvent{
		Type:   service.EventTurnChanged,
		GameID: "game-1",
		Data:   map[string]int{"current_player": 1},
	})

	if ev := receive(t, c1); ev.Type != service.EventTurnChanged {
		t.Errorf("expected turn_changed, got %s", ev.Type)
	}
	receive(t, c2)

	select {
	case <-c3.send:
		t.Error("c3 should not have received the event")
	default:
	}
}

func TestHubNotifyDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	c := &WSConn{userID: "slow", send: make(chan []byte, 1)}
	hub.Register(c)
	defer hub.Unregister(c)
	hub.Subscribe(c, "game-1")

	hub.Notify("game-1", WSEvent{Type: "a", GameID: "game-1"})
	hub.Notify("game-1", WSEvent{Type: "b", GameID: "game-1"})

	if ev := receive(t, c); ev.Type != "a" {
		t.Errorf("expected the first event kept, got %s", ev.Type)
	}
	select {
	case <-c.send:
		t.Error("expected the second event dropped")
	default:
	}
}

func TestHubSendTo(t *testing.T) {
	hub := NewHub()
	c1 := newTestConn("user-1")
	c2 := newTestConn("user-1")
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.SendTo(c1, WSEvent{Type: EventSnapshot, GameID: "game-1"})

	if ev := receive(t, c1); ev.Type != EventSnapshot {
		t.Errorf("expected snapshot, got %s", ev.Type)
	}
	select {
	case <-c2.send:
		t.Error("only the addressed connection should receive")
	default:
	}

	// Sending to a closed connection is a no-op.
	gone := newTestConn("user-2")
	hub.Register(gone)
	hub.Unregister(gone)
	hub.SendTo(gone, WSEvent{Type: EventSnapshot})
}

func TestHubUnregisterCleansUpSubscriptions(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")
	hub.Register(c)
	hub.Subscribe(c, "game-1")
	hub.Subscribe(c, "game-2")

	hub.Unregister(c)

	if hub.GameSubscriberCount("game-1") != 0 {
		t.Errorf("expected 0 subscribers for game-1 after unregister")
	}
	if hub.GameSubscriberCount("game-2") != 0 {
		t.Errorf("expected 0 subscribers for game-2 after unregister")
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c := newTestConn("user")
			hub.Register(c)
			hub.Subscribe(c, "game-1")
			hub.Notify("game-1", WSEvent{Type: "test", GameID: "game-1"})
			hub.Unsubscribe(c, "game-1")
			hub.Unregister(c)
		}(i)
	}

	wg.Wait()
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected 0 connections after concurrent test, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastGameEvent(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")
	hub.Register(c)
	defer hub.Unregister(c)
	hub.Subscribe(c, "game-1")

	var _ service.Broadcaster = hub
	hub.BroadcastGameEvent("game-1", service.EventCommandApplied, map[string]int{"version": 2})

	ev := receive(t, c)
	if ev.Type != service.EventCommandApplied || ev.GameID != "game-1" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestHubSequencesGameEvents(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")
	hub.Register(c)
	defer hub.Unregister(c)
	hub.Subscribe(c, "game-1")
	hub.Subscribe(c, "game-2")

	hub.BroadcastGameEvent("game-1", service.EventCommandApplied, nil)
	hub.BroadcastGameEvent("game-1", service.EventTurnChanged, nil)
	hub.BroadcastGameEvent("game-2", service.EventCommandApplied, nil)

	for i, want := range []uint64{1, 2, 1} {
		if ev := receive(t, c); ev.Seq != want {
			t.Errorf("event %d: expected seq %d, got %d", i, want, ev.Seq)
		}
	}

	// A snapshot tells a subscriber where the stream stands.
	hub.SendTo(c, WSEvent{Type: EventSnapshot, GameID: "game-1"})
	if ev := receive(t, c); ev.Seq != 2 {
		t.Errorf("expected snapshot at seq 2, got %d", ev.Seq)
	}
}

func TestHubSubscriptionLimit(t *testing.T) {
	hub := NewHub()
	c := newTestConn("user-1")
	hub.Register(c)
	defer hub.Unregister(c)

	for i := range maxSubscriptions {
		if err := hub.Subscribe(c, fmt.Sprintf("game-%d", i)); err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
	}
	if err := hub.Subscribe(c, "game-0"); err != nil {
		t.Errorf("resubscribing should be a no-op, got %v", err)
	}
	if err := hub.Subscribe(c, "one-more"); !errors.Is(err, ErrTooManySubscriptions) {
		t.Errorf("expected ErrTooManySubscriptions, got %v", err)
	}

	hub.Unsubscribe(c, "game-0")
	if err := hub.Subscribe(c, "one-more"); err != nil {
		t.Errorf("expected room after unsubscribe, got %v", err)
	}
}
