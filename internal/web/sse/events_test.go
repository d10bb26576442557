package sse

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/harvestbin/silo/internal/store"
)

func TestBrokerBroadcast(t *testing.T) {
	// Heartbeats far in the future keep the channel quiet.
	b := NewBroker(time.Hour)
	defer b.Stop()

	client := b.Subscribe("sub")
	defer b.Unsubscribe(client)

	b.Broadcast(FromChange(store.Change{Table: "books", Op: store.OpInsert, Key: int64(1)}))

	select {
	case msg := <-client.Messages:
		if msg.Event != string(EventRecordInserted) {
			t.Fatalf("expected %s, got %q", EventRecordInserted, msg.Event)
		}
		var event struct {
			Type string       `json:"type"`
			Data store.Change `json:"data"`
		}
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Fatalf("failed to decode event payload: %v", err)
		}
		if event.Data.Table != "books" || event.Data.Op != store.OpInsert {
			t.Fatalf("unexpected change payload: %+v", event.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast message never reached the subscriber")
	}
}

func TestBrokerHeartbeatInterval(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	defer b.Stop()

	client := b.Subscribe("sub")
	defer b.Unsubscribe(client)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-client.Messages:
			if msg.Event == string(EventHeartbeat) {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat within the configured interval")
		}
	}
}

func TestBrokerDefaultsInvalidHeartbeat(t *testing.T) {
	b := NewBroker(0)
	defer b.Stop()

	if b.heartbeat != 30*time.Second {
		t.Fatalf("expected 30s fallback, got %v", b.heartbeat)
	}
}
