package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/okcorral/roombroker/internal/proto"
)

func startHub(t *testing.T, opts Options, setup func(h *Hub)) *Hub {
	t.Helper()

	hub := NewHub(opts, nil)
	if setup != nil {
		setup(hub)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func connect(t *testing.T, hub *Hub, id string) *Client {
	t.Helper()

	c := NewClient(id, "test", 32)
	hub.RegisterClient(c)
	return c
}

func submit(t *testing.T, hub *Hub, c *Client, in proto.Inbound) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := hub.Submit(ctx, c, in); err != nil {
		t.Fatalf("submit %s: %v", in.Action, err)
	}
}

func rawID(id string) json.RawMessage {
	b, _ := json.Marshal(id)
	return b
}

func mustFrame(t *testing.T, ch <-chan proto.Outbound, action string) proto.Outbound {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case out, ok := <-ch:
			if !ok {
				t.Fatalf("outbound closed while waiting for %q", action)
			}
			if out.Action == action {
				return out
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected frame %q not received", action)
	return proto.Outbound{}
}

// expectSilence fails if c receives any frame within a short window.
func expectSilence(t *testing.T, c *Client) {
	t.Helper()

	select {
	case out := <-c.Outbound:
		t.Fatalf("unexpected frame for %s: %+v", c.ID, out)
	case <-time.After(100 * time.Millisecond):
	}
}

// flush waits until every frame queued so far has been dispatched.
func flush(t *testing.T, hub *Hub) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := hub.Exec(ctx, func() {}); err != nil {
		t.Fatalf("exec: %v", err)
	}
}
