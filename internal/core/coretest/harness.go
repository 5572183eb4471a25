// Package coretest drives a core.Hub in-process, without a network, for tests
// of the layers built on top of it.
package coretest

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/okcorral/roombroker/internal/core"
	"github.com/okcorral/roombroker/internal/proto"
)

const waitTimeout = 2 * time.Second

// Harness owns a hub and collects the frames sent to its clients.
// Every frame produced by a submitted command is available once Flush returns,
// so assertions never depend on timing.
type Harness struct {
	T   testing.TB
	Hub *core.Hub

	inbox map[*core.Client][]proto.Outbound
	calls int
}

// New creates a hub that is not running yet so extensions can be registered.
func New(t testing.TB, opts core.Options) *Harness {
	t.Helper()

	return &Harness{
		T:     t,
		Hub:   core.NewHub(opts, nil),
		inbox: make(map[*core.Client][]proto.Outbound),
	}
}

// Start runs the hub until the test ends.
func (h *Harness) Start() *Harness {
	ctx, cancel := context.WithCancel(context.Background())
	go h.Hub.Run(ctx)
	h.T.Cleanup(cancel)
	return h
}

// Connect registers a client with a roomy outbound queue.
func (h *Harness) Connect(id string) *core.Client {
	h.T.Helper()

	c := core.NewClient(id, "coretest", 256)
	h.Hub.RegisterClient(c)
	h.Flush()
	return c
}

// Disconnect unregisters c and waits for the teardown to finish.
func (h *Harness) Disconnect(c *core.Client) {
	h.T.Helper()

	h.Hub.UnregisterClient(c)
	h.Flush()
}

// Submit queues a raw frame from c.
func (h *Harness) Submit(c *core.Client, in proto.Inbound) {
	h.T.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := h.Hub.Submit(ctx, c, in); err != nil {
		h.T.Fatalf("submit %s: %v", in.Action, err)
	}
}

// Exec runs fn on the hub loop.
func (h *Harness) Exec(fn func()) {
	h.T.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := h.Hub.Exec(ctx, fn); err != nil {
		h.T.Fatalf("exec: %v", err)
	}
}

// Flush waits until every command queued so far has been processed.
func (h *Harness) Flush() {
	h.T.Helper()
	h.Exec(func() {})
}

// Call performs an RPC as c and returns the correlated reply.
func (h *Harness) Call(c *core.Client, method string, msg any) proto.Outbound {
	h.T.Helper()

	h.calls++
	id, _ := json.Marshal("call-" + strconv.Itoa(h.calls))
	h.Submit(c, proto.Inbound{Action: proto.ActionRPC, ID: id, Name: method, Msg: Raw(h.T, msg)})
	h.Flush()
	h.drain(c)

	frames := h.inbox[c]
	for i, out := range frames {
		if out.Action == proto.ActionRPC && bytes.Equal(out.ID, id) {
			h.inbox[c] = append(frames[:i:i], frames[i+1:]...)
			return out
		}
	}
	h.T.Fatalf("no reply to %s for %s", method, c.ID)
	return proto.Outbound{}
}

// Frames returns and consumes the frames of the given action received by c so far.
func (h *Harness) Frames(c *core.Client, action string) []proto.Outbound {
	h.T.Helper()

	h.Flush()
	h.drain(c)

	var matched, rest []proto.Outbound
	for _, out := range h.inbox[c] {
		if out.Action == action {
			matched = append(matched, out)
		} else {
			rest = append(rest, out)
		}
	}
	h.inbox[c] = rest
	return matched
}

func (h *Harness) drain(c *core.Client) {
	for {
		select {
		case out, ok := <-c.Outbound:
			if !ok {
				return
			}
			h.inbox[c] = append(h.inbox[c], out)
		default:
			return
		}
	}
}

// Raw marshals v for use as a frame payload. Nil stays empty.
func Raw(t testing.TB, v any) json.RawMessage {
	t.Helper()

	switch m := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return m
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}
	return b
}
