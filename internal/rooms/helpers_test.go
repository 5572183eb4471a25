package rooms

import (
	"encoding/json"
	"testing"

	"github.com/okcorral/roombroker/internal/core"
	"github.com/okcorral/roombroker/internal/core/coretest"
	"github.com/okcorral/roombroker/internal/ids"
	"github.com/okcorral/roombroker/internal/proto"
)

func startManager(t *testing.T, mutate func(*Config)) (*coretest.Harness, *Manager) {
	t.Helper()

	h := coretest.New(t, core.Options{})
	cfg := DefaultConfig()
	cfg.IDs = &ids.Sequence{Prefix: "room-"}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(h.Hub, cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	h.Start()
	return h, m
}

func request(t *testing.T, name any, msg any) proto.RoomRequest {
	t.Helper()
	return proto.RoomRequest{Name: name, Msg: coretest.Raw(t, msg)}
}

func mustRoom(t *testing.T, out proto.Outbound) proto.RoomReply {
	t.Helper()

	if out.Type != proto.ReplySuccess {
		t.Fatalf("%s failed: %v", out.Name, out.Response)
	}
	reply, ok := out.Response.(proto.RoomReply)
	if !ok {
		t.Fatalf("%s response is %T", out.Name, out.Response)
	}
	return reply
}

func mustFail(t *testing.T, out proto.Outbound, want string) {
	t.Helper()

	if out.Type != proto.ReplyError {
		t.Fatalf("%s succeeded with %v, want error %q", out.Name, out.Response, want)
	}
	if out.Response != want {
		t.Fatalf("%s error = %v, want %q", out.Name, out.Response, want)
	}
}

// members returns the member count of a room, or -1 if it does not exist.
func members(h *coretest.Harness, m *Manager, name string) int {
	n := -1
	h.Exec(func() {
		if r, ok := m.Room(name); ok {
			n = r.Len()
		}
	})
	return n
}

func roomExists(h *coretest.Harness, m *Manager, name string) (room, channel bool) {
	h.Exec(func() {
		_, room = m.Room(name)
		channel = h.Hub.HasChannel(proto.RoomChannel(name))
	})
	return room, channel
}

func pubRoom(t *testing.T, h *coretest.Harness, c *core.Client, room any, msg any) {
	t.Helper()
	h.Submit(c, proto.Inbound{Action: proto.ActionPubRoom, Room: room, Msg: coretest.Raw(t, msg)})
}

func pubData(t *testing.T, out proto.Outbound) (map[string]any, string) {
	t.Helper()

	payload, ok := out.Msg.(proto.PubPayload)
	if !ok {
		t.Fatalf("pub msg is %T", out.Msg)
	}
	switch data := payload.Data.(type) {
	case json.RawMessage:
		return payload.Client, string(data)
	default:
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal data: %v", err)
		}
		return payload.Client, string(b)
	}
}
