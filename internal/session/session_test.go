package session

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/okcorral/roombroker/internal/core"
	"github.com/okcorral/roombroker/internal/core/coretest"
	"github.com/okcorral/roombroker/internal/proto"
	"github.com/okcorral/roombroker/internal/rooms"
)

func startSession(t *testing.T) (*coretest.Harness, *rooms.Manager) {
	t.Helper()

	h := coretest.New(t, core.Options{})
	mgr, err := rooms.New(h.Hub, rooms.DefaultConfig())
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	if _, err := Register(h.Hub, mgr, Options{Now: func() time.Time { return fixed }}); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.Start()
	return h, mgr
}

func counts(t *testing.T, h *coretest.Harness, c *core.Client) []int {
	t.Helper()

	var out []int
	for _, frame := range h.Frames(c, proto.ActionPub) {
		payload := frame.Msg.(proto.PubPayload)
		if pc, ok := payload.Data.(PlayerCount); ok {
			out = append(out, pc.Count)
		}
	}
	return out
}

func TestPlayerCountFollowsMembership(t *testing.T) {
	h, _ := startSession(t)
	host := h.Connect("host")
	guest := h.Connect("guest")

	h.Call(host, proto.RPCRoomCreateOrJoin, proto.RoomRequest{Name: "sess-1"})
	if diff := cmp.Diff([]int{1}, counts(t, h, host)); diff != "" {
		t.Fatalf("host counts after create (-want +got):\n%s", diff)
	}

	h.Call(guest, proto.RPCRoomCreateOrJoin, proto.RoomRequest{Name: "sess-1"})
	if diff := cmp.Diff([]int{2}, counts(t, h, host)); diff != "" {
		t.Fatalf("host counts after join (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, counts(t, h, guest)); diff != "" {
		t.Fatalf("guest counts after join (-want +got):\n%s", diff)
	}

	h.Disconnect(guest)
	if diff := cmp.Diff([]int{1}, counts(t, h, host)); diff != "" {
		t.Fatalf("host counts after disconnect (-want +got):\n%s", diff)
	}
}

func TestCloseSession(t *testing.T) {
	h, mgr := startSession(t)
	host := h.Connect("host")
	guest := h.Connect("guest")
	h.Call(host, proto.RPCRoomCreateOrJoin, proto.RoomRequest{Name: "sess-1"})
	h.Call(guest, proto.RPCRoomJoin, proto.RoomRequest{Name: "sess-1"})
	h.Frames(guest, proto.ActionPub)

	if out := h.Call(host, RPCCloseSession, Request{Name: "sess-1"}); out.Type != proto.ReplySuccess {
		t.Fatalf("close = %+v", out)
	}

	var notices []any
	for _, frame := range h.Frames(guest, proto.ActionPub) {
		notices = append(notices, frame.Msg.(proto.PubPayload).Data)
	}
	if diff := cmp.Diff([]any{Notice{Action: ActionCloseSession}}, notices); diff != "" {
		t.Fatalf("guest notices (-want +got):\n%s", diff)
	}

	var exists bool
	h.Exec(func() { _, exists = mgr.Room("sess-1") })
	if exists {
		t.Fatal("session room survived close")
	}

	out := h.Call(host, RPCCloseSession, Request{Name: "sess-1"})
	if out.Type != proto.ReplyError || out.Response != rooms.MsgRoomNotFound {
		t.Fatalf("second close = %+v", out)
	}
}

func TestOpenSession(t *testing.T) {
	h, mgr := startSession(t)
	api := h.Connect("api")

	if out := h.Call(api, RPCOpenSession, Request{Name: "sess-9"}); out.Type != proto.ReplySuccess {
		t.Fatalf("open = %+v", out)
	}
	out := h.Call(api, RPCOpenSession, Request{Name: "sess-9"})
	if out.Type != proto.ReplyError || out.Response != MsgSessionExists {
		t.Fatalf("reopen = %+v", out)
	}
	out = h.Call(api, RPCOpenSession, Request{Name: " "})
	if out.Response != rooms.MsgInvalidRoomName {
		t.Fatalf("blank open = %+v", out)
	}

	var members int
	h.Exec(func() {
		r, _ := mgr.Room("sess-9")
		members = r.Len()
	})
	if members != 0 {
		t.Fatalf("opening a session must not join it, members = %d", members)
	}
}

func TestSessionControlIsNotMembershipGated(t *testing.T) {
	h, mgr := startSession(t)
	api := h.Connect("api")
	player := h.Connect("player")

	h.Call(api, RPCOpenSession, Request{Name: "sess-3"})
	if out := h.Call(player, proto.RPCRoomJoin, proto.RoomRequest{Name: "sess-3"}); out.Type != proto.ReplySuccess {
		t.Fatalf("join = %+v", out)
	}
	h.Frames(player, proto.ActionPub)

	// api never joined, it only drives the session lifecycle
	if out := h.Call(api, RPCCloseSession, Request{Name: "sess-3"}); out.Type != proto.ReplySuccess {
		t.Fatalf("close from outside = %+v", out)
	}
	frames := h.Frames(player, proto.ActionPub)
	if len(frames) != 1 || frames[0].Msg.(proto.PubPayload).Data != (Notice{Action: ActionCloseSession}) {
		t.Fatalf("player frames = %+v", frames)
	}

	var exists bool
	h.Exec(func() { _, exists = mgr.Room("sess-3") })
	if exists {
		t.Fatal("session room survived close")
	}
}

func TestTime(t *testing.T) {
	h, _ := startSession(t)
	c := h.Connect("c")

	out := h.Call(c, RPCTime, nil)
	if out.Response != "2024-05-01T12:00:00.0000005Z" {
		t.Fatalf("time = %v", out.Response)
	}
}
