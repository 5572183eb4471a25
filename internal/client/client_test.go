package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/okcorral/roombroker/internal/ids"
	"github.com/okcorral/roombroker/internal/proto"
)

// fakeBroker answers every frame with reply, after an optional delay.
func fakeBroker(t *testing.T, reply func(in proto.Inbound) (proto.Outbound, time.Duration, bool)) string {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			var in proto.Inbound
			if err := wsjson.Read(ctx, conn, &in); err != nil {
				return
			}
			out, delay, ok := reply(in)
			if !ok {
				continue
			}
			go func() {
				time.Sleep(delay)
				_ = wsjson.Write(ctx, conn, out)
			}()
		}
	}))
	t.Cleanup(ts.Close)
	return strings.Replace(ts.URL, "http", "ws", 1)
}

func dialFake(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, Options{Timeout: timeout, IDs: &ids.Sequence{Prefix: "call-"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCallDecodesResult(t *testing.T) {
	url := fakeBroker(t, func(in proto.Inbound) (proto.Outbound, time.Duration, bool) {
		return proto.Outbound{
			Action:   proto.ActionRPC,
			ID:       in.ID,
			Name:     in.Name,
			Type:     proto.ReplySuccess,
			Response: map[string]any{"echo": in.Msg},
		}, 0, true
	})
	c := dialFake(t, url, time.Second)

	var out struct {
		Echo map[string]int `json:"echo"`
	}
	if err := c.Call(context.Background(), "echo", map[string]int{"n": 3}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.Echo["n"] != 3 {
		t.Fatalf("out = %+v", out)
	}
}

func TestCallRemoteError(t *testing.T) {
	url := fakeBroker(t, func(in proto.Inbound) (proto.Outbound, time.Duration, bool) {
		return proto.Outbound{Action: proto.ActionRPC, ID: in.ID, Type: proto.ReplyError, Response: "Unknown rpc"}, 0, true
	})
	c := dialFake(t, url, time.Second)

	err := c.Call(context.Background(), "nope", nil, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "Unknown rpc" {
		t.Fatalf("err = %v", err)
	}
}

func TestCallTimesOutAndDropsLateReply(t *testing.T) {
	url := fakeBroker(t, func(in proto.Inbound) (proto.Outbound, time.Duration, bool) {
		delay := time.Duration(0)
		if in.Name == "slow" {
			delay = 300 * time.Millisecond
		}
		return proto.Outbound{Action: proto.ActionRPC, ID: in.ID, Name: in.Name, Type: proto.ReplySuccess, Response: in.Name}, delay, true
	})
	c := dialFake(t, url, 100*time.Millisecond)

	if err := c.Call(context.Background(), "slow", nil, nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("slow call err = %v, want ErrTimeout", err)
	}

	// let the late reply arrive; it must not satisfy the next call
	time.Sleep(400 * time.Millisecond)

	var got string
	if err := c.Call(context.Background(), "fast", nil, &got); err != nil {
		t.Fatalf("fast call: %v", err)
	}
	if got != "fast" {
		t.Fatalf("fast call got %q", got)
	}
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	url := fakeBroker(t, func(in proto.Inbound) (proto.Outbound, time.Duration, bool) {
		delay := 10 * time.Millisecond
		if in.Name == "first" {
			delay = 80 * time.Millisecond
		}
		return proto.Outbound{Action: proto.ActionRPC, ID: in.ID, Type: proto.ReplySuccess, Response: in.Name}, delay, true
	})
	c := dialFake(t, url, time.Second)

	results := make(chan string, 2)
	for _, name := range []string{"first", "second"} {
		go func() {
			var got string
			if err := c.Call(context.Background(), name, nil, &got); err != nil {
				results <- "error: " + err.Error()
				return
			}
			results <- name + "=" + got
		}()
	}

	seen := map[string]bool{}
	for range 2 {
		seen[<-results] = true
	}
	if !seen["first=first"] || !seen["second=second"] {
		t.Fatalf("replies crossed: %v", seen)
	}
}

func TestSubRoutesBroadcasts(t *testing.T) {
	url := fakeBroker(t, func(in proto.Inbound) (proto.Outbound, time.Duration, bool) {
		if in.Action != proto.ActionSub {
			return proto.Outbound{}, 0, false
		}
		return proto.Outbound{Action: in.Action, ID: in.ID, Chan: in.Chan, Type: proto.ReplySuccess, Response: true}, 0, true
	})
	c := dialFake(t, url, time.Second)

	got := make(chan proto.PubFrame, 1)
	if err := c.Sub(context.Background(), "news", func(msg proto.PubFrame) { got <- msg }); err != nil {
		t.Fatalf("sub: %v", err)
	}

	c.dispatch(proto.Frame{Action: proto.ActionPub, Chan: "news", Msg: []byte(`{"data":"hello"}`)})
	c.dispatch(proto.Frame{Action: proto.ActionPub, Chan: "other", Msg: []byte(`{"data":"ignored"}`)})

	select {
	case msg := <-got:
		if string(msg.Data) != `"hello"` {
			t.Fatalf("data = %s", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast not routed")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected broadcast %s", msg.Data)
	default:
	}
}

func TestErrorFramesSurface(t *testing.T) {
	url := fakeBroker(t, func(in proto.Inbound) (proto.Outbound, time.Duration, bool) {
		return proto.ErrorFrame("Invalid action"), 0, true
	})
	c := dialFake(t, url, time.Second)

	if err := c.RoomSend(context.Background(), "S1", "x"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-c.Errors():
		if msg != "Invalid action" {
			t.Fatalf("error = %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no error frame")
	}
}

func TestCallAfterCloseFails(t *testing.T) {
	url := fakeBroker(t, func(proto.Inbound) (proto.Outbound, time.Duration, bool) {
		return proto.Outbound{}, 0, false
	})
	c := dialFake(t, url, time.Second)
	_ = c.Close()

	if err := c.Call(context.Background(), "x", nil, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if c.Err() == nil {
		t.Fatal("Err should report why the connection ended")
	}
}
