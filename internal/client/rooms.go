package client

import (
	"context"

	"github.com/okcorral/roombroker/internal/proto"
)

// RoomCreate creates a room and, when the broker auto-joins, enters it.
// An empty name lets the broker pick one.
func (c *Client) RoomCreate(ctx context.Context, name string, msg any) (proto.RoomReply, error) {
	return c.roomCall(ctx, proto.RPCRoomCreate, name, msg)
}

// RoomJoin enters an existing room.
func (c *Client) RoomJoin(ctx context.Context, name string, msg any) (proto.RoomReply, error) {
	return c.roomCall(ctx, proto.RPCRoomJoin, name, msg)
}

// RoomCreateOrJoin joins name if it exists, creating it otherwise.
func (c *Client) RoomCreateOrJoin(ctx context.Context, name string, msg any) (proto.RoomReply, error) {
	return c.roomCall(ctx, proto.RPCRoomCreateOrJoin, name, msg)
}

// RoomLeave leaves a room.
func (c *Client) RoomLeave(ctx context.Context, name string) error {
	return c.Call(ctx, proto.RPCRoomLeave, proto.RoomRequest{Name: name}, nil)
}

// RoomSend publishes msg to the members of a room. Failures arrive on Errors.
func (c *Client) RoomSend(ctx context.Context, room string, msg any) error {
	raw, err := marshal(msg)
	if err != nil {
		return err
	}
	return c.write(ctx, proto.Inbound{Action: proto.ActionPubRoom, Room: room, Msg: raw})
}

// RoomOnMessage routes the broadcasts of a room to handler. A nil handler stops them.
func (c *Client) RoomOnMessage(room string, handler Handler) {
	c.handle(proto.RoomChannel(room), handler)
}

func (c *Client) roomCall(ctx context.Context, method, name string, msg any) (proto.RoomReply, error) {
	raw, err := marshal(msg)
	if err != nil {
		return proto.RoomReply{}, err
	}
	req := proto.RoomRequest{Msg: raw}
	if name != "" {
		req.Name = name
	}

	var reply proto.RoomReply
	if err := c.Call(ctx, method, req, &reply); err != nil {
		return proto.RoomReply{}, err
	}
	return reply, nil
}
