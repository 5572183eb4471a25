package proto

import "encoding/json"

// Actions understood on the wire.
const (
	ActionSub     = "sub"
	ActionUnsub   = "unsub"
	ActionPub     = "pub"
	ActionRPC     = "rpc"
	ActionPubRoom = "pub-room"
	ActionError   = "error"

	ReplySuccess = "success"
	ReplyError   = "error"
)

// Room names are namespaced so they never collide with application channels or RPC methods.
const (
	RoomPrefix = "__room-"

	RPCRoomCreate       = RoomPrefix + "create"
	RPCRoomJoin         = RoomPrefix + "join"
	RPCRoomCreateOrJoin = RoomPrefix + "createOrJoin"
	RPCRoomLeave        = RoomPrefix + "leave"
)

// RoomChannel returns the backing channel name of a room.
func RoomChannel(room string) string {
	return RoomPrefix + room
}

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Action string `json:"action"`
	// ID is an opaque correlation id echoed back verbatim in the reply.
	ID   json.RawMessage `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Chan string          `json:"chan,omitempty"`
	// Room is kept untyped so a non-string value can be reported instead of failing the decode.
	Room any             `json:"room,omitempty"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Action   string          `json:"action"`
	ID       json.RawMessage `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Chan     string          `json:"chan,omitempty"`
	Type     string          `json:"type,omitempty"`
	Response any             `json:"response,omitempty"`
	Msg      any             `json:"msg,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Frame is Outbound as seen by a client: payloads stay raw until the caller decodes them.
type Frame struct {
	Action   string          `json:"action"`
	ID       json.RawMessage `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Chan     string          `json:"chan,omitempty"`
	Type     string          `json:"type,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Msg      json.RawMessage `json:"msg,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// PubPayload is the msg of a channel broadcast. Client is omitted for server notices.
type PubPayload struct {
	Client map[string]any `json:"client,omitempty"`
	Data   any            `json:"data"`
}

// PubFrame is PubPayload on the receiving side.
type PubFrame struct {
	Client map[string]any  `json:"client,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// RoomRequest is the msg of every room RPC.
type RoomRequest struct {
	Name any             `json:"name,omitempty"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// RoomReply answers create, join and createOrJoin.
type RoomReply struct {
	Name string         `json:"name"`
	Meta map[string]any `json:"meta"`
}

// ErrorFrame builds a generic protocol error not tied to a call.
func ErrorFrame(message string) Outbound {
	return Outbound{Action: ActionError, Message: message}
}
