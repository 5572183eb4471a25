package rooms

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okcorral/roombroker/internal/core"
)

// SyncMode selects how a room publication is delivered.
type SyncMode string

const (
	// SyncImmediate delivers to every member, sender included.
	SyncImmediate SyncMode = "immediate"
	// SyncImmediateOther delivers to every member except the sender.
	SyncImmediateOther SyncMode = "immediate-other"
	// SyncPatch is reserved for state-diff sync. It is accepted but delivers nothing.
	SyncPatch SyncMode = "patch"
)

// ErrInvalidSyncMode is returned for unknown sync modes.
var ErrInvalidSyncMode = errors.New("invalid sync mode")

// ParseSyncMode validates s. The empty string selects SyncImmediate.
func ParseSyncMode(s string) (SyncMode, error) {
	switch mode := SyncMode(s); mode {
	case "":
		return SyncImmediate, nil
	case SyncImmediate, SyncImmediateOther, SyncPatch:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSyncMode, s)
	}
}

// Decision is the outcome of a create or join hook.
type Decision struct {
	// Meta is merged into the room (create) or the caller (join) on acceptance.
	Meta     core.Meta
	Rejected bool
	// Reason is relayed to the caller on rejection.
	Reason string
}

// Accept lets the transition proceed, contributing meta.
func Accept(meta core.Meta) Decision {
	return Decision{Meta: meta}
}

// Reject vetoes the transition. An empty reason falls back to a generic message.
func Reject(reason string) Decision {
	return Decision{Rejected: true, Reason: reason}
}

// Hooks are the application callbacks run at each room transition. Every hook is
// optional and runs inline on the hub loop: it must not block and must not call
// back into the operation that triggered it (a join hook must not join).
// Returning a *core.DomainError relays its text to the caller; any other error
// is logged and reported as a generic server error.
type Hooks struct {
	CreateRoom func(name string, msg json.RawMessage, caller *core.Client) (Decision, error)
	JoinRoom   func(msg json.RawMessage, room core.Meta, caller *core.Client) (Decision, error)
	// LeaveRoom is a notification; it cannot veto the leave.
	LeaveRoom  func(room core.Meta, caller *core.Client) error
	DeleteRoom func(room core.Meta) error
	// MsgRoom may rewrite a room publication or reject it.
	MsgRoom func(msg json.RawMessage, room core.Meta, caller *core.Client) (any, error)

	// SendClientMeta and SendRoomMeta redact metadata in outbound frames.
	// They get a copy; stored metadata is never modified.
	SendClientMeta func(meta core.Meta) (core.Meta, error)
	SendRoomMeta   func(meta core.Meta) (core.Meta, error)
}

// Room is a capacity-bounded group backed by a dedicated channel.
// Its members are exactly the channel subscribers.
type Room struct {
	Name       string
	MaxPlayers int
	Meta       core.Meta

	channel *core.Channel
}

// Len is the number of members.
func (r *Room) Len() int {
	return r.channel.Len()
}

// Has reports whether c is a member.
func (r *Room) Has(c *core.Client) bool {
	return r.channel.Has(c)
}

// Full reports whether the room reached MaxPlayers.
func (r *Room) Full() bool {
	return r.channel.Len() >= r.MaxPlayers
}

// Info is a read-only view of a room.
type Info struct {
	Name       string    `json:"name"`
	Members    int       `json:"members"`
	MaxPlayers int       `json:"max_players"`
	Meta       core.Meta `json:"meta"`
}
