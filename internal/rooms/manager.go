// Package rooms layers capacity-bounded rooms on top of the core hub. Each room
// is backed by a dedicated channel that only the manager touches; clients drive
// the lifecycle through reserved RPC methods and publish with the pub-room action.
package rooms

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/core"
	"github.com/okcorral/roombroker/internal/ids"
	"github.com/okcorral/roombroker/internal/proto"
)

// Client-facing messages for room failures.
const (
	MsgInvalidRoomName  = "Invalid room name"
	MsgRoomNotFound     = "Room not found"
	MsgRoomExists       = "Room already exists"
	MsgRoomFull         = "Room is full"
	MsgAlreadyInRoom    = "Client already in room"
	MsgNotInRoom        = "Client not in room"
	MsgCreationAborted  = "Room creation aborted"
	MsgJoinAborted      = "Room join aborted"
	MsgCreationDisabled = "Room creation disabled"
	MsgInvalidRoom      = "Invalid room"
	MsgUnknownRoom      = "Unknown room"
)

// DefaultMaxPlayers bounds rooms when Config leaves MaxPlayersByRoom unset.
const DefaultMaxPlayers = 10

// randomNameAttempts bounds retries when a generated name is already taken.
const randomNameAttempts = 5

var (
	ErrInvalidConfig = errors.New("invalid rooms config")
	ErrRoomExists    = errors.New("room already exists")
)

// Config is fixed at construction.
type Config struct {
	MaxPlayersByRoom    int
	UsersCanCreateRoom  bool
	UsersCanNameRoom    bool
	AutoJoinCreatedRoom bool
	AutoDeleteEmptyRoom bool
	// SyncMode is one of immediate, immediate-other or patch.
	SyncMode string
	Hooks    Hooks
	// IDs generates room names when the caller may not or did not pick one.
	IDs ids.Generator
}

// DefaultConfig enables every client capability with immediate delivery.
func DefaultConfig() Config {
	return Config{
		MaxPlayersByRoom:    DefaultMaxPlayers,
		UsersCanCreateRoom:  true,
		UsersCanNameRoom:    true,
		AutoJoinCreatedRoom: true,
		AutoDeleteEmptyRoom: true,
		SyncMode:            string(SyncImmediate),
	}
}

// MembershipListener observes a membership change after it was applied.
type MembershipListener func(r *Room, c *core.Client, joined bool)

// Manager owns the room registry. Every method runs on the hub loop: call the
// exported ones from hooks, handlers, or through Hub.Exec.
type Manager struct {
	hub  *core.Hub
	cfg  Config
	mode SyncMode
	ids  ids.Generator
	log  zerolog.Logger

	rooms     map[string]*Room
	listeners []MembershipListener
}

// New validates cfg and registers the room RPCs, the pub-room action, the
// disconnect path and the client meta filter on hub. Call it before hub.Run.
func New(hub *core.Hub, cfg Config) (*Manager, error) {
	if cfg.MaxPlayersByRoom <= 0 {
		return nil, fmt.Errorf("%w: max players by room must be positive", ErrInvalidConfig)
	}
	mode, err := ParseSyncMode(cfg.SyncMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	gen := cfg.IDs
	if gen == nil {
		gen = ids.UUID{}
	}

	m := &Manager{
		hub:   hub,
		cfg:   cfg,
		mode:  mode,
		ids:   gen,
		log:   hub.Logger().With().Str("component", "rooms").Logger(),
		rooms: make(map[string]*Room),
	}

	rpcs := map[string]core.RPCHandler{
		proto.RPCRoomJoin:         m.rpcJoin,
		proto.RPCRoomCreateOrJoin: m.rpcCreateOrJoin,
		proto.RPCRoomLeave:        m.rpcLeave,
	}
	if cfg.UsersCanCreateRoom {
		rpcs[proto.RPCRoomCreate] = m.rpcCreate
	}
	for name, handler := range rpcs {
		if err := hub.AddRPC(name, handler); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}
	if err := hub.AddAction(proto.ActionPubRoom, m.handlePubRoom); err != nil {
		return nil, fmt.Errorf("register %s: %w", proto.ActionPubRoom, err)
	}
	hub.OnDisconnect(m.disconnect)
	if cfg.Hooks.SendClientMeta != nil {
		hub.SetMetaFilter(core.MetaFilter(cfg.Hooks.SendClientMeta))
	}

	m.log.Info().
		Str("sync_mode", string(mode)).
		Int("max_players", cfg.MaxPlayersByRoom).
		Bool("users_can_create", cfg.UsersCanCreateRoom).
		Bool("users_can_name", cfg.UsersCanNameRoom).
		Msg("room manager ready")
	return m, nil
}

// SyncMode is the delivery mode in effect.
func (m *Manager) SyncMode() SyncMode {
	return m.mode
}

// OnMembership registers fn to run after every join and leave.
func (m *Manager) OnMembership(fn MembershipListener) {
	m.listeners = append(m.listeners, fn)
}

// Room returns a live room.
func (m *Manager) Room(name string) (*Room, bool) {
	r, ok := m.rooms[name]
	return r, ok
}

// Len is the number of live rooms.
func (m *Manager) Len() int {
	return len(m.rooms)
}

// Snapshot lists rooms sorted by name, with metadata redacted for output.
func (m *Manager) Snapshot() []Info {
	out := make([]Info, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, Info{
			Name:       r.Name,
			Members:    r.Len(),
			MaxPlayers: r.MaxPlayers,
			Meta:       m.outboundRoomMeta(r),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateRoom opens a room on behalf of the server, without running the create
// hook. An empty name is replaced by a generated one. Returns the room name.
func (m *Manager) CreateRoom(name string, meta core.Meta) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		generated, err := m.randomName()
		if err != nil {
			return "", err
		}
		name = generated
	}
	if m.taken(name) {
		return "", fmt.Errorf("%w: %s", ErrRoomExists, name)
	}
	if _, err := m.open(name, meta); err != nil {
		return "", err
	}
	return name, nil
}

// DeleteRoom closes a room regardless of its members, who are dropped without
// running the leave hook. The delete hook runs.
func (m *Manager) DeleteRoom(name string) bool {
	r, ok := m.rooms[name]
	if !ok {
		return false
	}
	m.deleteRoom(r)
	return true
}

// Broadcast sends a server notice to every member of a room.
func (m *Manager) Broadcast(name string, msg any) bool {
	r, ok := m.rooms[name]
	if !ok {
		return false
	}
	return m.hub.Pub(r.channel.Name, msg)
}

func (m *Manager) rpcCreate(call *core.Call) (any, error) {
	var req proto.RoomRequest
	if err := call.Bind(&req); err != nil {
		return nil, err
	}
	r, err := m.create(call.Client, req.Name, req.Msg)
	if err != nil {
		return nil, err
	}
	return m.reply(r), nil
}

func (m *Manager) rpcJoin(call *core.Call) (any, error) {
	var req proto.RoomRequest
	if err := call.Bind(&req); err != nil {
		return nil, err
	}
	r, err := m.lookup(req.Name)
	if err != nil {
		return nil, err
	}
	if err := m.join(r, call.Client, req.Msg); err != nil {
		return nil, err
	}
	return m.reply(r), nil
}

func (m *Manager) rpcCreateOrJoin(call *core.Call) (any, error) {
	var req proto.RoomRequest
	if err := call.Bind(&req); err != nil {
		return nil, err
	}

	if m.cfg.UsersCanNameRoom {
		if name, ok := req.Name.(string); ok {
			if r, exists := m.rooms[strings.TrimSpace(name)]; exists {
				if err := m.join(r, call.Client, req.Msg); err != nil {
					return nil, err
				}
				return m.reply(r), nil
			}
		}
	}
	if !m.cfg.UsersCanCreateRoom {
		return nil, core.NewDomainError(MsgCreationDisabled)
	}

	r, err := m.create(call.Client, req.Name, req.Msg)
	if err != nil {
		return nil, err
	}
	return m.reply(r), nil
}

func (m *Manager) rpcLeave(call *core.Call) (any, error) {
	var req proto.RoomRequest
	if err := call.Bind(&req); err != nil {
		return nil, err
	}
	r, err := m.lookup(req.Name)
	if err != nil {
		return nil, err
	}
	if err := m.leave(r, call.Client); err != nil {
		return nil, err
	}
	return true, nil
}

func (m *Manager) create(c *core.Client, rawName any, msg json.RawMessage) (*Room, error) {
	name, err := m.chooseName(rawName)
	if err != nil {
		return nil, err
	}
	if m.taken(name) {
		return nil, core.NewDomainError(MsgRoomExists)
	}

	var decision Decision
	if hook := m.cfg.Hooks.CreateRoom; hook != nil {
		err := core.Protect(func() error {
			var hookErr error
			decision, hookErr = hook(name, msg, c)
			return hookErr
		})
		if err != nil {
			return nil, err
		}
		if decision.Rejected {
			return nil, core.NewDomainError(reasonOr(decision.Reason, MsgCreationAborted))
		}
	}

	r, err := m.open(name, decision.Meta)
	if err != nil {
		return nil, err
	}

	if m.cfg.AutoJoinCreatedRoom {
		if err := m.join(r, c, msg); err != nil {
			m.log.Debug().Str("room", name).Str("client_id", c.ID).Msg("auto join refused, rolling back room")
			m.deleteRoom(r)
			return nil, err
		}
	}
	return r, nil
}

// open registers the room and its backing channel. Publish and subscribe stay
// closed to clients; only the manager touches the channel.
func (m *Manager) open(name string, meta core.Meta) (*Room, error) {
	chanName := proto.RoomChannel(name)
	if err := m.hub.AddChannel(chanName, core.ChannelOptions{}); err != nil {
		if errors.Is(err, core.ErrChannelExists) {
			return nil, core.NewDomainError(MsgRoomExists)
		}
		return nil, err
	}
	ch, _ := m.hub.Channel(chanName)

	roomMeta := core.Meta{}
	roomMeta.Merge(meta)
	roomMeta["name"] = name

	r := &Room{
		Name:       name,
		MaxPlayers: m.cfg.MaxPlayersByRoom,
		Meta:       roomMeta,
		channel:    ch,
	}
	m.rooms[name] = r
	m.log.Info().Str("room", name).Int("rooms", len(m.rooms)).Msg("room created")
	return r, nil
}

func (m *Manager) join(r *Room, c *core.Client, msg json.RawMessage) error {
	// capacity is checked first: a member re-joining a full room hears "Room is full"
	if r.Full() {
		return core.NewDomainError(MsgRoomFull)
	}
	if r.Has(c) {
		return core.NewDomainError(MsgAlreadyInRoom)
	}

	var decision Decision
	if hook := m.cfg.Hooks.JoinRoom; hook != nil {
		err := core.Protect(func() error {
			var hookErr error
			decision, hookErr = hook(msg, r.Meta.Clone(), c)
			return hookErr
		})
		if err != nil {
			return err
		}
		if decision.Rejected {
			return core.NewDomainError(reasonOr(decision.Reason, MsgJoinAborted))
		}
	}

	c.Meta.Merge(decision.Meta)
	r.channel.AddClient(c)
	m.log.Debug().Str("room", r.Name).Str("client_id", c.ID).Int("members", r.Len()).Msg("client joined room")
	m.notify(r, c, true)
	return nil
}

func (m *Manager) leave(r *Room, c *core.Client) error {
	if !r.Has(c) {
		return core.NewDomainError(MsgNotInRoom)
	}

	if hook := m.cfg.Hooks.LeaveRoom; hook != nil {
		if err := core.Protect(func() error { return hook(r.Meta.Clone(), c) }); err != nil {
			m.log.Error().Err(err).Str("room", r.Name).Str("client_id", c.ID).Msg("leave hook failed")
		}
	}

	r.channel.RemoveClient(c)
	m.log.Debug().Str("room", r.Name).Str("client_id", c.ID).Int("members", r.Len()).Msg("client left room")
	m.notify(r, c, false)

	if r.channel.Empty() && m.cfg.AutoDeleteEmptyRoom {
		m.deleteRoom(r)
	}
	return nil
}

func (m *Manager) deleteRoom(r *Room) {
	if hook := m.cfg.Hooks.DeleteRoom; hook != nil {
		if err := core.Protect(func() error { return hook(r.Meta.Clone()) }); err != nil {
			m.log.Error().Err(err).Str("room", r.Name).Msg("delete hook failed")
		}
	}
	delete(m.rooms, r.Name)
	m.hub.RemoveChannel(r.channel.Name)
	m.log.Info().Str("room", r.Name).Int("rooms", len(m.rooms)).Msg("room deleted")
}

// disconnect releases every membership through the leave path.
func (m *Manager) disconnect(c *core.Client) {
	for _, r := range m.rooms {
		if !r.Has(c) {
			continue
		}
		if err := m.leave(r, c); err != nil {
			m.log.Error().Err(err).Str("room", r.Name).Str("client_id", c.ID).Msg("leave on disconnect failed")
		}
	}
}

func (m *Manager) handlePubRoom(c *core.Client, in proto.Inbound) error {
	if len(in.Msg) == 0 {
		return core.NewDomainError(core.MsgInvalidMessage)
	}
	name, ok := in.Room.(string)
	if !ok {
		return core.NewDomainError(MsgInvalidRoom)
	}
	r, ok := m.rooms[strings.TrimSpace(name)]
	if !ok {
		return core.NewDomainError(MsgUnknownRoom)
	}
	if !r.Has(c) {
		return core.NewDomainError(MsgNotInRoom)
	}

	var msg any = in.Msg
	if hook := m.cfg.Hooks.MsgRoom; hook != nil {
		err := core.Protect(func() error {
			var hookErr error
			msg, hookErr = hook(in.Msg, r.Meta.Clone(), c)
			return hookErr
		})
		if err != nil {
			return err
		}
	}

	switch m.mode {
	case SyncImmediateOther:
		m.hub.BroadcastFrom(r.channel, c, msg, true)
	case SyncPatch:
		m.log.Info().Str("room", r.Name).Msg("patch sync mode is not implemented, message not delivered")
	default:
		m.hub.BroadcastFrom(r.channel, c, msg, false)
	}
	return nil
}

func (m *Manager) lookup(rawName any) (*Room, error) {
	name, ok := rawName.(string)
	if !ok {
		return nil, core.NewDomainError(MsgInvalidRoomName)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, core.NewDomainError(MsgInvalidRoomName)
	}
	r, ok := m.rooms[name]
	if !ok {
		return nil, core.NewDomainError(MsgRoomNotFound)
	}
	return r, nil
}

// chooseName applies the naming policy: a supplied name is honoured only when
// clients may name rooms, anything else gets a generated name.
func (m *Manager) chooseName(rawName any) (string, error) {
	if !m.cfg.UsersCanNameRoom || rawName == nil {
		return m.randomName()
	}
	name, ok := rawName.(string)
	if !ok {
		return "", core.NewDomainError(MsgInvalidRoomName)
	}
	if name = strings.TrimSpace(name); name == "" {
		return m.randomName()
	}
	return name, nil
}

func (m *Manager) randomName() (string, error) {
	for range randomNameAttempts {
		if name := m.ids.NewID(); name != "" && !m.taken(name) {
			return name, nil
		}
	}
	return "", errors.New("rooms: id generator keeps returning taken names")
}

// taken reports whether name is used by a room or its channel is squatted.
func (m *Manager) taken(name string) bool {
	if _, ok := m.rooms[name]; ok {
		return true
	}
	return m.hub.HasChannel(proto.RoomChannel(name))
}

func (m *Manager) reply(r *Room) proto.RoomReply {
	return proto.RoomReply{Name: r.Name, Meta: m.outboundRoomMeta(r)}
}

func (m *Manager) outboundRoomMeta(r *Room) core.Meta {
	meta := r.Meta.Clone()
	hook := m.cfg.Hooks.SendRoomMeta
	if hook == nil {
		return meta
	}
	var filtered core.Meta
	if err := core.Protect(func() error {
		var hookErr error
		filtered, hookErr = hook(meta)
		return hookErr
	}); err != nil {
		m.log.Error().Err(err).Str("room", r.Name).Msg("room meta filter failed")
		return core.Meta{}
	}
	if filtered == nil {
		return core.Meta{}
	}
	return filtered
}

func (m *Manager) notify(r *Room, c *core.Client, joined bool) {
	for _, fn := range m.listeners {
		if err := core.Protect(func() error { fn(r, c, joined); return nil }); err != nil {
			m.log.Error().Err(err).Str("room", r.Name).Msg("membership listener failed")
		}
	}
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
