// Package session adapts rooms to game sessions handed over by the HTTP API:
// the session id is the room name, members hear the player count change and
// the host can close the session for everyone.
//
// openSession and closeSession accept any connected caller and any session id.
// They are meant for the upstream service; expose the broker to players only
// behind an AuthCallback that tells the two apart.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/core"
	"github.com/okcorral/roombroker/internal/rooms"
)

// RPC methods and notice actions.
const (
	RPCOpenSession  = "openSession"
	RPCCloseSession = "closeSession"
	RPCTime         = "time"

	ActionPlayerCount  = "playerCount"
	ActionCloseSession = "closeSession"
)

// MsgSessionExists is returned when a session room is opened twice.
const MsgSessionExists = "Session already open"

// PlayerCount is published to a room after every join and leave.
type PlayerCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// Notice is a bare action published to a room.
type Notice struct {
	Action string `json:"action"`
}

// Request names the session a call refers to.
type Request struct {
	Name string `json:"name"`
}

// Options tune the service. Zero values are fine.
type Options struct {
	// Now replaces the clock of the time RPC.
	Now func() time.Time
}

// Service owns the session RPCs.
type Service struct {
	rooms *rooms.Manager
	now   func() time.Time
	log   zerolog.Logger
}

// Register installs the session RPCs and the player count notices.
// Like rooms.New it must run before the hub starts.
func Register(hub *core.Hub, mgr *rooms.Manager, opts Options) (*Service, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		rooms: mgr,
		now:   now,
		log:   hub.Logger().With().Str("component", "session").Logger(),
	}

	for name, handler := range map[string]core.RPCHandler{
		RPCOpenSession:  s.openSession,
		RPCCloseSession: s.closeSession,
		RPCTime:         s.serverTime,
	} {
		if err := hub.AddRPC(name, handler); err != nil {
			return nil, err
		}
	}
	mgr.OnMembership(s.playerCount)
	return s, nil
}

func (s *Service) playerCount(r *rooms.Room, _ *core.Client, _ bool) {
	s.rooms.Broadcast(r.Name, PlayerCount{Action: ActionPlayerCount, Count: r.Len()})
}

// openSession creates the room of a session without joining it.
func (s *Service) openSession(call *core.Call) (any, error) {
	name, err := sessionName(call)
	if err != nil {
		return nil, err
	}
	if _, err := s.rooms.CreateRoom(name, core.Meta{"session": name}); err != nil {
		if errors.Is(err, rooms.ErrRoomExists) {
			return nil, core.NewDomainError(MsgSessionExists)
		}
		return nil, err
	}
	s.log.Info().Str("room", name).Str("client_id", call.Client.ID).Msg("session opened")
	return true, nil
}

// closeSession tells every member the session ended, then deletes its room.
func (s *Service) closeSession(call *core.Call) (any, error) {
	name, err := sessionName(call)
	if err != nil {
		return nil, err
	}
	if !s.rooms.Broadcast(name, Notice{Action: ActionCloseSession}) {
		return nil, core.NewDomainError(rooms.MsgRoomNotFound)
	}
	s.rooms.DeleteRoom(name)
	s.log.Info().Str("room", name).Str("client_id", call.Client.ID).Msg("session closed")
	return true, nil
}

func (s *Service) serverTime(*core.Call) (any, error) {
	return s.now().UTC().Format(time.RFC3339Nano), nil
}

func sessionName(call *core.Call) (string, error) {
	var req Request
	if err := call.Bind(&req); err != nil {
		return "", err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", core.NewDomainError(rooms.MsgInvalidRoomName)
	}
	return name, nil
}
