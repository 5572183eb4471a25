package core

import (
	"encoding/json"

	"github.com/okcorral/roombroker/internal/proto"
)

// Call is one RPC request as seen by a handler.
type Call struct {
	Method string
	ID     json.RawMessage
	Msg    json.RawMessage
	Client *Client
}

// Meta is the caller's metadata.
func (c *Call) Meta() Meta {
	return c.Client.Meta
}

// Bind decodes the request payload into v. A malformed payload is a domain error.
func (c *Call) Bind(v any) error {
	if len(c.Msg) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Msg, v); err != nil {
		return NewDomainError(MsgInvalidRPCPayload)
	}
	return nil
}

// RPCHandler answers a call. Return a *DomainError to relay its text to the caller.
type RPCHandler func(call *Call) (any, error)

// AddRPC registers a method. Re-adding an existing name fails with ErrRPCExists.
func (h *Hub) AddRPC(method string, handler RPCHandler) error {
	if _, exists := h.rpcs[method]; exists {
		return ErrRPCExists
	}
	h.rpcs[method] = handler
	return nil
}

// RemoveRPC unregisters a method.
func (h *Hub) RemoveRPC(method string) bool {
	if _, exists := h.rpcs[method]; !exists {
		return false
	}
	delete(h.rpcs, method)
	return true
}

// HasRPC reports whether method is registered.
func (h *Hub) HasRPC(method string) bool {
	_, ok := h.rpcs[method]
	return ok
}

func (h *Hub) handleRPC(c *Client, in proto.Inbound) {
	if len(in.ID) == 0 {
		h.SendError(c, MsgInvalidRPCID)
		return
	}

	reply := proto.Outbound{
		Action: proto.ActionRPC,
		ID:     in.ID,
		Name:   in.Name,
	}

	handler, ok := h.rpcs[in.Name]
	if !ok {
		reply.Type = proto.ReplyError
		reply.Response = MsgUnknownRPC
		h.Send(c, reply)
		return
	}

	call := &Call{Method: in.Name, ID: in.ID, Msg: in.Msg, Client: c}
	var result any
	err := Protect(func() error {
		var handlerErr error
		result, handlerErr = handler(call)
		return handlerErr
	})
	if err != nil {
		msg, domain := publicMessage(err)
		if !domain {
			h.log.Error().Err(err).Str("client_id", c.ID).Str("rpc", in.Name).Msg("rpc handler failed")
		}
		reply.Type = proto.ReplyError
		reply.Response = msg
		h.Send(c, reply)
		return
	}

	reply.Type = proto.ReplySuccess
	reply.Response = result
	h.Send(c, reply)
}
