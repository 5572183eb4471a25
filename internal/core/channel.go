package core

import (
	"encoding/json"

	"github.com/okcorral/roombroker/internal/proto"
)

// SubHook may veto a subscription by returning false.
type SubHook func(c *Client) bool

// PubHook may rewrite a client publication or reject it with an error.
type PubHook func(msg json.RawMessage, c *Client) (any, error)

// ChannelOptions configures a named channel. Both permissions are closed by default.
type ChannelOptions struct {
	UsersCanPub bool
	UsersCanSub bool
	HookSub     SubHook
	HookPub     PubHook
}

// Channel groups clients subscribed to the same topic.
type Channel struct {
	Name    string
	opts    ChannelOptions
	clients map[*Client]struct{}
}

func newChannel(name string, opts ChannelOptions) *Channel {
	return &Channel{
		Name:    name,
		opts:    opts,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the channel. Returns true if newly added.
func (ch *Channel) AddClient(c *Client) bool {
	if _, exists := ch.clients[c]; exists {
		return false
	}
	ch.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the channel. Returns true if removed.
func (ch *Channel) RemoveClient(c *Client) bool {
	if _, exists := ch.clients[c]; !exists {
		return false
	}
	delete(ch.clients, c)
	return true
}

// Has reports whether c is subscribed.
func (ch *Channel) Has(c *Client) bool {
	_, ok := ch.clients[c]
	return ok
}

// Len is the number of subscribers.
func (ch *Channel) Len() int {
	return len(ch.clients)
}

// Empty returns true if no clients are subscribed.
func (ch *Channel) Empty() bool {
	return len(ch.clients) == 0
}

// AddChannel registers a channel. Re-adding an existing name fails with ErrChannelExists.
// Like every registry method it must run before Run or inside the hub loop.
func (h *Hub) AddChannel(name string, opts ChannelOptions) error {
	if _, exists := h.channels[name]; exists {
		return ErrChannelExists
	}
	h.channels[name] = newChannel(name, opts)
	h.log.Debug().Str("chan", name).Msg("channel added")
	return nil
}

// RemoveChannel deletes a channel, implicitly dropping all its subscribers.
func (h *Hub) RemoveChannel(name string) bool {
	if _, exists := h.channels[name]; !exists {
		return false
	}
	delete(h.channels, name)
	h.log.Debug().Str("chan", name).Msg("channel removed")
	return true
}

// HasChannel reports whether name is registered.
func (h *Hub) HasChannel(name string) bool {
	_, ok := h.channels[name]
	return ok
}

// Channel returns a registered channel.
func (h *Hub) Channel(name string) (*Channel, bool) {
	ch, ok := h.channels[name]
	return ch, ok
}

// Pub broadcasts a server notice to every subscriber, bypassing permissions and hooks.
func (h *Hub) Pub(name string, msg any) bool {
	ch, ok := h.channels[name]
	if !ok {
		return false
	}
	h.broadcast(ch, proto.Outbound{
		Action: proto.ActionPub,
		Chan:   name,
		Msg:    proto.PubPayload{Data: msg},
	}, nil)
	return true
}

// BroadcastFrom publishes msg on the channel on behalf of sender, whose redacted
// metadata is attached. When skipSender is set the sender gets nothing back.
func (h *Hub) BroadcastFrom(ch *Channel, sender *Client, msg any, skipSender bool) {
	out := proto.Outbound{
		Action: proto.ActionPub,
		Chan:   ch.Name,
		Msg:    proto.PubPayload{Client: h.OutboundMeta(sender), Data: msg},
	}
	var skip *Client
	if skipSender {
		skip = sender
	}
	h.broadcast(ch, out, skip)
}

func (h *Hub) broadcast(ch *Channel, out proto.Outbound, skip *Client) {
	for c := range ch.clients {
		if c == skip {
			continue
		}
		h.Send(c, out)
	}
}

func (h *Hub) handleSub(c *Client, in proto.Inbound) error {
	ch, err := h.lookupChannel(in.Chan)
	if err != nil {
		return err
	}
	if !ch.opts.UsersCanSub {
		return NewDomainError(MsgSubForbidden)
	}
	if ch.Has(c) {
		return NewDomainError(MsgAlreadySubscribed)
	}
	if ch.opts.HookSub != nil {
		var allowed bool
		if err := Protect(func() error {
			allowed = ch.opts.HookSub(c)
			return nil
		}); err != nil {
			return err
		}
		if !allowed {
			return NewDomainError(MsgSubDenied)
		}
	}
	ch.AddClient(c)
	h.log.Debug().Str("client_id", c.ID).Str("chan", ch.Name).Msg("client subscribed")
	return nil
}

func (h *Hub) handleUnsub(c *Client, in proto.Inbound) error {
	ch, err := h.lookupChannel(in.Chan)
	if err != nil {
		return err
	}
	if !ch.opts.UsersCanSub {
		return NewDomainError(MsgSubForbidden)
	}
	if !ch.RemoveClient(c) {
		return NewDomainError(MsgNotSubscribed)
	}
	h.log.Debug().Str("client_id", c.ID).Str("chan", ch.Name).Msg("client unsubscribed")
	return nil
}

func (h *Hub) handlePub(c *Client, in proto.Inbound) error {
	ch, err := h.lookupChannel(in.Chan)
	if err != nil {
		return err
	}
	if !ch.opts.UsersCanPub {
		return NewDomainError(MsgPubForbidden)
	}
	if len(in.Msg) == 0 {
		return NewDomainError(MsgInvalidMessage)
	}

	var msg any = in.Msg
	if ch.opts.HookPub != nil {
		if err := Protect(func() error {
			var hookErr error
			msg, hookErr = ch.opts.HookPub(in.Msg, c)
			return hookErr
		}); err != nil {
			return err
		}
	}

	h.BroadcastFrom(ch, c, msg, false)
	return nil
}

func (h *Hub) lookupChannel(name string) (*Channel, error) {
	if name == "" {
		return nil, NewDomainError(MsgInvalidChannel)
	}
	ch, ok := h.channels[name]
	if !ok {
		return nil, NewDomainError(MsgUnknownChannel)
	}
	return ch, nil
}
