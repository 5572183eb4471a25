package core

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/proto"
)

// Options bounds the hub.
type Options struct {
	// MaxClients caps concurrently admitted connections. Zero means unlimited.
	MaxClients int
}

// ActionHandler serves an extension action. A returned error is reported to the
// client through the generic error frame.
type ActionHandler func(c *Client, in proto.Inbound) error

// MetaFilter rewrites client metadata before it leaves the server.
type MetaFilter func(meta Meta) (Meta, error)

type commandKind int

const (
	commandFrame commandKind = iota
	commandRegister
	commandUnregister
	commandTask
)

// command is one unit of work for the hub loop. All kinds share one FIFO queue
// so a task or a disconnect never overtakes frames queued before it.
type command struct {
	kind   commandKind
	client *Client
	frame  proto.Inbound
	task   func()
}

// Hub is the single writer of every registry. Run processes one frame, one
// registration or one task at a time, so handlers and hooks never race each
// other and compound operations are atomic. Hooks run inline and must not block.
type Hub struct {
	opts Options
	log  *zerolog.Logger

	clients  map[*Client]struct{}
	channels map[string]*Channel
	rpcs     map[string]RPCHandler
	actions  map[string]ActionHandler

	disconnectHooks []func(*Client)
	metaFilter      MetaFilter

	commands chan command
	stopped  chan struct{}

	admitted atomic.Int64
}

// NewHub creates a hub. Registries may be populated before Run is started.
func NewHub(opts Options, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		opts:     opts,
		log:      logger,
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]*Channel),
		rpcs:     make(map[string]RPCHandler),
		actions:  make(map[string]ActionHandler),
		commands: make(chan command, 256),
		stopped:  make(chan struct{}),
	}
}

// Run dispatches until ctx is cancelled, then disconnects every remaining client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case cmd := <-h.commands:
			h.handle(cmd)
		case <-ctx.Done():
			for c := range h.clients {
				h.removeClient(c)
			}
			return
		}
	}
}

// Admit reserves a connection slot. It returns false once MaxClients is reached;
// every successful Admit must be paired with Release.
func (h *Hub) Admit() bool {
	if h.opts.MaxClients <= 0 {
		h.admitted.Add(1)
		return true
	}
	for {
		n := h.admitted.Load()
		if n >= int64(h.opts.MaxClients) {
			return false
		}
		if h.admitted.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release frees a slot taken by Admit.
func (h *Hub) Release() {
	h.admitted.Add(-1)
}

// Admitted is the number of reserved connection slots.
func (h *Hub) Admitted() int {
	return int(h.admitted.Load())
}

func (h *Hub) handle(cmd command) {
	switch cmd.kind {
	case commandRegister:
		h.clients[cmd.client] = struct{}{}
		h.log.Info().Str("client_id", cmd.client.ID).Str("remote", cmd.client.RemoteAddr).Int("clients", len(h.clients)).Msg("client connected")
	case commandUnregister:
		h.removeClient(cmd.client)
	case commandTask:
		if err := Protect(func() error { cmd.task(); return nil }); err != nil {
			h.log.Error().Err(err).Msg("hub task failed")
		}
	default:
		h.dispatch(cmd.client, cmd.frame)
	}
}

func (h *Hub) enqueue(ctx context.Context, cmd command) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrHubStopped
	}
}

// RegisterClient hands a new connection to the hub loop.
func (h *Hub) RegisterClient(c *Client) {
	_ = h.enqueue(context.Background(), command{kind: commandRegister, client: c})
}

// UnregisterClient tears a connection down. Safe to call more than once.
func (h *Hub) UnregisterClient(c *Client) {
	_ = h.enqueue(context.Background(), command{kind: commandUnregister, client: c})
}

// Submit queues an inbound frame from c for dispatch.
func (h *Hub) Submit(ctx context.Context, c *Client, in proto.Inbound) error {
	return h.enqueue(ctx, command{kind: commandFrame, client: c, frame: in})
}

// Exec runs fn inside the hub loop and waits for it. It must not be called from
// a handler or hook, which already run inside the loop.
func (h *Hub) Exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	if err := h.enqueue(ctx, command{kind: commandTask, task: task}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrHubStopped
		}
	}
}

// AddAction registers an extension action such as room publishing.
func (h *Hub) AddAction(action string, handler ActionHandler) error {
	switch action {
	case proto.ActionSub, proto.ActionUnsub, proto.ActionPub, proto.ActionRPC, proto.ActionError:
		return ErrActionExists
	}
	if _, exists := h.actions[action]; exists {
		return ErrActionExists
	}
	h.actions[action] = handler
	return nil
}

// OnDisconnect registers fn to run when a client goes away, before it is
// removed from the channels it still belongs to.
func (h *Hub) OnDisconnect(fn func(c *Client)) {
	h.disconnectHooks = append(h.disconnectHooks, fn)
}

// SetMetaFilter installs the redaction applied to client metadata in outbound frames.
func (h *Hub) SetMetaFilter(filter MetaFilter) {
	h.metaFilter = filter
}

// OutboundMeta returns the metadata of c as it may be shown to other clients.
func (h *Hub) OutboundMeta(c *Client) Meta {
	meta := c.Meta.Clone()
	if h.metaFilter == nil {
		return meta
	}
	var filtered Meta
	if err := Protect(func() error {
		var filterErr error
		filtered, filterErr = h.metaFilter(meta)
		return filterErr
	}); err != nil {
		h.log.Error().Err(err).Str("client_id", c.ID).Msg("client meta filter failed")
		return Meta{}
	}
	if filtered == nil {
		return Meta{}
	}
	return filtered
}

// Logger is the hub logger, shared with extensions.
func (h *Hub) Logger() *zerolog.Logger {
	return h.log
}

// Clients returns the connected clients.
func (h *Hub) Clients() []*Client {
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Send queues a frame for one client. A full queue drops the frame.
func (h *Hub) Send(c *Client, out proto.Outbound) bool {
	if c.closed {
		return false
	}
	select {
	case c.Outbound <- out:
		return true
	default:
		h.log.Warn().Str("client_id", c.ID).Str("action", out.Action).Msg("dropping frame for slow consumer")
		return false
	}
}

// SendError delivers a generic error frame.
func (h *Hub) SendError(c *Client, message string) bool {
	return h.Send(c, proto.ErrorFrame(message))
}

// Fail reports err to c, hiding anything that is not a DomainError.
func (h *Hub) Fail(c *Client, err error) {
	msg, domain := publicMessage(err)
	if !domain {
		h.log.Error().Err(err).Str("client_id", c.ID).Msg("internal error")
	}
	h.SendError(c, msg)
}

func (h *Hub) dispatch(c *Client, in proto.Inbound) {
	if _, ok := h.clients[c]; !ok {
		// frame raced with disconnect
		return
	}

	switch in.Action {
	case proto.ActionSub:
		h.reply(c, in, h.handleSub(c, in))
	case proto.ActionUnsub:
		h.reply(c, in, h.handleUnsub(c, in))
	case proto.ActionPub:
		h.reply(c, in, h.handlePub(c, in))
	case proto.ActionRPC:
		h.handleRPC(c, in)
	default:
		handler, ok := h.actions[in.Action]
		if !ok {
			h.SendError(c, MsgInvalidAction)
			return
		}
		if err := Protect(func() error { return handler(c, in) }); err != nil {
			h.Fail(c, err)
		}
	}
}

// reply answers channel actions: correlated when the client sent an id,
// otherwise only failures are reported.
func (h *Hub) reply(c *Client, in proto.Inbound, err error) {
	if len(in.ID) == 0 {
		if err != nil {
			h.Fail(c, err)
		}
		return
	}

	out := proto.Outbound{Action: in.Action, ID: in.ID, Chan: in.Chan}
	if err != nil {
		msg, domain := publicMessage(err)
		if !domain {
			h.log.Error().Err(err).Str("client_id", c.ID).Str("chan", in.Chan).Msg("channel hook failed")
		}
		out.Type = proto.ReplyError
		out.Response = msg
	} else {
		out.Type = proto.ReplySuccess
		out.Response = true
	}
	h.Send(c, out)
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	for _, fn := range h.disconnectHooks {
		if err := Protect(func() error { fn(c); return nil }); err != nil {
			h.log.Error().Err(err).Str("client_id", c.ID).Msg("disconnect hook failed")
		}
	}
	for _, ch := range h.channels {
		ch.RemoveClient(c)
	}

	delete(h.clients, c)
	c.closed = true
	close(c.Outbound)
	h.log.Info().Str("client_id", c.ID).Int("clients", len(h.clients)).Msg("client disconnected")
}
