// Package client is a Go client for the broker: correlated RPC calls with local
// timeouts, channel subscriptions and room helpers over one WebSocket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/ids"
	"github.com/okcorral/roombroker/internal/proto"
)

// DefaultTimeout bounds calls whose context has no deadline.
const DefaultTimeout = 5 * time.Second

var (
	// ErrClosed is returned once the connection is gone.
	ErrClosed = errors.New("client closed")
	// ErrTimeout is returned when no reply arrived in time. A late reply is discarded.
	ErrTimeout = errors.New("call timed out")
)

// RemoteError is a failure reported by the broker.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// HandshakeError is returned by Dial when the server refused the upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake refused with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Handler receives channel broadcasts. It runs on the read goroutine and must not block.
type Handler func(msg proto.PubFrame)

// Options tune Dial. Zero values are fine.
type Options struct {
	// Header is sent with the handshake, e.g. an Authorization bearer token.
	Header  http.Header
	Timeout time.Duration
	IDs     ids.Generator
	Logger  *zerolog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
	ids     ids.Generator
	log     *zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan proto.Frame
	subs    map[string]Handler

	errs chan string
	done chan struct{}
	err  error
}

// Dial connects to a broker WebSocket endpoint.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: opts.Header})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		timeout: opts.Timeout,
		ids:     opts.IDs,
		log:     opts.Logger,
		pending: make(map[string]chan proto.Frame),
		subs:    make(map[string]Handler),
		errs:    make(chan string, 16),
		done:    make(chan struct{}),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.ids == nil {
		c.ids = ids.UUID{}
	}
	if c.log == nil {
		nop := zerolog.Nop()
		c.log = &nop
	}

	go c.readLoop()
	return c, nil
}

// Errors delivers the generic error frames sent by the broker. Frames are
// dropped when nobody drains the channel.
func (c *Client) Errors() <-chan string {
	return c.errs
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. It is nil while the client is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the connection and waits for the read loop to exit.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	<-c.done
	return err
}

// Call invokes an RPC method and decodes the result into out, which may be nil.
func (c *Client) Call(ctx context.Context, method string, msg, out any) error {
	frame, err := c.request(ctx, proto.Inbound{Action: proto.ActionRPC, Name: method}, msg)
	if err != nil {
		return err
	}
	if out == nil || len(frame.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Response, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Sub subscribes to a channel and routes its broadcasts to handler.
func (c *Client) Sub(ctx context.Context, channel string, handler Handler) error {
	c.handle(channel, handler)
	if _, err := c.request(ctx, proto.Inbound{Action: proto.ActionSub, Chan: channel}, nil); err != nil {
		c.handle(channel, nil)
		return err
	}
	return nil
}

// Unsub leaves a channel.
func (c *Client) Unsub(ctx context.Context, channel string) error {
	_, err := c.request(ctx, proto.Inbound{Action: proto.ActionUnsub, Chan: channel}, nil)
	c.handle(channel, nil)
	return err
}

// Pub publishes msg on a channel and waits for the broker to accept it.
func (c *Client) Pub(ctx context.Context, channel string, msg any) error {
	_, err := c.request(ctx, proto.Inbound{Action: proto.ActionPub, Chan: channel}, msg)
	return err
}

// request sends in with a fresh correlation id and waits for the matching reply.
func (c *Client) request(ctx context.Context, in proto.Inbound, msg any) (proto.Frame, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := c.ids.NewID()
	rawID, err := json.Marshal(id)
	if err != nil {
		return proto.Frame{}, err
	}
	in.ID = rawID
	if in.Msg, err = marshal(msg); err != nil {
		return proto.Frame{}, err
	}

	reply := make(chan proto.Frame, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, in); err != nil {
		return proto.Frame{}, err
	}

	select {
	case frame := <-reply:
		if frame.Type == proto.ReplyError {
			var message string
			if err := json.Unmarshal(frame.Response, &message); err != nil {
				message = string(frame.Response)
			}
			return frame, &RemoteError{Message: message}
		}
		return frame, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return proto.Frame{}, fmt.Errorf("%w: %s %s", ErrTimeout, in.Action, in.Name)
		}
		return proto.Frame{}, ctx.Err()
	case <-c.done:
		return proto.Frame{}, ErrClosed
	}
}

func (c *Client) write(ctx context.Context, in proto.Inbound) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := wsjson.Write(ctx, c.conn, in); err != nil {
		return fmt.Errorf("write %s: %w", in.Action, err)
	}
	return nil
}

func (c *Client) handle(channel string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handler == nil {
		delete(c.subs, channel)
		return
	}
	c.subs[channel] = handler
}

func (c *Client) readLoop() {
	defer close(c.done)
	ctx := context.Background()
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, c.conn, &frame); err != nil {
			c.err = err
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame proto.Frame) {
	if frame.Action == proto.ActionError {
		select {
		case c.errs <- frame.Message:
		default:
			c.log.Warn().Str("message", frame.Message).Msg("error frame dropped")
		}
		return
	}

	if len(frame.ID) > 0 {
		var id string
		if err := json.Unmarshal(frame.ID, &id); err == nil {
			c.mu.Lock()
			reply, ok := c.pending[id]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- frame:
				default:
				}
				return
			}
		}
		c.log.Debug().Str("action", frame.Action).RawJSON("id", frame.ID).Msg("late or unknown reply discarded")
		return
	}

	if frame.Action != proto.ActionPub {
		c.log.Debug().Str("action", frame.Action).Msg("unhandled frame")
		return
	}
	c.mu.Lock()
	handler := c.subs[frame.Chan]
	c.mu.Unlock()
	if handler == nil {
		return
	}
	var msg proto.PubFrame
	if err := json.Unmarshal(frame.Msg, &msg); err != nil {
		c.log.Warn().Err(err).Str("chan", frame.Chan).Msg("malformed broadcast")
		return
	}
	handler(msg)
}

func marshal(v any) (json.RawMessage, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return m, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}
