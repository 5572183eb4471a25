package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/auth"
	"github.com/okcorral/roombroker/internal/config"
	"github.com/okcorral/roombroker/internal/core"
	"github.com/okcorral/roombroker/internal/ids"
	"github.com/okcorral/roombroker/internal/proto"
)

var errServerShutdown = errors.New("server shutting down")

// closeError ends a connection with a specific WebSocket status.
type closeError struct {
	status websocket.StatusCode
	reason string
}

func (e *closeError) Error() string {
	return fmt.Sprintf("%s (%d)", e.reason, int(e.status))
}

// WSOptions configures the upgrade and the per-connection loops.
type WSOptions struct {
	MaxInputSize int64
	// Origins are host patterns; "*" allows every origin.
	Origins     []string
	PingTimeout time.Duration
	SendBuffer  int
	RateLimit   config.RateLimit
	Auth        auth.Callback
	IDs         ids.Generator
}

// WSOptionsFromConfig maps the broker section of the config.
func WSOptionsFromConfig(cfg config.Broker, cb auth.Callback) WSOptions {
	return WSOptions{
		MaxInputSize: cfg.MaxInputSize,
		Origins:      cfg.Origins,
		PingTimeout:  cfg.PingTimeout,
		SendBuffer:   cfg.SendBuffer,
		RateLimit:    cfg.RateLimit,
		Auth:         cb,
	}
}

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub     *core.Hub
	opts    WSOptions
	origins []string
	log     *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	if opts.Auth == nil {
		opts.Auth = auth.AllowAll
	}
	if opts.IDs == nil {
		opts.IDs = ids.UUID{}
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = config.DefaultPingTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = config.DefaultSendBuffer
	}
	if opts.MaxInputSize <= 0 {
		opts.MaxInputSize = config.DefaultMaxInputSize
	}
	return &WSHandler{
		hub:     hub,
		opts:    opts,
		origins: originPatterns(opts.Origins),
		log:     logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if !h.hub.Admit() {
		h.log.Warn().Str("remote", r.RemoteAddr).Int("clients", h.hub.Admitted()).Msg("connection refused, server full")
		stdhttp.Error(w, "server full", stdhttp.StatusServiceUnavailable)
		return
	}
	defer h.hub.Release()

	meta, ok := h.opts.Auth(r.Header)
	if !ok {
		h.log.Info().Str("remote", r.RemoteAddr).Msg("connection refused by auth callback")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.opts.MaxInputSize)

	client := core.NewClient(h.opts.IDs.NewID(), r.RemoteAddr, h.opts.SendBuffer)
	client.Meta.Merge(meta)
	client.Meta["id"] = client.ID
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.pingLoop(ctx, conn)
	}()

	err = <-errCh
	cancel() // stop the other goroutines
	<-errCh
	<-errCh

	status, reason := h.closeStatus(client, err)
	_ = conn.Close(status, reason)
}

// closeStatus picks the close frame for the error that ended the connection.
func (h *WSHandler) closeStatus(client *core.Client, err error) (websocket.StatusCode, string) {
	var ce *closeError
	switch {
	case errors.As(err, &ce):
		h.log.Warn().Str("client_id", client.ID).Int("status", int(ce.status)).Msg(ce.reason)
		return ce.status, ce.reason
	case errors.Is(err, errServerShutdown):
		return websocket.StatusGoingAway, err.Error()
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	}

	switch status := websocket.CloseStatus(err); status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return websocket.StatusNormalClosure, "closing"
	case -1:
		h.log.Debug().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		return websocket.StatusInternalError, "internal error"
	default:
		h.log.Debug().Err(err).Str("client_id", client.ID).Msg("ws connection closed by peer")
		return status, "closing"
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.opts.RateLimit)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			return &closeError{status: websocket.StatusUnsupportedData, reason: "text frames only"}
		}
		if !limiter.allow() {
			return &closeError{status: websocket.StatusPolicyViolation, reason: "rate limit exceeded"}
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			return &closeError{status: websocket.StatusInvalidFramePayloadData, reason: "malformed frame"}
		}
		if err := h.hub.Submit(ctx, client, inbound); err != nil {
			if errors.Is(err, core.ErrHubStopped) {
				return errServerShutdown
			}
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case out, ok := <-client.Outbound:
			if !ok {
				return errServerShutdown
			}
			wctx, cancel := context.WithTimeout(ctx, h.opts.PingTimeout)
			err := wsjson.Write(wctx, conn, out)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Str("client_id", client.ID).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop drops connections that stop answering pings.
func (h *WSHandler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(h.opts.PingTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.opts.PingTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &closeError{status: websocket.StatusPolicyViolation, reason: "ping timeout"}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// originPatterns reduces configured origins to the host patterns the
// websocket library matches against.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if strings.Contains(origin, "://") {
			if u, err := url.Parse(origin); err == nil && u.Host != "" {
				origin = u.Host
			}
		}
		out = append(out, origin)
	}
	return out
}
