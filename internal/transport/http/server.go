package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/auth"
	"github.com/okcorral/roombroker/internal/config"
	"github.com/okcorral/roombroker/internal/core"
	"github.com/okcorral/roombroker/internal/rooms"
)

const snapshotTimeout = 2 * time.Second

// RoomsResponse is the body of GET /rooms.
type RoomsResponse struct {
	Clients  int          `json:"clients"`
	SyncMode string       `json:"sync_mode"`
	Rooms    []rooms.Info `json:"rooms"`
}

// NewServer builds an HTTP server with the broker routes.
func NewServer(hub *core.Hub, mgr *rooms.Manager, cfg config.Config, cb auth.Callback, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(hub, mgr, WSOptionsFromConfig(cfg.Broker, cb), logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts /ws on a plain mux and everything else on the gin router.
// The upgrade must own the raw ResponseWriter to hijack it.
func NewHandler(hub *core.Hub, mgr *rooms.Manager, opts WSOptions, logger *zerolog.Logger) stdhttp.Handler {
	ws := NewWSHandler(hub, opts, logger)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", ws)
	mux.Handle("/", NewRouter(hub, mgr, ws.opts.Auth, logger))
	return mux
}

// NewRouter wires /health and /rooms.
func NewRouter(hub *core.Hub, mgr *rooms.Manager, cb auth.Callback, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/rooms", AuthMiddleware(cb, logger), roomsHandler(hub, mgr, logger))

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// roomsHandler snapshots the live rooms from inside the hub loop.
func roomsHandler(hub *core.Hub, mgr *rooms.Manager, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
		defer cancel()

		var resp RoomsResponse
		err := hub.Exec(ctx, func() {
			resp.Rooms = mgr.Snapshot()
			resp.Clients = len(hub.Clients())
			resp.SyncMode = string(mgr.SyncMode())
		})
		if err != nil {
			logger.Error().Err(err).Msg("rooms snapshot failed")
			c.JSON(stdhttp.StatusServiceUnavailable, ErrorResponse{Error: "broker unavailable"})
			return
		}
		c.JSON(stdhttp.StatusOK, resp)
	}
}
