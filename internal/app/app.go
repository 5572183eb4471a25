package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/okcorral/roombroker/internal/auth"
	"github.com/okcorral/roombroker/internal/config"
	"github.com/okcorral/roombroker/internal/core"
	"github.com/okcorral/roombroker/internal/rooms"
	"github.com/okcorral/roombroker/internal/session"
	transporthttp "github.com/okcorral/roombroker/internal/transport/http"
)

// Options carry the application callbacks that cannot live in a config file.
type Options struct {
	Hooks rooms.Hooks
	// Auth replaces the JWT callback derived from the config.
	Auth auth.Callback
}

// App wires together core, rooms, session and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	rooms           *rooms.Manager
	log             *zerolog.Logger

	ready    chan struct{}
	addrOnce sync.Once
	addr     net.Addr
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hub := core.NewHub(core.Options{MaxClients: cfg.Broker.MaxClients}, logger)
	mgr, err := rooms.New(hub, RoomsConfig(cfg.Rooms, opts.Hooks))
	if err != nil {
		return nil, fmt.Errorf("init rooms: %w", err)
	}
	if _, err := session.Register(hub, mgr, session.Options{}); err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}

	cb := opts.Auth
	if cb == nil {
		cb = authCallback(cfg, logger)
	}

	return &App{
		server:          transporthttp.NewServer(hub, mgr, cfg, cb, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		rooms:           mgr,
		log:             logger,
		ready:           make(chan struct{}),
	}, nil
}

// RoomsConfig maps the rooms section of the config.
func RoomsConfig(cfg config.Rooms, hooks rooms.Hooks) rooms.Config {
	return rooms.Config{
		MaxPlayersByRoom:    cfg.MaxPlayersByRoom,
		UsersCanCreateRoom:  cfg.UsersCanCreateRoom,
		UsersCanNameRoom:    cfg.UsersCanNameRoom,
		AutoJoinCreatedRoom: cfg.AutoJoinCreatedRoom,
		AutoDeleteEmptyRoom: cfg.AutoDeleteEmptyRoom,
		SyncMode:            cfg.SyncMode,
		Hooks:               hooks,
	}
}

func authCallback(cfg config.Config, logger *zerolog.Logger) auth.Callback {
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("jwt_secret is empty, accepting every connection")
		return auth.AllowAll
	}
	return auth.JWTCallback(&auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}, logger)
}

// Hub exposes the broker core, e.g. to register application channels and RPCs before Run.
func (a *App) Hub() *core.Hub {
	return a.hub
}

// Rooms exposes the room manager.
func (a *App) Rooms() *rooms.Manager {
	return a.rooms
}

// Ready is closed once the listener is bound.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr is the bound listen address, valid after Ready.
func (a *App) Addr() net.Addr {
	return a.addr
}

// Run starts the hub and the HTTP server and blocks until ctx is cancelled or
// the server fails. The hub stops after the server so open sockets get a close frame.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	a.addrOnce.Do(func() {
		a.addr = ln.Addr()
		close(a.ready)
	})
	a.log.Info().Str("addr", ln.Addr().String()).Msg("broker listening")

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(hubCtx)
		return nil
	})
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopHub()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
