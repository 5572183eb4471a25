package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/auth"
	"github.com/okcorral/roombroker/internal/client"
	logpkg "github.com/okcorral/roombroker/internal/log"
	"github.com/okcorral/roombroker/internal/proto"
)

func main() {
	logger := logpkg.New("debug", true)
	if err := run(logger); err != nil {
		logger.Error().Err(err).Msg("ws_rooms failed")
		os.Exit(1)
	}
}

func run(logger *zerolog.Logger) error {
	addr := flag.String("addr", "ws://localhost:8887/ws", "WebSocket address")
	room := flag.String("room", "smoke", "room to create or join")
	text := flag.String("text", "hello from smoke test", "message sent to the room")
	secret := flag.String("jwt-secret", "", "sign a token with this secret when the broker requires one")
	user := flag.String("user", "tester", "token subject")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	opts := client.Options{Logger: logger}
	if *secret != "" {
		token, err := auth.GenerateToken(&auth.JWTConfig{Secret: []byte(*secret), TTL: time.Minute}, *user, *user)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		opts.Header = http.Header{}
		opts.Header.Set("Authorization", "Bearer "+token)
	}

	c, err := client.Dial(ctx, *addr, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	echoed := make(chan proto.PubFrame, 1)
	c.RoomOnMessage(*room, func(msg proto.PubFrame) {
		select {
		case echoed <- msg:
		default:
		}
	})

	reply, err := c.RoomCreateOrJoin(ctx, *room, nil)
	if err != nil {
		return fmt.Errorf("createOrJoin: %w", err)
	}
	logger.Info().Str("room", reply.Name).Interface("meta", reply.Meta).Msg("entered room")

	if err := c.RoomSend(ctx, reply.Name, *text); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	select {
	case msg := <-echoed:
		logger.Info().RawJSON("data", msg.Data).Interface("client", msg.Client).Msg("room message")
	case msg := <-c.Errors():
		return errors.New(msg)
	case <-time.After(*timeout / 2):
		// immediate-other mode never echoes to the sender
		logger.Warn().Msg("no echo received")
	}

	if err := c.RoomLeave(ctx, reply.Name); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	logger.Info().Str("room", reply.Name).Msg("left room")
	return nil
}
