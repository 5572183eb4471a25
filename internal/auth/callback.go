// Package auth decides whether a WebSocket handshake may become a client.
package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/core"
)

// Callback inspects the handshake headers before the upgrade. Returning false
// refuses the connection; returned meta is merged into the client metadata.
type Callback func(header http.Header) (core.Meta, bool)

// AllowAll accepts every connection.
func AllowAll(http.Header) (core.Meta, bool) {
	return nil, true
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(header http.Header) (string, error) {
	value := header.Get("Authorization")
	if value == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// JWTCallback accepts handshakes carrying a valid bearer token and exposes the
// token subject as the "user" field of the client metadata.
func JWTCallback(cfg *JWTConfig, logger *zerolog.Logger) Callback {
	return func(header http.Header) (core.Meta, bool) {
		token, err := BearerToken(header)
		if err != nil {
			logger.Debug().Err(err).Msg("handshake rejected")
			return nil, false
		}
		claims, err := ValidateToken(cfg, token)
		if err != nil {
			logger.Debug().Err(err).Msg("handshake rejected")
			return nil, false
		}

		meta := core.Meta{"user": claims.Subject}
		if claims.Name != "" {
			meta["name"] = claims.Name
		}
		return meta, true
	}
}
