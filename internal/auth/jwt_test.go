package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/core"
)

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "broker",
		TTL:      time.Minute,
	}
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestValidateToken_RoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	token, err := GenerateToken(cfg, "42", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "42" || claims.Name != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	cfg := testJWTConfig()
	sign := func(claims jwt.MapClaims, method jwt.SigningMethod, key any) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	exp := time.Now().Add(time.Minute).Unix()

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", sign(jwt.MapClaims{"sub": "1", "iss": "test", "aud": "broker", "exp": exp}, jwt.SigningMethodHS256, []byte("other"))},
		{"expired", sign(jwt.MapClaims{"sub": "1", "iss": "test", "aud": "broker", "exp": time.Now().Add(-time.Minute).Unix()}, jwt.SigningMethodHS256, cfg.Secret)},
		{"no expiry", sign(jwt.MapClaims{"sub": "1", "iss": "test", "aud": "broker"}, jwt.SigningMethodHS256, cfg.Secret)},
		{"wrong issuer", sign(jwt.MapClaims{"sub": "1", "iss": "evil", "aud": "broker", "exp": exp}, jwt.SigningMethodHS256, cfg.Secret)},
		{"wrong audience", sign(jwt.MapClaims{"sub": "1", "iss": "test", "aud": "chat", "exp": exp}, jwt.SigningMethodHS256, cfg.Secret)},
		{"no subject", sign(jwt.MapClaims{"iss": "test", "aud": "broker", "exp": exp}, jwt.SigningMethodHS256, cfg.Secret)},
		{"none alg", sign(jwt.MapClaims{"sub": "1", "iss": "test", "aud": "broker", "exp": exp}, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(cfg, tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		err    error
	}{
		{"missing", "", "", ErrMissingToken},
		{"basic", "Basic abc", "", ErrMissingToken},
		{"empty bearer", "Bearer  ", "", ErrMissingToken},
		{"ok", "Bearer abc.def", "abc.def", nil},
		{"lowercase scheme", "bearer abc", "abc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			got, err := BearerToken(h)
			if !errors.Is(err, tt.err) || got != tt.want {
				t.Fatalf("BearerToken(%q) = %q, %v", tt.header, got, err)
			}
		})
	}
}

func TestJWTCallback(t *testing.T) {
	cfg := testJWTConfig()
	logger := zerolog.Nop()
	cb := JWTCallback(cfg, &logger)

	token, err := GenerateToken(cfg, "7", "Bob")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	meta, ok := cb(bearer(token))
	if !ok {
		t.Fatal("valid token rejected")
	}
	if diff := cmp.Diff(core.Meta{"user": "7", "name": "Bob"}, meta); diff != "" {
		t.Fatalf("meta (-want +got):\n%s", diff)
	}

	if _, ok := cb(bearer("forged")); ok {
		t.Fatal("forged token accepted")
	}
	if _, ok := cb(http.Header{}); ok {
		t.Fatal("missing token accepted")
	}
	if _, ok := AllowAll(http.Header{}); !ok {
		t.Fatal("AllowAll rejected")
	}
}
