package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const CtxDeviceID ctxKey = "device"

// Cfg holds API authentication configuration. An empty secret disables
// authentication entirely, the expected setup when the service is bound to
// localhost next to the till.
type Cfg struct {
	HS256Secret    string
	MaxSkewSeconds int64 // signed-header timestamp window, defaults to 300
}

// Middleware authenticates requests with either credential:
// 1. Bearer HS256 token carrying a device claim
// 2. HMAC-signed device headers (legacy till client, see device_headers.go)
func Middleware(cfg Cfg) func(http.Handler) http.Handler {
	if cfg.HS256Secret == "" {
		log.Warn().Msg("API authentication disabled, no secret configured")
		return func(next http.Handler) http.Handler { return next }
	}
	replays := newReplayCache()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ""
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}

			device := ""
			if tok != "" {
				d, err := ValidateToken(tok, cfg)
				if err != nil {
					log.Warn().Err(err).Msg("token validation failed")
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				device = d
			} else {
				hdr, err := ValidateDeviceHeaders(r, cfg, replays)
				if err != nil {
					log.Warn().Err(err).Msg("device header validation failed")
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				device = hdr.DeviceID
			}

			ctx := context.WithValue(r.Context(), CtxDeviceID, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ValidateToken checks an HS256 bearer token and returns the device it was
// issued to. The device claim names the till; sub is accepted as a fallback
// for tokens minted by generic tooling.
func ValidateToken(tok string, cfg Cfg) (string, error) {
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.HS256Secret), nil
	})
	if err != nil {
		return "", err
	}
	if !t.Valid {
		return "", jwt.ErrTokenUnverifiable
	}

	device, _ := claims["device"].(string)
	if device == "" {
		device, _ = claims["sub"].(string)
	}
	if device == "" {
		return "", errors.New("missing device claim")
	}
	return device, nil
}

// DeviceID extracts the authenticated device from the request context.
// Returns empty string when auth is disabled.
func DeviceID(ctx context.Context) string {
	if v := ctx.Value(CtxDeviceID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
