package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Signed device headers are the credential for the legacy till client, which
// cannot mint JWTs. The client signs "<device>:<timestamp_ms>" with the same
// shared secret the token path uses.
const (
	HeaderDeviceID  = "X-Sync-Device-ID"
	HeaderTimestamp = "X-Sync-Timestamp"
	HeaderSignature = "X-Sync-Signature"

	defaultMaxSkewSeconds = 300
)

var (
	ErrMissingDeviceID  = errors.New("missing X-Sync-Device-ID header")
	ErrMissingTimestamp = errors.New("missing X-Sync-Timestamp header")
	ErrMissingSignature = errors.New("missing X-Sync-Signature header")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
	ErrTimestampSkew    = errors.New("timestamp outside acceptable window")
	ErrInvalidSignature = errors.New("invalid HMAC signature")
	ErrReplayedRequest  = errors.New("signature already used")
)

// replayCache remembers recently accepted signatures so a captured request
// cannot be resent inside the skew window.
type replayCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newReplayCache() *replayCache {
	c := &replayCache{seen: make(map[string]time.Time)}
	go c.cleanupExpired()
	return c
}

// remember records a signature and reports whether it was fresh.
func (c *replayCache) remember(sig string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, ok := c.seen[sig]; ok && time.Now().Before(expiry) {
		return false
	}
	c.seen[sig] = time.Now().Add(ttl)
	return true
}

func (c *replayCache) cleanupExpired() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for sig, expiry := range c.seen {
			if now.After(expiry) {
				delete(c.seen, sig)
			}
		}
		c.mu.Unlock()
	}
}

// DeviceHeaders contains a validated signed-header credential.
type DeviceHeaders struct {
	DeviceID  string
	Timestamp time.Time
}

// ValidateDeviceHeaders checks the HMAC-signed device headers on a request.
// The timestamp must fall inside the skew window and each signature is
// accepted once.
func ValidateDeviceHeaders(r *http.Request, cfg Cfg, replays *replayCache) (*DeviceHeaders, error) {
	deviceID := r.Header.Get(HeaderDeviceID)
	timestampStr := r.Header.Get(HeaderTimestamp)
	signature := r.Header.Get(HeaderSignature)

	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}
	if timestampStr == "" {
		return nil, ErrMissingTimestamp
	}
	if signature == "" {
		return nil, ErrMissingSignature
	}

	timestampMs, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}

	maxSkew := cfg.MaxSkewSeconds
	if maxSkew <= 0 {
		maxSkew = defaultMaxSkewSeconds
	}
	requestTime := time.UnixMilli(timestampMs)
	skew := time.Since(requestTime).Abs().Seconds()
	if skew > float64(maxSkew) {
		log.Warn().
			Str("device_id", deviceID).
			Float64("skew_seconds", skew).
			Int64("max_skew", maxSkew).
			Msg("device header timestamp outside acceptable window")
		return nil, ErrTimestampSkew
	}

	expected := SignDeviceHeaders(deviceID, timestampMs, cfg.HS256Secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		log.Warn().Str("device_id", deviceID).Msg("device header signature mismatch")
		return nil, ErrInvalidSignature
	}

	if replays != nil && !replays.remember(signature, 2*time.Duration(maxSkew)*time.Second) {
		log.Warn().Str("device_id", deviceID).Msg("device header signature replayed")
		return nil, ErrReplayedRequest
	}

	return &DeviceHeaders{DeviceID: deviceID, Timestamp: requestTime}, nil
}

// SignDeviceHeaders computes the hex signature a client must send for the
// given device and millisecond timestamp.
func SignDeviceHeaders(deviceID string, timestampMs int64, secret string) string {
	message := fmt.Sprintf("%s:%d", deviceID, timestampMs)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
