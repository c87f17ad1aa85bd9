package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func signedRequest(deviceID string, at time.Time, secret string) *http.Request {
	ms := at.UnixMilli()
	req := httptest.NewRequest(http.MethodPost, "/v1/control/sync", nil)
	req.Header.Set(HeaderDeviceID, deviceID)
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", ms))
	req.Header.Set(HeaderSignature, SignDeviceHeaders(deviceID, ms, secret))
	return req
}

func TestValidateDeviceHeaders(t *testing.T) {
	cfg := Cfg{HS256Secret: testSecret}
	req := signedRequest("till-3", time.Now(), testSecret)

	hdr, err := ValidateDeviceHeaders(req, cfg, nil)
	if err != nil {
		t.Fatalf("ValidateDeviceHeaders: %v", err)
	}
	if hdr.DeviceID != "till-3" {
		t.Fatalf("device = %q, want till-3", hdr.DeviceID)
	}
}

func TestValidateDeviceHeadersMissing(t *testing.T) {
	cfg := Cfg{HS256Secret: testSecret}
	tests := []struct {
		name string
		drop string
		want error
	}{
		{"no device", HeaderDeviceID, ErrMissingDeviceID},
		{"no timestamp", HeaderTimestamp, ErrMissingTimestamp},
		{"no signature", HeaderSignature, ErrMissingSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest("till-3", time.Now(), testSecret)
			req.Header.Del(tt.drop)
			if _, err := ValidateDeviceHeaders(req, cfg, nil); err != tt.want {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateDeviceHeadersRejectsBadSignature(t *testing.T) {
	cfg := Cfg{HS256Secret: testSecret}
	req := signedRequest("till-3", time.Now(), "some-other-secret")

	if _, err := ValidateDeviceHeaders(req, cfg, nil); err != ErrInvalidSignature {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestValidateDeviceHeadersRejectsStaleTimestamp(t *testing.T) {
	cfg := Cfg{HS256Secret: testSecret, MaxSkewSeconds: 60}
	req := signedRequest("till-3", time.Now().Add(-5*time.Minute), testSecret)

	if _, err := ValidateDeviceHeaders(req, cfg, nil); err != ErrTimestampSkew {
		t.Fatalf("err = %v, want ErrTimestampSkew", err)
	}
}

func TestValidateDeviceHeadersRejectsReplay(t *testing.T) {
	cfg := Cfg{HS256Secret: testSecret}
	replays := newReplayCache()
	req := signedRequest("till-3", time.Now(), testSecret)

	if _, err := ValidateDeviceHeaders(req, cfg, replays); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if _, err := ValidateDeviceHeaders(req, cfg, replays); err != ErrReplayedRequest {
		t.Fatalf("err = %v, want ErrReplayedRequest", err)
	}
}

func TestMiddlewareAcceptsSignedHeaders(t *testing.T) {
	var got string
	handler := Middleware(Cfg{HS256Secret: testSecret})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = DeviceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest("till-3", time.Now(), testSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got != "till-3" {
		t.Fatalf("handler saw device %q, want till-3", got)
	}
}
