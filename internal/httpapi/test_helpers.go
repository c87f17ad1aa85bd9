package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tillbridge/tillbridge/internal/auth"
	"github.com/tillbridge/tillbridge/internal/config"
	"github.com/tillbridge/tillbridge/internal/extract"
	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/status"
	"github.com/tillbridge/tillbridge/internal/syncx"
)

// testDeviceID is the device every handler test runs as.
const testDeviceID = "test-device"

// stubExtractor serves canned documents. Zero-marker docs model a snapshot
// entity and are always returned; marked docs filter by the cursor like the
// real keyset queries do.
type stubExtractor struct {
	entity    string
	docs      []model.Doc
	lastLimit int
}

func (s *stubExtractor) Entity() string { return s.entity }

func (s *stubExtractor) ChangedPage(_ context.Context, since syncx.Marker, limit int) ([]model.Doc, error) {
	s.lastLimit = limit
	var out []model.Doc
	for _, d := range s.docs {
		if !d.Marker.IsZero() && !d.Marker.After(since) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubExtractor) LiveIDs(_ context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(s.docs))
	for _, d := range s.docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// markerDoc builds one changed document positioned at the given time.
func markerDoc(id int64, at time.Time) model.Doc {
	return model.Doc{
		ID:     id,
		Marker: syncx.Marker{Time: at.UTC(), ID: id},
		Body:   map[string]any{"_id": id},
	}
}

// snapshotDoc builds one unmarked document, as snapshot entities emit.
func snapshotDoc(id int64) model.Doc {
	return model.Doc{
		ID:   id,
		Body: map[string]any{"_id": id},
	}
}

// stubScheduler records control calls.
type stubScheduler struct {
	mu      sync.Mutex
	enabled bool
	kicks   int
}

func (s *stubScheduler) Kick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kicks++
}

func (s *stubScheduler) SetEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = on
}

func (s *stubScheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *stubScheduler) kickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kicks
}

// stubBulk signals on a channel when the detached backfill goroutine runs.
type stubBulk struct {
	started chan struct{}
	err     error
}

func newStubBulk() *stubBulk {
	return &stubBulk{started: make(chan struct{}, 1)}
}

func (b *stubBulk) BackfillTransactions(_ context.Context) (model.SyncResult, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	return model.SyncResult{Entity: model.CollTransactions, Success: b.err == nil}, b.err
}

// stubAdmin is an in-memory checkpoint admin backend.
type stubAdmin struct {
	mu       sync.Mutex
	cps      []model.Checkpoint
	resets   []string
	listErr  error
	resetErr error
}

func (a *stubAdmin) List(_ context.Context, deviceID string) ([]model.Checkpoint, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	out := make([]model.Checkpoint, 0, len(a.cps))
	for _, cp := range a.cps {
		if cp.DeviceID == deviceID {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (a *stubAdmin) Reset(_ context.Context, deviceID, entityType string) error {
	if a.resetErr != nil {
		return a.resetErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets = append(a.resets, deviceID+"/"+entityType)
	return nil
}

func (a *stubAdmin) resetCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.resets))
	copy(out, a.resets)
	return out
}

// testServer bundles a routed handler with the stubs behind it.
type testServer struct {
	router    http.Handler
	hub       *status.Hub
	scheduler *stubScheduler
	bulk      *stubBulk
	admin     *stubAdmin
}

// newTestServer builds a full router over stub backends. An empty secret
// leaves authentication disabled, which is what most handler tests want.
func newTestServer(t *testing.T, secret string, extractors ...extract.Extractor) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.DeviceID = testDeviceID

	ts := &testServer{
		hub:       status.NewHub(testDeviceID),
		scheduler: &stubScheduler{},
		bulk:      newStubBulk(),
		admin:     &stubAdmin{},
	}

	srv := &Server{
		Cfg:         cfg,
		Hub:         ts.hub,
		Extractors:  extractors,
		Checkpoints: ts.admin,
		Scheduler:   ts.scheduler,
		Bulk:        ts.bulk,
	}
	ts.router = srv.Routes(auth.Cfg{HS256Secret: secret})

	return ts
}

// makeRequest performs one JSON request against the router
func makeRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(raw)
	} else {
		bodyReader = bytes.NewReader([]byte{})
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

// decodeBody decodes a JSON response body or fails the test.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(into); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}
