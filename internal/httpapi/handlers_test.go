package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/tillbridge/tillbridge/internal/auth"
	"github.com/tillbridge/tillbridge/internal/config"
	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/status"
)

const handlerSecret = "handler-test-secret"

// signedGet performs a GET authenticated with signed device headers.
func signedGet(t *testing.T, router http.Handler, path, secret string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("GET", path, nil)
	ms := time.Now().UnixMilli()
	req.Header.Set(auth.HeaderDeviceID, testDeviceID)
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(ms, 10))
	req.Header.Set(auth.HeaderSignature, auth.SignDeviceHeaders(testDeviceID, ms, secret))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthzIsOpen(t *testing.T) {
	ts := newTestServer(t, "")

	w := makeRequest(t, ts.router, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body %q, got %q", "ok", w.Body.String())
	}
}

func TestInfoListsPullOnlyEntities(t *testing.T) {
	ts := newTestServer(t, "",
		&stubExtractor{entity: model.CollProducts},
		&stubExtractor{entity: model.CollCategories},
	)

	w := makeRequest(t, ts.router, "GET", "/v1/info", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var info ServerInfo
	decodeBody(t, w, &info)

	if info.DeviceID != testDeviceID {
		t.Errorf("expected deviceId %q, got %q", testDeviceID, info.DeviceID)
	}
	if len(info.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d: %v", len(info.Entities), info.Entities)
	}
	pc, ok := info.Entities[model.CollProducts]
	if !ok {
		t.Fatalf("products capability missing: %v", info.Entities)
	}
	if !pc.Pull || pc.MaxLimit != maxPullLimit {
		t.Errorf("unexpected products capability: %+v", pc)
	}
	if info.RateLimit == nil || info.RateLimit.MaxRequests <= 0 {
		t.Errorf("expected rate limit advertisement, got %+v", info.RateLimit)
	}
}

func TestStatusReflectsHub(t *testing.T) {
	ts := newTestServer(t, "")
	ts.hub.SetAutoSync(true)
	ts.hub.SetServer(status.ServerRunning)

	w := makeRequest(t, ts.router, "GET", "/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var snap status.Snapshot
	decodeBody(t, w, &snap)
	if !snap.AutoSyncEnabled {
		t.Error("expected autoSyncEnabled true")
	}
	if snap.Server != status.ServerRunning {
		t.Errorf("expected server state Running, got %q", snap.Server)
	}
	if snap.DeviceID != testDeviceID {
		t.Errorf("expected deviceId %q, got %q", testDeviceID, snap.DeviceID)
	}
}

func TestLogsReturnRingLines(t *testing.T) {
	ts := newTestServer(t, "")
	ts.hub.Logf("first line")
	ts.hub.Errorf("source unreachable")

	w := makeRequest(t, ts.router, "GET", "/v1/logs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Lines []struct {
			Line string `json:"line"`
		} `json:"lines"`
	}
	decodeBody(t, w, &resp)

	if len(resp.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(resp.Lines))
	}
	if resp.Lines[0].Line != "first line" {
		t.Errorf("expected oldest line first, got %q", resp.Lines[0].Line)
	}
	if resp.Lines[1].Line != "ERROR: source unreachable" {
		t.Errorf("expected prefixed error line, got %q", resp.Lines[1].Line)
	}
}

func TestCheckpointsListedForDevice(t *testing.T) {
	ts := newTestServer(t, "")
	now := time.Now().UTC().Truncate(time.Second)
	ts.admin.cps = []model.Checkpoint{
		{DeviceID: testDeviceID, EntityType: model.CollProducts, LastSyncTime: now, LastRecordID: 42},
		{DeviceID: "other-device", EntityType: model.CollProducts, LastSyncTime: now, LastRecordID: 7},
	}

	w := makeRequest(t, ts.router, "GET", "/v1/checkpoints", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		DeviceID    string           `json:"deviceId"`
		Checkpoints []checkpointView `json:"checkpoints"`
	}
	decodeBody(t, w, &resp)

	if resp.DeviceID != testDeviceID {
		t.Errorf("expected deviceId %q, got %q", testDeviceID, resp.DeviceID)
	}
	if len(resp.Checkpoints) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", len(resp.Checkpoints))
	}
	if got := resp.Checkpoints[0]; got.EntityType != model.CollProducts || got.LastRecordID != 42 {
		t.Errorf("unexpected checkpoint row: %+v", got)
	}
}

func TestCheckpointsStoreFailure(t *testing.T) {
	ts := newTestServer(t, "")
	ts.admin.listErr = errors.New("connection refused")

	w := makeRequest(t, ts.router, "GET", "/v1/checkpoints", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestPullPaginatesWithCursor(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	products := &stubExtractor{entity: model.CollProducts, docs: []model.Doc{
		markerDoc(1, base),
		markerDoc(2, base.Add(time.Minute)),
		markerDoc(3, base.Add(2*time.Minute)),
	}}
	ts := newTestServer(t, "", products)

	w := makeRequest(t, ts.router, "GET", "/v1/pull/products?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var page pullResp
	decodeBody(t, w, &page)
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.NextCursor == nil {
		t.Fatal("expected a cursor on a full page")
	}

	w = makeRequest(t, ts.router, "GET", "/v1/pull/products?limit=2&cursor="+*page.NextCursor, nil)
	page = pullResp{}
	decodeBody(t, w, &page)
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 item after cursor, got %d", len(page.Items))
	}
	if page.NextCursor == nil {
		t.Fatal("expected a cursor on a non-empty page")
	}

	w = makeRequest(t, ts.router, "GET", "/v1/pull/products?limit=2&cursor="+*page.NextCursor, nil)
	page = pullResp{}
	decodeBody(t, w, &page)
	if len(page.Items) != 0 {
		t.Fatalf("expected drained stream, got %d items", len(page.Items))
	}
	if page.NextCursor != nil {
		t.Errorf("expected no cursor on an empty page, got %q", *page.NextCursor)
	}
}

func TestPullSnapshotOmitsCursor(t *testing.T) {
	categories := &stubExtractor{entity: model.CollCategories, docs: []model.Doc{
		snapshotDoc(1),
		snapshotDoc(2),
	}}
	ts := newTestServer(t, "", categories)

	w := makeRequest(t, ts.router, "GET", "/v1/pull/categories", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var page pullResp
	decodeBody(t, w, &page)
	if len(page.Items) != 2 {
		t.Fatalf("expected full snapshot, got %d items", len(page.Items))
	}
	if page.NextCursor != nil {
		t.Errorf("snapshot pull must not return a cursor, got %q", *page.NextCursor)
	}
}

func TestPullUnknownEntity(t *testing.T) {
	ts := newTestServer(t, "", &stubExtractor{entity: model.CollProducts})

	w := makeRequest(t, ts.router, "GET", "/v1/pull/invoices", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestPullLimitClamped(t *testing.T) {
	products := &stubExtractor{entity: model.CollProducts}
	ts := newTestServer(t, "", products)

	makeRequest(t, ts.router, "GET", "/v1/pull/products?limit=99999", nil)
	if products.lastLimit != maxPullLimit {
		t.Errorf("expected limit clamped to %d, got %d", maxPullLimit, products.lastLimit)
	}

	makeRequest(t, ts.router, "GET", "/v1/pull/products", nil)
	if products.lastLimit != defaultPullLimit {
		t.Errorf("expected default limit %d, got %d", defaultPullLimit, products.lastLimit)
	}
}

func TestAutoSyncToggle(t *testing.T) {
	ts := newTestServer(t, "")

	w := makeRequest(t, ts.router, "POST", "/v1/control/autosync", map[string]any{"enabled": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AutoSyncEnabled bool `json:"autoSyncEnabled"`
	}
	decodeBody(t, w, &resp)
	if !resp.AutoSyncEnabled {
		t.Error("expected autoSyncEnabled true in response")
	}
	if !ts.scheduler.Enabled() {
		t.Error("expected scheduler enabled")
	}

	makeRequest(t, ts.router, "POST", "/v1/control/autosync", map[string]any{"enabled": false})
	if ts.scheduler.Enabled() {
		t.Error("expected scheduler disabled")
	}
}

func TestAutoSyncRejectsMissingField(t *testing.T) {
	ts := newTestServer(t, "")

	w := makeRequest(t, ts.router, "POST", "/v1/control/autosync", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without enabled field, got %d", w.Code)
	}
}

func TestTriggerSyncQueuesKick(t *testing.T) {
	ts := newTestServer(t, "")

	w := makeRequest(t, ts.router, "POST", "/v1/control/sync", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if got := ts.scheduler.kickCount(); got != 1 {
		t.Errorf("expected 1 kick, got %d", got)
	}
}

func TestTriggerBackfillRunsDetached(t *testing.T) {
	ts := newTestServer(t, "")

	w := makeRequest(t, ts.router, "POST", "/v1/control/backfill", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case <-ts.bulk.started:
	case <-time.After(2 * time.Second):
		t.Fatal("backfill goroutine never ran")
	}
}

func TestTriggerBackfillBusy(t *testing.T) {
	ts := newTestServer(t, "")
	if !ts.hub.TryBeginPass() {
		t.Fatal("could not mark a pass as running")
	}
	defer ts.hub.EndPass()

	w := makeRequest(t, ts.router, "POST", "/v1/control/backfill", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a pass runs, got %d", w.Code)
	}
}

func TestResetRequiresConfirmation(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing confirm", map[string]any{"entity": model.CollProducts}},
		{"wrong confirm", map[string]any{"confirm": "reset"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, "", &stubExtractor{entity: model.CollProducts})

			w := makeRequest(t, ts.router, "POST", "/v1/control/reset", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if calls := ts.admin.resetCalls(); len(calls) != 0 {
				t.Errorf("reset must not run without confirmation: %v", calls)
			}
		})
	}
}

func TestResetSingleEntity(t *testing.T) {
	ts := newTestServer(t, "",
		&stubExtractor{entity: model.CollProducts},
		&stubExtractor{entity: model.CollCustomers},
	)

	w := makeRequest(t, ts.router, "POST", "/v1/control/reset", map[string]any{
		"confirm": "RESET",
		"entity":  model.CollProducts,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	calls := ts.admin.resetCalls()
	if len(calls) != 1 || calls[0] != testDeviceID+"/"+model.CollProducts {
		t.Errorf("unexpected reset calls: %v", calls)
	}
}

func TestResetAllEntities(t *testing.T) {
	ts := newTestServer(t, "",
		&stubExtractor{entity: model.CollProducts},
		&stubExtractor{entity: model.CollCustomers},
	)

	w := makeRequest(t, ts.router, "POST", "/v1/control/reset", map[string]any{"confirm": "RESET"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	calls := ts.admin.resetCalls()
	if len(calls) != 2 {
		t.Fatalf("expected a reset per entity, got %v", calls)
	}
}

func TestResetUnknownEntity(t *testing.T) {
	ts := newTestServer(t, "", &stubExtractor{entity: model.CollProducts})

	w := makeRequest(t, ts.router, "POST", "/v1/control/reset", map[string]any{
		"confirm": "RESET",
		"entity":  "invoices",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if calls := ts.admin.resetCalls(); len(calls) != 0 {
		t.Errorf("reset must not run for unknown entity: %v", calls)
	}
}

func TestAuthGuardsSyncRoutes(t *testing.T) {
	ts := newTestServer(t, handlerSecret)

	if w := makeRequest(t, ts.router, "GET", "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz must stay open, got %d", w.Code)
	}
	if w := makeRequest(t, ts.router, "GET", "/v1/info", nil); w.Code != http.StatusOK {
		t.Errorf("info must stay open, got %d", w.Code)
	}
	if w := makeRequest(t, ts.router, "GET", "/v1/status", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", w.Code)
	}
	if w := signedGet(t, ts.router, "/v1/status", "wrong-secret"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with a bad signature, got %d", w.Code)
	}
	if w := signedGet(t, ts.router, "/v1/status", handlerSecret); w.Code != http.StatusOK {
		t.Errorf("expected 200 with signed headers, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRateLimitHeadersExposed(t *testing.T) {
	ts := newTestServer(t, "")

	w := makeRequest(t, ts.router, "GET", "/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("expected X-RateLimit-Limit header")
	}
	if w.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("expected X-RateLimit-Remaining header")
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	cfg := config.Default()
	cfg.DeviceID = testDeviceID
	srv := &Server{
		Cfg:             cfg,
		Hub:             status.NewHub(testDeviceID),
		Checkpoints:     &stubAdmin{},
		Scheduler:       &stubScheduler{},
		Bulk:            newStubBulk(),
		RateLimitConfig: RateLimitInfo{WindowSeconds: 60, MaxRequests: 2, Burst: 2},
	}
	router := srv.Routes(auth.Cfg{})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = makeRequest(t, router, "GET", "/v1/status", nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}
