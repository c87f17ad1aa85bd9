package status

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestInitialSnapshot(t *testing.T) {
	h := NewHub("dev-1")
	snap := h.Snapshot()

	if snap.Server != ServerStopped {
		t.Errorf("Server = %q, want Stopped", snap.Server)
	}
	if snap.Source != ConnNotInitialized || snap.Target != ConnNotInitialized {
		t.Errorf("connection states = (%q, %q), want NotInitialized", snap.Source, snap.Target)
	}
	if snap.IsSyncing || snap.IsBulkSyncing || snap.AutoSyncEnabled {
		t.Errorf("flags = %+v, want all false", snap)
	}
	if snap.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q, want dev-1", snap.DeviceID)
	}
}

func TestRingDropsOldest(t *testing.T) {
	h := NewHub("dev-1")
	for i := 0; i < ringCap+25; i++ {
		h.Logf("line %d", i)
	}

	lines := h.Lines()
	if len(lines) != ringCap {
		t.Fatalf("ring holds %d lines, want %d", len(lines), ringCap)
	}
	if lines[0].Line != "line 25" {
		t.Errorf("oldest line = %q, want line 25", lines[0].Line)
	}
	if lines[ringCap-1].Line != fmt.Sprintf("line %d", ringCap+24) {
		t.Errorf("newest line = %q", lines[ringCap-1].Line)
	}
}

func TestPrefixedLines(t *testing.T) {
	h := NewHub("dev-1")
	h.Errorf("products sync failed")
	h.Warnf("slow source")
	h.Successf("transactions synced")

	lines := h.Lines()
	if len(lines) != 3 {
		t.Fatalf("ring holds %d lines, want 3", len(lines))
	}
	for i, prefix := range []string{"ERROR: ", "WARNING: ", "SUCCESS: "} {
		if !strings.HasPrefix(lines[i].Line, prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i].Line, prefix)
		}
	}
}

func TestPassAndBulkMutualExclusion(t *testing.T) {
	h := NewHub("dev-1")

	if !h.TryBeginPass() {
		t.Fatal("TryBeginPass() refused on idle hub")
	}
	if h.TryBeginPass() {
		t.Error("TryBeginPass() allowed a second concurrent pass")
	}
	if h.TryBeginBulk() {
		t.Error("TryBeginBulk() allowed while a pass is running")
	}
	h.EndPass()

	if !h.TryBeginBulk() {
		t.Fatal("TryBeginBulk() refused on idle hub")
	}
	if h.TryBeginPass() {
		t.Error("TryBeginPass() allowed while backfill is running")
	}
	h.EndBulk()

	snap := h.Snapshot()
	if snap.IsSyncing || snap.IsBulkSyncing {
		t.Errorf("flags still set after release: %+v", snap)
	}
	if snap.LastSyncAt == nil {
		t.Error("LastSyncAt not recorded after EndPass")
	}
}

func TestEndBulkClearsProgress(t *testing.T) {
	h := NewHub("dev-1")
	h.TryBeginBulk()
	h.SetBulkProgress("week 3 of 9")

	if got := h.Snapshot().BulkProgress; got != "week 3 of 9" {
		t.Errorf("BulkProgress = %q", got)
	}
	h.EndBulk()
	if got := h.Snapshot().BulkProgress; got != "" {
		t.Errorf("BulkProgress after EndBulk = %q, want empty", got)
	}
}

func TestConcurrentWriters(t *testing.T) {
	h := NewHub("dev-1")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Logf("w%d-%d", n, j)
				h.SetBulkProgress("p")
				_ = h.Snapshot()
				_ = h.Lines()
			}
		}(i)
	}
	wg.Wait()

	if got := len(h.Lines()); got != ringCap {
		t.Errorf("ring holds %d lines after concurrent writes, want %d", got, ringCap)
	}
}
