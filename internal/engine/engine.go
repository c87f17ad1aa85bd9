package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/config"
	"github.com/tillbridge/tillbridge/internal/extract"
	"github.com/tillbridge/tillbridge/internal/load"
	"github.com/tillbridge/tillbridge/internal/metrics"
	"github.com/tillbridge/tillbridge/internal/model"
	"github.com/tillbridge/tillbridge/internal/status"
	"github.com/tillbridge/tillbridge/internal/syncx"
)

// CheckpointStore is the durable cursor state the engine reads and advances.
type CheckpointStore interface {
	Get(ctx context.Context, deviceID, entityType string) (*model.Checkpoint, error)
	Upsert(ctx context.Context, cp *model.Checkpoint) error
}

// TargetWriter is the loader surface the engine drives.
type TargetWriter interface {
	UpsertBatch(ctx context.Context, collection string, docs []model.Doc) (load.BulkResult, error)
	DeleteByIDs(ctx context.Context, collection string, ids []int64) (int64, error)
	PresentIDs(ctx context.Context, collection string) ([]int64, error)
	InsertSyncLog(ctx context.Context, entry model.SyncLog) error
}

// ErrBusy reports that another pass or backfill already holds the device.
var ErrBusy = errors.New("another sync operation is already running")

// Engine orchestrates sync passes for one device: it reads the checkpoint,
// reconciles deletions, pages changed rows into the target, and advances the
// checkpoint after every acknowledged batch. Hub and Metrics are optional.
type Engine struct {
	DeviceID    string
	Config      *config.Config
	Checkpoints CheckpointStore
	Target      TargetWriter
	Extractors  []extract.Extractor
	Hub         *status.Hub
	Metrics     *metrics.Metrics
}

// RunAll executes one pass per registered entity, sequentially, in
// registration order. A failing entity never stops the remaining ones.
// Returns ErrBusy when a pass or a backfill is already in flight.
func (e *Engine) RunAll(ctx context.Context) ([]model.SyncResult, error) {
	if e.Hub != nil {
		if !e.Hub.TryBeginPass() {
			return nil, ErrBusy
		}
		defer e.Hub.EndPass()
	}

	results := make([]model.SyncResult, 0, len(e.Extractors))
	for _, ex := range e.Extractors {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.RunEntity(ctx, ex))
	}
	return results, nil
}

// RunEntity executes one incremental pass for one entity and reports its
// outcome. Errors are captured in the result, never returned: the caller's
// tick must go on to the other entities regardless.
func (e *Engine) RunEntity(ctx context.Context, ex extract.Extractor) model.SyncResult {
	entity := ex.Entity()
	started := time.Now()
	res := model.SyncResult{Entity: entity, RunID: uuid.NewString()}
	logger := log.With().Str("entity", entity).Str("run_id", res.RunID).Logger()

	// The checkpoint read is the first touch of the pass: if the store is
	// down the pass aborts here, before anything was written.
	cp, err := e.Checkpoints.Get(ctx, e.DeviceID, entity)
	if err != nil {
		return e.finish(ctx, res, started, fmt.Errorf("checkpoint unavailable: %w", err))
	}
	since := e.startMarker(cp, entity)
	payload := ""
	if cp != nil {
		payload = cp.Payload
	}
	logger.Debug().Stringer("since", since).Msg("pass started")

	// Deletions run before inserts so a row deleted and re-created with
	// the same id ends up present.
	deleted, err := e.reconcileDeletions(ctx, ex, since)
	if err != nil {
		return e.finish(ctx, res, started, err)
	}
	res.Deleted = deleted
	deleteCheck := time.Now().UTC()

	limit := e.Config.BatchFor(entity)
	cursor := since
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, res, started, err)
		}

		page, err := ex.ChangedPage(ctx, cursor, limit)
		if err != nil {
			return e.finish(ctx, res, started, err)
		}
		if len(page) == 0 {
			break
		}

		bulk, err := e.Target.UpsertBatch(ctx, entity, page)
		if err != nil {
			// Checkpoint untouched: the next pass replays this window
			// and the idempotent upserts absorb the overlap.
			return e.finish(ctx, res, started, err)
		}
		res.Synced += int(bulk.Written())
		res.Failed += int(bulk.Failed)

		// Pages are ordered, so the last row carries the page's highest
		// marker. Snapshot entities carry zero markers; never regress.
		if last := page[len(page)-1].Marker; last.After(cursor) {
			cursor = last
		}
		if err := e.advanceCheckpoint(ctx, entity, cursor, payload, &deleteCheck); err != nil {
			return e.finish(ctx, res, started, err)
		}
		pages++

		if limit <= 0 || len(page) < limit {
			break
		}
		if err := e.throttle(ctx); err != nil {
			return e.finish(ctx, res, started, err)
		}
	}
	if pages == 0 {
		// Nothing changed; still touch the checkpoint so its UpdatedAt
		// records the pass.
		if err := e.advanceCheckpoint(ctx, entity, cursor, payload, &deleteCheck); err != nil {
			return e.finish(ctx, res, started, err)
		}
	}

	res.LastSyncTime = cursor.Time
	return e.finish(ctx, res, started, nil)
}

// startMarker resolves where a pass reads from: the checkpoint when present,
// otherwise now minus the entity's default window, always floored at the
// replay horizon.
func (e *Engine) startMarker(cp *model.Checkpoint, entity string) syncx.Marker {
	now := time.Now().UTC()
	if cp == nil {
		return syncx.Marker{Time: now.Add(-e.Config.WindowFor(entity))}
	}
	m := cp.Marker()

	// Until the backfill has recorded full coverage, transaction passes
	// rewind to the wide default window each time so history that predates
	// the first checkpoint keeps flowing in. Idempotent upserts make the
	// overlap cost bandwidth, not correctness.
	if entity == model.CollTransactions && !cp.BackfillDone() {
		wide := now.Add(-time.Duration(e.Config.Sync.DefaultWindowDays) * 24 * time.Hour)
		if wide.Before(m.Time) {
			m = syncx.Marker{Time: wide}
		}
	}

	if floor := now.Add(-time.Duration(e.Config.Sync.MaxReplayDays) * 24 * time.Hour); m.Time.Before(floor) {
		m = syncx.Marker{Time: floor}
	}
	return m
}

// reconcileDeletions removes target documents whose source row is gone
// (set difference) or flagged deleted since the cursor. Returns how many
// documents were actually removed.
func (e *Engine) reconcileDeletions(ctx context.Context, ex extract.Extractor, since syncx.Marker) (int, error) {
	entity := ex.Entity()

	live, err := ex.LiveIDs(ctx)
	if err != nil {
		return 0, err
	}
	present, err := e.Target.PresentIDs(ctx, entity)
	if err != nil {
		return 0, err
	}

	toDelete := difference(present, live)
	if sd, ok := ex.(extract.SoftDeleter); ok {
		flagged, err := sd.SoftDeletedIDs(ctx, since)
		if err != nil {
			return 0, err
		}
		toDelete = union(toDelete, flagged)
	}
	if len(toDelete) == 0 {
		return 0, nil
	}

	n, err := e.Target.DeleteByIDs(ctx, entity, toDelete)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Str("entity", entity).Int64("deleted", n).Msg("reconciled deletions")
	}
	return int(n), nil
}

func (e *Engine) advanceCheckpoint(ctx context.Context, entity string, pos syncx.Marker, payload string, deleteCheck *time.Time) error {
	err := e.Checkpoints.Upsert(ctx, &model.Checkpoint{
		DeviceID:        e.DeviceID,
		EntityType:      entity,
		LastSyncTime:    pos.Time,
		LastRecordID:    pos.ID,
		LastDeleteCheck: deleteCheck,
		Payload:         payload,
	})
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

// throttle sleeps the inter-batch delay, waking early on cancellation.
func (e *Engine) throttle(ctx context.Context) error {
	delay := e.Config.InterBatchDelay()
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// finish seals a result: duration, success flag, operator line, metrics, and
// the best-effort sync-log insert. The audit write must not fail the pass,
// and it survives cancellation so shutdown still leaves a trace.
func (e *Engine) finish(ctx context.Context, res model.SyncResult, started time.Time, err error) model.SyncResult {
	res.Duration = time.Since(started)
	res.Success = err == nil
	logger := log.With().Str("entity", res.Entity).Str("run_id", res.RunID).Logger()

	if err != nil {
		res.ErrorMessage = err.Error()
		logger.Error().Err(err).Dur("elapsed", res.Duration).Msg("sync pass failed")
		if e.Hub != nil {
			e.Hub.Errorf("%s sync failed: %v", res.Entity, err)
		}
	} else {
		logger.Info().
			Int("synced", res.Synced).
			Int("deleted", res.Deleted).
			Int("failed", res.Failed).
			Dur("elapsed", res.Duration).
			Msg("sync pass completed")
		if e.Hub != nil {
			e.Hub.Successf("%s: %d synced, %d deleted in %s",
				res.Entity, res.Synced, res.Deleted, res.Duration.Round(time.Millisecond))
		}
	}
	if e.Metrics != nil {
		e.Metrics.ObservePass(res.Entity, res.Success, res.Synced, res.Deleted, res.Failed, res.Duration)
	}

	logCtx := context.WithoutCancel(ctx)
	if logErr := e.Target.InsertSyncLog(logCtx, res.Log(e.DeviceID, time.Now().UTC())); logErr != nil {
		logger.Warn().Err(logErr).Msg("failed to record sync log")
	}
	return res
}

func difference(present, live []int64) []int64 {
	liveSet := make(map[int64]struct{}, len(live))
	for _, id := range live {
		liveSet[id] = struct{}{}
	}
	var out []int64
	for _, id := range present {
		if _, ok := liveSet[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func union(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
