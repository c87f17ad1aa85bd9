package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/extract"
	"github.com/tillbridge/tillbridge/internal/model"
)

// backfillWindow is the slice of history covered per checkpoint during a
// bulk sync. One week keeps each window small enough to re-walk cheaply
// after an interruption.
const backfillWindow = 7 * 24 * time.Hour

// historyWalker is the extra surface the transaction extractor exposes for
// walking the full history rather than the change feed.
type historyWalker interface {
	extract.Extractor
	HistoryBounds(ctx context.Context) (first, last time.Time, total int64, ok bool, err error)
	HistoryWindow(ctx context.Context, from, to time.Time) ([]model.Doc, error)
}

// BackfillTransactions copies the entire transaction history into the target
// in week-sized windows, checkpointing after each one so an interrupted run
// resumes from its last finished window. When the walk reaches the present
// the checkpoint payload is set to the completion sentinel, which lets the
// incremental pass stop widening its window. Re-triggering a completed
// backfill re-walks the whole history; the upserts make that a full repair
// rather than a duplication.
func (e *Engine) BackfillTransactions(ctx context.Context) (model.SyncResult, error) {
	if e.Hub != nil {
		if !e.Hub.TryBeginBulk() {
			return model.SyncResult{}, ErrBusy
		}
		defer e.Hub.EndBulk()
	}

	started := time.Now()
	res := model.SyncResult{Entity: model.CollTransactions, RunID: uuid.NewString()}
	logger := log.With().Str("run_id", res.RunID).Logger()

	walker, err := e.transactionHistory()
	if err != nil {
		return e.finishBulk(ctx, res, started, err)
	}

	cp, err := e.Checkpoints.Get(ctx, e.DeviceID, model.CollTransactions)
	if err != nil {
		return e.finishBulk(ctx, res, started, fmt.Errorf("checkpoint unavailable: %w", err))
	}

	first, last, total, ok, err := walker.HistoryBounds(ctx)
	if err != nil {
		return e.finishBulk(ctx, res, started, err)
	}
	if !ok {
		// No history at all. Mark the backfill complete so incremental
		// passes can settle into their narrow window right away.
		now := time.Now().UTC()
		if err := e.sealBackfill(ctx, now, model.BackfillCompleted); err != nil {
			return e.finishBulk(ctx, res, started, err)
		}
		res.LastSyncTime = now
		logger.Info().Msg("transaction history empty, backfill marked complete")
		return e.finishBulk(ctx, res, started, nil)
	}

	cursor := first.UTC().Truncate(24 * time.Hour)
	if cp != nil {
		if resume, ok := model.ParseProcessedDate(cp.Payload); ok && resume.After(cursor) {
			cursor = resume
		}
	}
	logger.Info().
		Time("from", cursor).
		Time("until", last).
		Int64("total_rows", total).
		Msg("transaction backfill started")

	windows := 0
	for !cursor.After(last) {
		if err := ctx.Err(); err != nil {
			return e.finishBulk(ctx, res, started, err)
		}
		windowEnd := cursor.Add(backfillWindow)

		docs, err := walker.HistoryWindow(ctx, cursor, windowEnd)
		if err != nil {
			return e.finishBulk(ctx, res, started, err)
		}
		if err := e.flushHistory(ctx, docs, &res); err != nil {
			return e.finishBulk(ctx, res, started, err)
		}

		// The payload records the window end, so a resumed run starts at
		// the first day it has not fully covered.
		if err := e.sealBackfill(ctx, time.Now().UTC(), model.ProcessedDatePayload(windowEnd)); err != nil {
			return e.finishBulk(ctx, res, started, err)
		}
		windows++
		if e.Hub != nil {
			e.Hub.SetBulkProgress(fmt.Sprintf("%s: %d of %d rows", windowEnd.Format("2006-01-02"), res.Synced, total))
		}
		logger.Debug().
			Time("window_start", cursor).
			Int("rows", len(docs)).
			Msg("backfill window flushed")

		cursor = windowEnd
	}

	now := time.Now().UTC()
	if err := e.sealBackfill(ctx, now, model.BackfillCompleted); err != nil {
		return e.finishBulk(ctx, res, started, err)
	}
	res.LastSyncTime = now
	logger.Info().Int("windows", windows).Int("synced", res.Synced).Msg("transaction backfill complete")
	return e.finishBulk(ctx, res, started, nil)
}

func (e *Engine) transactionHistory() (historyWalker, error) {
	ex := extract.ByEntity(e.Extractors, model.CollTransactions)
	if ex == nil {
		return nil, fmt.Errorf("no extractor registered for %s", model.CollTransactions)
	}
	walker, ok := ex.(historyWalker)
	if !ok {
		return nil, fmt.Errorf("extractor for %s cannot walk history", model.CollTransactions)
	}
	return walker, nil
}

// flushHistory writes one window's documents in batch-sized chunks with the
// usual inter-batch throttle.
func (e *Engine) flushHistory(ctx context.Context, docs []model.Doc, res *model.SyncResult) error {
	if len(docs) == 0 {
		return nil
	}
	limit := e.Config.BatchFor(model.CollTransactions)
	if limit <= 0 {
		limit = len(docs)
	}
	for start := 0; start < len(docs); start += limit {
		end := min(start+limit, len(docs))
		bulk, err := e.Target.UpsertBatch(ctx, model.CollTransactions, docs[start:end])
		if err != nil {
			return err
		}
		res.Synced += int(bulk.Written())
		res.Failed += int(bulk.Failed)
		if end < len(docs) {
			if err := e.throttle(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// sealBackfill records backfill progress on the transactions checkpoint. The
// store's monotonic upsert means syncTime can never rewind an incremental
// pass that ran in between; the payload is always taken.
func (e *Engine) sealBackfill(ctx context.Context, syncTime time.Time, payload string) error {
	err := e.Checkpoints.Upsert(ctx, &model.Checkpoint{
		DeviceID:     e.DeviceID,
		EntityType:   model.CollTransactions,
		LastSyncTime: syncTime,
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return nil
}

func (e *Engine) finishBulk(ctx context.Context, res model.SyncResult, started time.Time, err error) (model.SyncResult, error) {
	res.Duration = time.Since(started)
	res.Success = err == nil
	logger := log.With().Str("entity", res.Entity).Str("run_id", res.RunID).Logger()

	if err != nil {
		res.ErrorMessage = err.Error()
		logger.Error().Err(err).Dur("elapsed", res.Duration).Msg("transaction backfill failed")
		if e.Hub != nil {
			e.Hub.Errorf("bulk sync failed: %v", err)
		}
	} else if e.Hub != nil {
		e.Hub.Successf("bulk sync complete: %d transactions in %s",
			res.Synced, res.Duration.Round(time.Second))
	}
	if e.Metrics != nil {
		e.Metrics.ObserveBackfill(int64(res.Synced), res.Success)
	}

	logCtx := context.WithoutCancel(ctx)
	if logErr := e.Target.InsertSyncLog(logCtx, res.Log(e.DeviceID, time.Now().UTC())); logErr != nil {
		logger.Warn().Err(logErr).Msg("failed to record sync log")
	}
	return res, err
}
