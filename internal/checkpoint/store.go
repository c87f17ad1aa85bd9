package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/tillbridge/tillbridge/internal/model"
)

// Store persists per-(device, entity) sync positions in the source database.
// Keeping checkpoints next to the source data means a restored source backup
// automatically rewinds the replica positions with it.
type Store struct {
	DB *pgxpool.Pool
}

// NewStore creates a checkpoint Store backed by the given pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

// EnsureSchema creates the checkpoint table when it does not exist yet.
// Identifier casing follows the source schema so the table sits naturally
// beside the business tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS "SyncCheckpoints" (
			"Id"              BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
			"DeviceId"        TEXT NOT NULL,
			"EntityType"      TEXT NOT NULL,
			"LastSyncTime"    TIMESTAMPTZ NOT NULL,
			"LastRecordId"    BIGINT NOT NULL DEFAULT 0,
			"LastDeleteCheck" TIMESTAMPTZ,
			"CheckpointData"  TEXT NOT NULL DEFAULT '',
			"CreatedAt"       TIMESTAMPTZ NOT NULL DEFAULT now(),
			"UpdatedAt"       TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT "UQ_SyncCheckpoints_DeviceId_EntityType" UNIQUE ("DeviceId", "EntityType")
		)
	`)
	if err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Get returns the checkpoint for one (device, entity) pair, or nil when the
// entity has never synced.
func (s *Store) Get(ctx context.Context, deviceID, entityType string) (*model.Checkpoint, error) {
	cp := &model.Checkpoint{}
	err := s.DB.QueryRow(ctx, `
		SELECT "Id", "DeviceId", "EntityType", "LastSyncTime", "LastRecordId",
		       "LastDeleteCheck", "CheckpointData", "CreatedAt", "UpdatedAt"
		FROM "SyncCheckpoints"
		WHERE "DeviceId" = $1 AND "EntityType" = $2
	`, deviceID, entityType).Scan(
		&cp.ID, &cp.DeviceID, &cp.EntityType, &cp.LastSyncTime, &cp.LastRecordID,
		&cp.LastDeleteCheck, &cp.Payload, &cp.CreatedAt, &cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint %s/%s: %w", deviceID, entityType, err)
	}
	return cp, nil
}

// List returns every checkpoint for a device, one per entity type.
func (s *Store) List(ctx context.Context, deviceID string) ([]model.Checkpoint, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT "Id", "DeviceId", "EntityType", "LastSyncTime", "LastRecordId",
		       "LastDeleteCheck", "CheckpointData", "CreatedAt", "UpdatedAt"
		FROM "SyncCheckpoints"
		WHERE "DeviceId" = $1
		ORDER BY "EntityType"
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		var cp model.Checkpoint
		if err := rows.Scan(
			&cp.ID, &cp.DeviceID, &cp.EntityType, &cp.LastSyncTime, &cp.LastRecordID,
			&cp.LastDeleteCheck, &cp.Payload, &cp.CreatedAt, &cp.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// Upsert writes a checkpoint, creating the row on first sync. LastSyncTime
// only moves forward: a concurrent or replayed pass can never rewind a
// position that a newer pass already advanced.
func (s *Store) Upsert(ctx context.Context, cp *model.Checkpoint) error {
	if cp.DeviceID == "" || cp.EntityType == "" {
		return errors.New("upsert checkpoint: device and entity are required")
	}

	now := time.Now().UTC()
	_, err := s.DB.Exec(ctx, `
		INSERT INTO "SyncCheckpoints"
			("DeviceId", "EntityType", "LastSyncTime", "LastRecordId",
			 "LastDeleteCheck", "CheckpointData", "CreatedAt", "UpdatedAt")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT ("DeviceId", "EntityType") DO UPDATE SET
			"LastSyncTime" = GREATEST(EXCLUDED."LastSyncTime", "SyncCheckpoints"."LastSyncTime"),
			"LastRecordId" = CASE
				WHEN EXCLUDED."LastSyncTime" >= "SyncCheckpoints"."LastSyncTime"
				THEN EXCLUDED."LastRecordId"
				ELSE "SyncCheckpoints"."LastRecordId"
			END,
			"LastDeleteCheck" = COALESCE(EXCLUDED."LastDeleteCheck", "SyncCheckpoints"."LastDeleteCheck"),
			"CheckpointData" = EXCLUDED."CheckpointData",
			"UpdatedAt"      = EXCLUDED."UpdatedAt"
	`, cp.DeviceID, cp.EntityType, cp.LastSyncTime.UTC(), cp.LastRecordID,
		cp.LastDeleteCheck, cp.Payload, now)
	if err != nil {
		return fmt.Errorf("upsert checkpoint %s/%s: %w", cp.DeviceID, cp.EntityType, err)
	}

	log.Debug().
		Str("entity", cp.EntityType).
		Time("last_sync_time", cp.LastSyncTime).
		Int64("last_record_id", cp.LastRecordID).
		Msg("checkpoint advanced")

	return nil
}

// Reset removes the checkpoint for one entity so the next pass replays from
// the default window. Used by operators after a target wipe.
func (s *Store) Reset(ctx context.Context, deviceID, entityType string) error {
	_, err := s.DB.Exec(ctx, `
		DELETE FROM "SyncCheckpoints"
		WHERE "DeviceId" = $1 AND "EntityType" = $2
	`, deviceID, entityType)
	if err != nil {
		return fmt.Errorf("reset checkpoint %s/%s: %w", deviceID, entityType, err)
	}
	return nil
}
