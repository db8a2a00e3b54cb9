package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"rt-trace-monitor/internal/models"
)

// Store wraps pgxpool for Postgres persistence of dumps and task statistics.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Archive inserts the dump header and copies its records in one transaction.
func (s *Store) Archive(ctx context.Context, dump models.Dump) error {
	id, err := uuid.Parse(dump.ID)
	if err != nil {
		return fmt.Errorf("dump id: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `
		INSERT INTO trace_dumps (id, trigger, started_ms, finished_ms, records)
		VALUES ($1, $2, $3, $4, $5)
	`, id, string(dump.Trigger), dump.StartedMS, dump.FinishedMS, len(dump.Records)); err != nil {
		return fmt.Errorf("insert dump: %w", err)
	}

	if len(dump.Records) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"trace_events"},
			[]string{"dump_id", "seq", "task_id", "phase", "timestamp_ms"},
			pgx.CopyFromSlice(len(dump.Records), func(i int) ([]any, error) {
				r := dump.Records[i]
				return []any{id, int32(i), int64(r.TaskID), int16(r.Phase), r.Timestamp}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy events: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveStats upserts the latest snapshot of each task.
func (s *Store) SaveStats(ctx context.Context, stats []models.TaskStats) error {
	if len(stats) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, st := range stats {
		batch.Queue(`
			INSERT INTO task_stats (task_id, met, missed, best_ms, worst_ms, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (task_id) DO UPDATE
			SET met = EXCLUDED.met, missed = EXCLUDED.missed,
			    best_ms = EXCLUDED.best_ms, worst_ms = EXCLUDED.worst_ms, updated_at = NOW()
		`, int64(st.TaskID), int64(st.Met), int64(st.Missed), st.BestMS, st.WorstMS)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

// LoadStats returns the persisted snapshot of every task ordered by id.
func (s *Store) LoadStats(ctx context.Context) ([]models.TaskStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, met, missed, best_ms, worst_ms FROM task_stats ORDER BY task_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []models.TaskStats
	for rows.Next() {
		var (
			id, met, missed int64
			best, worst     pgtype.Int8
		)
		if err := rows.Scan(&id, &met, &missed, &best, &worst); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, models.TaskStats{
			TaskID:  models.TaskID(id),
			Met:     uint64(met),
			Missed:  uint64(missed),
			BestMS:  int8Ptr(best),
			WorstMS: int8Ptr(worst),
		})
	}
	return out, rows.Err()
}

// RecentDumps lists the newest archived dumps.
func (s *Store) RecentDumps(ctx context.Context, limit int) ([]models.DumpSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, trigger, started_ms, finished_ms, records
		FROM trace_dumps ORDER BY archived_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dumps: %w", err)
	}
	defer rows.Close()

	var out []models.DumpSummary
	for rows.Next() {
		var d models.DumpSummary
		var trigger string
		if err := rows.Scan(&d.ID, &trigger, &d.StartedMS, &d.FinishedMS, &d.Records); err != nil {
			return nil, fmt.Errorf("scan dump: %w", err)
		}
		d.Trigger = models.Trigger(trigger)
		out = append(out, d)
	}
	return out, rows.Err()
}

// DumpRecords loads the records of one dump in buffer order.
func (s *Store) DumpRecords(ctx context.Context, dumpID string) ([]models.EventRecord, error) {
	id, err := uuid.Parse(dumpID)
	if err != nil {
		return nil, fmt.Errorf("dump id: %w", err)
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trace_dumps WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup dump: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("dump %s: %w", dumpID, models.ErrNotFound)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, phase, timestamp_ms FROM trace_events WHERE dump_id = $1 ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.EventRecord
	for rows.Next() {
		var taskID int64
		var phase int16
		var ts int64
		if err := rows.Scan(&taskID, &phase, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, models.EventRecord{TaskID: models.TaskID(taskID), Phase: models.Phase(phase), Timestamp: ts})
	}
	return out, rows.Err()
}

func int8Ptr(v pgtype.Int8) *int64 {
	if v.Valid {
		return &v.Int64
	}
	return nil
}
