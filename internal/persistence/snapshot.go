package persistence

import (
	"MetLev/internal/core"
	"MetLev/internal/event"
	"MetLev/internal/observability"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// snapshotFormatVersion is bumped whenever core.SnapshotState changes shape.
const snapshotFormatVersion = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
// A snapshot holds balances, records, venue state, feed watermarks, the
// idempotency LRU and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Snapshots are stored unverified; callers
// mark them verified once the hash has been checked.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data), time.Now())
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("snapshot format %d, want %d", version, snapshotFormatVersion)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, actor, payload,
		       state_hash, prev_hash, event_time
		FROM event_log
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Actor, &e.Payload,
			&e.StateHash, &e.PrevHash, &e.EventTime,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// DecodeEvent turns a stored row back into a typed event.
func DecodeEvent(row EventRow) (event.Event, error) {
	et, ok := event.ParseEventType(row.EventType)
	if !ok {
		return nil, fmt.Errorf("seq %d: unknown event type %q", row.Sequence, row.EventType)
	}
	evt, _ := event.New(et)
	if err := json.Unmarshal(row.Payload, evt); err != nil {
		return nil, fmt.Errorf("seq %d: decode %s: %w", row.Sequence, row.EventType, err)
	}
	return evt, nil
}

// Replay feeds every logged event after the core's current sequence back
// through the core and checks each resulting hash against the stored one.
// Any divergence is fatal to recovery.
func Replay(ctx context.Context, sm *SnapshotManager, c *core.DeterministicCore, metrics *observability.Metrics) (int64, error) {
	const batchSize = 1000
	start := time.Now()
	from := c.GetSequence() + 1
	var replayed int64

	for {
		rows, err := sm.LoadEventsFrom(ctx, from, batchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if row.Sequence != c.GetSequence()+1 {
				return replayed, fmt.Errorf("event log gap: expected seq %d, found %d", c.GetSequence()+1, row.Sequence)
			}
			evt, err := DecodeEvent(row)
			if err != nil {
				return replayed, err
			}
			receipt, err := c.ProcessEvent(evt)
			if err != nil {
				return replayed, fmt.Errorf("replay seq %d rejected: %w", row.Sequence, err)
			}
			if receipt.Duplicate {
				return replayed, fmt.Errorf("replay seq %d reported duplicate", row.Sequence)
			}
			var stored [32]byte
			copy(stored[:], row.StateHash)
			if receipt.StateHash != stored {
				return replayed, fmt.Errorf("state hash mismatch at seq %d: stored %x, replayed %x",
					row.Sequence, stored, receipt.StateHash)
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return replayed, nil
}
