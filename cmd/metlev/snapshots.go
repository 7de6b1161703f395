package main

import (
	"MetLev/internal/core"
	"MetLev/internal/observability"
	"MetLev/internal/persistence"
	"context"
	"fmt"
	"log"
	"time"
)

// runPeriodicSnapshots takes a snapshot every interval events. The state is
// captured on the core goroutine; the write happens off it.
func runPeriodicSnapshots(
	ctx context.Context,
	runner *core.Runner,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	lastSnapshotSeq int64,
	metrics *observability.Metrics,
) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var snap *core.SnapshotState
			err := runner.Do(ctx, func(c *core.DeterministicCore) {
				if c.GetSequence()-lastSnapshotSeq >= interval {
					snap = c.CreateSnapshotState()
				}
			})
			if err != nil || snap == nil {
				continue
			}
			if err := saveSnapshot(ctx, snapMgr, snap, metrics); err != nil {
				log.Printf("WARN: periodic snapshot failed: %v", err)
				continue
			}
			lastSnapshotSeq = snap.Sequence
			log.Printf("INFO: periodic snapshot at sequence %d", snap.Sequence)
		}
	}
}

// saveSnapshot persists snap once the event log has caught up with it, so a
// restore never starts past the last durable event.
func saveSnapshot(ctx context.Context, snapMgr *persistence.SnapshotManager, snap *core.SnapshotState, metrics *observability.Metrics) error {
	start := time.Now()

	persisted, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("read event log head: %w", err)
	}
	if persisted < snap.Sequence {
		return fmt.Errorf("event log at %d is behind snapshot %d", persisted, snap.Sequence)
	}

	size, err := snapMgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return nil
}
