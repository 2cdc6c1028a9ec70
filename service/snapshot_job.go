package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"clob/snapshot"
)

// SnapshotNow captures and stores a snapshot of one symbol, then trims
// the command log segments and the delivered outbox entries it covers.
func (s *OrderService) SnapshotNow(ctx context.Context, name string) (*snapshot.Snapshot, error) {
	w, err := s.worker(name)
	if err != nil {
		return nil, err
	}

	snap, err := call(ctx, w, w.capture)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Snapshots.Save(ctx, snap); err != nil {
		s.metrics.Snapshots.WithLabelValues(name, "error").Inc()
		return nil, err
	}
	s.metrics.Snapshots.WithLabelValues(name, "ok").Inc()

	segments, err := w.log.TruncateBefore(snap.Seq)
	if err != nil {
		s.logger.Warn("command log truncation failed", zap.String("symbol", name), zap.Error(err))
	}
	acked, err := s.deps.Outbox.DeleteAckedUpTo(w.sym.Key(), snap.Seq)
	if err != nil {
		s.logger.Warn("outbox gc failed", zap.String("symbol", name), zap.Error(err))
	}

	s.logger.Info("snapshot stored",
		zap.String("symbol", name),
		zap.Uint64("seq", snap.Seq),
		zap.Int("orders", len(snap.State.Orders)),
		zap.Int("stops", len(snap.State.Stops)),
		zap.Int("segments_removed", segments),
		zap.Int("outbox_removed", acked),
	)
	return snap, nil
}

// StartSnapshotJob snapshots every healthy symbol each interval until ctx
// is done.
func (s *OrderService) StartSnapshotJob(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			for _, name := range s.names {
				if s.workers[name].halted.Load() {
					continue
				}
				if _, err := s.SnapshotNow(ctx, name); err != nil && ctx.Err() == nil {
					s.logger.Error("snapshot failed", zap.String("symbol", name), zap.Error(err))
				}
			}
		}
	}()
}
