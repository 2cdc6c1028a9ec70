package service

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"clob/infra/codec"
	"clob/infra/wal/entry"
	"clob/snapshot"
)

/*
recover rebuilds the symbol from its latest snapshot plus the command log
tail. It MUST run before the worker accepts traffic.

Replay goes through apply, the same path live commands take, with the
original sequence numbers and timestamps, so the rebuilt book and the
regenerated events are identical to the ones produced the first time.
Validation and the ledger are skipped: every logged command was already
accepted.

A broken log (gap, corruption, an invariant violation) halts this symbol
only. Store I/O errors abort startup.
*/
func (w *worker) recover(ctx context.Context, store snapshot.Store) error {
	var from uint64

	snap, err := store.Latest(ctx, w.sym.Name)
	switch {
	case err == nil:
		if err := w.engine.Restore(snap.State, w.pool.Get); err != nil {
			w.halt(errors.Wrapf(err, "restore snapshot at seq %d", snap.Seq))
			return nil
		}
		w.audit.restore(snap.Finished)
		from = snap.Seq
	case errors.Is(err, snapshot.ErrNotFound):
	default:
		return errors.Wrapf(err, "load %s snapshot", w.sym.Name)
	}

	w.replaying = true
	defer func() { w.replaying = false }()

	var replayed, regenerated int
	last, err := w.log.Replay(from, func(rec *entry.Record) error {
		cmd, err := codec.UnmarshalCommand(rec.Data)
		if err != nil {
			return errors.Wrapf(err, "decode seq %d", rec.Seq)
		}
		evs, err := w.apply(cmd, rec.Seq, rec.Time)
		if err != nil {
			return err
		}
		n, err := w.outbox.PutNewIfAbsent(outboxEntries(w.sym.Key(), evs))
		if err != nil {
			return errors.Wrapf(err, "outbox at seq %d", rec.Seq)
		}
		replayed++
		regenerated += n
		return nil
	})
	w.seq.Reset(max(last, from))

	if err != nil {
		w.halt(errors.Wrap(err, "replay"))
		return nil
	}

	w.metrics.Sequence.WithLabelValues(w.sym.Name).Set(float64(w.seq.Current()))
	w.logger.Info("symbol recovered",
		zap.Uint64("snapshot_seq", from),
		zap.Uint64("last_seq", w.seq.Current()),
		zap.Int("replayed", replayed),
		zap.Int("regenerated_events", regenerated),
		zap.Int("resting", w.engine.Book().Len()),
		zap.Int("pending_stops", w.engine.PendingStops()),
	)
	return nil
}
