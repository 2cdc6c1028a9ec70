package entry

import (
	"github.com/cockroachdb/errors"
)

type ReplayHandler func(*Record) error

// Replay feeds every record with seq > from to fn in log order and returns
// the last sequence seen. The records after from must be exactly
// from+1, from+2, ...; anything else is ErrGap or ErrOutOfOrder.
// A torn frame is only tolerated at the very end of the newest segment.
func (w *WAL) Replay(from uint64, fn ReplayHandler) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := listSegments(w.dir)
	if err != nil {
		return from, err
	}

	last := from
	for i, f := range files {
		_, err := scanSegment(f.path, func(r *Record) error {
			if r.Seq <= from {
				return nil
			}
			switch {
			case r.Seq <= last:
				return errors.Wrapf(ErrOutOfOrder, "seq %d after %d in %s", r.Seq, last, f.path)
			case r.Seq != last+1:
				return errors.Wrapf(ErrGap, "seq %d after %d in %s", r.Seq, last, f.path)
			}
			last = r.Seq
			return fn(r)
		})
		if errors.Is(err, errTorn) {
			if i == len(files)-1 {
				return last, nil
			}
			return last, errors.WithSecondaryError(errors.Wrapf(ErrCorrupt, "segment %s: %v", f.path, err), err)
		}
		if err != nil {
			return last, err
		}
	}
	return last, nil
}
