// Package entry is the command log. Every accepted command is appended
// here, with its sequence number, before the matching core sees it; on
// restart the log is replayed on top of the latest snapshot.
package entry

import (
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrCorrupt    = errors.New("wal: corrupt segment")
	ErrOutOfOrder = errors.New("wal: sequence not increasing")
	ErrGap        = errors.New("wal: sequence gap")
	ErrClosed     = errors.New("wal: closed")
)

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// Sync fsyncs every append before it returns.
	Sync bool
}

// WAL is a segmented append-only log. Append is called by the owning
// worker; TruncateBefore may run concurrently from the snapshot job.
type WAL struct {
	mu sync.Mutex

	dir             string
	segSize         int64
	segDuration     time.Duration
	sync            bool
	current         *segment
	lastRotate      time.Time
	lastSeq         uint64
	truncatedOnOpen int64
}

// Open resumes the newest segment, cutting off a torn tail left by a
// crash mid-append.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create wal dir %s", cfg.Dir)
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}

	w := &WAL{
		dir:         cfg.Dir,
		segSize:     cfg.SegmentSize,
		segDuration: cfg.SegmentDuration,
		sync:        cfg.Sync,
		lastRotate:  time.Now(),
	}

	files, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		if w.current, err = openSegment(cfg.Dir, 0); err != nil {
			return nil, err
		}
		return w, nil
	}

	tail := files[len(files)-1]
	end, err := scanSegment(tail.path, func(r *Record) error {
		w.lastSeq = r.Seq
		return nil
	})
	if err != nil && !errors.Is(err, errTorn) {
		return nil, err
	}
	if w.current, err = openSegment(cfg.Dir, tail.index); err != nil {
		return nil, err
	}
	if w.current.offset > end {
		w.truncatedOnOpen = w.current.offset - end
		if err := w.current.file.Truncate(end); err != nil {
			_ = w.current.close()
			return nil, errors.Wrapf(err, "truncate torn tail of %s", tail.path)
		}
		w.current.offset = end
	}

	// an empty tail means the last rotation happened right before a stop
	for i := len(files) - 2; i >= 0 && w.lastSeq == 0; i-- {
		if w.lastSeq, err = maxSeqInSegment(files[i].path); err != nil {
			_ = w.current.close()
			return nil, err
		}
	}
	return w, nil
}

// LastSeq is the sequence of the newest durable record, 0 if none.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// TornBytes reports how many bytes of a torn tail Open discarded.
func (w *WAL) TornBytes() int64 {
	return w.truncatedOnOpen
}

// Append makes r durable. On error nothing of r remains in the log and the
// same sequence may be appended again.
func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return ErrClosed
	}
	if r.Seq <= w.lastSeq {
		return errors.Wrapf(ErrOutOfOrder, "append seq %d after %d", r.Seq, w.lastSeq)
	}
	if err := w.current.append(encodeFrame(r), w.sync); err != nil {
		return errors.Wrapf(err, "append seq %d", r.Seq)
	}
	w.lastSeq = r.Seq

	if w.shouldRotate() {
		// the record is already durable; a failed rotation keeps the
		// current segment and is retried on the next append
		_ = w.rotate()
	}
	return nil
}

func (w *WAL) shouldRotate() bool {
	if w.current.offset >= w.segSize {
		return true
	}
	return w.segDuration > 0 && time.Since(w.lastRotate) >= w.segDuration
}

func (w *WAL) rotate() error {
	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		return err
	}
	_ = w.current.close()
	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

// Sync flushes the current segment.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return ErrClosed
	}
	return w.current.file.Sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.file.Sync()
	err = errors.CombineErrors(err, w.current.close())
	w.current = nil
	return err
}

// TruncateBefore removes closed segments whose records are all <= seq.
// The segment being written is never removed.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if w.current != nil && f.index >= w.current.index {
			break
		}
		maxSeq, err := maxSeqInSegment(f.path)
		if err != nil {
			return removed, err
		}
		if maxSeq > seq {
			break
		}
		if err := os.Remove(f.path); err != nil {
			return removed, errors.Wrapf(err, "remove %s", f.path)
		}
		removed++
	}
	return removed, nil
}
