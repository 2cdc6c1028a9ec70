package sequence

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrOutOfOrder is returned when a rollback does not target the last issued id.
var ErrOutOfOrder = errors.New("sequence: rollback of a non-current id")

// Sequencer hands out the gapless, strictly increasing sequence numbers of
// one symbol. Only the owning worker calls Next and Rollback; Current may
// be read from anywhere.
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose first Next returns start+1.
// On fresh start → start = 0
// On recovery → start = last replayed seq
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next reserves the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Rollback releases seq when the command it was reserved for could not be
// made durable, so the next command reuses it and no gap appears.
func (s *Sequencer) Rollback(seq uint64) error {
	if !s.last.CompareAndSwap(seq, seq-1) {
		return errors.Wrapf(ErrOutOfOrder, "rollback %d, current %d", seq, s.last.Load())
	}
	return nil
}

// Reset sets the sequencer to a specific value.
// This is ONLY used after snapshot restore and WAL replay.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
