package exit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// -------------------- State --------------------

type ExitState uint8

const (
	StateNew ExitState = iota
	StateSent
	StateAcked
	StateFailed
)

func (s ExitState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var ErrNotFound = errors.New("outbox: entry not found")

// -------------------- Record --------------------

type ExitRecord struct {
	State       ExitState
	Retries     uint32
	LastAttempt int64
}

// Key addresses one event: the command sequence that produced it and its
// position among that command's events.
type Key struct {
	Symbol string
	Seq    uint64
	Index  uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Symbol, k.Seq, k.Index)
}

// Entry is a stored event with its delivery bookkeeping.
type Entry struct {
	Key     Key
	Record  ExitRecord
	Payload []byte
}

const recordSize = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload...]
func encodeValue(r ExitRecord, payload []byte) []byte {
	buf := make([]byte, recordSize+len(payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordSize:], payload)
	return buf
}

func decodeValue(b []byte) (ExitRecord, []byte, error) {
	if len(b) < recordSize {
		return ExitRecord{}, nil, errors.Newf("invalid exit record length %d", len(b))
	}
	return ExitRecord{
		State:       ExitState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
	}, b[recordSize:], nil
}

// -------------------- WAL --------------------

// ExitWAL is the durable outbox. Events are stored under
// evt/<symbol>/<seq>/<index> so a key-ordered scan yields every symbol's
// events in sequence order.
type ExitWAL struct {
	db *pebble.DB
}

func Open(dir string) (*ExitWAL, error) {
	return OpenWithOptions(dir, &pebble.Options{})
}

// OpenWithOptions allows tests to run on an in-memory filesystem.
func OpenWithOptions(dir string, opts *pebble.Options) (*ExitWAL, error) {
	opts.DisableWAL = false
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	return &ExitWAL{db: db}, nil
}

func (w *ExitWAL) Close() error {
	return w.db.Close()
}

// -------------------- API --------------------

// PutNew stores a command's events atomically in state NEW.
func (w *ExitWAL) PutNew(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	b := w.db.NewBatch()
	defer b.Close()
	for _, e := range entries {
		if err := b.Set(keyFor(e.Key), encodeValue(ExitRecord{State: StateNew}, e.Payload), nil); err != nil {
			return errors.Wrapf(err, "outbox put %s", e.Key)
		}
	}
	return errors.Wrap(b.Commit(pebble.Sync), "outbox commit")
}

// PutNewIfAbsent is PutNew for replay: entries that already exist keep
// their state, so an acked event is never delivered again.
func (w *ExitWAL) PutNewIfAbsent(entries []Entry) (int, error) {
	var missing []Entry
	for _, e := range entries {
		_, closer, err := w.db.Get(keyFor(e.Key))
		switch {
		case err == nil:
			_ = closer.Close()
		case errors.Is(err, pebble.ErrNotFound):
			missing = append(missing, e)
		default:
			return 0, errors.Wrapf(err, "outbox get %s", e.Key)
		}
	}
	return len(missing), w.PutNew(missing)
}

// UpdateState updates state after send / ack / failure.
func (w *ExitWAL) UpdateState(k Key, state ExitState, retries uint32) error {
	rec, payload, err := w.Get(k)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return errors.Wrapf(w.db.Set(keyFor(k), encodeValue(rec, payload), pebble.Sync), "outbox update %s", k)
}

// Get returns the current record and payload for an event.
func (w *ExitWAL) Get(k Key) (ExitRecord, []byte, error) {
	val, closer, err := w.db.Get(keyFor(k))
	if errors.Is(err, pebble.ErrNotFound) {
		return ExitRecord{}, nil, errors.Wrapf(ErrNotFound, "%s", k)
	}
	if err != nil {
		return ExitRecord{}, nil, errors.Wrapf(err, "outbox get %s", k)
	}
	defer closer.Close()

	rec, payload, err := decodeValue(val)
	if err != nil {
		return ExitRecord{}, nil, err
	}
	return rec, bytes.Clone(payload), nil
}

// Delete removes a single entry.
func (w *ExitWAL) Delete(k Key) error {
	return w.db.Delete(keyFor(k), pebble.Sync)
}

// DeleteAckedUpTo removes ACKED entries of symbol with seq <= seq. It is
// run once a snapshot covering seq is durable.
func (w *ExitWAL) DeleteAckedUpTo(symbol string, seq uint64) (int, error) {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: symbolPrefix(symbol),
		UpperBound: keyFor(Key{Symbol: symbol, Seq: seq + 1}),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := w.db.NewBatch()
	defer b.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		val := iter.Value()
		if len(val) == 0 || ExitState(val[0]) != StateAcked {
			continue
		}
		if err := b.Delete(bytes.Clone(iter.Key()), nil); err != nil {
			return 0, err
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, errors.Wrap(b.Commit(pebble.Sync), "outbox gc commit")
}

// -------------------- Scan --------------------

// ScanByState iterates, in key order, all entries in one of the given
// states. Returning a non-nil error from fn stops the scan. This is used
// by the Broadcaster.
func (w *ExitWAL) ScanByState(fn func(Entry) error, states ...ExitState) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "\xff"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, payload, err := decodeValue(iter.Value())
		if err != nil {
			return err
		}
		if !wanted(rec.State, states) {
			continue
		}

		k, err := parseKey(iter.Key())
		if err != nil {
			return err
		}

		if err := fn(Entry{Key: k, Record: rec, Payload: bytes.Clone(payload)}); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Counts returns the number of entries per state.
func (w *ExitWAL) Counts() (map[ExitState]int, error) {
	out := make(map[ExitState]int, 4)
	err := w.ScanByState(func(e Entry) error {
		out[e.Record.State]++
		return nil
	}, StateNew, StateSent, StateAcked, StateFailed)
	return out, err
}

func wanted(s ExitState, states []ExitState) bool {
	for _, want := range states {
		if s == want {
			return true
		}
	}
	return false
}

// -------------------- Helpers --------------------

const keyPrefix = "evt/"

func symbolPrefix(symbol string) []byte {
	return []byte(keyPrefix + symbol + "/")
}

func keyFor(k Key) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%05d", keyPrefix, k.Symbol, k.Seq, k.Index))
}

// parseKey reads the key from the right so symbols may contain '/'.
func parseKey(b []byte) (Key, error) {
	s := bytes.TrimPrefix(b, []byte(keyPrefix))
	i := bytes.LastIndexByte(s, '/')
	if i < 0 {
		return Key{}, errors.Newf("bad outbox key %q", b)
	}
	idx, err := strconv.ParseUint(string(s[i+1:]), 10, 32)
	if err != nil {
		return Key{}, errors.Wrapf(err, "bad outbox key %q", b)
	}
	s = s[:i]
	j := bytes.LastIndexByte(s, '/')
	if j < 0 {
		return Key{}, errors.Newf("bad outbox key %q", b)
	}
	seq, err := strconv.ParseUint(string(s[j+1:]), 10, 64)
	if err != nil {
		return Key{}, errors.Wrapf(err, "bad outbox key %q", b)
	}
	return Key{Symbol: string(s[:j]), Seq: seq, Index: uint32(idx)}, nil
}
