package entry

import "time"

// RecordType is the kind of command a record carries.
type RecordType uint8

const (
	RecordSubmit RecordType = iota + 1
	RecordCancel
	RecordAmend
)

func (t RecordType) String() string {
	switch t {
	case RecordSubmit:
		return "submit"
	case RecordCancel:
		return "cancel"
	case RecordAmend:
		return "amend"
	default:
		return "unknown"
	}
}

// Record is an immutable WAL entry. Time is the acceptance time of the
// command and is the only clock the matching core ever sees.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
