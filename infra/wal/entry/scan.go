package entry

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// Frame: [type:1][seq:8][time:8][len:4][payload][crc:4]
const (
	headerSize = 21
	// maxPayload bounds a single record so a corrupt length cannot make us
	// allocate unbounded memory.
	maxPayload = 16 << 20
)

var errTorn = errors.New("wal: torn record")

func encodeFrame(r *Record) []byte {
	payloadLen := uint32(len(r.Data))
	buf := make([]byte, headerSize+payloadLen+4)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)

	crc := CRC32(buf[:headerSize+payloadLen])
	binary.BigEndian.PutUint32(buf[headerSize+payloadLen:], crc)
	return buf
}

// readRecord returns io.EOF on a clean end and errTorn when the stream
// stops inside a frame or the frame does not check out.
func readRecord(r io.Reader) (*Record, int64, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, 0, errTorn
		}
		return nil, 0, err
	}

	l := binary.BigEndian.Uint32(header[17:21])
	if l > maxPayload {
		return nil, 0, errors.Wrapf(errTorn, "payload length %d", l)
	}

	data := make([]byte, l+4)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, errTorn
		}
		return nil, 0, err
	}

	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])
	if !CRC32Valid(append(header, payload...), crc) {
		return nil, 0, errors.Wrap(errTorn, "crc mismatch")
	}

	return &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: payload,
	}, int64(headerSize + l + 4), nil
}

// scanSegment calls fn for every intact record in path and returns the
// offset just past the last one. A torn frame ends the scan with errTorn.
func scanSegment(path string, fn func(*Record) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var end int64
	for {
		rec, n, err := readRecord(br)
		if err == io.EOF {
			return end, nil
		}
		if err != nil {
			return end, err
		}
		if fn != nil {
			if err := fn(rec); err != nil {
				return end, err
			}
		}
		end += n
	}
}

// maxSeqInSegment returns the highest sequence in a segment. It is used
// for snapshot-based truncation.
func maxSeqInSegment(path string) (uint64, error) {
	var max uint64
	_, err := scanSegment(path, func(r *Record) error {
		if r.Seq > max {
			max = r.Seq
		}
		return nil
	})
	if errors.Is(err, errTorn) {
		err = nil
	}
	return max, err
}
