package snapshot

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/cockroachdb/errors"
)

var errCorrupt = errors.New("snapshot: corrupt file")

// Latest loads the newest readable snapshot, falling back to older ones
// when the newest fails its checksum.
func (w *FileStore) Latest(_ context.Context, name string) (*Snapshot, error) {
	files, err := listSnapshots(w.symbolDir(name))
	if err != nil {
		return nil, err
	}
	var firstErr error
	for i := len(files) - 1; i >= 0; i-- {
		s, err := readFile(files[i])
		if err == nil {
			return s, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, errors.Wrapf(ErrNotFound, "%s", name)
}

func readFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(data) < frameHeader {
		return nil, errors.Wrapf(errCorrupt, "%s: short file", path)
	}
	n := binary.BigEndian.Uint32(data[0:4])
	sum := binary.BigEndian.Uint32(data[4:8])
	payload := data[frameHeader:]
	if uint32(len(payload)) != n || crc32.ChecksumIEEE(payload) != sum {
		return nil, errors.Wrapf(errCorrupt, "%s: checksum", path)
	}
	return Unmarshal(payload)
}
