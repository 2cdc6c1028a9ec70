package snapshot

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"

	"clob/domain/symbol"
)

// FileStore keeps the newest Keep snapshots of each symbol under
// <Dir>/<symbol key>/snapshot-<seq>.bin.
type FileStore struct {
	Dir  string
	Keep int
}

// file layout: [len:4][crc:4][payload]
const frameHeader = 8

func (w *FileStore) symbolDir(name string) string {
	return filepath.Join(w.Dir, symbol.Key(name))
}

// Save writes to a temporary file, fsyncs and renames it into place so a
// crash never leaves a half-written snapshot under a final name.
func (w *FileStore) Save(_ context.Context, s *Snapshot) error {
	dir := w.symbolDir(s.Symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}

	payload := Marshal(s)
	buf := make([]byte, frameHeader+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[frameHeader:], payload)

	final := filepath.Join(dir, fmt.Sprintf("snapshot-%020d.bin", s.Seq))
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "write snapshot")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "sync snapshot")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "close snapshot")
	}
	if err := os.Rename(tmp, final); err != nil {
		return errors.Wrap(err, "publish snapshot")
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return w.prune(dir)
}

func (w *FileStore) prune(dir string) error {
	keep := w.Keep
	if keep <= 0 {
		keep = 1
	}
	files, err := listSnapshots(dir)
	if err != nil {
		return err
	}
	for len(files) > keep {
		if err := os.Remove(files[0]); err != nil {
			return errors.Wrap(err, "prune snapshot")
		}
		files = files[1:]
	}
	return nil
}

// listSnapshots returns snapshot files oldest first.
func listSnapshots(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "snapshot-*.bin"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
