package entry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
)

const segmentPattern = "segment-*.wal"

type segment struct {
	path   string
	index  int
	file   *os.File
	offset int64
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.wal", index))
}

func openSegment(dir string, index int) (*segment, error) {
	path := segmentPath(dir, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open segment %s", path)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat segment %s", path)
	}
	return &segment{path: path, index: index, file: f, offset: st.Size()}, nil
}

// append writes b and optionally fsyncs. A failed write or sync truncates
// the file back so no partial frame is left behind.
func (s *segment) append(b []byte, sync bool) error {
	n, err := s.file.Write(b)
	if err == nil && n < len(b) {
		err = errors.Newf("short write %d/%d", n, len(b))
	}
	if err == nil && sync {
		err = s.file.Sync()
	}
	if err != nil {
		if terr := s.file.Truncate(s.offset); terr != nil {
			return errors.CombineErrors(err, errors.Wrap(terr, "truncate after failed append"))
		}
		return err
	}
	s.offset += int64(n)
	return nil
}

func (s *segment) close() error {
	return s.file.Close()
}

type segmentFile struct {
	path  string
	index int
}

// listSegments returns the segments of dir by ascending index.
func listSegments(dir string) ([]segmentFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, segmentPattern))
	if err != nil {
		return nil, err
	}
	out := make([]segmentFile, 0, len(paths))
	for _, p := range paths {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(p), "segment-%06d.wal", &idx); err != nil {
			continue
		}
		out = append(out, segmentFile{path: p, index: idx})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}
