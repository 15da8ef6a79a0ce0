package metadatalog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/dreamware/shardvault/internal/rpc"
)

// segmentStore is the flat, checksummed, append-only log segment file
// spec §6 requires for a metadata-log participant's persisted state:
// each record is length-prefixed JSON followed by a CRC32 checksum, so
// a torn write at the tail (a crash mid-append) is detectable and
// truncated on reload rather than corrupting the whole segment.
type segmentStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// openSegmentStore opens (creating if absent) the segment file at path.
func openSegmentStore(path string) (*segmentStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("metadatalog: opening segment %s: %w", path, err)
	}
	return &segmentStore{path: path, f: f}, nil
}

// Load replays every valid record in the segment, in order. A trailing
// partial record (crash mid-write) is silently discarded.
func (s *segmentStore) Load() []rpc.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil
	}
	r := bufio.NewReader(s.f)
	var entries []rpc.LogEntry
	var offset int64

	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			break
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			break
		}
		var checksum uint32
		if err := binary.Read(r, binary.BigEndian, &checksum); err != nil {
			break
		}
		if crc32.ChecksumIEEE(buf) != checksum {
			break
		}
		var e rpc.LogEntry
		if err := json.Unmarshal(buf, &e); err != nil {
			break
		}
		entries = append(entries, e)
		offset += 4 + int64(length) + 4
	}

	// Truncate any trailing garbage so future appends start clean.
	s.f.Truncate(offset)
	s.f.Seek(0, io.SeekEnd)
	return entries
}

// Append writes entry to the tail of the segment and fsyncs before
// returning, so a committed entry survives a crash immediately after.
func (s *segmentStore) Append(entry rpc.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("metadatalog: marshaling entry: %w", err)
	}
	checksum := crc32.ChecksumIEEE(buf)

	w := bufio.NewWriter(s.f)
	if err := binary.Write(w, binary.BigEndian, uint32(len(buf))); err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, checksum); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("metadatalog: writing segment: %w", err)
	}
	return s.f.Sync()
}

// Close releases the underlying file handle.
func (s *segmentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
