// Package wal is the append-only log that backs the archive recorder. Records
// survive a crash between receipt and the store write.
package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

const recordHeaderLen = 12

var ErrClosed = errors.New("wal closed")

type FileWAL struct {
	mu        sync.Mutex
	dir       string
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
	closed    bool
}

func NewFileWAL(dir string) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := &FileWAL{
		dir:      dir,
		path:     path,
		metaPath: filepath.Join(dir, "wal.meta"),
		file:     f,
		writer:   bufio.NewWriterSize(f, 64<<10),
	}
	if err := w.bootstrap(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) bootstrap() error {
	if err := w.scanExisting(); err != nil {
		return err
	}
	if err := w.loadCommitted(); err != nil {
		return err
	}
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}

// scanExisting finds the last complete entry and cuts off a torn tail.
func (w *FileWAL) scanExisting() error {
	stat, err := w.file.Stat()
	if err != nil {
		return err
	}
	if stat.Size() == 0 {
		return nil
	}

	rf, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	reader := bufio.NewReader(rf)
	var (
		offset int64
		lastID ports.WALEntryID
	)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("wal scan header: %w", err)
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		length := int64(binary.BigEndian.Uint32(hdr[8:12]))
		if _, err := io.CopyN(io.Discard, reader, length); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("wal scan body: %w", err)
		}
		offset += recordHeaderLen + length
		lastID = id
	}

	if offset != stat.Size() {
		if err := w.file.Truncate(offset); err != nil {
			return err
		}
	}
	w.sizeBytes = offset
	w.nextID = lastID
	return nil
}

func (w *FileWAL) loadCommitted() error {
	data, err := os.ReadFile(w.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("wal meta parse: %w", err)
	}
	w.committed = ports.WALEntryID(u)
	return nil
}

func (w *FileWAL) Append(r *domain.Record) (ports.WALEntryID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}

	b, err := json.Marshal(r)
	if err != nil {
		return 0, err
	}
	id := w.nextID + 1

	// entry format: [8 bytes id][4 bytes len][len bytes json]
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))
	if _, err := w.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.writer.Write(b); err != nil {
		return 0, err
	}

	w.nextID = id
	w.sizeBytes += int64(len(b) + len(hdr))
	return id, nil
}

// Iterate calls fn for every entry with id >= from, in append order.
func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, r *domain.Record) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}

	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return readEntries(bufio.NewReader(f), func(id ports.WALEntryID, b []byte) error {
		if id < from {
			return nil
		}
		var r domain.Record
		if err := json.Unmarshal(b, &r); err != nil {
			return fmt.Errorf("corrupt WAL entry %d: %w", id, err)
		}
		return fn(id, &r)
	})
}

func readEntries(r io.Reader, fn func(id ports.WALEntryID, body []byte) error) error {
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("wal truncated header: %w", err)
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		b := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
		if _, err := io.ReadFull(r, b); err != nil {
			return fmt.Errorf("corrupt WAL: %w", err)
		}
		if err := fn(id, b); err != nil {
			return err
		}
	}
}

// Pending returns uncommitted entries in append order.
func (w *FileWAL) Pending() ([]ports.QueuedRecord, error) {
	from := w.Stats().OldestUncommitted
	var out []ports.QueuedRecord
	err := w.Iterate(from, func(id ports.WALEntryID, r *domain.Record) error {
		out = append(out, ports.QueuedRecord{ID: id, Record: r})
		return nil
	})
	return out, err
}

func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if upto > w.committed {
		w.committed = upto
	}
	return w.persistMetaLocked()
}

// Compact rewrites the log without committed entries.
func (w *FileWAL) Compact() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}

	src, err := os.Open(w.path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(w.dir, "wal.*.compact")
	if err != nil {
		src.Close()
		return err
	}
	tmpName := tmp.Name()
	bw := bufio.NewWriter(tmp)
	var size int64
	err = readEntries(bufio.NewReader(src), func(id ports.WALEntryID, b []byte) error {
		if id <= w.committed {
			return nil
		}
		var hdr [recordHeaderLen]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))
		if _, err := bw.Write(hdr[:]); err != nil {
			return err
		}
		_, err := bw.Write(b)
		size += int64(len(b) + recordHeaderLen)
		return err
	})
	src.Close()
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, w.path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("wal compact: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		w.closed = true
		return err
	}
	w.file = f
	w.writer.Reset(f)
	w.sizeBytes = size
	return nil
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

// Close flushes buffered entries and releases the file.
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return errors.Join(w.writer.Flush(), w.file.Sync(), w.file.Close())
}

func (w *FileWAL) persistMetaLocked() error {
	data := []byte(fmt.Sprintf("%d\n", w.committed))
	return os.WriteFile(w.metaPath, data, 0o644)
}

var _ ports.WAL = (*FileWAL)(nil)
