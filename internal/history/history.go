// Package history keeps the bounded, newest-first collection of event
// records and mirrors it to disk.
package history

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/tremor-data/intensity.report/internal/detect"
	"github.com/tremor-data/intensity.report/internal/fsutil"
	"github.com/tremor-data/intensity.report/internal/monitoring"
)

// DefaultCapacity bounds the in-memory and on-disk history length.
const DefaultCapacity = 200

// Archiver receives every recorded event for long-term storage beyond the
// bounded snapshot. Implemented by db.DB. Inserts are best-effort.
type Archiver interface {
	InsertEvent(rec detect.EventRecord) error
}

// Store holds event records newest-first, bounded to a fixed capacity.
// Record, Snapshot, and Len are safe for concurrent use; the internal lock is
// never held across I/O.
type Store struct {
	mu       sync.Mutex
	records  []detect.EventRecord
	capacity int

	fs   fsutil.FileSystem
	path string

	archiver Archiver

	// seq numbers each snapshot at capture time, under mu.
	seq uint64

	// persistMu serializes background snapshot writes; lastPersistedSeq
	// (under persistMu) lets a late-running stale writer detect that a newer
	// snapshot already reached disk and skip its write.
	persistMu        sync.Mutex
	lastPersistedSeq uint64
	pending          sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity overrides the default history capacity.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithFileSystem substitutes the filesystem used for persistence.
func WithFileSystem(fs fsutil.FileSystem) Option {
	return func(s *Store) { s.fs = fs }
}

// WithArchiver attaches a long-term event archive.
func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

// NewStore creates a Store persisting to path and loads any previously
// persisted snapshot. A missing, empty, or corrupt file is treated as no
// history, never as an error.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		capacity: DefaultCapacity,
		fs:       fsutil.OSFileSystem{},
		path:     path,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := s.fs.ReadFile(s.path)
	if err != nil || len(data) == 0 {
		return
	}
	var records []detect.EventRecord
	if err := json.Unmarshal(data, &records); err != nil {
		monitoring.Logf("[History] ignoring corrupt history file %s: %v", s.path, err)
		return
	}
	if len(records) > s.capacity {
		records = records[:s.capacity]
	}
	s.records = records
}

// Record inserts rec at the front, trims the back past capacity, and kicks
// off an asynchronous best-effort durable write. It never blocks on I/O and
// persistence failures are swallowed.
func (s *Store) Record(rec detect.EventRecord) {
	s.mu.Lock()
	s.records = append([]detect.EventRecord{rec}, s.records...)
	if len(s.records) > s.capacity {
		s.records = s.records[:s.capacity]
	}
	s.seq++
	seq := s.seq
	snapshot := make([]detect.EventRecord, len(s.records))
	copy(snapshot, s.records)
	s.mu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.persist(seq, snapshot)
	}()

	if s.archiver != nil {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			if err := s.archiver.InsertEvent(rec); err != nil {
				monitoring.Logf("[History] failed to archive event %s: %v", rec.ID, err)
			}
		}()
	}
}

func (s *Store) persist(seq uint64, snapshot []detect.EventRecord) {
	if s.path == "" {
		return
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		monitoring.Logf("[History] failed to encode snapshot: %v", err)
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	// Goroutine scheduling does not preserve Record order, so a snapshot may
	// arrive here after a newer one has already been written. Writing it
	// would roll the durable copy backwards.
	if seq <= s.lastPersistedSeq {
		return
	}
	if err := fsutil.WriteFileAtomic(s.fs, s.path, data, os.FileMode(0644)); err != nil {
		monitoring.Logf("[History] failed to persist snapshot: %v", err)
		return
	}
	s.lastPersistedSeq = seq
}

// Snapshot returns a point-in-time copy of the history, newest-first.
func (s *Store) Snapshot() []detect.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]detect.EventRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the current number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sync blocks until all background persistence and archive work started so
// far has finished. Intended for shutdown and tests.
func (s *Store) Sync() {
	s.pending.Wait()
}
