package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremor-data/intensity.report/internal/detect"
	"github.com/tremor-data/intensity.report/internal/fsutil"
)

func record(i int) detect.EventRecord {
	return detect.EventRecord{
		ID:           fmt.Sprintf("event-%04d", i),
		Timestamp:    time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		MaxIntensity: float64(i) / 10,
		MaxGal:       float64(i),
		MaxLpgmClass: i % 5,
		MaxSva:       float64(i) * 2,
	}
}

func TestRecordNewestFirst(t *testing.T) {
	s := NewStore("", WithFileSystem(fsutil.NewMemoryFileSystem()))

	s.Record(record(1))
	s.Record(record(2))
	s.Record(record(3))
	s.Sync()

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "event-0003", snap[0].ID)
	assert.Equal(t, "event-0002", snap[1].ID)
	assert.Equal(t, "event-0001", snap[2].ID)
}

func TestCapacityTrimsOldest(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	s := NewStore("/history.json", WithFileSystem(fs))

	for i := 1; i <= 250; i++ {
		s.Record(record(i))
	}
	s.Sync()

	require.Equal(t, DefaultCapacity, s.Len())
	snap := s.Snapshot()
	assert.Equal(t, "event-0250", snap[0].ID, "newest record first")
	assert.Equal(t, "event-0051", snap[len(snap)-1].ID, "oldest 50 discarded")
}

func TestPersistAndReload(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()

	s := NewStore("/history.json", WithFileSystem(fs))
	s.Record(record(7))
	s.Record(record(8))
	s.Sync()

	reloaded := NewStore("/history.json", WithFileSystem(fs))
	snap := reloaded.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "event-0008", snap[0].ID)
	assert.Equal(t, "event-0007", snap[1].ID)
}

func TestLoadToleratesMissingEmptyCorrupt(t *testing.T) {
	tests := []struct {
		name string
		prep func(fs fsutil.FileSystem)
	}{
		{"missing file", func(fs fsutil.FileSystem) {}},
		{"empty file", func(fs fsutil.FileSystem) {
			fs.WriteFile("/history.json", nil, 0644)
		}},
		{"corrupt file", func(fs fsutil.FileSystem) {
			fs.WriteFile("/history.json", []byte("{not json"), 0644)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := fsutil.NewMemoryFileSystem()
			tt.prep(fs)
			s := NewStore("/history.json", WithFileSystem(fs))
			assert.Zero(t, s.Len())
		})
	}
}

func TestLoadTrimsOversizedSnapshot(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	var records []detect.EventRecord
	for i := 0; i < 20; i++ {
		records = append(records, record(i))
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("/history.json", data, 0644))

	s := NewStore("/history.json", WithFileSystem(fs), WithCapacity(10))
	assert.Equal(t, 10, s.Len())
}

func TestRecordSwallowsPersistFailures(t *testing.T) {
	fs := &fsutil.FailingFileSystem{
		FS:       fsutil.NewMemoryFileSystem(),
		WriteErr: errors.New("disk full"),
	}
	s := NewStore("/history.json", WithFileSystem(fs))

	// must not panic or surface the error
	s.Record(record(1))
	s.Sync()
	assert.Equal(t, 1, s.Len())
}

type captureArchiver struct {
	mu   sync.Mutex
	recs []detect.EventRecord
	err  error
}

func (a *captureArchiver) InsertEvent(rec detect.EventRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return a.err
}

func (a *captureArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recs)
}

func TestArchiverReceivesEvents(t *testing.T) {
	arch := &captureArchiver{}
	s := NewStore("", WithFileSystem(fsutil.NewMemoryFileSystem()), WithArchiver(arch))

	s.Record(record(1))
	s.Record(record(2))
	s.Sync()

	assert.Equal(t, 2, arch.count())
}

func TestArchiverFailuresSwallowed(t *testing.T) {
	arch := &captureArchiver{err: errors.New("db locked")}
	s := NewStore("", WithFileSystem(fsutil.NewMemoryFileSystem()), WithArchiver(arch))

	s.Record(record(1))
	s.Sync()
	assert.Equal(t, 1, s.Len())
}

func TestPersistSkipsStaleSnapshot(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	s := NewStore("/history.json", WithFileSystem(fs))

	newer := []detect.EventRecord{record(2), record(1)}
	older := []detect.EventRecord{record(1)}

	// the snapshot captured second can reach the writer first
	s.persist(2, newer)
	s.persist(1, older)

	data, err := fs.ReadFile("/history.json")
	require.NoError(t, err)
	var persisted []detect.EventRecord
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 2, "stale single-record snapshot must not win")
	assert.Equal(t, "event-0002", persisted[0].ID)
}

func TestPersistFailureDoesNotAdvanceSequence(t *testing.T) {
	fs := &fsutil.FailingFileSystem{FS: fsutil.NewMemoryFileSystem()}
	s := NewStore("/history.json", WithFileSystem(fs))

	fs.WriteErr = errors.New("disk full")
	s.persist(1, []detect.EventRecord{record(1)})

	// the same snapshot may be retried by a later writer once the disk recovers
	fs.WriteErr = nil
	s.persist(1, []detect.EventRecord{record(1)})

	data, err := fs.ReadFile("/history.json")
	require.NoError(t, err)
	var persisted []detect.EventRecord
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Len(t, persisted, 1)
}

func TestDurableCopyMatchesFinalState(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	s := NewStore("/history.json", WithFileSystem(fs))

	for i := 0; i < 50; i++ {
		s.Record(record(i))
	}
	s.Sync()

	data, err := fs.ReadFile("/history.json")
	require.NoError(t, err)
	var persisted []detect.EventRecord
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, s.Snapshot(), persisted)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore("", WithFileSystem(fsutil.NewMemoryFileSystem()))
	s.Record(record(1))

	snap := s.Snapshot()
	snap[0].ID = "mutated"

	assert.Equal(t, "event-0001", s.Snapshot()[0].ID)
}
