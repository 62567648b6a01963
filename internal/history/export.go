package history

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/tremor-data/intensity.report/internal/detect"
	"github.com/tremor-data/intensity.report/internal/fsutil"
)

// exportTimeLayout matches the timestamp format of the legacy export files.
const exportTimeLayout = "2006-01-02 15:04:05.000"

// ExportHeader is the fixed column header of an export file.
const ExportHeader = "Timestamp,MaxIntensity,MaxGal,MaxLPGMClass,MaxSva"

// WriteCSV serializes a history snapshot to w: a header row plus one row per
// record, intensity to 3 decimals, gal and SVA to 2.
func WriteCSV(w io.Writer, snapshot []detect.EventRecord) error {
	if _, err := fmt.Fprintln(w, ExportHeader); err != nil {
		return err
	}
	for _, rec := range snapshot {
		_, err := fmt.Fprintf(w, "%s,%.3f,%.2f,%d,%.2f\n",
			rec.Timestamp.Format(exportTimeLayout),
			rec.MaxIntensity,
			rec.MaxGal,
			rec.MaxLpgmClass,
			rec.MaxSva,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Export writes a point-in-time snapshot to path. Unlike background
// persistence, export failures are surfaced to the caller: exports are
// interactive requests.
func (s *Store) Export(path string) error {
	snapshot := s.Snapshot()

	var buf bytes.Buffer
	if err := WriteCSV(&buf, snapshot); err != nil {
		return fmt.Errorf("failed to serialize export: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.fs, path, buf.Bytes(), os.FileMode(0644)); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}
