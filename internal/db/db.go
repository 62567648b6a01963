// Package db is the long-term SQLite archive of event records. The bounded
// JSON history snapshot caps out at 200 entries; the archive keeps everything.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/tremor-data/intensity.report/internal/detect"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the archive at path and applies any
// pending schema migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate event archive: %w", err)
	}

	return db, nil
}

// InsertEvent appends one event record to the archive. Satisfies
// history.Archiver.
func (db *DB) InsertEvent(rec detect.EventRecord) error {
	_, err := db.Exec(`
		INSERT INTO events (event_id, closed_unix_nanos, max_intensity, max_gal, max_lpgm_class, max_sva)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UnixNano(),
		rec.MaxIntensity,
		rec.MaxGal,
		rec.MaxLpgmClass,
		rec.MaxSva,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", rec.ID, err)
	}
	return nil
}

// Events returns up to limit archived events, newest first.
func (db *DB) Events(limit int) ([]detect.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Query(`
		SELECT event_id, closed_unix_nanos, max_intensity, max_gal, max_lpgm_class, max_sva
		FROM events
		ORDER BY closed_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []detect.EventRecord
	for rows.Next() {
		var rec detect.EventRecord
		var nanos int64
		if err := rows.Scan(&rec.ID, &nanos, &rec.MaxIntensity, &rec.MaxGal, &rec.MaxLpgmClass, &rec.MaxSva); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, nanos).UTC()
		events = append(events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// EventCount returns the total number of archived events.
func (db *DB) EventCount() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// AttachAdminRoutes mounts debug endpoints: a tailSQL browser over the
// archive and a gzip backup download. These are served under /debug/ and are
// not part of the public API surface.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://events.db", db.DB, &tailsql.DBOptions{
		Label: "Event Archive",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the event archive", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			log.Printf("Failed to stream backup: %v", err)
		}
	}))
}
