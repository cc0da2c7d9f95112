package sqlite

import (
	"path/filepath"
	"testing"
)

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}
	if _, err := db.Exec(`INSERT INTO job_acks (job_id, status, report_date) VALUES (1, 'COMPLETED', '2024-06-30')`); err != nil {
		t.Fatalf("insert ack: %v", err)
	}
	_ = db.Close()

	// Reopening must not replay the migration or lose data.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db.Close() }()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM job_acks").Scan(&n); err != nil {
		t.Fatalf("count acks: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 ack after reopen, got %d", n)
	}
}
