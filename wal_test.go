package docstore

import (
	"path/filepath"
	"testing"
)

func testWALConfig() WALConfig {
	return WALConfig{
		SyncMode:                  SyncNormal,
		MaxFileSize:               1 << 20,
		CheckpointIntervalBytes:   1 << 20,
		CheckpointIntervalSeconds: 60,
		BufferSize:                4096,
	}
}

func TestOpenWALCreatesSegment(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	wal, stale, err := OpenWAL(dbPath, [16]byte{1}, testWALConfig())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	defer wal.Close()

	if len(stale) != 0 {
		t.Fatalf("stale = %v, want none on first open", stale)
	}
	if wal.CurrentLSN() != walHeaderSize {
		t.Fatalf("CurrentLSN = %d, want %d", wal.CurrentLSN(), walHeaderSize)
	}
}

func TestWALAppendAdvancesLSN(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	wal, _, err := OpenWAL(dbPath, [16]byte{1}, testWALConfig())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	defer wal.Close()

	lsn1, err := wal.Append(&walRecord{Type: WALBegin, TxnID: 1, PrevLSN: invalidLSN})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	lsn2, err := wal.Append(&walRecord{Type: WALCommit, TxnID: 1, PrevLSN: lsn1})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if lsn2 <= lsn1 {
		t.Fatalf("lsn2 (%d) did not advance past lsn1 (%d)", lsn2, lsn1)
	}
}

func TestWALCloseMarksCleanAndReopenSeesNoStale(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	wal, _, err := OpenWAL(dbPath, [16]byte{1}, testWALConfig())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	if _, err := wal.Append(&walRecord{Type: WALBegin, TxnID: 1, PrevLSN: invalidLSN}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := wal.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, stale, err := OpenWAL(dbPath, [16]byte{1}, testWALConfig())
	if err != nil {
		t.Fatalf("reopen OpenWAL: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("stale = %v, want none after a clean close", stale)
	}
}

func TestWALReopenAfterUncleanExitMarksStale(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	wal, _, err := OpenWAL(dbPath, [16]byte{1}, testWALConfig())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	if _, err := wal.Append(&walRecord{Type: WALBegin, TxnID: 1, PrevLSN: invalidLSN}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// simulate a crash: no Close call, just drop the file handle.
	wal.file.Close()

	_, stale, err := OpenWAL(dbPath, [16]byte{1}, testWALConfig())
	if err != nil {
		t.Fatalf("reopen OpenWAL: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("stale = %v, want exactly 1 segment from the unclean exit", stale)
	}
}

func TestWALSegmentRollsOverWithIncreasingSequence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	wal1, _, err := OpenWAL(dbPath, [16]byte{1}, testWALConfig())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	if err := wal1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	wal2, _, err := OpenWAL(dbPath, [16]byte{1}, testWALConfig())
	if err != nil {
		t.Fatalf("second OpenWAL: %v", err)
	}
	defer wal2.Close()

	if wal2.sequence <= wal1.sequence {
		t.Fatalf("second segment sequence %d did not advance past first %d", wal2.sequence, wal1.sequence)
	}
	if wal2.Path() == wal1.Path() {
		t.Fatal("expected a distinct segment path after rollover")
	}
}
