package docstore

import (
	"os"
	"path/filepath"
	"testing"
)

// fakeRecoveryHandler is an in-memory RecoveryHandler/UndoHandler used to
// assert exactly which operations a recovery pass replays or reverses,
// without needing a full Storage.
type fakeRecoveryHandler struct {
	redoInserts []string
	redoUpdates []string
	redoDeletes []string
	undoInserts []string
	undoUpdates []string
	undoDeletes []string
}

func (f *fakeRecoveryHandler) RedoInsert(collection, entityID string, after []byte) error {
	f.redoInserts = append(f.redoInserts, entityID)
	return nil
}
func (f *fakeRecoveryHandler) RedoUpdate(collection, entityID string, after []byte) error {
	f.redoUpdates = append(f.redoUpdates, entityID)
	return nil
}
func (f *fakeRecoveryHandler) RedoDelete(collection, entityID string) error {
	f.redoDeletes = append(f.redoDeletes, entityID)
	return nil
}
func (f *fakeRecoveryHandler) UndoInsert(collection, entityID string) error {
	f.undoInserts = append(f.undoInserts, entityID)
	return nil
}
func (f *fakeRecoveryHandler) UndoUpdate(collection, entityID string, before []byte) error {
	f.undoUpdates = append(f.undoUpdates, entityID)
	return nil
}
func (f *fakeRecoveryHandler) UndoDelete(collection, entityID string, before []byte) error {
	f.undoDeletes = append(f.undoDeletes, entityID)
	return nil
}

func writeRawSegment(t *testing.T, records []*walRecord) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "recdb")
	wal, _, err := OpenWAL(dbPath, [16]byte{9}, testWALConfig())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	for _, r := range records {
		if _, err := wal.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	path := wal.Path()
	// push buffered records to the file, then simulate a crash: no clean
	// Close, so the segment header keeps its open flag.
	if err := wal.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	wal.file.Close()
	return path
}

func op(txnID int64, kind WALRecordType, entityID string, before, after []byte) *walRecord {
	return &walRecord{
		Type:    kind,
		TxnID:   txnID,
		PrevLSN: invalidLSN,
		Payload: encodeDataOp(dataOpPayload{Collection: "c", EntityID: entityID, Before: before, After: after}),
	}
}

func TestRecoveryRedoesCommittedTransaction(t *testing.T) {
	path := writeRawSegment(t, []*walRecord{
		{Type: WALBegin, TxnID: 1, PrevLSN: invalidLSN},
		op(1, WALInsert, "e1", nil, []byte("v1")),
		{Type: WALCommit, TxnID: 1, PrevLSN: invalidLSN},
	})

	h := &fakeRecoveryHandler{}
	stats, err := Recover([]string{path}, h, RecoveryConfig{ThrowOnError: true})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if stats.Committed != 1 {
		t.Fatalf("Committed = %d, want 1", stats.Committed)
	}
	if len(h.redoInserts) != 1 || h.redoInserts[0] != "e1" {
		t.Fatalf("redoInserts = %v, want [e1]", h.redoInserts)
	}
	if len(h.undoInserts) != 0 {
		t.Fatalf("undoInserts = %v, want none for a committed transaction", h.undoInserts)
	}
}

func TestRecoveryUndoesUncommittedTransaction(t *testing.T) {
	path := writeRawSegment(t, []*walRecord{
		{Type: WALBegin, TxnID: 2, PrevLSN: invalidLSN},
		op(2, WALInsert, "e2", nil, []byte("v2")),
		// no commit or abort record: the process crashed mid-transaction
	})

	h := &fakeRecoveryHandler{}
	stats, err := Recover([]string{path}, h, RecoveryConfig{ThrowOnError: true})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if stats.Uncommitted != 1 {
		t.Fatalf("Uncommitted = %d, want 1", stats.Uncommitted)
	}
	if len(h.redoInserts) != 0 {
		t.Fatalf("redoInserts = %v, want none for an uncommitted transaction", h.redoInserts)
	}
	if len(h.undoInserts) != 1 || h.undoInserts[0] != "e2" {
		t.Fatalf("undoInserts = %v, want [e2]", h.undoInserts)
	}
}

func TestRecoveryIgnoresAbortedTransaction(t *testing.T) {
	path := writeRawSegment(t, []*walRecord{
		{Type: WALBegin, TxnID: 3, PrevLSN: invalidLSN},
		op(3, WALInsert, "e3", nil, []byte("v3")),
		{Type: WALAbort, TxnID: 3, PrevLSN: invalidLSN},
	})

	h := &fakeRecoveryHandler{}
	stats, err := Recover([]string{path}, h, RecoveryConfig{ThrowOnError: true})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if stats.Aborted != 1 {
		t.Fatalf("Aborted = %d, want 1", stats.Aborted)
	}
	if len(h.redoInserts) != 0 {
		t.Fatalf("redoInserts = %v, want none for an aborted transaction", h.redoInserts)
	}
	// an explicitly aborted transaction was already undone by Rollback
	// before the crash; recovery must not undo it a second time.
	if len(h.undoInserts) != 0 {
		t.Fatalf("undoInserts = %v, want none for an already-aborted transaction", h.undoInserts)
	}
}

func TestRecoveryDoesNotUndoCommittedAlongsideUncommitted(t *testing.T) {
	path := writeRawSegment(t, []*walRecord{
		{Type: WALBegin, TxnID: 1, PrevLSN: invalidLSN},
		op(1, WALInsert, "committed-entity", nil, []byte("v")),
		{Type: WALCommit, TxnID: 1, PrevLSN: invalidLSN},
		{Type: WALBegin, TxnID: 2, PrevLSN: invalidLSN},
		op(2, WALInsert, "uncommitted-entity", nil, []byte("v")),
	})

	h := &fakeRecoveryHandler{}
	if _, err := Recover([]string{path}, h, RecoveryConfig{ThrowOnError: true}); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	if len(h.redoInserts) != 1 || h.redoInserts[0] != "committed-entity" {
		t.Fatalf("redoInserts = %v, want exactly [committed-entity]", h.redoInserts)
	}
	if len(h.undoInserts) != 1 || h.undoInserts[0] != "uncommitted-entity" {
		t.Fatalf("undoInserts = %v, want exactly [uncommitted-entity]", h.undoInserts)
	}
}

func TestReadSegmentRecordsStopsAtCorruptedSuffix(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "corruptdb")
	wal, _, err := OpenWAL(dbPath, [16]byte{1}, testWALConfig())
	if err != nil {
		t.Fatalf("OpenWAL: %v", err)
	}
	if _, err := wal.Append(&walRecord{Type: WALBegin, TxnID: 1, PrevLSN: invalidLSN}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	path := wal.Path()
	if err := wal.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	wal.file.Close()

	// append a garbage, non-CRC-matching tail directly to the file to
	// simulate a torn write.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.Write(make([]byte, walRecordHeaderSize)); err != nil {
		t.Fatalf("write garbage tail: %v", err)
	}
	f.Close()

	records, _, err := readSegmentRecords(path)
	if err != nil {
		t.Fatalf("readSegmentRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %v, want exactly the 1 valid record before the corrupted tail", records)
	}
}
