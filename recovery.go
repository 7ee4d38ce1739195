package docstore

import (
	"io"
	"os"

	"github.com/rs/zerolog/log"
)

// RecoveryHandler is the storage's replay face, invoked by recovery's
// redo pass. after/before are the on-page record bytes (EncodeRecord
// output) carried in the WAL payload; the handler stores them as they are.
type RecoveryHandler interface {
	RedoInsert(collection, entityID string, after []byte) error
	RedoUpdate(collection, entityID string, after []byte) error
	RedoDelete(collection, entityID string) error
}

// UndoHandler is the optional inverse-operation face for pass 3. Recover
// skips pass 3 for a handler that does not implement it, so uncommitted
// changes that reached the data file are then left in place.
type UndoHandler interface {
	UndoInsert(collection, entityID string) error            // inverse of insert: delete
	UndoUpdate(collection, entityID string, before []byte) error // inverse of update: restore before
	UndoDelete(collection, entityID string, before []byte) error // inverse of delete: restore before
}

// RecoveryStats summarizes what a recovery pass found and did.
type RecoveryStats struct {
	RecordsScanned int
	Committed      int
	Aborted        int
	Uncommitted    int
	RedoOps        int
	UndoOps        int
}

type txnStatus int

const (
	txnUnknown txnStatus = iota
	txnCommitted
	txnAborted
	txnUncommitted
)

// readSegmentRecords reads every well-formed record from path, in order,
// stopping at the first CRC failure or truncated payload (the "corrupted
// suffix" policy: everything before that point is valid).
func readSegmentRecords(path string) ([]walRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	if _, err := f.Seek(walHeaderSize, io.SeekStart); err != nil {
		return nil, 0, err
	}

	var records []walRecord
	scanned := 0
	offset := int64(walHeaderSize)

	headerBuf := make([]byte, walRecordHeaderSize)
	for {
		if _, err := io.ReadFull(f, headerBuf); err != nil {
			break // EOF or truncated header: end of valid log
		}

		hdr, err := decodeWALRecordHeader(headerBuf)
		if err != nil {
			break
		}

		payload := make([]byte, hdr.payloadLen)
		if hdr.payloadLen > 0 {
			if _, err := io.ReadFull(f, payload); err != nil {
				break // truncated payload
			}
		}

		if !verifyWALRecordCRC(headerBuf, payload, hdr.storedCRC) {
			break // corrupted record: stop scanning, keep everything before it
		}

		hdr.rec.LSN = offset
		hdr.rec.Payload = payload
		scanned++

		if hdr.rec.Type == WALEndOfLog {
			break
		}

		records = append(records, hdr.rec)
		offset += int64(walRecordHeaderSize + len(payload))
	}

	return records, scanned, nil
}

// Recover runs the analysis/redo/undo pipeline over segments (oldest
// first) against handler, per §4.8.
func Recover(segments []string, handler RecoveryHandler, cfg RecoveryConfig) (*RecoveryStats, error) {
	logger := log.With().Str("component", "recovery").Logger()
	stats := &RecoveryStats{}

	var all []walRecord
	for _, seg := range segments {
		recs, scanned, err := readSegmentRecords(seg)
		stats.RecordsScanned += scanned
		if err != nil {
			logger.Error().Str("segment", seg).Err(err).Msg("failed to read WAL segment")
			if cfg.ThrowOnError {
				return stats, ErrRecoveryFailed
			}
			continue
		}
		all = append(all, recs...)
	}

	status, chains := analyze(all)
	for _, st := range status {
		switch st {
		case txnCommitted:
			stats.Committed++
		case txnAborted:
			stats.Aborted++
		case txnUncommitted:
			stats.Uncommitted++
		}
	}

	if err := redo(all, status, handler, stats); err != nil {
		if cfg.ThrowOnError {
			return stats, ErrRecoveryFailed
		}
	}

	if undoer, ok := handler.(UndoHandler); ok {
		uncommitted := make(map[int64][]walRecord, len(chains))
		for txnID, chain := range chains {
			if status[txnID] == txnUncommitted {
				uncommitted[txnID] = chain
			}
		}
		if err := undo(uncommitted, undoer, stats); err != nil {
			if cfg.ThrowOnError {
				return stats, ErrRecoveryFailed
			}
		}
	}

	logger.Info().
		Int("records_scanned", stats.RecordsScanned).
		Int("committed", stats.Committed).
		Int("aborted", stats.Aborted).
		Int("uncommitted", stats.Uncommitted).
		Int("redo_ops", stats.RedoOps).
		Int("undo_ops", stats.UndoOps).
		Msg("recovery complete")

	return stats, nil
}

// analyze implements pass 1: classify every transaction seen in the log
// and collect every transaction's data records, grouped by txn id in log
// order; pass 3 uses the groups of the uncommitted ones.
func analyze(records []walRecord) (map[int64]txnStatus, map[int64][]walRecord) {
	status := make(map[int64]txnStatus)
	chain := make(map[int64][]walRecord)

	for _, r := range records {
		switch r.Type {
		case WALBegin:
			if _, ok := status[r.TxnID]; !ok {
				status[r.TxnID] = txnUncommitted
			}
		case WALCommit:
			status[r.TxnID] = txnCommitted
		case WALAbort:
			status[r.TxnID] = txnAborted
		case WALInsert, WALUpdate, WALDelete:
			if _, ok := status[r.TxnID]; !ok {
				status[r.TxnID] = txnUncommitted
			}
			chain[r.TxnID] = append(chain[r.TxnID], r)
		}
	}

	return status, chain
}

// redo implements pass 2: replay every data-operation record belonging to
// a committed transaction, in LSN (i.e. log) order.
func redo(records []walRecord, status map[int64]txnStatus, handler RecoveryHandler, stats *RecoveryStats) error {
	for _, r := range records {
		if status[r.TxnID] != txnCommitted {
			continue
		}

		switch r.Type {
		case WALInsert:
			p, err := decodeDataOp(r.Payload)
			if err != nil {
				return err
			}
			if err := handler.RedoInsert(p.Collection, p.EntityID, p.After); err != nil {
				return err
			}
			stats.RedoOps++
		case WALUpdate:
			p, err := decodeDataOp(r.Payload)
			if err != nil {
				return err
			}
			if err := handler.RedoUpdate(p.Collection, p.EntityID, p.After); err != nil {
				return err
			}
			stats.RedoOps++
		case WALDelete:
			p, err := decodeDataOp(r.Payload)
			if err != nil {
				return err
			}
			if err := handler.RedoDelete(p.Collection, p.EntityID); err != nil {
				return err
			}
			stats.RedoOps++
		}
	}
	return nil
}

// undo implements pass 3: for every uncommitted transaction's chain,
// walk it in reverse LSN order and apply the inverse operation using the
// before image.
func undo(chains map[int64][]walRecord, handler UndoHandler, stats *RecoveryStats) error {
	for _, chain := range chains {
		for i := len(chain) - 1; i >= 0; i-- {
			r := chain[i]
			p, err := decodeDataOp(r.Payload)
			if err != nil {
				return err
			}

			var opErr error
			switch r.Type {
			case WALInsert:
				opErr = handler.UndoInsert(p.Collection, p.EntityID)
			case WALUpdate:
				opErr = handler.UndoUpdate(p.Collection, p.EntityID, p.Before)
			case WALDelete:
				opErr = handler.UndoDelete(p.Collection, p.EntityID, p.Before)
			}
			if opErr != nil {
				return opErr
			}
			stats.UndoOps++
		}
	}
	return nil
}
