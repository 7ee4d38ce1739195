package docstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	walMagic       uint32 = 0x4457414C
	walVersion     uint32 = 1
	walHeaderSize         = 64

	whOffMagic     = 0
	whOffVersion   = 4
	whOffDBID      = 8 // 16 bytes
	whOffSequence  = 24
	whOffCheckpoint = 32
	whOffFlags     = 40
)

const (
	walFlagOpen        uint32 = 1 << 0
	walFlagCleanClose  uint32 = 1 << 1
	walFlagNeedRecover uint32 = 1 << 2
)

// FirstValidLSN is the byte offset of the first record in a fresh
// segment: LSN 0 is invalid, the first valid LSN equals the WAL header
// size.
const FirstValidLSN int64 = walHeaderSize

var walSegmentRE = regexp.MustCompile(`\.wal-(\d{10})$`)

func walSegmentPath(dbPath string, sequence int64) string {
	return fmt.Sprintf("%s.wal-%010d", dbPath, sequence)
}

// existingWALSegments returns every WAL segment belonging to dbPath, in
// ascending sequence order.
func existingWALSegments(dbPath string) ([]string, error) {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, e := range entries {
		name := e.Name()
		if len(name) <= len(base) || name[:len(base)] != base {
			continue
		}
		if walSegmentRE.MatchString(name) {
			matches = append(matches, filepath.Join(dir, name))
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func readWALHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, walHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func walHeaderFlags(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf[whOffFlags:])
}

// WAL is an append-only log of transaction records. Each data record is
// appended before its change is applied to the buffer cache; a
// transaction becomes durable when its commit record is fsynced.
type WAL struct {
	mu sync.Mutex

	file   *os.File
	writer *bufio.Writer
	path   string

	databaseID    [16]byte
	sequence      int64
	checkpointLSN int64

	lsn            int64
	bufferedBytes  int
	syncMode       SyncMode
	bufferSize     int
	maxFileSize    int64

	log zerolog.Logger
}

// OpenWAL creates a fresh segment for dbPath and returns it along with the
// paths of any prior segments that were not cleanly closed (and therefore
// need recovery).
func OpenWAL(dbPath string, databaseID [16]byte, cfg WALConfig) (wal *WAL, staleSegments []string, err error) {
	logger := log.With().Str("component", "wal").Str("db", dbPath).Logger()

	existing, err := existingWALSegments(dbPath)
	if err != nil {
		return nil, nil, err
	}

	sequence := int64(1)
	for _, path := range existing {
		m := walSegmentRE.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		seq, _ := strconv.ParseInt(m[1], 10, 64)
		if seq >= sequence {
			sequence = seq + 1
		}

		header, herr := readWALHeader(path)
		if herr != nil {
			logger.Warn().Str("segment", path).Err(herr).Msg("unreadable WAL segment header, treating as stale")
			staleSegments = append(staleSegments, path)
			continue
		}
		if walHeaderFlags(header)&walFlagCleanClose == 0 {
			staleSegments = append(staleSegments, path)
		}
	}

	path := walSegmentPath(dbPath, sequence)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, nil, err
	}

	w := &WAL{
		file:          f,
		writer:        bufio.NewWriterSize(f, cfg.BufferSize),
		path:          path,
		databaseID:    databaseID,
		sequence:      sequence,
		checkpointLSN: invalidLSN,
		lsn:           walHeaderSize,
		syncMode:      cfg.SyncMode,
		bufferSize:    cfg.BufferSize,
		maxFileSize:   cfg.MaxFileSize,
		log:           logger,
	}

	if err := w.writeHeader(walFlagOpen); err != nil {
		f.Close()
		return nil, nil, err
	}

	logger.Info().Int64("sequence", sequence).Int("stale_segments", len(staleSegments)).Msg("opened WAL segment")
	return w, staleSegments, nil
}

func (w *WAL) writeHeader(flags uint32) error {
	buf := make([]byte, walHeaderSize)
	binary.LittleEndian.PutUint32(buf[whOffMagic:], walMagic)
	binary.LittleEndian.PutUint32(buf[whOffVersion:], walVersion)
	copy(buf[whOffDBID:whOffDBID+16], w.databaseID[:])
	binary.LittleEndian.PutUint64(buf[whOffSequence:], uint64(w.sequence))
	binary.LittleEndian.PutUint64(buf[whOffCheckpoint:], uint64(w.checkpointLSN))
	binary.LittleEndian.PutUint32(buf[whOffFlags:], flags)

	if _, err := w.file.WriteAt(buf, 0); err != nil {
		return err
	}
	return w.file.Sync()
}

// CurrentLSN returns the offset the next Append will be written at.
func (w *WAL) CurrentLSN() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsn
}

// Append writes a record, assigning it the WAL's current LSN. Commit
// records always force a flush+fsync; other records respect syncMode and
// the buffer-full threshold.
func (w *WAL) Append(rec *walRecord) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.LSN = w.lsn
	encoded := encodeWALRecord(rec)

	n, err := w.writer.Write(encoded)
	if err != nil {
		return 0, fmt.Errorf("docstore: WAL append: %w", err)
	}
	w.lsn += int64(n)
	w.bufferedBytes += n

	mustSync := rec.Type == WALCommit || rec.Type == WALAbort || w.syncMode == SyncFull
	if mustSync {
		if err := w.flushAndSyncLocked(); err != nil {
			return 0, err
		}
		if rec.Type == WALCommit && w.syncMode == SyncOff {
			if err := w.file.Sync(); err != nil {
				return 0, err
			}
		}
	} else if w.bufferedBytes >= w.bufferSize {
		if err := w.writer.Flush(); err != nil {
			return 0, err
		}
		w.bufferedBytes = 0
	}

	return rec.LSN, nil
}

func (w *WAL) flushAndSyncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	w.bufferedBytes = 0
	if w.syncMode == SyncOff {
		return nil
	}
	return w.file.Sync()
}

// Sync is an explicit sync point: flush the buffer and, unless syncMode is
// off, fsync.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushAndSyncLocked()
}

// Checkpoint appends a checkpoint record describing the currently active
// transaction set and dirty-page table. The record is flushed on return and
// fsynced unless syncMode is SyncOff.
func (w *WAL) Checkpoint(activeTxnIDs []int64, dirtyPages []PageID) (int64, error) {
	payload := encodeCheckpoint(checkpointPayload{ActiveTxnIDs: activeTxnIDs, DirtyPages: dirtyPages})
	lsn, err := w.Append(&walRecord{Type: WALCheckpoint, TxnID: 0, PrevLSN: invalidLSN, Payload: payload})
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	w.checkpointLSN = lsn
	err = w.writeHeader(walFlagOpen)
	w.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if err := w.Sync(); err != nil {
		return 0, err
	}
	w.log.Info().Int64("lsn", lsn).Msg("checkpoint written")
	return lsn, nil
}

// SizeExceeds reports whether the segment has grown past maxFileSize,
// informing a caller's decision to roll to a new segment at the next
// natural boundary (segment rollover itself is a deployment concern left
// to the embedder; the core guarantees recovery works across segments).
func (w *WAL) SizeExceeds() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsn >= w.maxFileSize
}

// Close writes an end-of-log marker, marks the segment cleanly closed,
// and releases the file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	end := &walRecord{Type: WALEndOfLog, TxnID: 0, PrevLSN: invalidLSN}
	end.LSN = w.lsn
	encoded := encodeWALRecord(end)
	if _, err := w.writer.Write(encoded); err != nil {
		w.file.Close()
		return err
	}
	w.lsn += int64(len(encoded))

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}

	if err := w.writeHeader(walFlagCleanClose); err != nil {
		w.file.Close()
		return err
	}

	w.log.Info().Msg("WAL segment closed cleanly")
	return w.file.Close()
}

// Path returns the segment's file path.
func (w *WAL) Path() string { return w.path }
