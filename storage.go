package docstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Storage is an embeddable document store backed by a single paged file:
// one collection per file, durable through a write-ahead log, recoverable
// after a crash via analysis/redo/undo. It is the package's main entry
// point; everything else (Pager, BufferCache, WAL, Recover) is assembled
// here.
type Storage struct {
	path string
	cfg  Config

	pager  *Pager
	cache  *BufferCache
	wal    *WAL
	idgen  *idGenerator
	lock   *fileLock
	cipher *recordCipher

	// mu is the single-writer gate: Begin acquires it and Commit/Rollback
	// release it, so at most one transaction (explicit or autocommit) is
	// ever in flight. Reads take a read lock: they run alongside each other
	// but wait while a transaction holds the write lock.
	mu            sync.RWMutex
	cat           *catalogState
	catalogPageID PageID

	txnSeq    int64
	activeTxn *Transaction

	closed bool
	log    zerolog.Logger
}

// Open opens (creating if necessary) the database file at path.
func Open(path string, cfg Config) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "storage").Str("path", path).Logger()

	lock, err := acquireFileLock(path)
	if err != nil {
		return nil, err
	}

	pager, err := OpenPager(path, cfg.PageSize, false, cfg.VerifyChecksums)
	if err != nil {
		lock.release()
		return nil, err
	}

	s := &Storage{
		path:  path,
		cfg:   cfg,
		pager: pager,
		idgen: newIDGenerator(),
		lock:  lock,
		log:   logger,
	}
	s.cache = NewBufferCache(pager, cfg.BufferPoolSize)

	header := pager.ReadHeader()

	if len(cfg.EncryptionKey) == 16 {
		if !header.Encrypted() {
			var salt [16]byte
			if _, err := rand.Read(salt[:]); err != nil {
				pager.Close()
				lock.release()
				return nil, err
			}
			if err := pager.SetEncrypted(salt); err != nil {
				pager.Close()
				lock.release()
				return nil, err
			}
			header = pager.ReadHeader()
		}
		cipher, err := deriveRecordCipher(cfg.EncryptionKey, header.EncryptionSalt)
		if err != nil {
			pager.Close()
			lock.release()
			return nil, err
		}
		s.cipher = cipher
	}

	if err := s.openCatalog(header); err != nil {
		pager.Close()
		lock.release()
		return nil, err
	}

	wal, stale, err := OpenWAL(path, databaseID(path), cfg.WAL)
	if err != nil {
		pager.Close()
		lock.release()
		return nil, err
	}
	s.wal = wal

	if header.DirtyShutdown() || len(stale) > 0 {
		logger.Warn().Bool("dirty_shutdown", header.DirtyShutdown()).Int("stale_segments", len(stale)).Msg("running recovery")
		stats, err := Recover(stale, s, cfg.Recovery)
		if err != nil {
			pager.Close()
			wal.Close()
			lock.release()
			return nil, err
		}
		if err := s.cache.FlushAll(); err != nil {
			pager.Close()
			wal.Close()
			lock.release()
			return nil, err
		}
		if err := pager.Flush(); err != nil {
			pager.Close()
			wal.Close()
			lock.release()
			return nil, err
		}
		if cfg.Recovery.DeleteWALAfterRecovery {
			for _, seg := range stale {
				os.Remove(seg)
			}
		}
		logger.Info().
			Int("redo_ops", stats.RedoOps).
			Int("undo_ops", stats.UndoOps).
			Msg("recovery applied")
	}

	if err := pager.SetDirtyShutdown(true); err != nil {
		pager.Close()
		wal.Close()
		lock.release()
		return nil, err
	}

	return s, nil
}

func databaseID(path string) [16]byte {
	sum := sha256.Sum256([]byte(path))
	var id [16]byte
	copy(id[:], sum[:16])
	return id
}

func (s *Storage) openCatalog(header *FileHeader) error {
	if header.SchemaRoot == InvalidPageID {
		page, err := s.cache.Allocate(PageTypeSchema)
		if err != nil {
			return err
		}
		cat := newCatalogState(s.cfg.Collection)
		if err := writeCatalogPage(page, cat); err != nil {
			s.cache.Unpin(page.ID())
			return err
		}
		s.catalogPageID = page.ID()
		s.cat = cat
		s.cache.Unpin(page.ID())
		return s.pager.SetSchemaRoot(page.ID())
	}

	page, err := s.cache.Fetch(header.SchemaRoot)
	if err != nil {
		return err
	}
	cat, err := readCatalogPage(page)
	s.cache.Unpin(header.SchemaRoot)
	if err != nil {
		return err
	}
	s.catalogPageID = header.SchemaRoot
	s.cat = cat
	return nil
}

// SupportsTransactions reports whether explicit Begin/Commit/Rollback is
// available for this instance.
func (s *Storage) SupportsTransactions() bool { return s.cfg.EnableTransactions }

// Close flushes every dirty page, cleanly closes the WAL, and releases the
// file lock. A Close while a transaction is still open on the same
// goroutine deadlocks; callers must Commit or Rollback first.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}

	if err := s.cache.FlushAll(); err != nil {
		return err
	}
	if err := s.pager.SetDirtyShutdown(false); err != nil {
		return err
	}
	if err := s.pager.Flush(); err != nil {
		return err
	}
	if err := s.wal.Close(); err != nil {
		return err
	}
	if err := s.pager.Close(); err != nil {
		return err
	}
	if err := s.lock.release(); err != nil {
		return err
	}
	s.closed = true
	return nil
}

// Flush writes every dirty cached page and fsyncs the underlying file,
// without closing anything.
func (s *Storage) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.cache.FlushAll(); err != nil {
		return err
	}
	return s.pager.Flush()
}

func (s *Storage) maybeCheckpoint() {
	if !s.wal.SizeExceeds() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.wal.Checkpoint(nil, s.cache.DirtyPageIDs()); err != nil {
		s.log.Error().Err(err).Msg("checkpoint failed")
	}
}

// --- record placement -------------------------------------------------

func (s *Storage) currentDataPage(minSize int) (*Page, error) {
	if n := len(s.cat.DataPages); n > 0 {
		id := s.cat.DataPages[n-1]
		page, err := s.cache.Fetch(id)
		if err == nil {
			if freeSpace(page) >= minSize+slotEntrySize {
				return page, nil
			}
			s.cache.Unpin(id)
		}
	}

	page, err := s.cache.Allocate(PageTypeData)
	if err != nil {
		return nil, err
	}
	initDataPage(page)
	s.cat.DataPages = append(s.cat.DataPages, page.ID())
	return page, nil
}

func (s *Storage) placeRecord(raw []byte) (entityLoc, error) {
	pageSize := s.pager.pageSize()

	if len(raw) <= maxRecordSize(pageSize) {
		page, err := s.currentDataPage(len(raw))
		if err != nil {
			return entityLoc{}, err
		}
		idx, offset, ok := allocateSlot(page, len(raw))
		if !ok {
			s.cache.Unpin(page.ID())
			return entityLoc{}, fmt.Errorf("docstore: data page allocation failed unexpectedly")
		}
		copy(page.Data()[offset:offset+len(raw)], raw)
		page.MarkDirty()
		loc := entityLoc{Page: page.ID(), Slot: uint16(idx)}
		s.cache.Unpin(page.ID())
		return loc, nil
	}

	first, err := writeOverflowChain(s.cache, raw, pageSize)
	if err != nil {
		return entityLoc{}, err
	}
	ptrBytes := encodeOverflowPointer(overflowPointer{FirstPage: first, TotalLen: uint32(len(raw))})

	page, err := s.currentDataPage(len(ptrBytes))
	if err != nil {
		return entityLoc{}, err
	}
	idx, offset, ok := allocateSlotWithFlags(page, len(ptrBytes), slotFlagOverflow)
	if !ok {
		s.cache.Unpin(page.ID())
		return entityLoc{}, fmt.Errorf("docstore: data page allocation failed unexpectedly")
	}
	copy(page.Data()[offset:offset+len(ptrBytes)], ptrBytes)
	page.MarkDirty()
	loc := entityLoc{Page: page.ID(), Slot: uint16(idx)}
	s.cache.Unpin(page.ID())
	return loc, nil
}

func (s *Storage) readRecordAt(loc entityLoc) ([]byte, error) {
	page, err := s.cache.Fetch(loc.Page)
	if err != nil {
		return nil, err
	}
	defer s.cache.Unpin(loc.Page)

	sl := readSlot(page, int(loc.Slot))
	if sl.tombstoned() {
		return nil, ErrNotFound
	}
	body := page.Data()[sl.offset : sl.offset+sl.length]
	if !sl.overflow() {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}

	ptr := decodeOverflowPointer(body)
	return readOverflowChain(s.cache, ptr.FirstPage, ptr.TotalLen)
}

func (s *Storage) freeSlotRecord(loc entityLoc) error {
	page, err := s.cache.Fetch(loc.Page)
	if err != nil {
		return err
	}
	sl := readSlot(page, int(loc.Slot))

	var firstOverflow PageID
	isOverflow := sl.overflow()
	if isOverflow {
		firstOverflow = decodeOverflowPointer(page.Data()[sl.offset : sl.offset+sl.length]).FirstPage
	}

	tombstone(page, int(loc.Slot))
	page.MarkDirty()
	s.cache.Unpin(loc.Page)

	if isOverflow {
		return freeOverflowChain(s.pager, s.cache, firstOverflow)
	}
	return nil
}

func (s *Storage) flushCatalog() error {
	page, err := s.cache.Fetch(s.catalogPageID)
	if err != nil {
		return err
	}
	err = writeCatalogPage(page, s.cat)
	s.cache.Unpin(s.catalogPageID)
	return err
}

// tryReuseSlot overwrites a record in place when the new encoding fits
// within the old slot's reserved length, avoiding a tombstone-and-reinsert
// for same-size-or-shrinking updates.
func (s *Storage) tryReuseSlot(loc entityLoc, raw []byte) (bool, error) {
	page, err := s.cache.Fetch(loc.Page)
	if err != nil {
		return false, err
	}
	defer s.cache.Unpin(loc.Page)

	sl := readSlot(page, int(loc.Slot))
	if sl.overflow() || sl.tombstoned() || len(raw) > int(sl.length) {
		return false, nil
	}

	copy(page.Data()[sl.offset:int(sl.offset)+len(raw)], raw)
	for i := int(sl.offset) + len(raw); i < int(sl.offset)+int(sl.length); i++ {
		page.Data()[i] = 0
	}
	sl.length = uint16(len(raw))
	writeSlot(page, int(loc.Slot), sl)
	page.MarkDirty()
	return true, nil
}

// --- catalog-mutating primitives, shared by transactions and recovery -

func (s *Storage) applyInsert(id string, raw []byte) error {
	loc, err := s.placeRecord(raw)
	if err != nil {
		return err
	}
	s.cat.Index[id] = loc
	return s.flushCatalog()
}

func (s *Storage) applyUpdate(id string, raw []byte) error {
	old, hasOld := s.cat.Index[id]
	if hasOld {
		reused, err := s.tryReuseSlot(old, raw)
		if err != nil {
			return err
		}
		if reused {
			return nil
		}
		if err := s.freeSlotRecord(old); err != nil {
			return err
		}
	}

	loc, err := s.placeRecord(raw)
	if err != nil {
		return err
	}
	s.cat.Index[id] = loc
	return s.flushCatalog()
}

func (s *Storage) applyDelete(id string) error {
	loc, ok := s.cat.Index[id]
	if !ok {
		return ErrNotFound
	}
	if err := s.freeSlotRecord(loc); err != nil {
		return err
	}
	delete(s.cat.Index, id)
	return s.flushCatalog()
}

// --- RecoveryHandler / UndoHandler --------------------------------------
//
// These run only during Open's single-threaded recovery pass, before any
// concurrent access begins, so they need no locking of their own.

func (s *Storage) RedoInsert(collection, id string, after []byte) error {
	if _, exists := s.cat.Index[id]; exists {
		return nil
	}
	return s.applyInsert(id, after)
}

func (s *Storage) RedoUpdate(collection, id string, after []byte) error {
	return s.applyUpdate(id, after)
}

func (s *Storage) RedoDelete(collection, id string) error {
	if _, exists := s.cat.Index[id]; !exists {
		return nil
	}
	return s.applyDelete(id)
}

func (s *Storage) UndoInsert(collection, id string) error {
	if _, exists := s.cat.Index[id]; !exists {
		return nil
	}
	return s.applyDelete(id)
}

func (s *Storage) UndoUpdate(collection, id string, before []byte) error {
	return s.applyUpdate(id, before)
}

func (s *Storage) UndoDelete(collection, id string, before []byte) error {
	if _, exists := s.cat.Index[id]; exists {
		return nil
	}
	return s.applyInsert(id, before)
}

// --- read path ----------------------------------------------------------

// Get returns the value stored for id.
func (s *Storage) Get(id string) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

// getLocked is Get's body with the locking stripped out, so a Transaction
// (which already holds s.mu for its whole lifetime) can read through the
// same path without deadlocking on a non-reentrant RWMutex. Because every
// transaction operation applies to the buffer cache and catalog index
// immediately (§4.6's eager apply), getLocked run mid-transaction already
// observes that transaction's own uncommitted writes.
func (s *Storage) getLocked(id string) (Value, error) {
	loc, ok := s.cat.Index[id]
	if !ok {
		return Value{}, ErrNotFound
	}
	raw, err := s.readRecordAt(loc)
	if err != nil {
		return Value{}, err
	}
	_, v, err := DecodeRecord(raw, s.cipher)
	return v, err
}

// Exists reports whether id is present.
func (s *Storage) Exists(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(id), nil
}

func (s *Storage) existsLocked(id string) bool {
	_, ok := s.cat.Index[id]
	return ok
}

// Count returns the number of live entities.
func (s *Storage) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cat.Index), nil
}

// GetMany returns every requested id that is present; missing ids are
// silently omitted from the result.
func (s *Storage) GetMany(ids []string) (map[string]Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Value, len(ids))
	for _, id := range ids {
		loc, ok := s.cat.Index[id]
		if !ok {
			continue
		}
		raw, err := s.readRecordAt(loc)
		if err != nil {
			return nil, err
		}
		_, v, err := DecodeRecord(raw, s.cipher)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// GetAll returns every entity in the collection.
func (s *Storage) GetAll() (map[string]Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Value, len(s.cat.Index))
	for id, loc := range s.cat.Index {
		raw, err := s.readRecordAt(loc)
		if err != nil {
			return nil, err
		}
		_, v, err := DecodeRecord(raw, s.cipher)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// Stream calls fn once per entity, stopping early if fn returns an error
// or ctx is cancelled. The id set is snapshotted up front so fn is never
// called while holding the storage's lock.
func (s *Storage) Stream(ctx context.Context, fn func(id string, v Value) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.cat.Index))
	for id := range s.cat.Index {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := s.Get(id)
		if err == ErrNotFound {
			continue // deleted since the snapshot was taken
		}
		if err != nil {
			return err
		}
		if err := fn(id, v); err != nil {
			return err
		}
	}
	return nil
}

// --- autocommit write path ----------------------------------------------

func (s *Storage) withTxn(fn func(tx *Transaction) error) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.log.Error().Err(rerr).Msg("rollback failed after op error")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.maybeCheckpoint()
	return nil
}

// Insert adds a new entity. If id is empty, one is generated.
func (s *Storage) Insert(id string, v Value) error {
	return s.withTxn(func(tx *Transaction) error { return tx.Insert(id, v) })
}

// InsertMany inserts a batch atomically: either every entity is added, or
// none are.
func (s *Storage) InsertMany(values map[string]Value) error {
	return s.withTxn(func(tx *Transaction) error {
		for id, v := range values {
			if err := tx.Insert(id, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update replaces an existing entity's value.
func (s *Storage) Update(id string, v Value) error {
	return s.withTxn(func(tx *Transaction) error { return tx.Update(id, v) })
}

// Upsert inserts id if absent, otherwise updates it.
func (s *Storage) Upsert(id string, v Value) error {
	return s.withTxn(func(tx *Transaction) error { return tx.Upsert(id, v) })
}

// Delete removes an entity.
func (s *Storage) Delete(id string) error {
	return s.withTxn(func(tx *Transaction) error { return tx.Delete(id) })
}

// DeleteMany removes a batch atomically.
func (s *Storage) DeleteMany(ids []string) error {
	return s.withTxn(func(tx *Transaction) error {
		for _, id := range ids {
			if err := tx.Delete(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAll removes every entity in the collection, atomically.
func (s *Storage) DeleteAll() error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.cat.Index))
	for id := range s.cat.Index {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	return s.DeleteMany(ids)
}
