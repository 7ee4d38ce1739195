package docstore

import "fmt"

// txnOp records one operation performed inside a transaction, in
// application order, so Rollback can undo them in reverse.
type txnOp struct {
	kind   WALRecordType // WALInsert, WALUpdate or WALDelete
	id     string
	before []byte // nil for insert
}

// Transaction is an explicit unit of work against a Storage. Only one
// Transaction may be open at a time (§5's single-writer model): Begin
// blocks until any prior transaction commits or rolls back.
//
// Every operation is written to the WAL and applied to the buffer cache
// immediately, so the buffer cache is free to steal (flush) dirty pages
// to disk at any point, even before Commit. That's what makes the
// recovery undo pass necessary rather than cosmetic: a crash after a
// page flush but before Commit leaves committed-looking bytes on disk
// that undo must reverse using the WAL's before-images.
type Transaction struct {
	storage *Storage
	id      int64
	prevLSN int64
	ops     []txnOp
	done    bool
}

// Begin starts a new transaction, blocking until no other transaction
// (explicit or autocommit) is active.
func (s *Storage) Begin() (*Transaction, error) {
	if !s.cfg.EnableTransactions {
		return nil, fmt.Errorf("docstore: transactions disabled in config")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}

	s.txnSeq++
	tx := &Transaction{storage: s, id: s.txnSeq, prevLSN: invalidLSN}

	lsn, err := s.wal.Append(&walRecord{Type: WALBegin, TxnID: tx.id, PrevLSN: invalidLSN})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	tx.prevLSN = lsn
	s.activeTxn = tx
	return tx, nil
}

func (tx *Transaction) checkActive() error {
	if tx.done {
		return ErrNoActiveTransaction
	}
	return nil
}

// Get reads id, seeing the transaction's own uncommitted writes. Insert,
// Update and Delete apply to the catalog index and buffer cache as soon as
// they are called (this transaction model is eager WAL-append-then-apply,
// not buffer-then-materialize-at-commit), so the read-your-own-writes
// layering reduces to reading straight through the storage's current
// state. Get must not take storage.mu itself: Begin already holds it for
// the transaction's whole lifetime and sync.RWMutex is not reentrant.
func (tx *Transaction) Get(id string) (Value, error) {
	if err := tx.checkActive(); err != nil {
		return Value{}, err
	}
	return tx.storage.getLocked(id)
}

// Exists reports whether id is present, including this transaction's own
// uncommitted writes. See Get for why no lock is taken here.
func (tx *Transaction) Exists(id string) (bool, error) {
	if err := tx.checkActive(); err != nil {
		return false, err
	}
	return tx.storage.existsLocked(id), nil
}

// Insert stages and immediately applies an insert. An empty id is
// replaced with a generated one.
func (tx *Transaction) Insert(id string, v Value) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	s := tx.storage

	if id == "" {
		id = s.idgen.New()
	}
	if _, exists := s.cat.Index[id]; exists {
		return ErrAlreadyExists
	}

	if estimate, err := recordSize(id, v, s.cipher != nil); err == nil && estimate > s.cfg.MaxEntitySize {
		return ErrEntityTooLarge
	}

	raw, err := EncodeRecord(id, v, s.cipher)
	if err != nil {
		return err
	}
	if len(raw) > s.cfg.MaxEntitySize {
		return ErrEntityTooLarge
	}

	payload := encodeDataOp(dataOpPayload{Collection: s.cat.Collection, EntityID: id, After: raw})
	lsn, err := s.wal.Append(&walRecord{Type: WALInsert, TxnID: tx.id, PrevLSN: tx.prevLSN, Payload: payload})
	if err != nil {
		return err
	}
	tx.prevLSN = lsn

	if err := s.applyInsert(id, raw); err != nil {
		return err
	}
	tx.ops = append(tx.ops, txnOp{kind: WALInsert, id: id})
	return nil
}

// Update replaces an existing entity's value.
func (tx *Transaction) Update(id string, v Value) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	s := tx.storage

	loc, exists := s.cat.Index[id]
	if !exists {
		return ErrNotFound
	}
	before, err := s.readRecordAt(loc)
	if err != nil {
		return err
	}

	if estimate, err := recordSize(id, v, s.cipher != nil); err == nil && estimate > s.cfg.MaxEntitySize {
		return ErrEntityTooLarge
	}

	raw, err := EncodeRecord(id, v, s.cipher)
	if err != nil {
		return err
	}

	payload := encodeDataOp(dataOpPayload{Collection: s.cat.Collection, EntityID: id, Before: before, After: raw})
	lsn, err := s.wal.Append(&walRecord{Type: WALUpdate, TxnID: tx.id, PrevLSN: tx.prevLSN, Payload: payload})
	if err != nil {
		return err
	}
	tx.prevLSN = lsn

	if err := s.applyUpdate(id, raw); err != nil {
		return err
	}
	tx.ops = append(tx.ops, txnOp{kind: WALUpdate, id: id, before: before})
	return nil
}

// Upsert inserts id if absent, otherwise updates it. A generated id (id
// == "") is always an insert.
func (tx *Transaction) Upsert(id string, v Value) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if id == "" {
		return tx.Insert(id, v)
	}
	if _, exists := tx.storage.cat.Index[id]; exists {
		return tx.Update(id, v)
	}
	return tx.Insert(id, v)
}

// Delete removes an entity.
func (tx *Transaction) Delete(id string) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	s := tx.storage

	loc, exists := s.cat.Index[id]
	if !exists {
		return ErrNotFound
	}
	before, err := s.readRecordAt(loc)
	if err != nil {
		return err
	}

	payload := encodeDataOp(dataOpPayload{Collection: s.cat.Collection, EntityID: id, Before: before})
	lsn, err := s.wal.Append(&walRecord{Type: WALDelete, TxnID: tx.id, PrevLSN: tx.prevLSN, Payload: payload})
	if err != nil {
		return err
	}
	tx.prevLSN = lsn

	if err := s.applyDelete(id); err != nil {
		return err
	}
	tx.ops = append(tx.ops, txnOp{kind: WALDelete, id: id, before: before})
	return nil
}

// Commit durably marks the transaction committed and releases the
// storage's write gate. The data pages were already mutated as each
// operation ran; Commit's only remaining job is the forced-fsync commit
// record that makes those mutations official for recovery's analysis
// pass.
func (tx *Transaction) Commit() error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	s := tx.storage

	_, err := s.wal.Append(&walRecord{Type: WALCommit, TxnID: tx.id, PrevLSN: tx.prevLSN})
	tx.done = true
	s.activeTxn = nil
	s.mu.Unlock()
	return err
}

// Rollback undoes every operation performed so far, in reverse order,
// then logs an abort record and releases the storage's write gate.
func (tx *Transaction) Rollback() error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	s := tx.storage

	var firstErr error
	for i := len(tx.ops) - 1; i >= 0; i-- {
		op := tx.ops[i]
		var err error
		switch op.kind {
		case WALInsert:
			err = s.applyDelete(op.id)
		case WALUpdate, WALDelete:
			err = s.applyUpdate(op.id, op.before)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	_, err := s.wal.Append(&walRecord{Type: WALAbort, TxnID: tx.id, PrevLSN: tx.prevLSN})
	if err != nil && firstErr == nil {
		firstErr = err
	}

	tx.done = true
	s.activeTxn = nil
	s.mu.Unlock()
	return firstErr
}
