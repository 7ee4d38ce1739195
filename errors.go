package docstore

import "errors"

// Domain error kinds. Lower layers (pager, page, record codec, WAL) may
// wrap these with detail via fmt.Errorf("%w: ...", ...); Storage methods
// return errors as they get them, without adding the storage name or the
// operation. Match with errors.Is.
var (
	ErrNotOpen              = errors.New("docstore: storage not open")
	ErrAlreadyOpen          = errors.New("docstore: storage already open")
	ErrNotFound             = errors.New("docstore: entity not found")
	ErrAlreadyExists        = errors.New("docstore: entity already exists")
	ErrCorrupted            = errors.New("docstore: corrupted data")
	ErrVersionMismatch      = errors.New("docstore: unsupported file version")
	ErrReadOnly             = errors.New("docstore: storage opened read-only")
	ErrOutOfRange           = errors.New("docstore: page or offset out of range")
	ErrEntityTooLarge       = errors.New("docstore: entity exceeds max size")
	ErrAuthenticationFailed = errors.New("docstore: decryption authentication failed")
	ErrTransactionActive    = errors.New("docstore: transaction already active")
	ErrNoActiveTransaction  = errors.New("docstore: no active transaction")
	ErrConcurrencyConflict  = errors.New("docstore: concurrency conflict")
	ErrRecoveryFailed       = errors.New("docstore: recovery failed")

	ErrNoFreePages      = errors.New("docstore: no free pages")
	ErrPageNotAllocated = errors.New("docstore: page not allocated")
	ErrCacheExhausted   = errors.New("docstore: buffer cache exhausted, all frames pinned")
	ErrCatalogOverflow  = errors.New("docstore: catalog no longer fits in a single page")
	ErrInvalidPageSize  = errors.New("docstore: page size must be a power of two in [4096, 32768]")
)
