package docstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Pager performs raw, page-granular I/O against a single database file: it
// owns the file header, the free-list, and page-count bookkeeping. It does
// not cache pages in memory beyond the single read/write call in flight;
// that's the buffer cache's job.
type Pager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	readOnly bool
	verify   bool
	header   *FileHeader
	log      zerolog.Logger
}

// OpenPager opens (or creates) the database file at path. When the file is
// created fresh, pageSize must be one of the allowed sizes; when reopening
// an existing file, the on-disk page size always wins.
func OpenPager(path string, pageSize uint32, readOnly bool, verify bool) (*Pager, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	logger := log.With().Str("component", "pager").Str("path", path).Logger()

	_, statErr := os.Stat(path)
	creating := os.IsNotExist(statErr)
	if creating && !readOnly {
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}

	p := &Pager{file: f, path: path, readOnly: readOnly, verify: verify, log: logger}

	if creating {
		switch pageSize {
		case 4096, 8192, 16384, 32768:
		default:
			f.Close()
			return nil, ErrInvalidPageSize
		}

		p.header = newFileHeader(pageSize)
		buf := make([]byte, pageSize)
		copy(buf, p.header.encode())
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		p.log.Info().Uint32("page_size", pageSize).Msg("initialized new database file")
		return p, nil
	}

	raw := make([]byte, fileHeaderSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: reading file header: %v", ErrCorrupted, err)
	}

	header, err := decodeFileHeader(raw)
	if err != nil {
		f.Close()
		return nil, err
	}

	p.header = header
	p.log.Info().
		Uint32("page_size", header.PageSize).
		Uint32("page_count", header.PageCount).
		Bool("dirty_shutdown", header.DirtyShutdown()).
		Msg("opened existing database file")
	return p, nil
}

// ReadHeader returns the current in-memory file header. Mutators go through
// the dedicated setters below, each of which persists immediately.
func (p *Pager) ReadHeader() *FileHeader {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := *p.header
	return &h
}

func (p *Pager) pageSize() uint32 { return p.header.PageSize }

func (p *Pager) offsetOf(id PageID) int64 {
	return int64(id) * int64(p.header.PageSize)
}

// writeHeaderLocked persists the whole in-memory file header to page 0 and
// fsyncs. Callers mutate p.header first and must hold p.mu.
func (p *Pager) writeHeaderLocked() error {
	if p.readOnly {
		return ErrReadOnly
	}
	buf := p.header.encode()
	full := make([]byte, p.header.PageSize)
	copy(full, buf)
	if _, err := p.file.WriteAt(full, 0); err != nil {
		return err
	}
	return p.file.Sync()
}

// SetDirtyShutdown sets or clears the dirty-shutdown flag and flushes the
// header immediately.
func (p *Pager) SetDirtyShutdown(dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dirty {
		p.header.Flags |= flagDirtyShutdown
	} else {
		p.header.Flags &^= flagDirtyShutdown
	}
	p.header.ModifiedAt = time.Now()
	return p.writeHeaderLocked()
}

// SetEncrypted stamps the encrypted flag and salt, used once at creation
// time when an encryption key is configured.
func (p *Pager) SetEncrypted(salt [16]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.Flags |= flagEncrypted
	p.header.EncryptionSalt = salt
	return p.writeHeaderLocked()
}

// SetSchemaRoot records the catalog page id.
func (p *Pager) SetSchemaRoot(id PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.SchemaRoot = id
	return p.writeHeaderLocked()
}

// Allocate reserves a new page, preferring free-list reuse, and returns it
// pinned-equivalent (dirty, ready for the caller to initialize). The
// returned page is not yet written to disk.
func (p *Pager) Allocate(pageType PageType) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readOnly {
		return nil, ErrReadOnly
	}

	var id PageID
	if p.header.FreeListHead != InvalidPageID {
		id = p.header.FreeListHead
		freed, err := p.readPageLocked(id)
		if err != nil {
			return nil, err
		}
		next := PageID(binary.LittleEndian.Uint32(freed.data[pageHeaderSize:]))
		p.header.FreeListHead = next
		if p.header.FreePageCount > 0 {
			p.header.FreePageCount--
		}
		p.log.Debug().Uint32("page", uint32(id)).Msg("reused free-list page")
	} else {
		id = PageID(p.header.PageCount)
		p.header.PageCount++
		if err := p.file.Truncate(p.offsetOf(PageID(p.header.PageCount))); err != nil {
			return nil, err
		}
		p.log.Debug().Uint32("page", uint32(id)).Msg("appended new page")
	}

	page := newPage(id, p.header.PageSize)
	page.initHeader(pageType, uint16(p.header.PageSize))
	page.MarkDirty()

	if err := p.writeHeaderLocked(); err != nil {
		return nil, err
	}
	return page, nil
}

// Free pushes id onto the free-list head. Freeing page 0 is a programming
// error.
func (p *Pager) Free(id PageID) error {
	if id == 0 {
		panic("docstore: attempt to free page 0")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readOnly {
		return ErrReadOnly
	}

	page := newPage(id, p.header.PageSize)
	page.initHeader(PageTypeFreeList, pageHeaderSize+4)
	binary.LittleEndian.PutUint32(page.data[pageHeaderSize:], uint32(p.header.FreeListHead))
	page.updateCRC()

	if _, err := p.file.WriteAt(page.data, p.offsetOf(id)); err != nil {
		return err
	}

	p.header.FreeListHead = id
	p.header.FreePageCount++
	return p.writeHeaderLocked()
}

// Read loads page id from disk.
func (p *Pager) Read(id PageID) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readPageLocked(id)
}

func (p *Pager) readPageLocked(id PageID) (*Page, error) {
	if id == InvalidPageID || uint32(id) >= p.header.PageCount {
		return nil, ErrOutOfRange
	}

	page := newPage(id, p.header.PageSize)
	if _, err := p.file.ReadAt(page.data, p.offsetOf(id)); err != nil {
		return nil, fmt.Errorf("docstore: read page %v: %w", id, err)
	}

	if p.verify {
		if err := page.verify(id); err != nil {
			p.log.Error().Uint32("page", uint32(id)).Err(err).Msg("page failed verification")
			return nil, err
		}
	}
	return page, nil
}

// Write flushes a single dirty page to disk, updating its checksum first.
func (p *Pager) Write(page *Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(page)
}

func (p *Pager) writeLocked(page *Page) error {
	if p.readOnly {
		return ErrReadOnly
	}
	page.updateCRC()
	if _, err := p.file.WriteAt(page.data, p.offsetOf(page.id)); err != nil {
		return err
	}
	page.markClean()
	return nil
}

// WriteMany flushes several pages in one call.
func (p *Pager) WriteMany(pages []*Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pg := range pages {
		if err := p.writeLocked(pg); err != nil {
			return err
		}
	}
	return nil
}

// Flush fsyncs the underlying file.
func (p *Pager) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readOnly {
		return nil
	}
	return p.file.Sync()
}

// Close fsyncs and closes the file.
func (p *Pager) Close() error {
	if err := p.Flush(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}
