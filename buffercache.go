package docstore

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// BufferCache is a fixed-capacity, pin-counted page cache sitting between
// the storage layer and the Pager. It is the only path to a mutable page;
// a single mutex serializes every access, matching the single-writer
// model in §5.
type BufferCache struct {
	mu       sync.Mutex
	pager    *Pager
	capacity int
	list     *lruList
	log      zerolog.Logger
}

// NewBufferCache wraps pager with an LRU cache of at most capacity pages.
func NewBufferCache(pager *Pager, capacity int) *BufferCache {
	if capacity < 1 {
		capacity = 1
	}
	return &BufferCache{
		pager:    pager,
		capacity: capacity,
		list:     newLRUList(),
		log:      log.With().Str("component", "buffer_cache").Logger(),
	}
}

// Fetch returns the page for id, pinned. The caller must call Unpin on
// every code path, including errors encountered after a successful Fetch.
func (c *BufferCache) Fetch(id PageID) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f := c.list.get(id); f != nil {
		f.page.pin()
		return f.page, nil
	}

	page, err := c.pager.Read(id)
	if err != nil {
		return nil, err
	}
	page.pin()

	if err := c.insertLocked(id, page); err != nil {
		page.unpin()
		return nil, err
	}
	return page, nil
}

// Allocate reserves a new page through the pager and inserts it pinned and
// dirty.
func (c *BufferCache) Allocate(pageType PageType) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.pager.Allocate(pageType)
	if err != nil {
		return nil, err
	}
	page.pin()

	if err := c.insertLocked(page.id, page); err != nil {
		page.unpin()
		return nil, err
	}
	return page, nil
}

// insertLocked places page in the cache, evicting the least-recently-used
// unpinned frame if the pool is full. Must be called with c.mu held.
func (c *BufferCache) insertLocked(id PageID, page *Page) error {
	if c.list.len() >= c.capacity {
		victim := c.list.evictionCandidate()
		if victim == nil {
			return ErrCacheExhausted
		}

		if victim.page.IsDirty() {
			if err := c.pager.Write(victim.page); err != nil {
				return err
			}
		}
		c.log.Debug().Uint32("evicted", uint32(victim.id)).Msg("evicted page from cache")
		c.list.remove(victim.id)
	}

	c.list.insert(id, page)
	return nil
}

// Unpin releases one pin on id. Pinning is a reference count: N Fetch/
// Allocate calls require N Unpins.
func (c *BufferCache) Unpin(id PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.list.values[id]; ok {
		f.page.unpin()
	}
}

// MarkDirty flags id's cached page as dirty. Idempotent.
func (c *BufferCache) MarkDirty(id PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.list.values[id]; ok {
		f.page.MarkDirty()
	}
}

// FlushPage writes id's page to disk if dirty, without evicting it.
func (c *BufferCache) FlushPage(id PageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.list.values[id]
	if !ok {
		return nil
	}
	if !f.page.IsDirty() {
		return nil
	}
	return c.pager.Write(f.page)
}

// Invalidate drops id from the cache without flushing it, used when a page
// is freed back to the pager's free-list and its cached body is about to
// become stale (the pager overwrites freed pages with free-list links).
func (c *BufferCache) Invalidate(id PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.remove(id)
}

// DirtyPageIDs lists every currently cached page with unflushed changes,
// for checkpoint records.
func (c *BufferCache) DirtyPageIDs() []PageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []PageID
	c.list.forEach(func(id PageID, page *Page) bool {
		if page.IsDirty() {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

// FlushAll writes every dirty cached page to disk.
func (c *BufferCache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	c.list.forEach(func(id PageID, page *Page) bool {
		if page.IsDirty() {
			if err := c.pager.Write(page); err != nil {
				firstErr = err
				return false
			}
		}
		return true
	})
	return firstErr
}
