package docstore

// frame is one slot in the buffer cache's LRU list, wrapping a cached page.
type frame struct {
	id   PageID
	page *Page

	next *frame
	prev *frame
}

// lruList is an intrusive doubly-linked list ordering cached frames from
// least to most recently used, adapted from the teacher's bufferpool LRU
// (the list only ever reorders through markUsed/detach; eviction scans
// from the least-recently-used end for the first unpinned frame).
type lruList struct {
	values map[PageID]*frame
	mru    *frame
	lru    *frame
}

func newLRUList() *lruList {
	return &lruList{values: make(map[PageID]*frame)}
}

func (l *lruList) get(id PageID) *frame {
	f, ok := l.values[id]
	if !ok {
		return nil
	}
	l.markUsed(f)
	return f
}

func (l *lruList) markUsed(f *frame) {
	if f == l.mru {
		return
	}
	if l.mru == nil {
		l.mru = f
		l.lru = f
		return
	}
	l.detach(f)
	f.next = nil
	f.prev = l.mru
	l.mru.next = f
	l.mru = f
}

func (l *lruList) detach(f *frame) {
	if f == l.lru {
		l.lru = f.next
		if l.lru != nil {
			l.lru.prev = nil
		}
	}
	if f == l.mru {
		l.mru = f.prev
	}
	if f.next != nil {
		f.next.prev = f.prev
	}
	if f.prev != nil {
		f.prev.next = f.next
	}
	f.next, f.prev = nil, nil
}

func (l *lruList) insert(id PageID, page *Page) *frame {
	f := &frame{id: id, page: page}
	l.values[id] = f
	l.markUsed(f)
	return f
}

func (l *lruList) remove(id PageID) {
	f, ok := l.values[id]
	if !ok {
		return
	}
	l.detach(f)
	delete(l.values, id)
}

// evictionCandidate returns the least-recently-used frame that is not
// pinned, or nil if every frame is pinned.
func (l *lruList) evictionCandidate() *frame {
	for f := l.lru; f != nil; f = f.next {
		if !f.page.isPinned() {
			return f
		}
	}
	return nil
}

func (l *lruList) len() int { return len(l.values) }

func (l *lruList) forEach(fn func(id PageID, page *Page) bool) {
	for f := l.mru; f != nil; f = f.prev {
		if !fn(f.id, f.page) {
			return
		}
	}
}
