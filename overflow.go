package docstore

import "encoding/binary"

// Overflow-page body layout, directly following the 16-byte generic page
// header: a 4-byte next-page pointer (InvalidPageID at the chain's tail)
// and a 4-byte chunk length, followed by up to pageSize-24 bytes of
// payload.
const (
	ovfHdrOffset = pageHeaderSize
	ovfOffNext   = ovfHdrOffset
	ovfOffLen    = ovfHdrOffset + 4
	ovfDataOff   = ovfHdrOffset + 8
)

// overflowPointer is the fixed-size inline value a slot stores in place
// of an oversized record: the id of the first overflow page and the
// total record length across the whole chain.
type overflowPointer struct {
	FirstPage PageID
	TotalLen  uint32
}

const overflowPointerSize = 8

func encodeOverflowPointer(p overflowPointer) []byte {
	buf := make([]byte, overflowPointerSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(p.FirstPage))
	binary.LittleEndian.PutUint32(buf[4:], p.TotalLen)
	return buf
}

func decodeOverflowPointer(buf []byte) overflowPointer {
	return overflowPointer{
		FirstPage: PageID(binary.LittleEndian.Uint32(buf[0:])),
		TotalLen:  binary.LittleEndian.Uint32(buf[4:]),
	}
}

func overflowChunkCapacity(pageSize uint32) int {
	return int(pageSize) - ovfDataOff
}

// writeOverflowChain stores data across as many freshly allocated overflow
// pages as needed and returns the id of the chain's first page. Every
// allocated page is written, marked dirty and unpinned before return.
func writeOverflowChain(cache *BufferCache, data []byte, pageSize uint32) (PageID, error) {
	capacity := overflowChunkCapacity(pageSize)
	if capacity <= 0 {
		return InvalidPageID, ErrInvalidPageSize
	}

	chunks := (len(data) + capacity - 1) / capacity
	if chunks == 0 {
		chunks = 1 // zero-length payload still needs one page to point at
	}

	pages := make([]*Page, chunks)
	for i := range pages {
		page, err := cache.Allocate(PageTypeOverflow)
		if err != nil {
			return InvalidPageID, err
		}
		pages[i] = page
	}

	for i, page := range pages {
		start := i * capacity
		end := start + capacity
		if end > len(data) {
			end = len(data)
		}
		chunkData := data[start:end]

		next := InvalidPageID
		if i+1 < len(pages) {
			next = pages[i+1].ID()
		}

		binary.LittleEndian.PutUint32(page.Data()[ovfOffNext:], uint32(next))
		binary.LittleEndian.PutUint32(page.Data()[ovfOffLen:], uint32(len(chunkData)))
		copy(page.Data()[ovfDataOff:], chunkData)
		page.setFreeSpaceOffset(uint16(ovfDataOff + len(chunkData)))
		page.MarkDirty()
		cache.Unpin(page.ID())
	}

	return pages[0].ID(), nil
}

// readOverflowChain reconstructs a record from its chain.
func readOverflowChain(cache *BufferCache, first PageID, totalLen uint32) ([]byte, error) {
	out := make([]byte, 0, totalLen)
	id := first
	for id != InvalidPageID {
		page, err := cache.Fetch(id)
		if err != nil {
			return nil, err
		}
		body := page.Data()
		n := binary.LittleEndian.Uint32(body[ovfOffLen:])
		next := PageID(binary.LittleEndian.Uint32(body[ovfOffNext:]))
		out = append(out, body[ovfDataOff:ovfDataOff+int(n)]...)
		cache.Unpin(id)
		id = next
	}
	if uint32(len(out)) != totalLen {
		return nil, ErrCorrupted
	}
	return out, nil
}

// freeOverflowChain releases every page in the chain back to the pager's
// free-list, used when a record that owns the chain is deleted or updated.
func freeOverflowChain(pager *Pager, cache *BufferCache, first PageID) error {
	id := first
	for id != InvalidPageID {
		page, err := cache.Fetch(id)
		if err != nil {
			return err
		}
		next := PageID(binary.LittleEndian.Uint32(page.Data()[ovfOffNext:]))
		cache.Unpin(id)
		cache.Invalidate(id)
		if err := pager.Free(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
