package docstore

import "encoding/binary"

// Data-page body layout, directly following the 16-byte generic page
// header:
//
//	[data-page header: slot-count u32, reserved 12B]  (16 bytes, @16..32)
//	[slot directory, growing upward from 32]
//	[free space]
//	[records, growing downward from the page end]
const (
	dataHdrOffset    = pageHeaderSize // 16
	dataHdrSize      = 16
	slotDirOffset    = dataHdrOffset + dataHdrSize // 32
	slotEntrySize    = 8
	slotOffOffset    = 0
	slotOffLength    = 2
	slotOffFlags     = 4
	slotFlagTombstone uint8 = 1 << 0
	// slotFlagOverflow marks a slot whose record body is not stored inline
	// but as an overflowPointer referencing a chain of overflow pages (see
	// overflow.go). Set when a record is too large to fit any single data
	// page's body.
	slotFlagOverflow uint8 = 1 << 1
)

// initDataPage stamps the data-page header (slot count 0) on top of the
// generic page header already written by Pager.Allocate.
func initDataPage(p *Page) {
	binary.LittleEndian.PutUint32(p.data[dataHdrOffset:], 0)
	p.setFreeSpaceOffset(uint16(len(p.data)))
}

func slotCount(p *Page) int {
	return int(binary.LittleEndian.Uint32(p.data[dataHdrOffset:]))
}

func setSlotCount(p *Page, n int) {
	binary.LittleEndian.PutUint32(p.data[dataHdrOffset:], uint32(n))
}

func slotEntryOffset(index int) int {
	return slotDirOffset + index*slotEntrySize
}

type slot struct {
	offset uint16
	length uint16
	flags  uint8
}

func (s slot) tombstoned() bool { return s.flags&slotFlagTombstone != 0 }
func (s slot) overflow() bool   { return s.flags&slotFlagOverflow != 0 }

func readSlot(p *Page, index int) slot {
	base := slotEntryOffset(index)
	return slot{
		offset: binary.LittleEndian.Uint16(p.data[base+slotOffOffset:]),
		length: binary.LittleEndian.Uint16(p.data[base+slotOffLength:]),
		flags:  p.data[base+slotOffFlags],
	}
}

func writeSlot(p *Page, index int, s slot) {
	base := slotEntryOffset(index)
	binary.LittleEndian.PutUint16(p.data[base+slotOffOffset:], s.offset)
	binary.LittleEndian.PutUint16(p.data[base+slotOffLength:], s.length)
	p.data[base+slotOffFlags] = s.flags
	p.data[base+slotOffFlags+1] = 0
	p.data[base+slotOffFlags+2] = 0
	p.data[base+slotOffFlags+3] = 0
}

// freeSpace reports how many unused bytes remain between the end of the
// slot directory and the lowest allocated record.
func freeSpace(p *Page) int {
	dirEnd := slotEntryOffset(slotCount(p))
	return int(p.freeSpaceOffset()) - dirEnd
}

// allocateSlot finds or grows a slot for a size-byte record and returns
// its index and the byte offset to write the record body at. ok is false
// when the page doesn't have size+slotEntrySize bytes free; the caller
// must allocate a new data page and retry there.
func allocateSlot(p *Page, size int) (index int, offset int, ok bool) {
	return allocateSlotWithFlags(p, size, 0)
}

// allocateSlotWithFlags is allocateSlot with caller-supplied slot flags,
// used to mark overflow-pointer slots (see overflow.go).
func allocateSlotWithFlags(p *Page, size int, flags uint8) (index int, offset int, ok bool) {
	needed := size + slotEntrySize
	if freeSpace(p) < needed {
		return 0, 0, false
	}

	newOffset := int(p.freeSpaceOffset()) - size
	idx := slotCount(p)
	writeSlot(p, idx, slot{offset: uint16(newOffset), length: uint16(size), flags: flags})
	setSlotCount(p, idx+1)
	p.setFreeSpaceOffset(uint16(newOffset))
	return idx, newOffset, true
}

// tombstone marks a slot deleted without reclaiming its space.
func tombstone(p *Page, index int) {
	s := readSlot(p, index)
	s.offset = 0
	s.length = 0
	s.flags |= slotFlagTombstone
	writeSlot(p, index, s)
}

// recordBytes returns the raw record bytes for a live slot.
func recordBytes(p *Page, index int) []byte {
	s := readSlot(p, index)
	if s.tombstoned() {
		return nil
	}
	return p.data[s.offset : s.offset+s.length]
}

// maxRecordSize is the largest record body that can ever fit a freshly
// allocated page of this size.
func maxRecordSize(pageSize uint32) int {
	return int(pageSize) - slotDirOffset - slotEntrySize
}
