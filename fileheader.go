package docstore

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Page 0 does not use the generic per-page header; it has its own
// fixed-offset layout, bit-exact per the file-format contract, plus a
// trailing CRC the contract leaves to the "reserved" tail (see DESIGN.md).
const (
	fileMagic       uint32 = 0x44434442
	fileVersion     uint32 = 1
	fileVersionMin  uint32 = 1
	fileVersionMax  uint32 = 1
	fileHeaderSize         = 96

	fhOffMagic         = 0
	fhOffVersion       = 4
	fhOffPageSize      = 8
	fhOffPageCount     = 12
	fhOffFreeListHead  = 16
	fhOffFreePageCount = 20
	fhOffSchemaRoot    = 24
	fhOffCreatedAt     = 28
	fhOffModifiedAt    = 36
	fhOffEncSalt       = 44 // 16 bytes
	fhOffFlags         = 60
	fhOffCRC           = 64
	fhOffReserved      = 68
)

const (
	flagEncrypted     uint32 = 1 << 0
	flagCompressed    uint32 = 1 << 1
	flagDirtyShutdown uint32 = 1 << 2
	flagWALEnabled    uint32 = 1 << 3
)

// FileHeader mirrors the fixed-offset page-0 layout described in §6.
type FileHeader struct {
	PageSize      uint32
	PageCount     uint32
	FreeListHead  PageID
	FreePageCount uint32
	SchemaRoot    PageID
	CreatedAt     time.Time
	ModifiedAt    time.Time
	EncryptionSalt [16]byte
	Flags         uint32
}

func (h *FileHeader) DirtyShutdown() bool { return h.Flags&flagDirtyShutdown != 0 }
func (h *FileHeader) Encrypted() bool     { return h.Flags&flagEncrypted != 0 }

func newFileHeader(pageSize uint32) *FileHeader {
	now := time.Now()
	return &FileHeader{
		PageSize:     pageSize,
		PageCount:    1,
		FreeListHead: InvalidPageID,
		SchemaRoot:   InvalidPageID,
		CreatedAt:    now,
		ModifiedAt:   now,
		Flags:        flagDirtyShutdown,
	}
}

func (h *FileHeader) encode() []byte {
	buf := make([]byte, fileHeaderSize)
	binary.LittleEndian.PutUint32(buf[fhOffMagic:], fileMagic)
	binary.LittleEndian.PutUint32(buf[fhOffVersion:], fileVersion)
	binary.LittleEndian.PutUint32(buf[fhOffPageSize:], h.PageSize)
	binary.LittleEndian.PutUint32(buf[fhOffPageCount:], h.PageCount)
	binary.LittleEndian.PutUint32(buf[fhOffFreeListHead:], uint32(h.FreeListHead))
	binary.LittleEndian.PutUint32(buf[fhOffFreePageCount:], h.FreePageCount)
	binary.LittleEndian.PutUint32(buf[fhOffSchemaRoot:], uint32(h.SchemaRoot))
	binary.LittleEndian.PutUint64(buf[fhOffCreatedAt:], uint64(h.CreatedAt.UnixNano()))
	binary.LittleEndian.PutUint64(buf[fhOffModifiedAt:], uint64(h.ModifiedAt.UnixNano()))
	copy(buf[fhOffEncSalt:fhOffEncSalt+16], h.EncryptionSalt[:])
	binary.LittleEndian.PutUint32(buf[fhOffFlags:], h.Flags)

	crc := crcIEEE(append(append([]byte{}, buf[:fhOffCRC]...), buf[fhOffCRC+4:]...))
	binary.LittleEndian.PutUint32(buf[fhOffCRC:], crc)
	return buf
}

func decodeFileHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < fileHeaderSize {
		return nil, fmt.Errorf("%w: truncated file header", ErrCorrupted)
	}

	magic := binary.LittleEndian.Uint32(buf[fhOffMagic:])
	if magic != fileMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorrupted, magic)
	}

	version := binary.LittleEndian.Uint32(buf[fhOffVersion:])
	if version < fileVersionMin || version > fileVersionMax {
		return nil, fmt.Errorf("%w: version %d", ErrVersionMismatch, version)
	}

	want := binary.LittleEndian.Uint32(buf[fhOffCRC:])
	got := crcIEEE(append(append([]byte{}, buf[:fhOffCRC]...), buf[fhOffCRC+4:]...))
	if want != got {
		return nil, fmt.Errorf("%w: file header checksum mismatch", ErrCorrupted)
	}

	h := &FileHeader{
		PageSize:      binary.LittleEndian.Uint32(buf[fhOffPageSize:]),
		PageCount:     binary.LittleEndian.Uint32(buf[fhOffPageCount:]),
		FreeListHead:  PageID(binary.LittleEndian.Uint32(buf[fhOffFreeListHead:])),
		FreePageCount: binary.LittleEndian.Uint32(buf[fhOffFreePageCount:]),
		SchemaRoot:    PageID(binary.LittleEndian.Uint32(buf[fhOffSchemaRoot:])),
		CreatedAt:     time.Unix(0, int64(binary.LittleEndian.Uint64(buf[fhOffCreatedAt:]))),
		ModifiedAt:    time.Unix(0, int64(binary.LittleEndian.Uint64(buf[fhOffModifiedAt:]))),
		Flags:         binary.LittleEndian.Uint32(buf[fhOffFlags:]),
	}
	copy(h.EncryptionSalt[:], buf[fhOffEncSalt:fhOffEncSalt+16])
	return h, nil
}
