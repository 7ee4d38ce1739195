package docstore

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WALRecordType identifies the kind of a WAL record.
type WALRecordType uint8

const (
	WALBegin         WALRecordType = 1
	WALCommit        WALRecordType = 2
	WALAbort         WALRecordType = 3
	WALInsert        WALRecordType = 4
	WALUpdate        WALRecordType = 5
	WALDelete        WALRecordType = 6
	WALCheckpoint    WALRecordType = 7
	WALPageWrite     WALRecordType = 8
	WALCompensation  WALRecordType = 9
	WALEndOfLog      WALRecordType = 255
)

// invalidLSN marks "no previous record" (system records, or the first
// record of a transaction).
const invalidLSN int64 = -1

// walRecordHeaderSize is the 34-byte fixed header preceding every
// record's payload.
const walRecordHeaderSize = 34

const (
	wrOffType    = 0
	wrOffFlags   = 1
	wrOffTxnID   = 2
	wrOffLSN     = 10
	wrOffPrevLSN = 18
	wrOffPayload = 26
	wrOffCRC     = 30
)

// walRecord is one WAL entry: header fields plus its raw payload bytes.
type walRecord struct {
	Type    WALRecordType
	Flags   uint8
	TxnID   int64
	LSN     int64
	PrevLSN int64
	Payload []byte
}

func encodeWALRecord(r *walRecord) []byte {
	buf := make([]byte, walRecordHeaderSize+len(r.Payload))
	buf[wrOffType] = uint8(r.Type)
	buf[wrOffFlags] = r.Flags
	binary.LittleEndian.PutUint64(buf[wrOffTxnID:], uint64(r.TxnID))
	binary.LittleEndian.PutUint64(buf[wrOffLSN:], uint64(r.LSN))
	binary.LittleEndian.PutUint64(buf[wrOffPrevLSN:], uint64(r.PrevLSN))
	binary.LittleEndian.PutUint32(buf[wrOffPayload:], uint32(len(r.Payload)))
	copy(buf[walRecordHeaderSize:], r.Payload)

	crc := crcIEEE(append(append([]byte{}, buf[:wrOffCRC]...), buf[walRecordHeaderSize:]...))
	binary.LittleEndian.PutUint32(buf[wrOffCRC:], crc)
	return buf
}

// decodedWALHeader is the parsed fixed header of a WAL record, before its
// payload has been read from the stream.
type decodedWALHeader struct {
	rec        walRecord
	payloadLen uint32
	storedCRC  uint32
}

// decodeWALRecordHeader parses the fixed header from buf (which must be
// at least walRecordHeaderSize long) without validating the payload CRC;
// the caller reads the payload separately and calls verifyWALRecordCRC.
func decodeWALRecordHeader(buf []byte) (*decodedWALHeader, error) {
	if len(buf) < walRecordHeaderSize {
		return nil, fmt.Errorf("%w: truncated WAL record header", ErrCorrupted)
	}
	h := &decodedWALHeader{
		rec: walRecord{
			Type:    WALRecordType(buf[wrOffType]),
			Flags:   buf[wrOffFlags],
			TxnID:   int64(binary.LittleEndian.Uint64(buf[wrOffTxnID:])),
			LSN:     int64(binary.LittleEndian.Uint64(buf[wrOffLSN:])),
			PrevLSN: int64(binary.LittleEndian.Uint64(buf[wrOffPrevLSN:])),
		},
		payloadLen: binary.LittleEndian.Uint32(buf[wrOffPayload:]),
		storedCRC:  binary.LittleEndian.Uint32(buf[wrOffCRC:]),
	}
	return h, nil
}

// verifyWALRecordCRC recomputes the CRC over the header fields (excluding
// the CRC field itself) and the payload, comparing against stored.
func verifyWALRecordCRC(headerBuf []byte, payload []byte, stored uint32) bool {
	got := crcIEEE(append(append([]byte{}, headerBuf[:wrOffCRC]...), payload...))
	return got == stored
}

// dataOpPayload is the CBOR body of insert/update/delete WAL records.
type dataOpPayload struct {
	Collection string `cbor:"collection"`
	EntityID   string `cbor:"entityId"`
	Before     []byte `cbor:"before,omitempty"` // encoded record, present on update/delete
	After      []byte `cbor:"after,omitempty"`  // encoded record, present on insert/update
}

func encodeDataOp(p dataOpPayload) []byte {
	b, err := cbor.Marshal(p)
	if err != nil {
		// dataOpPayload only contains plain fields CBOR can always encode.
		panic(fmt.Sprintf("docstore: encoding WAL payload: %v", err))
	}
	return b
}

func decodeDataOp(b []byte) (dataOpPayload, error) {
	var p dataOpPayload
	if err := cbor.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("%w: WAL payload decode: %v", ErrCorrupted, err)
	}
	return p, nil
}

// checkpointPayload records the active transaction set and the set of
// dirty pages at the time the checkpoint was taken.
type checkpointPayload struct {
	ActiveTxnIDs []int64  `cbor:"active_txns"`
	DirtyPages   []PageID `cbor:"dirty_pages"`
}

func encodeCheckpoint(p checkpointPayload) []byte {
	b, err := cbor.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("docstore: encoding checkpoint payload: %v", err))
	}
	return b
}
