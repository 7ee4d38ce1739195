package docstore

import "testing"

func TestEncodeDecodeWALRecordHeader(t *testing.T) {
	rec := &walRecord{
		Type:    WALInsert,
		TxnID:   7,
		LSN:     100,
		PrevLSN: 42,
		Payload: []byte("payload bytes"),
	}
	buf := encodeWALRecord(rec)

	h, err := decodeWALRecordHeader(buf[:walRecordHeaderSize])
	if err != nil {
		t.Fatalf("decodeWALRecordHeader: %v", err)
	}
	if h.rec.Type != WALInsert {
		t.Fatalf("Type = %v, want WALInsert", h.rec.Type)
	}
	if h.rec.TxnID != 7 || h.rec.LSN != 100 || h.rec.PrevLSN != 42 {
		t.Fatalf("header fields mismatch: %+v", h.rec)
	}
	if int(h.payloadLen) != len(rec.Payload) {
		t.Fatalf("payloadLen = %d, want %d", h.payloadLen, len(rec.Payload))
	}

	payload := buf[walRecordHeaderSize:]
	if !verifyWALRecordCRC(buf[:walRecordHeaderSize], payload, h.storedCRC) {
		t.Fatal("verifyWALRecordCRC rejected a record it just encoded")
	}
}

func TestVerifyWALRecordCRCDetectsCorruption(t *testing.T) {
	rec := &walRecord{Type: WALCommit, TxnID: 1, LSN: 1, PrevLSN: invalidLSN}
	buf := encodeWALRecord(rec)
	h, err := decodeWALRecordHeader(buf[:walRecordHeaderSize])
	if err != nil {
		t.Fatalf("decodeWALRecordHeader: %v", err)
	}

	corrupted := append([]byte{}, buf[:walRecordHeaderSize]...)
	corrupted[0] ^= 0xff // flip the type byte
	if verifyWALRecordCRC(corrupted, nil, h.storedCRC) {
		t.Fatal("verifyWALRecordCRC accepted a corrupted header")
	}
}

func TestDataOpPayloadRoundTrip(t *testing.T) {
	p := dataOpPayload{
		Collection: "widgets",
		EntityID:   "e1",
		Before:     []byte("old"),
		After:      []byte("new"),
	}
	enc := encodeDataOp(p)
	got, err := decodeDataOp(enc)
	if err != nil {
		t.Fatalf("decodeDataOp: %v", err)
	}
	if got.Collection != p.Collection || got.EntityID != p.EntityID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if string(got.Before) != "old" || string(got.After) != "new" {
		t.Fatalf("before/after mismatch: %+v", got)
	}
}

func TestDecodeDataOpRejectsGarbage(t *testing.T) {
	if _, err := decodeDataOp([]byte{0xff, 0xff}); err == nil {
		t.Fatal("expected decodeDataOp to reject malformed CBOR")
	}
}
