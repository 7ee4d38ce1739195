package docstore

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRecordPlain(t *testing.T) {
	id := "entity-1"
	v := String("payload")

	raw, err := EncodeRecord(id, v, nil)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	gotID, gotV, err := DecodeRecord(raw, nil)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if gotID != id {
		t.Fatalf("id = %q, want %q", gotID, id)
	}
	if gotV.Str != "payload" {
		t.Fatalf("value = %v, want payload", gotV)
	}
}

func TestEncodeDecodeRecordEncrypted(t *testing.T) {
	rc, err := deriveRecordCipher(bytes.Repeat([]byte{0x42}, 16), [16]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("deriveRecordCipher: %v", err)
	}

	id := "secret"
	v := Int(12345)
	raw, err := EncodeRecord(id, v, rc)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	gotID, gotV, err := DecodeRecord(raw, rc)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if gotID != id || gotV.Int != 12345 {
		t.Fatalf("round trip mismatch: id=%q value=%v", gotID, gotV)
	}

	// decoding with the wrong key must fail authentication, not silently
	// return garbage
	wrongRC, _ := deriveRecordCipher(bytes.Repeat([]byte{0x24}, 16), [16]byte{1, 2, 3})
	if _, _, err := DecodeRecord(raw, wrongRC); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("err = %v, want ErrAuthenticationFailed", err)
	}
}

func TestEncodeRecordSameCiphertextNeverReused(t *testing.T) {
	rc, err := deriveRecordCipher(bytes.Repeat([]byte{0x42}, 16), [16]byte{9})
	if err != nil {
		t.Fatalf("deriveRecordCipher: %v", err)
	}
	a, err := EncodeRecord("id", String("same"), rc)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	b, err := EncodeRecord("id", String("same"), rc)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of identical plaintext produced identical ciphertext (IV reuse)")
	}
}

func TestDecodeRecordRejectsTruncated(t *testing.T) {
	if _, _, err := DecodeRecord([]byte{1, 2}, nil); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("err = %v, want ErrCorrupted", err)
	}
}

func TestRecordSizeMatchesEncodeRecordUnencrypted(t *testing.T) {
	id := "x"
	v := String("some value")
	estimate, err := recordSize(id, v, false)
	if err != nil {
		t.Fatalf("recordSize: %v", err)
	}
	raw, err := EncodeRecord(id, v, nil)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	if estimate != len(raw) {
		t.Fatalf("recordSize = %d, want %d (actual EncodeRecord length)", estimate, len(raw))
	}
}

func TestRecordSizeEncryptedMatchesEncodeRecord(t *testing.T) {
	rc, err := deriveRecordCipher(bytes.Repeat([]byte{1}, 16), [16]byte{2})
	if err != nil {
		t.Fatalf("deriveRecordCipher: %v", err)
	}
	id := "x"
	v := String("some value")
	estimate, err := recordSize(id, v, true)
	if err != nil {
		t.Fatalf("recordSize: %v", err)
	}
	raw, err := EncodeRecord(id, v, rc)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	if estimate != len(raw) {
		t.Fatalf("recordSize estimate = %d, want exact match %d", estimate, len(raw))
	}
}
