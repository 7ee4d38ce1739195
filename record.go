package docstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const gcmIVSize = 12

// recordCipher holds the per-database AES-GCM-128 key, derived once at
// open time from the configured EncryptionKey and the file header's salt.
// A nil recordCipher means records are stored as plain CBOR.
type recordCipher struct {
	key [16]byte
}

// deriveRecordCipher derives the data key via HKDF-SHA256 over the
// configured 16-byte key, using the file's encryption salt, so two
// databases created with the same key never share ciphertext under
// identical IVs even if an IV were ever reused.
func deriveRecordCipher(rawKey []byte, salt [16]byte) (*recordCipher, error) {
	if len(rawKey) != 16 {
		return nil, fmt.Errorf("%w: encryption key must be 16 bytes", ErrCorrupted)
	}

	h := hkdf.New(sha256.New, rawKey, salt[:], []byte("docstore-record-key-v1"))
	var rc recordCipher
	if _, err := io.ReadFull(h, rc.key[:]); err != nil {
		return nil, err
	}
	return &rc, nil
}

func (rc *recordCipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(rc.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encrypt produces IV || ciphertext||tag for plaintext.
func (rc *recordCipher) encrypt(plaintext []byte) ([]byte, error) {
	aead, err := rc.gcm()
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcmIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(iv)+len(plaintext)+aead.Overhead())
	out = append(out, iv...)
	out = aead.Seal(out, iv, plaintext, nil)
	return out, nil
}

// decrypt reverses encrypt. A tag mismatch surfaces as
// ErrAuthenticationFailed.
func (rc *recordCipher) decrypt(envelope []byte) ([]byte, error) {
	aead, err := rc.gcm()
	if err != nil {
		return nil, err
	}
	if len(envelope) < gcmIVSize {
		return nil, fmt.Errorf("%w: truncated encryption envelope", ErrCorrupted)
	}

	iv := envelope[:gcmIVSize]
	ciphertext := envelope[gcmIVSize:]
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

// On-page record framing: 2-byte id length, id bytes, 4-byte data length,
// data bytes (see §3's Record entity).
const (
	recIDLenSize   = 2
	recDataLenSize = 4
)

// EncodeRecord serializes id and value into the on-page record format,
// encrypting the CBOR body first when cipher is non-nil.
func EncodeRecord(id string, value Value, rc *recordCipher) ([]byte, error) {
	if len(id) > 0xffff {
		return nil, fmt.Errorf("%w: id too long", ErrEntityTooLarge)
	}

	plain, err := EncodeValue(value)
	if err != nil {
		return nil, err
	}

	data := plain
	if rc != nil {
		data, err = rc.encrypt(plain)
		if err != nil {
			return nil, err
		}
	}
	if len(data) > 0xffffffff {
		return nil, fmt.Errorf("%w: encoded value too large", ErrEntityTooLarge)
	}

	buf := make([]byte, recIDLenSize+len(id)+recDataLenSize+len(data))
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(id)))
	off += recIDLenSize
	copy(buf[off:], id)
	off += len(id)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(data)))
	off += recDataLenSize
	copy(buf[off:], data)

	return buf, nil
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(raw []byte, rc *recordCipher) (id string, value Value, err error) {
	if len(raw) < recIDLenSize+recDataLenSize {
		return "", Value{}, fmt.Errorf("%w: truncated record", ErrCorrupted)
	}

	off := 0
	idLen := int(binary.LittleEndian.Uint16(raw[off:]))
	off += recIDLenSize
	if off+idLen > len(raw) {
		return "", Value{}, fmt.Errorf("%w: truncated record id", ErrCorrupted)
	}
	id = string(raw[off : off+idLen])
	off += idLen

	if off+recDataLenSize > len(raw) {
		return "", Value{}, fmt.Errorf("%w: truncated record length", ErrCorrupted)
	}
	dataLen := int(binary.LittleEndian.Uint32(raw[off:]))
	off += recDataLenSize
	if off+dataLen != len(raw) {
		return "", Value{}, fmt.Errorf("%w: record length mismatch", ErrCorrupted)
	}

	data := raw[off : off+dataLen]
	plain := data
	if rc != nil {
		plain, err = rc.decrypt(data)
		if err != nil {
			return "", Value{}, err
		}
	}

	value, err = DecodeValue(plain)
	if err != nil {
		return "", Value{}, err
	}
	return id, value, nil
}

// recordSize predicts the on-page size EncodeRecord would produce, without
// running the (possibly expensive) encryption, for capacity planning.
func recordSize(id string, value Value, encrypted bool) (int, error) {
	plain, err := EncodeValue(value)
	if err != nil {
		return 0, err
	}
	dataLen := len(plain)
	if encrypted {
		dataLen += gcmIVSize + 16 // GCM tag
	}
	return recIDLenSize + len(id) + recDataLenSize + dataLen, nil
}
