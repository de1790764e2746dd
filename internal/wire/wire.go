package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version      byte = 1
	kindEnvelope byte = 1
)

var (
	ErrCorrupt = errors.New("surge: corrupt envelope")
	magic4     = [...]byte{'S', 'U', 'R', 'G'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Envelope: magic(4) | ver(1) | kind(1) | expireAt(u64 be, unix millis) | vlen(u32 be) | payload(vlen)
//
// The envelope carries the logical expiry for hot-key entries stored without
// a store-level TTL. Framing is strict: trailing bytes are corruption.
func EncodeEnvelope(expireAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEnvelope)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(expireAt.UnixMilli()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func DecodeEnvelope(b []byte) (expireAt time.Time, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEnvelope {
		return time.Time{}, nil, ErrCorrupt
	}

	off := 6

	expireAt = time.UnixMilli(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || off+vlen != len(b) { // strict: no trailing bytes
		return time.Time{}, nil, ErrCorrupt
	}

	return expireAt, b[off : off+vlen], nil
}
