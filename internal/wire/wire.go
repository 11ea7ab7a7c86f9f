// Package wire frames cache entries before they reach a provider.
//
// Entry layout (big endian):
//
//	magic(4) "RFCE" | ver(1) | kind(1) | gen(u64) | vlen(u32) | payload(vlen)
//
// The frame carries the generation the value was computed under, so readers
// can reject entries written before the latest Put/Evict of the same key.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindValue byte = 1

	headerLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("redisflow: corrupt cache entry")
	magic4     = [...]byte{'R', 'F', 'C', 'E'}
)

func EncodeEntry(gen uint64, payload []byte) []byte {
	out := make([]byte, headerLen+len(payload))
	copy(out, magic4[:])
	out[4] = version
	out[5] = kindValue
	binary.BigEndian.PutUint64(out[6:14], gen)
	binary.BigEndian.PutUint32(out[14:18], uint32(len(payload)))
	copy(out[headerLen:], payload)
	return out
}

// DecodeEntry returns the generation and a zero-copy view of the payload.
// Framing is strict: trailing bytes are treated as corruption.
func DecodeEntry(b []byte) (gen uint64, payload []byte, err error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kindValue {
		return 0, nil, ErrCorrupt
	}
	gen = binary.BigEndian.Uint64(b[6:14])
	vlen := int(binary.BigEndian.Uint32(b[14:18]))
	if vlen != len(b)-headerLen {
		return 0, nil, ErrCorrupt
	}
	return gen, b[headerLen:], nil
}
