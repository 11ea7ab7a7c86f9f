// Package codec converts values to and from the bytes stored in Redis:
// cache entries, stream object bodies and pub/sub payloads all go through a Codec.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
