package codec

import (
	"strings"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type order struct {
	ID     string    `json:"id" msgpack:"id" cbor:"id"`
	Amount int64     `json:"amount" msgpack:"amount" cbor:"amount"`
	At     time.Time `json:"at" msgpack:"at" cbor:"at"`
}

func TestStructCodecs(t *testing.T) {
	want := order{ID: "o-1", Amount: 1000, At: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	codecs := map[string]Codec[order]{
		"json":      JSON[order]{},
		"msgpack":   Msgpack[order]{},
		"cbor":      MustCBOR[order](false),
		"cbor-det":  MustCBOR[order](true),
		"limit-big": Limit[order]{Inner: JSON[order]{}, MaxDecode: 1 << 10},
	}
	for name, c := range codecs {
		b, err := c.Encode(want)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		got, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if got.ID != want.ID || got.Amount != want.Amount || !got.At.Equal(want.At) {
			t.Fatalf("%s: got %+v want %+v", name, got, want)
		}
	}
}

func TestDecodeGarbageFails(t *testing.T) {
	if _, err := (JSON[order]{}).Decode([]byte("{not json")); err == nil {
		t.Fatalf("json: expected error")
	}
	if _, err := (Msgpack[order]{}).Decode([]byte{0xc1}); err == nil {
		t.Fatalf("msgpack: expected error")
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := c.Decode([]byte(strings.Repeat("x", 5))); err == nil {
		t.Fatalf("expected size error")
	}
	if v, err := c.Decode([]byte("abcd")); err != nil || v != "abcd" {
		t.Fatalf("boundary decode: v=%q err=%v", v, err)
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := c.Encode(wrapperspb.String("Eko"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.GetValue() != "Eko" {
		t.Fatalf("got %q", got.GetValue())
	}
}
