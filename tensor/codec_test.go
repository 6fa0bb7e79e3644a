package tensor

import (
	"bytes"
	"testing"
)

func sampleCollection() Collection {
	return Collection{
		"fc.weight": {Shape: []int64{2, 2}, Data: []float32{0.5, -1.25, 3, 0}},
		"fc.bias":   {Shape: []int64{2}, Data: []float32{0.125, -0.5}},
		"out.scale": {Shape: []int64{1}, Data: []float32{2.5}},
	}
}

func TestEncode_DeterministicAcrossInsertionOrder(t *testing.T) {
	a := sampleCollection()

	// Same logical content, different construction order.
	b := make(Collection)
	for _, k := range []string{"out.scale", "fc.bias", "fc.weight"} {
		src := a[k]
		cp := Tensor{Shape: append([]int64(nil), src.Shape...), Data: append([]float32(nil), src.Data...)}
		b[k] = cp
	}

	ea, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode(a): %v", err)
	}
	eb, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode(b): %v", err)
	}
	if !bytes.Equal(ea, eb) {
		t.Fatalf("encoding not deterministic across insertion order")
	}

	// Encoding twice must also be byte-identical.
	ea2, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode(a) again: %v", err)
	}
	if !bytes.Equal(ea, ea2) {
		t.Fatalf("encoding not a pure function")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	c := sampleCollection()
	enc, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(c) {
		t.Fatalf("key count: got %d want %d", len(got), len(c))
	}
	for k, want := range c {
		have, ok := got[k]
		if !ok {
			t.Fatalf("missing key %q", k)
		}
		if len(have.Shape) != len(want.Shape) || len(have.Data) != len(want.Data) {
			t.Fatalf("key %q: shape/data size mismatch", k)
		}
		for i := range want.Shape {
			if have.Shape[i] != want.Shape[i] {
				t.Fatalf("key %q: shape[%d] got %d want %d", k, i, have.Shape[i], want.Shape[i])
			}
		}
		for i := range want.Data {
			if have.Data[i] != want.Data[i] {
				t.Fatalf("key %q: data[%d] got %v want %v", k, i, have.Data[i], want.Data[i])
			}
		}
	}
}

func TestDecode_RejectsNonCanonical(t *testing.T) {
	valid := MustEncode(sampleCollection())

	cases := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"BadMagic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"Truncated", func(b []byte) []byte { return b[:len(b)-3] }},
		{"TrailingBytes", func(b []byte) []byte { return append(b, 0) }},
		{"CorruptSeparator", func(b []byte) []byte {
			// First separator follows magic(4) + count(4) + keylen(4) + key.
			b[12+len("fc.bias")] = '!'
			return b
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.mutate(append([]byte(nil), valid...))
			if _, err := Decode(b); err == nil {
				t.Fatalf("Decode accepted non-canonical input")
			}
		})
	}
}

func TestValidate_RejectsBadCollections(t *testing.T) {
	cases := []struct {
		name string
		c    Collection
	}{
		{"Empty", Collection{}},
		{"EmptyKey", Collection{"": {Shape: []int64{1}, Data: []float32{1}}}},
		{"SeparatorInKey", Collection{"a|b": {Shape: []int64{1}, Data: []float32{1}}}},
		{"ShapeDataMismatch", Collection{"w": {Shape: []int64{3}, Data: []float32{1}}}},
		{"ZeroDim", Collection{"w": {Shape: []int64{0}, Data: nil}}},
		{"EmptyShape", Collection{"w": {Shape: nil, Data: []float32{1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.c.Validate(); err == nil {
				t.Fatalf("Validate accepted invalid collection")
			}
		})
	}
}

func TestSameShape(t *testing.T) {
	a := sampleCollection()
	b := sampleCollection()
	if !SameShape(a, b) {
		t.Fatalf("identical collections reported as mismatched")
	}

	c := sampleCollection()
	c["extra"] = Tensor{Shape: []int64{1}, Data: []float32{0}}
	if SameShape(a, c) {
		t.Fatalf("extra key not detected")
	}

	d := sampleCollection()
	d["fc.bias"] = Tensor{Shape: []int64{3}, Data: []float32{0, 0, 0}}
	if SameShape(a, d) {
		t.Fatalf("shape change not detected")
	}
}
