package tensor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Encoding layout, all integers little-endian:
//
//	magic "NTC1"
//	u32 key count
//	per key, in ascending byte order:
//	  u32 key length, key bytes, '|'
//	  u32 rank, rank x u64 dims, '|'
//	  elements x float32 payload, '\n'
//
// The separators carry no information; they exist so a corrupted or truncated
// artifact fails loudly at the first misaligned entry.

var magic = [4]byte{'N', 'T', 'C', '1'}

const (
	sep  = '|'
	term = '\n'

	maxKeyLen = 4096
	maxRank   = 16
)

// Encode serializes the collection canonically. It is a pure function of the
// logical content.
func Encode(c Collection) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(magic[:])
	writeU32(&buf, uint32(len(c)))

	for _, k := range c.SortedKeys() {
		t := c[k]
		writeU32(&buf, uint32(len(k)))
		buf.WriteString(k)
		buf.WriteByte(sep)
		writeU32(&buf, uint32(len(t.Shape)))
		for _, d := range t.Shape {
			var dim [8]byte
			binary.LittleEndian.PutUint64(dim[:], uint64(d))
			buf.Write(dim[:])
		}
		buf.WriteByte(sep)
		for _, v := range t.Data {
			var el [4]byte
			binary.LittleEndian.PutUint32(el[:], math.Float32bits(v))
			buf.Write(el[:])
		}
		buf.WriteByte(term)
	}
	return buf.Bytes(), nil
}

// Decode parses canonical collection bytes. Non-canonical input (unsorted or
// duplicate keys, wrong separators, trailing bytes) is rejected.
func Decode(data []byte) (Collection, error) {
	r := &reader{buf: data}

	var m [4]byte
	if err := r.read(m[:]); err != nil {
		return nil, fmt.Errorf("tensor: short header: %w", err)
	}
	if m != magic {
		return nil, errors.New("tensor: bad magic")
	}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.New("tensor: empty collection")
	}

	c := make(Collection, count)
	prevKey := ""
	for i := uint32(0); i < count; i++ {
		keyLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		if keyLen == 0 || keyLen > maxKeyLen {
			return nil, fmt.Errorf("tensor: key length %d out of range", keyLen)
		}
		keyBytes := make([]byte, keyLen)
		if err := r.read(keyBytes); err != nil {
			return nil, err
		}
		key := string(keyBytes)
		if err := validateKey(key); err != nil {
			return nil, err
		}
		if i > 0 && key <= prevKey {
			return nil, fmt.Errorf("tensor: keys not in canonical order (%q after %q)", key, prevKey)
		}
		prevKey = key

		if err := r.expect(sep); err != nil {
			return nil, fmt.Errorf("tensor: key %q: %w", key, err)
		}
		rank, err := r.u32()
		if err != nil {
			return nil, err
		}
		if rank == 0 || rank > maxRank {
			return nil, fmt.Errorf("tensor: key %q: rank %d out of range", key, rank)
		}
		shape := make([]int64, rank)
		for j := range shape {
			d, err := r.u64()
			if err != nil {
				return nil, err
			}
			if d == 0 || d > math.MaxInt64 {
				return nil, fmt.Errorf("tensor: key %q: invalid dimension", key)
			}
			shape[j] = int64(d)
		}
		if err := r.expect(sep); err != nil {
			return nil, fmt.Errorf("tensor: key %q: %w", key, err)
		}

		t := Tensor{Shape: shape}
		n, err := t.NumElements()
		if err != nil {
			return nil, fmt.Errorf("tensor: key %q: %w", key, err)
		}
		t.Data = make([]float32, n)
		for j := range t.Data {
			bits, err := r.u32()
			if err != nil {
				return nil, fmt.Errorf("tensor: key %q: truncated payload: %w", key, err)
			}
			t.Data[j] = math.Float32frombits(bits)
		}
		if err := r.expect(term); err != nil {
			return nil, fmt.Errorf("tensor: key %q: %w", key, err)
		}
		c[key] = t
	}

	if r.len() != 0 {
		return nil, fmt.Errorf("tensor: %d trailing bytes after last entry", r.len())
	}
	return c, nil
}

// MustEncode is Encode for inputs the caller has already validated; it panics
// on error. Intended for tests and fixtures.
func MustEncode(c Collection) []byte {
	b, err := Encode(c)
	if err != nil {
		panic(err)
	}
	return b
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) len() int { return len(r.buf) - r.off }

func (r *reader) read(dst []byte) error {
	if r.len() < len(dst) {
		return errors.New("unexpected end of input")
	}
	copy(dst, r.buf[r.off:])
	r.off += len(dst)
	return nil
}

func (r *reader) expect(b byte) error {
	var got [1]byte
	if err := r.read(got[:]); err != nil {
		return err
	}
	if got[0] != b {
		return fmt.Errorf("expected separator 0x%02x, got 0x%02x", b, got[0])
	}
	return nil
}

func (r *reader) u32() (uint32, error) {
	var b [4]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *reader) u64() (uint64, error) {
	var b [8]byte
	if err := r.read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
