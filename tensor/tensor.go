// Package tensor models named collections of float32 arrays (model deltas and
// full models) and defines their canonical byte encoding.
//
// The canonical encoding is the choke point for hashing and content
// addressing: two collections with identical keys, shapes and values encode to
// byte-identical output regardless of construction order. Decode is the strict
// inverse and rejects any non-canonical input rather than repairing it.
package tensor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tensor is one named multi-dimensional float32 array.
//
// len(Data) MUST equal the product of Shape. A scalar is represented with
// Shape [1], matching the flat array convention of the artifact producers.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NumElements returns the element count implied by the shape, or an error if
// the shape is invalid.
func (t Tensor) NumElements() (int64, error) {
	if len(t.Shape) == 0 {
		return 0, errors.New("tensor: empty shape")
	}
	n := int64(1)
	for _, d := range t.Shape {
		if d <= 0 {
			return 0, fmt.Errorf("tensor: non-positive dimension %d", d)
		}
		if n > maxElements/d {
			return 0, errors.New("tensor: shape overflow")
		}
		n *= d
	}
	return n, nil
}

// maxElements bounds the decoded payload so a hostile artifact cannot demand
// an absurd allocation.
const maxElements = 1 << 28

// Collection maps tensor names to tensors. Keys are unique; ordering is
// irrelevant except that canonicalization always visits keys in ascending
// byte order.
type Collection map[string]Tensor

// SortedKeys returns the collection's keys in ascending byte order.
func (c Collection) SortedKeys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every key and tensor against the collection invariants.
func (c Collection) Validate() error {
	if len(c) == 0 {
		return errors.New("tensor: empty collection")
	}
	for k, t := range c {
		if err := validateKey(k); err != nil {
			return err
		}
		n, err := t.NumElements()
		if err != nil {
			return fmt.Errorf("tensor: key %q: %w", k, err)
		}
		if int64(len(t.Data)) != n {
			return fmt.Errorf("tensor: key %q: %d values for shape of %d elements", k, len(t.Data), n)
		}
	}
	return nil
}

// SameShape reports whether a and b have identical key sets and per-key
// shapes. Collections that fail this check cannot be aggregated together.
func SameShape(a, b Collection) bool {
	if len(a) != len(b) {
		return false
	}
	for k, ta := range a {
		tb, ok := b[k]
		if !ok || len(ta.Shape) != len(tb.Shape) {
			return false
		}
		for i := range ta.Shape {
			if ta.Shape[i] != tb.Shape[i] {
				return false
			}
		}
	}
	return true
}

func validateKey(k string) error {
	if k == "" {
		return errors.New("tensor: empty key")
	}
	// Keys appear in the canonical text encodings, which use these bytes as
	// field separators.
	if strings.ContainsAny(k, "|\n") {
		return fmt.Errorf("tensor: key %q contains a separator byte", k)
	}
	return nil
}
