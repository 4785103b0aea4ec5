package receiving

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// LineKey is the composite identity of a PO line: vendor item code, color
// and size, case-folded. It replaces ad hoc string concatenation so that a
// pipe character inside an attribute cannot collide with the delimiter.
type LineKey struct {
	Item  string
	Color string
	Size  string
}

const (
	keyDelimiter   = "|"
	fallbackItem   = "item"
	fallbackOption = "n/a"
)

// NewLineKey normalises the three segments into a canonical key.
func NewLineKey(item, color, size string) LineKey {
	return LineKey{
		Item:  normalizeSegment(item, fallbackItem),
		Color: normalizeSegment(color, fallbackOption),
		Size:  normalizeSegment(size, fallbackOption),
	}
}

// ParseLineKey rebuilds a LineKey from its wire form. Keys with fewer than
// three segments are rejected.
func ParseLineKey(s string) (LineKey, error) {
	parts := strings.Split(s, keyDelimiter)
	if len(parts) != 3 {
		return LineKey{}, fmt.Errorf("receiving: malformed line key %q", s)
	}
	return NewLineKey(parts[0], parts[1], parts[2]), nil
}

// String renders the canonical pipe-delimited wire form.
func (k LineKey) String() string {
	return k.Item + keyDelimiter + k.Color + keyDelimiter + k.Size
}

// IsZero reports whether the key carries no item at all.
func (k LineKey) IsZero() bool {
	return k.Item == "" || k == LineKey{}
}

func normalizeSegment(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	value = cases.Fold().String(value)
	return strings.ReplaceAll(value, keyDelimiter, " ")
}
