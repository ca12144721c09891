// Package identity implements the 128-bit opaque task identifier used
// throughout the scheduler: random generation, hex parsing, ordering,
// and hashing.
package identity

import (
	"crypto/rand"
	"hash/fnv"
	"strings"
)

// Size is the number of bytes backing a valid ID.
const Size = 16

// length is the number of hex characters in the grouped rendering,
// including the four dash separators (8-4-4-4-12).
const length = 36

const hexChars = "0123456789abcdef"

// ID is a 16-byte opaque identifier with stable lexicographic ordering.
// The zero value is the invalid sentinel (Size() == 0).
type ID struct {
	data [Size]byte
	size uint8
}

// New returns a randomly initialized, valid ID, uniform over the full
// 128-bit space.
func New() ID {
	var id ID
	if _, err := rand.Read(id.data[:]); err != nil {
		// crypto/rand failing is unrecoverable for a process relying on
		// unique identifiers; fall back to the zero ID would silently
		// collide, so surface it loudly instead.
		panic("identity: crypto/rand unavailable: " + err.Error())
	}
	id.size = Size
	return id
}

// Parse decodes a 32-character ungrouped hex string into an ID. Any
// input with odd length or non-hex characters yields the invalid
// sentinel (a zero-value ID). A shorter even-length hex string fills
// only the leading bytes (Size() is half its length); characters past
// the 32nd are checked but not decoded.
func Parse(s string) ID {
	if len(s)%2 != 0 {
		return ID{}
	}
	n := len(s) / 2
	if n > Size {
		n = Size
	}
	for i := 0; i < len(s); i++ {
		if toNibble(s[i]) < 0 {
			return ID{}
		}
	}

	var id ID
	for i, j := 0, 0; i < n; i++ {
		hi := toNibble(s[j])
		lo := toNibble(s[j+1])
		j += 2
		id.data[i] = byte(hi<<4 | lo)
	}
	id.size = uint8(n)
	return id
}

func toNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c - 'a' + 10)
	case c >= 'A' && c <= 'F':
		return int(c - 'A' + 10)
	default:
		return -1
	}
}

// IsValid reports whether the ID carries a non-zero size, i.e. it was
// produced by New or a successful Parse rather than being the zero
// value or the result of a failed Parse.
func (id ID) IsValid() bool { return id.Size() > 0 }

// Size returns the number of meaningful bytes backing the ID: 16 for
// New, 0 for the invalid sentinel, and for Parse half the input
// length, capped at 16.
func (id ID) Size() int { return int(id.size) }

// Bytes returns the raw backing bytes.
func (id ID) Bytes() []byte { return id.data[:] }

// Equal reports byte-wise equality.
func (id ID) Equal(other ID) bool { return id.data == other.data }

// Less implements the total lexicographic byte ordering over IDs.
func (id ID) Less(other ID) bool {
	for i := range id.data {
		if id.data[i] != other.data[i] {
			return id.data[i] < other.data[i]
		}
	}
	return false
}

// Hash derives a hash of the ID's bytes, suitable for sharding or use
// as a map key alongside Equal.
func (id ID) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write(id.data[:])
	return h.Sum64()
}

// String renders the grouped 8-4-4-4-12 hex form.
func (id ID) String() string { return id.format(true) }

// ToString renders either the grouped 36-character form (format=true)
// or the ungrouped 32-character form (format=false).
func (id ID) ToString(format bool) string { return id.format(format) }

func (id ID) format(grouped bool) string {
	var b strings.Builder
	if grouped {
		b.Grow(length)
	} else {
		b.Grow(Size * 2)
	}
	for i, by := range id.data {
		if grouped && (i == 4 || i == 6 || i == 8 || i == 10) {
			b.WriteByte('-')
		}
		b.WriteByte(hexChars[by>>4])
		b.WriteByte(hexChars[by&0xF])
	}
	return b.String()
}
