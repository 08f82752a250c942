// Package visited tracks visited graph nodes during a single traversal.
package visited

// Set tracks visited slots using a bitset and a dirty list for fast reset.
type Set struct {
	bits  []uint64
	dirty []uint32
}

// New creates a set sized for the given number of slots.
func New(capacity int) *Set {
	return &Set{
		bits:  make([]uint64, (capacity+63)/64),
		dirty: make([]uint32, 0, 128),
	}
}

// Visit marks a slot as visited.
func (s *Set) Visit(slot uint32) {
	wordIdx := int(slot >> 6)
	bitMask := uint64(1) << (slot & 63)

	if wordIdx >= len(s.bits) {
		s.grow(wordIdx + 1)
	}

	if s.bits[wordIdx]&bitMask == 0 {
		s.bits[wordIdx] |= bitMask
		s.dirty = append(s.dirty, slot)
	}
}

// Visited returns true if the slot has been visited.
func (s *Set) Visited(slot uint32) bool {
	wordIdx := int(slot >> 6)
	if wordIdx >= len(s.bits) {
		return false
	}

	return s.bits[wordIdx]&(uint64(1)<<(slot&63)) != 0
}

// Reset clears every slot visited since the last reset.
func (s *Set) Reset() {
	for _, slot := range s.dirty {
		s.bits[slot>>6] &^= uint64(1) << (slot & 63)
	}
	s.dirty = s.dirty[:0]
}

func (s *Set) grow(newLen int) {
	newCap := len(s.bits) * 2
	if newCap < newLen {
		newCap = newLen
	}

	newBits := make([]uint64, newCap)
	copy(newBits, s.bits)
	s.bits = newBits
}
