package vm

import (
	"log"

	"github.com/sarchlab/vmsim/mem/physical"
)

// Perm is a set of page permissions.
type Perm uint8

// Page permissions. Any combination is legal, including none.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec

	PermNone Perm = 0
	PermMask      = PermRead | PermWrite | PermExec
)

// Valid reports whether only permission bits are set.
func (p Perm) Valid() bool {
	return p&^PermMask == 0
}

// String renders the permissions in the familiar "rwx" form.
func (p Perm) String() string {
	s := []byte("---")
	if p&PermRead != 0 {
		s[0] = 'r'
	}

	if p&PermWrite != 0 {
		s[1] = 'w'
	}

	if p&PermExec != 0 {
		s[2] = 'x'
	}

	return string(s)
}

// A PTE is a page table entry. The low three bits hold the permissions, bit 3
// the present flag and the upper bits the frame number:
//
//	31                             4   3   2   1   0
//	+-------------------------------+---+---+---+---+
//	|          frame number         | P | X | W | R |
//	+-------------------------------+---+---+---+---+
type PTE uint32

const (
	ptePermMask   = PTE(PermMask)
	ptePresentBit = PTE(1) << 3
	pteFrameShift = 4

	// FrameBits is the width of the frame field of a PTE.
	FrameBits = 32 - pteFrameShift

	// MaxFrame is the highest frame number a PTE can hold.
	MaxFrame = physical.Frame(1<<FrameBits - 1)
)

// MakePTE encodes a page table entry. Bits of perm outside PermMask are
// dropped. A frame above MaxFrame cannot be encoded and panics.
func MakePTE(frame physical.Frame, present bool, perm Perm) PTE {
	if frame > MaxFrame {
		log.Panicf("frame %d does not fit in a page table entry", frame)
	}

	pte := PTE(frame)<<pteFrameShift | PTE(perm)&ptePermMask
	if present {
		pte |= ptePresentBit
	}

	return pte
}

// Frame returns the frame the entry points to. It is meaningless when the
// entry is not present.
func (p PTE) Frame() physical.Frame {
	return physical.Frame(p >> pteFrameShift)
}

// Present reports whether the page is mapped.
func (p PTE) Present() bool {
	return p&ptePresentBit != 0
}

// Perm returns the permission bits.
func (p PTE) Perm() Perm {
	return Perm(p & ptePermMask)
}

// Readable reports whether the read bit is set.
func (p PTE) Readable() bool {
	return p.Perm()&PermRead != 0
}

// Writable reports whether the write bit is set.
func (p PTE) Writable() bool {
	return p.Perm()&PermWrite != 0
}

// Executable reports whether the execute bit is set.
func (p PTE) Executable() bool {
	return p.Perm()&PermExec != 0
}
