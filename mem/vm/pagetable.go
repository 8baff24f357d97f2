package vm

import (
	"log"

	"github.com/sarchlab/vmsim/mem/physical"
)

// A PageTable is the flat, single-level table of a process. It holds one entry
// per virtual page, indexed by virtual page number.
type PageTable struct {
	entries      []PTE
	presentCount int
}

// NewPageTable creates a page table with numPages entries, none present.
func NewPageTable(numPages int) *PageTable {
	return &PageTable{
		entries: make([]PTE, numPages),
	}
}

// Len returns the number of entries, which is the number of virtual pages.
func (t *PageTable) Len() int {
	return len(t.entries)
}

// NumPresent returns the number of present entries.
func (t *PageTable) NumPresent() int {
	return t.presentCount
}

// Entry returns the entry for the virtual page.
func (t *PageTable) Entry(vpn uint64) PTE {
	t.vpnMustBeInRange(vpn)
	return t.entries[vpn]
}

// Find returns the entry for the virtual page and whether it is present.
func (t *PageTable) Find(vpn uint64) (PTE, bool) {
	if vpn >= uint64(len(t.entries)) {
		return 0, false
	}

	pte := t.entries[vpn]

	return pte, pte.Present()
}

// Insert maps the virtual page to a frame. The page must not be present.
func (t *PageTable) Insert(vpn uint64, frame physical.Frame, perm Perm) {
	t.pageMustNotExist(vpn)

	t.entries[vpn] = MakePTE(frame, true, perm)
	t.presentCount++
}

// Remove unmaps the virtual page and returns the frame it pointed to. The page
// must be present.
func (t *PageTable) Remove(vpn uint64) physical.Frame {
	t.pageMustExist(vpn)

	frame := t.entries[vpn].Frame()
	t.entries[vpn] = MakePTE(0, false, PermNone)
	t.presentCount--

	return frame
}

// Walk calls fn for every present entry in increasing vpn order.
func (t *PageTable) Walk(fn func(vpn uint64, pte PTE)) {
	for vpn, pte := range t.entries {
		if pte.Present() {
			fn(uint64(vpn), pte)
		}
	}
}

// Reset marks every entry as not present.
func (t *PageTable) Reset() {
	clear(t.entries)
	t.presentCount = 0
}

func (t *PageTable) vpnMustBeInRange(vpn uint64) {
	if vpn >= uint64(len(t.entries)) {
		log.Panicf("virtual page %d out of range [0, %d)", vpn, len(t.entries))
	}
}

func (t *PageTable) pageMustExist(vpn uint64) {
	t.vpnMustBeInRange(vpn)

	if !t.entries[vpn].Present() {
		log.Panicf("page %d does not exist", vpn)
	}
}

func (t *PageTable) pageMustNotExist(vpn uint64) {
	t.vpnMustBeInRange(vpn)

	if t.entries[vpn].Present() {
		log.Panicf("page %d exists", vpn)
	}
}
