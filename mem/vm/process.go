package vm

import (
	"fmt"
	"log"
)

// PID stands for Process ID. A pid is the index of the process slot, so pids
// are reused once a process exits. A pid is only meaningful while its slot is
// in use.
type PID uint32

// A Process is a slot of the process table.
type Process struct {
	PID       PID
	InUse     bool
	PageTable *PageTable
}

// pcbHeaderSize is the size of the pid, in-use and entry-count words that a
// process control block carries besides its page table.
const pcbHeaderSize = 12

// ProcessTable is a fixed-capacity table of process slots.
type ProcessTable struct {
	slots []Process
}

// NewProcessTable creates a table with capacity free slots. Each slot owns a
// page table of pagesPerProcess entries.
func NewProcessTable(capacity, pagesPerProcess int) *ProcessTable {
	t := &ProcessTable{
		slots: make([]Process, capacity),
	}

	for i := range t.slots {
		t.slots[i] = Process{
			PID:       PID(i),
			PageTable: NewPageTable(pagesPerProcess),
		}
	}

	return t
}

// Capacity returns the number of slots.
func (t *ProcessTable) Capacity() int {
	return len(t.slots)
}

// Footprint returns the number of bytes the table occupies in the OS region
// when laid out as process control blocks of 32-bit words.
func (t *ProcessTable) Footprint() uint64 {
	if len(t.slots) == 0 {
		return 0
	}

	pcbSize := uint64(pcbHeaderSize + 4*t.slots[0].PageTable.Len())

	return uint64(len(t.slots)) * pcbSize
}

// AllocateSlot claims the lowest free slot. The page table of the returned
// process has no present entry.
func (t *ProcessTable) AllocateSlot() (*Process, error) {
	for i := range t.slots {
		p := &t.slots[i]
		if p.InUse {
			continue
		}

		p.InUse = true
		p.PageTable.Reset()

		return p, nil
	}

	return nil, ErrNoFreeProcess
}

// ReleaseSlot marks the slot free. The caller must have removed every present
// entry first, otherwise frames would leak.
func (t *ProcessTable) ReleaseSlot(pid PID) {
	p, err := t.Lookup(pid)
	if err != nil {
		log.Panicf("releasing slot: %v", err)
	}

	if n := p.PageTable.NumPresent(); n != 0 {
		log.Panicf("releasing pid %d with %d pages still mapped", pid, n)
	}

	p.InUse = false
}

// Lookup returns the live process with the given pid.
func (t *ProcessTable) Lookup(pid PID) (*Process, error) {
	if int(pid) >= len(t.slots) || !t.slots[pid].InUse {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrInvalidPID)
	}

	return &t.slots[pid], nil
}

// Live returns the processes that are in use, in pid order.
func (t *ProcessTable) Live() []*Process {
	var live []*Process

	for i := range t.slots {
		if t.slots[i].InUse {
			live = append(live, &t.slots[i])
		}
	}

	return live
}

// Reset frees every slot and clears every page table.
func (t *ProcessTable) Reset() {
	for i := range t.slots {
		t.slots[i].InUse = false
		t.slots[i].PageTable.Reset()
	}
}
