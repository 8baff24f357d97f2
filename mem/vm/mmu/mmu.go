// Package mmu implements the memory manager of the simulated operating
// system. It owns the physical memory, the frame allocator and the process
// table, and is the only code that mutates them.
package mmu

import (
	"errors"
	"log"
	"sync"

	"github.com/sarchlab/vmsim/mem/physical"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/tracing"
)

// Comp is the memory manager. All public methods are safe for concurrent use;
// each one runs to completion under a single lock that covers the frame
// allocator and the process table together. Hooks run after that lock is
// released and can be registered at any time; an operation reports to the
// hooks registered when it completes.
type Comp struct {
	tracing.HookableBase

	name string
	lock sync.Mutex

	log2PageSize   uint64
	pageSize       uint64
	virtualMemSize uint64
	ramSize        uint64
	osMemSize      uint64

	memory *physical.Memory
	frames *physical.FrameAllocator
	procs  *vm.ProcessTable

	fault error
}

// Name returns the name of the memory manager.
func (c *Comp) Name() string {
	return c.name
}

// PageSize returns the page size in bytes.
func (c *Comp) PageSize() uint64 {
	return c.pageSize
}

// VirtualMemSize returns the size of each process's virtual address space.
func (c *Comp) VirtualMemSize() uint64 {
	return c.virtualMemSize
}

// NumVirtualPages returns the number of entries of every page table.
func (c *Comp) NumVirtualPages() int {
	return int(c.virtualMemSize >> c.log2PageSize)
}

// MaxNumProcesses returns the capacity of the process table.
func (c *Comp) MaxNumProcesses() int {
	return c.procs.Capacity()
}

// Fault returns the most recent segmentation fault, or nil if none happened
// since the last ClearFault. The returned error wraps vm.ErrSegFault.
func (c *Comp) Fault() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.fault
}

// ClearFault resets the fault signal.
func (c *Comp) ClearFault() {
	c.lock.Lock()
	c.fault = nil
	c.lock.Unlock()
}

// Reset brings the system back to its initial state: every frame free, every
// slot empty and no fault pending.
func (c *Comp) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.memory = physical.NewMemory(c.ramSize, c.osMemSize, c.pageSize)
	c.frames.Reset()
	c.procs.Reset()
	c.fault = nil
}

func (c *Comp) traceOp(op tracing.Op) {
	if c.NumHooks() == 0 {
		return
	}

	op.ID = tracing.NewOpID()
	op.Where = c.name
	op.Fault = errors.Is(op.Err, vm.ErrSegFault)

	c.InvokeHook(tracing.HookCtx{
		Domain: c,
		Pos:    tracing.HookPosOp,
		Item:   op,
	})

	if op.Fault {
		c.InvokeHook(tracing.HookCtx{
			Domain: c,
			Pos:    tracing.HookPosFault,
			Item:   op,
		})
	}
}

func mustNotFail(err error) {
	if err != nil {
		log.Panic(err)
	}
}
