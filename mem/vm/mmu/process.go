package mmu

import (
	"fmt"
	"log"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/tracing"
)

// A region is a run of virtual pages mapped with the same permissions.
type region struct {
	firstVPN uint64
	numPages uint64
	perm     vm.Perm
	loaded   bool
}

// CreateProcess creates a process and returns its pid.
//
// The virtual address space is laid out as follows, with the sizes given in
// bytes:
//
//	0x0 ---------------------
//	      code            r-x   loaded from codeAndROData
//	    ---------------------
//	      read-only data  r--   loaded from codeAndROData
//	    ---------------------
//	      read/write data rw-
//	    ---------------------
//	      heap                  unmapped, see AllocatePages
//	    ---------------------
//	      stack           rw-
//	end ---------------------
//
// All sizes must be multiples of the page size, their sum must be smaller than
// the virtual memory size, and codeAndROData must hold at least
// codeSize+roDataSize bytes. Violating these rules panics.
//
// If there is no free slot or not enough frames, no process is created and
// every frame taken so far is returned.
func (c *Comp) CreateProcess(
	codeSize, roDataSize, rwDataSize, maxStackSize uint64,
	codeAndROData []byte,
) (vm.PID, error) {
	regions := c.layout(codeSize, roDataSize, rwDataSize, maxStackSize,
		uint64(len(codeAndROData)))

	c.lock.Lock()
	pid, err := c.createProcess(regions, codeAndROData)
	c.lock.Unlock()

	c.traceOp(tracing.Op{Kind: tracing.OpCreate, PID: uint32(pid), Err: err})

	return pid, err
}

func (c *Comp) createProcess(
	regions []region,
	codeAndROData []byte,
) (vm.PID, error) {
	p, err := c.procs.AllocateSlot()
	if err != nil {
		return 0, fmt.Errorf("creating process: %w", err)
	}

	src := codeAndROData
	for _, r := range regions {
		for i := uint64(0); i < r.numPages; i++ {
			frame, err := c.frames.AllocFrame()
			if err != nil {
				c.teardown(p)
				return 0, fmt.Errorf("creating process: %w", err)
			}

			p.PageTable.Insert(r.firstVPN+i, frame, r.perm)

			if r.loaded {
				mustNotFail(c.memory.WriteFrame(frame, src[:c.pageSize]))
				src = src[c.pageSize:]
			}
		}
	}

	return p.PID, nil
}

func (c *Comp) layout(
	codeSize, roDataSize, rwDataSize, maxStackSize, srcLen uint64,
) []region {
	for _, size := range []uint64{
		codeSize, roDataSize, rwDataSize, maxStackSize,
	} {
		if size%c.pageSize != 0 {
			log.Panicf("segment size %d is not a multiple of the page size %d",
				size, c.pageSize)
		}
	}

	total := codeSize + roDataSize + rwDataSize + maxStackSize
	if total >= c.virtualMemSize {
		log.Panicf("process needs %d bytes, virtual memory is %d bytes",
			total, c.virtualMemSize)
	}

	if srcLen < codeSize+roDataSize {
		log.Panicf("%d bytes of code and read-only data given, %d expected",
			srcLen, codeSize+roDataSize)
	}

	codePages := codeSize >> c.log2PageSize
	roPages := roDataSize >> c.log2PageSize
	rwPages := rwDataSize >> c.log2PageSize
	stackPages := maxStackSize >> c.log2PageSize

	return []region{
		{0, codePages, vm.PermRead | vm.PermExec, true},
		{codePages, roPages, vm.PermRead, true},
		{codePages + roPages, rwPages, vm.PermRead | vm.PermWrite, false},
		{
			uint64(c.NumVirtualPages()) - stackPages, stackPages,
			vm.PermRead | vm.PermWrite, false,
		},
	}
}

// ForkProcess creates a copy of the process. Every mapped page of the parent
// gets a fresh frame in the child, at the same virtual page and with the same
// permissions, holding a copy of the parent's bytes. The two processes share
// nothing afterwards.
func (c *Comp) ForkProcess(pid vm.PID) (vm.PID, error) {
	c.lock.Lock()
	child, err := c.forkProcess(pid)
	c.lock.Unlock()

	c.traceOp(tracing.Op{
		Kind:     tracing.OpFork,
		PID:      uint32(pid),
		ChildPID: uint32(child),
		Err:      err,
	})

	return child, err
}

func (c *Comp) forkProcess(pid vm.PID) (vm.PID, error) {
	parent, err := c.procs.Lookup(pid)
	if err != nil {
		return 0, fmt.Errorf("forking: %w", err)
	}

	child, err := c.procs.AllocateSlot()
	if err != nil {
		return 0, fmt.Errorf("forking pid %d: %w", pid, err)
	}

	var allocErr error
	parent.PageTable.Walk(func(vpn uint64, pte vm.PTE) {
		if allocErr != nil {
			return
		}

		frame, err := c.frames.AllocFrame()
		if err != nil {
			allocErr = err
			return
		}

		child.PageTable.Insert(vpn, frame, pte.Perm())
		mustNotFail(c.memory.CopyFrame(frame, pte.Frame()))
	})

	if allocErr != nil {
		c.teardown(child)
		return 0, fmt.Errorf("forking pid %d: %w", pid, allocErr)
	}

	return child.PID, nil
}

// ExitProcess releases every frame of the process and frees its slot.
func (c *Comp) ExitProcess(pid vm.PID) error {
	c.lock.Lock()
	err := c.exitProcess(pid)
	c.lock.Unlock()

	c.traceOp(tracing.Op{Kind: tracing.OpExit, PID: uint32(pid), Err: err})

	return err
}

func (c *Comp) exitProcess(pid vm.PID) error {
	p, err := c.procs.Lookup(pid)
	if err != nil {
		return fmt.Errorf("exiting: %w", err)
	}

	c.teardown(p)

	return nil
}

// teardown unmaps every page of the process, frees the frames and releases
// the slot.
func (c *Comp) teardown(p *vm.Process) {
	pt := p.PageTable
	for vpn := uint64(0); vpn < uint64(pt.Len()); vpn++ {
		if _, present := pt.Find(vpn); present {
			c.releaseFrame(pt.Remove(vpn))
		}
	}

	c.procs.ReleaseSlot(p.PID)
}
