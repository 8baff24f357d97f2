package mmu

import (
	"fmt"

	"github.com/sarchlab/vmsim/mem/physical"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/tracing"
)

// AllocatePages maps numPages fresh frames at the page-aligned virtual
// address vAddr with the given permissions.
//
// Mapping over a page that is already present is a segmentation fault, as is
// an unaligned address, a negative page count, a range that leaves the
// virtual address space or a permission outside rwx. A fault tears the
// process down. If the frames run out, the pages mapped by this call are
// unmapped again and an error wrapping vm.ErrOutOfMemory is returned.
func (c *Comp) AllocatePages(
	pid vm.PID,
	vAddr uint64,
	numPages int,
	perm vm.Perm,
) error {
	c.lock.Lock()
	err := c.allocatePages(pid, vAddr, numPages, perm)
	c.lock.Unlock()

	c.traceOp(tracing.Op{
		Kind:     tracing.OpAllocate,
		PID:      uint32(pid),
		VAddr:    vAddr,
		NumPages: numPages,
		Err:      err,
	})

	return err
}

func (c *Comp) allocatePages(
	pid vm.PID,
	vAddr uint64,
	numPages int,
	perm vm.Perm,
) error {
	p, err := c.procs.Lookup(pid)
	if err != nil {
		return fmt.Errorf("allocating pages: %w", err)
	}

	if !perm.Valid() {
		return c.segFault(p, vAddr, fmt.Sprintf("invalid permission %d", perm))
	}

	firstVPN, err := c.pageRange(vAddr, numPages)
	if err != nil {
		return c.segFault(p, vAddr, err.Error())
	}

	pt := p.PageTable
	for i := 0; i < numPages; i++ {
		vpn := firstVPN + uint64(i)

		if _, present := pt.Find(vpn); present {
			return c.segFault(p, vpn<<c.log2PageSize, "page already mapped")
		}

		frame, err := c.frames.AllocFrame()
		if err != nil {
			c.unmap(pt, firstVPN, i)
			return fmt.Errorf("allocating %d pages at 0x%x for pid %d: %w",
				numPages, vAddr, pid, err)
		}

		pt.Insert(vpn, frame, perm)
	}

	return nil
}

// DeallocatePages unmaps numPages pages starting at the page-aligned virtual
// address vAddr and frees their frames. Unmapping a page that is not present
// is a segmentation fault.
func (c *Comp) DeallocatePages(pid vm.PID, vAddr uint64, numPages int) error {
	c.lock.Lock()
	err := c.deallocatePages(pid, vAddr, numPages)
	c.lock.Unlock()

	c.traceOp(tracing.Op{
		Kind:     tracing.OpDeallocate,
		PID:      uint32(pid),
		VAddr:    vAddr,
		NumPages: numPages,
		Err:      err,
	})

	return err
}

func (c *Comp) deallocatePages(
	pid vm.PID,
	vAddr uint64,
	numPages int,
) error {
	p, err := c.procs.Lookup(pid)
	if err != nil {
		return fmt.Errorf("deallocating pages: %w", err)
	}

	firstVPN, err := c.pageRange(vAddr, numPages)
	if err != nil {
		return c.segFault(p, vAddr, err.Error())
	}

	pt := p.PageTable
	for i := 0; i < numPages; i++ {
		vpn := firstVPN + uint64(i)

		if _, present := pt.Find(vpn); !present {
			return c.segFault(p, vpn<<c.log2PageSize, "page not mapped")
		}

		c.releaseFrame(pt.Remove(vpn))
	}

	return nil
}

// pageRange checks that numPages pages starting at vAddr lie inside the
// virtual address space and returns the first virtual page number.
func (c *Comp) pageRange(vAddr uint64, numPages int) (uint64, error) {
	if vAddr&(c.pageSize-1) != 0 {
		return 0, fmt.Errorf("address not aligned to %d bytes", c.pageSize)
	}

	if numPages < 0 {
		return 0, fmt.Errorf("negative page count %d", numPages)
	}

	firstVPN := vAddr >> c.log2PageSize
	if firstVPN+uint64(numPages) > uint64(c.NumVirtualPages()) {
		return 0, fmt.Errorf("%d pages exceed the virtual address space",
			numPages)
	}

	return firstVPN, nil
}

func (c *Comp) unmap(pt *vm.PageTable, firstVPN uint64, numPages int) {
	for i := 0; i < numPages; i++ {
		c.releaseFrame(pt.Remove(firstVPN + uint64(i)))
	}
}

func (c *Comp) releaseFrame(frame physical.Frame) {
	mustNotFail(c.memory.ReleaseFrame(frame))
	c.frames.FreeFrame(frame)
}
