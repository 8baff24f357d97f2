package mmu

import (
	"fmt"

	"github.com/sarchlab/vmsim/mem/physical"
	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/tracing"
)

// ReadMem returns the byte at the virtual address of the process. Reading an
// unmapped or non-readable page is a segmentation fault.
func (c *Comp) ReadMem(pid vm.PID, vAddr uint64) (byte, error) {
	c.lock.Lock()
	b, err := c.readMem(pid, vAddr)
	c.lock.Unlock()

	c.traceOp(tracing.Op{
		Kind:  tracing.OpRead,
		PID:   uint32(pid),
		VAddr: vAddr,
		Err:   err,
	})

	return b, err
}

func (c *Comp) readMem(pid vm.PID, vAddr uint64) (byte, error) {
	p, err := c.procs.Lookup(pid)
	if err != nil {
		return 0, fmt.Errorf("reading: %w", err)
	}

	frame, offset, err := c.translate(p, vAddr, vm.PermRead)
	if err != nil {
		return 0, err
	}

	b, err := c.memory.LoadByte(frame, offset)
	mustNotFail(err)

	return b, nil
}

// WriteMem stores a byte at the virtual address of the process. Writing to an
// unmapped or non-writable page is a segmentation fault.
func (c *Comp) WriteMem(pid vm.PID, vAddr uint64, b byte) error {
	c.lock.Lock()
	err := c.writeMem(pid, vAddr, b)
	c.lock.Unlock()

	c.traceOp(tracing.Op{
		Kind:  tracing.OpWrite,
		PID:   uint32(pid),
		VAddr: vAddr,
		Err:   err,
	})

	return err
}

func (c *Comp) writeMem(pid vm.PID, vAddr uint64, b byte) error {
	p, err := c.procs.Lookup(pid)
	if err != nil {
		return fmt.Errorf("writing: %w", err)
	}

	frame, offset, err := c.translate(p, vAddr, vm.PermWrite)
	if err != nil {
		return err
	}

	mustNotFail(c.memory.StoreByte(frame, offset, b))

	return nil
}

// translate maps a virtual address to a frame and an offset in it. The page
// must be present and grant need, otherwise the process faults.
func (c *Comp) translate(
	p *vm.Process,
	vAddr uint64,
	need vm.Perm,
) (physical.Frame, uint64, error) {
	if vAddr >= c.virtualMemSize {
		return 0, 0, c.segFault(p, vAddr, "address beyond virtual memory")
	}

	pte, present := p.PageTable.Find(vAddr >> c.log2PageSize)
	if !present {
		return 0, 0, c.segFault(p, vAddr, "page not mapped")
	}

	if pte.Perm()&need != need {
		return 0, 0, c.segFault(p, vAddr,
			fmt.Sprintf("%s access to %s page", need, pte.Perm()))
	}

	return pte.Frame(), vAddr & (c.pageSize - 1), nil
}

// segFault tears the process down, records the fault and returns it.
func (c *Comp) segFault(p *vm.Process, vAddr uint64, reason string) error {
	pid := p.PID

	c.teardown(p)

	c.fault = fmt.Errorf("pid %d at 0x%x: %s: %w",
		pid, vAddr, reason, vm.ErrSegFault)

	return c.fault
}
