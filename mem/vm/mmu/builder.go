package mmu

import (
	"log"

	"github.com/sarchlab/vmsim/mem/physical"
	"github.com/sarchlab/vmsim/mem/vm"
)

// A Builder can build a memory manager.
type Builder struct {
	ramSize         uint64
	osMemSize       uint64
	log2PageSize    uint64
	virtualMemSize  uint64
	maxNumProcesses int
}

// MakeBuilder creates a new builder with a 200 MiB RAM, of which 72 MiB are
// reserved for the OS, 4 KiB pages, 4 MiB of virtual memory per process and
// up to 100 processes.
func MakeBuilder() Builder {
	return Builder{
		ramSize:         200 * 1024 * 1024,
		osMemSize:       72 * 1024 * 1024,
		log2PageSize:    12,
		virtualMemSize:  4 * 1024 * 1024,
		maxNumProcesses: 100,
	}
}

// WithRAMSize sets the total size of the physical memory in bytes.
func (b Builder) WithRAMSize(size uint64) Builder {
	b.ramSize = size
	return b
}

// WithOSMemSize sets the size of the region reserved for the OS at the start
// of the physical memory.
func (b Builder) WithOSMemSize(size uint64) Builder {
	b.osMemSize = size
	return b
}

// WithLog2PageSize sets the page size.
func (b Builder) WithLog2PageSize(log2PageSize uint64) Builder {
	b.log2PageSize = log2PageSize
	return b
}

// WithVirtualMemSize sets the size of the virtual address space of every
// process.
func (b Builder) WithVirtualMemSize(size uint64) Builder {
	b.virtualMemSize = size
	return b
}

// WithMaxNumProcesses sets how many processes can exist at the same time.
func (b Builder) WithMaxNumProcesses(n int) Builder {
	b.maxNumProcesses = n
	return b
}

// Build initializes a new system: every frame is free and every process slot
// is empty. Build panics if the configuration is inconsistent.
func (b Builder) Build(name string) *Comp {
	b.configurationMustBeValid()

	c := &Comp{
		name:           name,
		log2PageSize:   b.log2PageSize,
		pageSize:       1 << b.log2PageSize,
		virtualMemSize: b.virtualMemSize,
		ramSize:        b.ramSize,
		osMemSize:      b.osMemSize,
	}

	b.createState(c)
	b.osRegionMustHoldTables(c)

	return c
}

func (b Builder) createState(c *Comp) {
	c.memory = physical.NewMemory(b.ramSize, b.osMemSize, c.pageSize)
	c.frames = physical.NewFrameAllocator(c.memory.NumFrames())
	c.procs = vm.NewProcessTable(
		b.maxNumProcesses, int(b.virtualMemSize>>b.log2PageSize))
}

func (b Builder) configurationMustBeValid() {
	if b.log2PageSize == 0 || b.log2PageSize > 30 {
		log.Panicf("unsupported log2 page size %d", b.log2PageSize)
	}

	pageSize := uint64(1) << b.log2PageSize

	if b.virtualMemSize == 0 || b.virtualMemSize%pageSize != 0 {
		log.Panicf("virtual memory size %d is not a positive multiple of "+
			"the page size %d", b.virtualMemSize, pageSize)
	}

	if b.maxNumProcesses <= 0 {
		log.Panicf("max number of processes must be positive, got %d",
			b.maxNumProcesses)
	}

	if b.osMemSize >= b.ramSize {
		log.Panicf("os region of %d bytes leaves no usable memory in %d bytes",
			b.osMemSize, b.ramSize)
	}

	numFrames := (b.ramSize - b.osMemSize) / pageSize
	if numFrames > uint64(vm.MaxFrame)+1 {
		log.Panicf("%d frames cannot be addressed by a %d-bit frame number",
			numFrames, vm.FrameBits)
	}
}

func (b Builder) osRegionMustHoldTables(c *Comp) {
	need := c.frames.BitmapSize() + c.procs.Footprint()
	if need > b.osMemSize {
		log.Panicf("frame bitmap and process table need %d bytes, "+
			"but the os region only has %d", need, b.osMemSize)
	}
}
