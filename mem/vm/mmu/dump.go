package mmu

import (
	"fmt"
	"io"

	"github.com/sarchlab/vmsim/mem/vm"
)

// PageInfo is the decoded form of one page table entry.
type PageInfo struct {
	VPN        uint64 `json:"vpn"`
	Frame      uint32 `json:"frame"`
	Readable   bool   `json:"readable"`
	Writable   bool   `json:"writable"`
	Executable bool   `json:"executable"`
	Present    bool   `json:"present"`
}

// FrameUsage summarizes the state of the frame allocator.
type FrameUsage struct {
	Total     int `json:"total"`
	Allocated int `json:"allocated"`
	Free      int `json:"free"`
}

// ProcessInfo summarizes a live process.
type ProcessInfo struct {
	PID      vm.PID `json:"pid"`
	NumPages int    `json:"num_pages"`
}

// DumpPageTable returns every entry of the page table of the process in
// virtual page order. The frame of an entry that is not present is
// meaningless.
func (c *Comp) DumpPageTable(pid vm.PID) ([]PageInfo, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	p, err := c.procs.Lookup(pid)
	if err != nil {
		return nil, fmt.Errorf("dumping page table: %w", err)
	}

	pt := p.PageTable
	infos := make([]PageInfo, pt.Len())

	for vpn := range infos {
		pte := pt.Entry(uint64(vpn))
		infos[vpn] = PageInfo{
			VPN:        uint64(vpn),
			Frame:      uint32(pte.Frame()),
			Readable:   pte.Readable(),
			Writable:   pte.Writable(),
			Executable: pte.Executable(),
			Present:    pte.Present(),
		}
	}

	return infos, nil
}

// PrintPageTable writes one line per present page of the process to w.
func (c *Comp) PrintPageTable(w io.Writer, pid vm.PID) error {
	infos, err := c.DumpPageTable(pid)
	if err != nil {
		return err
	}

	for _, info := range infos {
		if !info.Present {
			continue
		}

		_, err := fmt.Fprintf(w,
			"Page num: %d, frame num: %d, R:%d, W:%d, X:%d, P%d\n",
			info.VPN, info.Frame,
			b2i(info.Readable), b2i(info.Writable), b2i(info.Executable),
			b2i(info.Present))
		if err != nil {
			return err
		}
	}

	return nil
}

// FrameUsage returns how many frames are in use.
func (c *Comp) FrameUsage() FrameUsage {
	c.lock.Lock()
	defer c.lock.Unlock()

	return FrameUsage{
		Total:     c.frames.NumFrames(),
		Allocated: c.frames.NumAllocated(),
		Free:      c.frames.NumFree(),
	}
}

// Processes lists the live processes in pid order.
func (c *Comp) Processes() []ProcessInfo {
	c.lock.Lock()
	defer c.lock.Unlock()

	live := c.procs.Live()
	infos := make([]ProcessInfo, 0, len(live))

	for _, p := range live {
		infos = append(infos, ProcessInfo{
			PID:      p.PID,
			NumPages: p.PageTable.NumPresent(),
		})
	}

	return infos
}

func b2i(b bool) int {
	if b {
		return 1
	}

	return 0
}
