package mmu

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/vmsim/mem/vm"
	"github.com/sarchlab/vmsim/tracing"
)

const testPageSize = 4096

// buildSmallSystem creates a system with 32 usable frames, 16 virtual pages
// per process and 16 process slots.
func buildSmallSystem() *Comp {
	return MakeBuilder().
		WithLog2PageSize(12).
		WithOSMemSize(testPageSize).
		WithRAMSize(testPageSize + 32*testPageSize).
		WithVirtualMemSize(16 * testPageSize).
		WithMaxNumProcesses(16).
		Build("MMU")
}

func source(numPages int, prefix string) []byte {
	data := make([]byte, numPages*testPageSize)
	copy(data, prefix)

	return data
}

var _ = Describe("MMU", func() {
	var (
		c *Comp
	)

	BeforeEach(func() {
		c = buildSmallSystem()
	})

	AfterEach(func() {
		invariantsMustHold(c)
	})

	Context("when creating processes", func() {
		It("should load code and read-only data", func() {
			pid, err := c.CreateProcess(testPageSize, 0, 0, 0,
				source(1, "cd"))

			Expect(err).ToNot(HaveOccurred())
			Expect(c.ReadMem(pid, 0)).To(Equal(byte('c')))
			Expect(c.ReadMem(pid, 1)).To(Equal(byte('d')))
			Expect(c.Fault()).To(BeNil())
		})

		It("should lay out the regions", func() {
			src := source(2, "code")
			copy(src[testPageSize:], "ro")

			pid, err := c.CreateProcess(
				testPageSize, testPageSize, testPageSize, 2*testPageSize, src)
			Expect(err).ToNot(HaveOccurred())

			infos, err := c.DumpPageTable(pid)
			Expect(err).ToNot(HaveOccurred())
			Expect(infos).To(HaveLen(16))

			Expect(infos[0]).To(Equal(PageInfo{
				VPN: 0, Frame: 0,
				Readable: true, Executable: true, Present: true,
			}))
			Expect(infos[1]).To(Equal(PageInfo{
				VPN: 1, Frame: 1, Readable: true, Present: true,
			}))
			Expect(infos[2]).To(Equal(PageInfo{
				VPN: 2, Frame: 2, Readable: true, Writable: true, Present: true,
			}))
			for vpn := 3; vpn < 14; vpn++ {
				Expect(infos[vpn].Present).To(BeFalse())
			}
			Expect(infos[14]).To(Equal(PageInfo{
				VPN: 14, Frame: 3, Readable: true, Writable: true, Present: true,
			}))
			Expect(infos[15]).To(Equal(PageInfo{
				VPN: 15, Frame: 4, Readable: true, Writable: true, Present: true,
			}))

			Expect(c.ReadMem(pid, testPageSize)).To(Equal(byte('r')))
			Expect(c.ReadMem(pid, 15*testPageSize+100)).To(Equal(byte(0)))
		})

		It("should reuse the lowest free pid", func() {
			pid0, _ := c.CreateProcess(testPageSize, 0, 0, 0, source(1, ""))
			pid1, _ := c.CreateProcess(testPageSize, 0, 0, 0, source(1, ""))
			Expect(pid0).To(Equal(vm.PID(0)))
			Expect(pid1).To(Equal(vm.PID(1)))

			Expect(c.ExitProcess(pid0)).To(Succeed())

			pid, err := c.CreateProcess(testPageSize, 0, 0, 0, source(1, ""))
			Expect(err).ToNot(HaveOccurred())
			Expect(pid).To(Equal(vm.PID(0)))
		})

		It("should fail when there is no free slot", func() {
			for i := 0; i < 16; i++ {
				_, err := c.CreateProcess(0, 0, 0, testPageSize, nil)
				Expect(err).ToNot(HaveOccurred())
			}

			_, err := c.CreateProcess(0, 0, 0, testPageSize, nil)

			Expect(err).To(MatchError(vm.ErrNoFreeProcess))
			Expect(c.FrameUsage().Allocated).To(Equal(16))
		})

		It("should fail without consuming a slot when memory runs out", func() {
			for i := 0; i < 10; i++ {
				_, err := c.CreateProcess(
					testPageSize, 0, testPageSize, testPageSize, source(1, ""))
				Expect(err).ToNot(HaveOccurred())
			}

			_, err := c.CreateProcess(
				testPageSize, 0, testPageSize, testPageSize, source(1, ""))

			Expect(err).To(MatchError(vm.ErrOutOfMemory))
			Expect(c.Processes()).To(HaveLen(10))
			Expect(c.FrameUsage()).To(Equal(FrameUsage{
				Total: 32, Allocated: 30, Free: 2,
			}))

			pid, err := c.CreateProcess(testPageSize, 0, 0, testPageSize,
				source(1, ""))
			Expect(err).ToNot(HaveOccurred())
			Expect(pid).To(Equal(vm.PID(10)))
		})

		It("should panic if a size is not page aligned", func() {
			Expect(func() {
				_, _ = c.CreateProcess(100, 0, 0, 0, source(1, ""))
			}).To(Panic())
		})

		It("should panic if the regions fill the address space", func() {
			Expect(func() {
				_, _ = c.CreateProcess(
					8*testPageSize, 0, 0, 8*testPageSize, source(8, ""))
			}).To(Panic())
		})

		It("should panic if the source is too short", func() {
			Expect(func() {
				_, _ = c.CreateProcess(testPageSize, testPageSize, 0, 0,
					source(1, ""))
			}).To(Panic())
		})
	})

	Context("when forking", func() {
		var parent vm.PID

		BeforeEach(func() {
			var err error
			parent, err = c.CreateProcess(
				testPageSize, 0, testPageSize, testPageSize, source(1, "ab"))
			Expect(err).ToNot(HaveOccurred())
		})

		It("should copy every page", func() {
			Expect(c.WriteMem(parent, testPageSize+7, 'z')).To(Succeed())

			child, err := c.ForkProcess(parent)

			Expect(err).ToNot(HaveOccurred())
			Expect(child).To(Equal(vm.PID(1)))
			Expect(c.ReadMem(child, 0)).To(Equal(byte('a')))
			Expect(c.ReadMem(child, testPageSize+7)).To(Equal(byte('z')))

			parentPages, _ := c.DumpPageTable(parent)
			childPages, _ := c.DumpPageTable(child)
			for vpn := range parentPages {
				Expect(childPages[vpn].Present).
					To(Equal(parentPages[vpn].Present))
				if !parentPages[vpn].Present {
					continue
				}

				Expect(childPages[vpn].Frame).
					ToNot(Equal(parentPages[vpn].Frame))
				Expect(childPages[vpn].Readable).
					To(Equal(parentPages[vpn].Readable))
				Expect(childPages[vpn].Writable).
					To(Equal(parentPages[vpn].Writable))
				Expect(childPages[vpn].Executable).
					To(Equal(parentPages[vpn].Executable))
			}
		})

		It("should keep parent and child independent", func() {
			child, err := c.ForkProcess(parent)
			Expect(err).ToNot(HaveOccurred())

			Expect(c.WriteMem(child, testPageSize, 'c')).To(Succeed())
			Expect(c.WriteMem(parent, 15*testPageSize, 'p')).To(Succeed())

			Expect(c.ReadMem(parent, testPageSize)).To(Equal(byte(0)))
			Expect(c.ReadMem(child, testPageSize)).To(Equal(byte('c')))
			Expect(c.ReadMem(child, 15*testPageSize)).To(Equal(byte(0)))
			Expect(c.ReadMem(parent, 15*testPageSize)).To(Equal(byte('p')))
		})

		It("should fail on an invalid pid", func() {
			_, err := c.ForkProcess(5)

			Expect(err).To(MatchError(vm.ErrInvalidPID))
			Expect(c.Processes()).To(HaveLen(1))
		})

		It("should leave nothing behind when memory runs out", func() {
			Expect(c.AllocatePages(parent, 3*testPageSize, 10,
				vm.PermRead)).To(Succeed())
			filler, _ := c.CreateProcess(testPageSize, 0, 0, testPageSize,
				source(1, ""))
			Expect(c.AllocatePages(filler, 2*testPageSize, 10,
				vm.PermRead)).To(Succeed())
			before := c.FrameUsage()
			Expect(before.Free).To(Equal(7))

			_, err := c.ForkProcess(parent)

			Expect(err).To(MatchError(vm.ErrOutOfMemory))
			Expect(c.FrameUsage()).To(Equal(before))
			Expect(c.Processes()).To(HaveLen(2))
		})
	})

	Context("when exiting", func() {
		It("should reclaim every frame and the slot", func() {
			pid, _ := c.CreateProcess(
				testPageSize, 0, testPageSize, testPageSize, source(1, "x"))
			Expect(c.AllocatePages(pid, 4*testPageSize, 3,
				vm.PermRead|vm.PermWrite)).To(Succeed())
			Expect(c.FrameUsage().Allocated).To(Equal(6))

			Expect(c.ExitProcess(pid)).To(Succeed())

			Expect(c.FrameUsage().Allocated).To(Equal(0))
			Expect(c.Processes()).To(BeEmpty())
			Expect(c.memory.Storage().NumBackedUnits()).To(Equal(0))
		})

		It("should fail on a free pid", func() {
			err := c.ExitProcess(3)

			Expect(err).To(MatchError(vm.ErrInvalidPID))
		})
	})

	Context("when managing the heap", func() {
		var pid vm.PID

		BeforeEach(func() {
			pid, _ = c.CreateProcess(testPageSize, 0, 0, testPageSize,
				source(1, ""))
		})

		It("should map pages", func() {
			err := c.AllocatePages(pid, 2*testPageSize, 2,
				vm.PermRead|vm.PermWrite)

			Expect(err).ToNot(HaveOccurred())
			Expect(c.WriteMem(pid, 3*testPageSize+5, 'h')).To(Succeed())
			Expect(c.ReadMem(pid, 3*testPageSize+5)).To(Equal(byte('h')))
			Expect(c.Processes()).To(Equal([]ProcessInfo{
				{PID: pid, NumPages: 4},
			}))
		})

		It("should accept a page without permissions", func() {
			Expect(c.AllocatePages(pid, 2*testPageSize, 1, vm.PermNone)).
				To(Succeed())

			_, err := c.ReadMem(pid, 2*testPageSize)

			Expect(err).To(MatchError(vm.ErrSegFault))
		})

		It("should do nothing for zero pages", func() {
			Expect(c.AllocatePages(pid, 2*testPageSize, 0, vm.PermRead)).
				To(Succeed())
			Expect(c.FrameUsage().Allocated).To(Equal(2))
		})

		It("should fault on double allocation", func() {
			Expect(c.AllocatePages(pid, 2*testPageSize, 2,
				vm.PermRead)).To(Succeed())

			err := c.AllocatePages(pid, 3*testPageSize, 2, vm.PermRead)

			Expect(err).To(MatchError(vm.ErrSegFault))
			Expect(c.Fault()).To(MatchError(vm.ErrSegFault))
			Expect(c.Processes()).To(BeEmpty())
			Expect(c.FrameUsage().Allocated).To(Equal(0))
		})

		It("should fault on an unaligned address", func() {
			err := c.AllocatePages(pid, 2*testPageSize+1, 1, vm.PermRead)

			Expect(err).To(MatchError(vm.ErrSegFault))
			Expect(c.Processes()).To(BeEmpty())
		})

		It("should fault on a range beyond the address space", func() {
			err := c.AllocatePages(pid, 10*testPageSize, 7, vm.PermRead)

			Expect(err).To(MatchError(vm.ErrSegFault))
			Expect(c.Processes()).To(BeEmpty())
		})

		It("should fault on a negative page count", func() {
			err := c.DeallocatePages(pid, 0, -1)

			Expect(err).To(MatchError(vm.ErrSegFault))
			Expect(c.Processes()).To(BeEmpty())
		})

		It("should fault on invalid permissions", func() {
			err := c.AllocatePages(pid, 2*testPageSize, 1, vm.Perm(8))

			Expect(err).To(MatchError(vm.ErrSegFault))
			Expect(c.Processes()).To(BeEmpty())
		})

		It("should roll back when memory runs out", func() {
			filler, _ := c.CreateProcess(testPageSize, 0, 0, testPageSize,
				source(1, ""))
			Expect(c.AllocatePages(filler, testPageSize, 14,
				vm.PermRead)).To(Succeed())
			filler, _ = c.CreateProcess(testPageSize, 0, 0, testPageSize,
				source(1, ""))
			Expect(c.AllocatePages(filler, testPageSize, 5,
				vm.PermRead)).To(Succeed())
			before := c.FrameUsage()
			Expect(before.Free).To(Equal(7))

			err := c.AllocatePages(pid, 1*testPageSize, 14, vm.PermRead)

			Expect(err).To(MatchError(vm.ErrOutOfMemory))
			Expect(c.FrameUsage()).To(Equal(before))
			Expect(c.Fault()).To(BeNil())

			infos, _ := c.DumpPageTable(pid)
			for _, info := range infos[1:15] {
				Expect(info.Present).To(BeFalse())
			}
		})

		It("should unmap pages", func() {
			Expect(c.AllocatePages(pid, 2*testPageSize, 3,
				vm.PermRead|vm.PermWrite)).To(Succeed())
			Expect(c.WriteMem(pid, 3*testPageSize, 'q')).To(Succeed())

			Expect(c.DeallocatePages(pid, 3*testPageSize, 2)).To(Succeed())

			Expect(c.FrameUsage().Allocated).To(Equal(3))
			_, err := c.ReadMem(pid, 3*testPageSize)
			Expect(err).To(MatchError(vm.ErrSegFault))
		})

		It("should fault when unmapping a page that is not present", func() {
			Expect(c.AllocatePages(pid, 2*testPageSize, 1,
				vm.PermRead)).To(Succeed())

			err := c.DeallocatePages(pid, 2*testPageSize, 2)

			Expect(err).To(MatchError(vm.ErrSegFault))
			Expect(c.Processes()).To(BeEmpty())
			Expect(c.FrameUsage().Allocated).To(Equal(0))
		})

		It("should fail on an invalid pid without faulting", func() {
			err := c.AllocatePages(9, 0, 1, vm.PermRead)

			Expect(err).To(MatchError(vm.ErrInvalidPID))
			Expect(c.Fault()).To(BeNil())
		})
	})

	Context("when accessing memory", func() {
		var pid vm.PID

		BeforeEach(func() {
			pid, _ = c.CreateProcess(testPageSize, testPageSize, 0, 0,
				source(2, "code"))
		})

		It("should fault when writing to a read-only page", func() {
			err := c.WriteMem(pid, testPageSize, 'x')

			Expect(err).To(MatchError(vm.ErrSegFault))
			Expect(c.Fault()).To(MatchError(vm.ErrSegFault))

			_, err = c.ReadMem(pid, 0)
			Expect(err).To(MatchError(vm.ErrInvalidPID))
			Expect(c.FrameUsage().Allocated).To(Equal(0))
		})

		It("should fault when writing to code", func() {
			err := c.WriteMem(pid, 0, 'x')

			Expect(err).To(MatchError(vm.ErrSegFault))
		})

		It("should fault when reading an unmapped page", func() {
			_, err := c.ReadMem(pid, 5*testPageSize)

			Expect(err).To(MatchError(vm.ErrSegFault))
			Expect(c.Processes()).To(BeEmpty())
		})

		It("should fault when reading beyond the address space", func() {
			_, err := c.ReadMem(pid, 16*testPageSize)

			Expect(err).To(MatchError(vm.ErrSegFault))
		})

		It("should keep the fault until it is cleared", func() {
			_, _ = c.ReadMem(pid, 5*testPageSize)

			other, _ := c.CreateProcess(testPageSize, 0, 0, 0, source(1, ""))
			Expect(c.ReadMem(other, 0)).To(Equal(byte(0)))
			Expect(c.Fault()).To(MatchError(vm.ErrSegFault))

			c.ClearFault()

			Expect(c.Fault()).To(BeNil())
		})

		It("should fail on an invalid pid", func() {
			_, err := c.ReadMem(4, 0)

			Expect(err).To(MatchError(vm.ErrInvalidPID))
			Expect(c.WriteMem(4, 0, 1)).To(MatchError(vm.ErrInvalidPID))
			Expect(c.Fault()).To(BeNil())
		})
	})

	Context("when printing", func() {
		It("should print present pages", func() {
			pid, _ := c.CreateProcess(testPageSize, 0, 0, testPageSize,
				source(1, ""))
			buf := new(bytes.Buffer)

			Expect(c.PrintPageTable(buf, pid)).To(Succeed())

			Expect(buf.String()).To(Equal(
				"Page num: 0, frame num: 0, R:1, W:0, X:1, P1\n" +
					"Page num: 15, frame num: 1, R:1, W:1, X:0, P1\n"))
		})

		It("should fail on an invalid pid", func() {
			err := c.PrintPageTable(new(bytes.Buffer), 0)

			Expect(err).To(MatchError(vm.ErrInvalidPID))
		})
	})

	It("should reset", func() {
		pid, _ := c.CreateProcess(testPageSize, 0, 0, 0, source(1, "a"))
		_, _ = c.ReadMem(pid, 8*testPageSize)
		_, _ = c.CreateProcess(testPageSize, 0, 0, 0, source(1, "a"))

		c.Reset()

		Expect(c.Processes()).To(BeEmpty())
		Expect(c.FrameUsage().Allocated).To(Equal(0))
		Expect(c.Fault()).To(BeNil())

		pid, _ = c.CreateProcess(testPageSize, 0, 0, 0, source(1, "b"))
		Expect(pid).To(Equal(vm.PID(0)))
		Expect(c.ReadMem(pid, 0)).To(Equal(byte('b')))
	})

	Context("with hooks", func() {
		var (
			mockCtrl *gomock.Controller
			hook     *MockHook
			ops      []tracing.Op
			faults   []tracing.Op
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			hook = NewMockHook(mockCtrl)
			ops = nil
			faults = nil

			hook.EXPECT().Func(gomock.Any()).
				Do(func(ctx tracing.HookCtx) {
					Expect(ctx.Domain).To(BeIdenticalTo(c))

					switch ctx.Pos {
					case tracing.HookPosOp:
						ops = append(ops, ctx.Item.(tracing.Op))
					case tracing.HookPosFault:
						faults = append(faults, ctx.Item.(tracing.Op))
					}
				}).
				AnyTimes()

			c.AcceptHook(hook)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should report operations", func() {
			pid, _ := c.CreateProcess(testPageSize, 0, 0, 0, source(1, ""))
			child, _ := c.ForkProcess(pid)
			_ = c.AllocatePages(child, 2*testPageSize, 2, vm.PermRead)

			Expect(ops).To(HaveLen(3))
			Expect(faults).To(BeEmpty())

			Expect(ops[0].Kind).To(Equal(tracing.OpCreate))
			Expect(ops[0].Where).To(Equal("MMU"))
			Expect(ops[0].ID).ToNot(BeEmpty())

			Expect(ops[1].Kind).To(Equal(tracing.OpFork))
			Expect(ops[1].PID).To(Equal(uint32(pid)))
			Expect(ops[1].ChildPID).To(Equal(uint32(child)))

			Expect(ops[2].Kind).To(Equal(tracing.OpAllocate))
			Expect(ops[2].VAddr).To(Equal(uint64(2 * testPageSize)))
			Expect(ops[2].NumPages).To(Equal(2))
			Expect(ops[2].Succeeded()).To(BeTrue())
		})

		It("should report faults", func() {
			pid, _ := c.CreateProcess(testPageSize, 0, 0, 0, source(1, ""))
			_ = c.WriteMem(pid, 0, 'x')

			Expect(ops).To(HaveLen(2))
			Expect(ops[1].Kind).To(Equal(tracing.OpWrite))
			Expect(ops[1].Fault).To(BeTrue())
			Expect(faults).To(HaveLen(1))
			Expect(errors.Is(faults[0].Err, vm.ErrSegFault)).To(BeTrue())
		})

		It("should not report a returned error as a fault", func() {
			_ = c.ExitProcess(2)

			Expect(ops).To(HaveLen(1))
			Expect(ops[0].Is(vm.ErrInvalidPID)).To(BeTrue())
			Expect(ops[0].Fault).To(BeFalse())
			Expect(faults).To(BeEmpty())
		})
	})
})
