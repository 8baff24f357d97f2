package tracing

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

type sampleDomain struct {
	HookableBase
}

func (d *sampleDomain) Name() string {
	return "Domain"
}

var _ = Describe("Trace collection", func() {
	var (
		mockCtrl *gomock.Controller
		tracer   *MockTracer
		domain   *sampleDomain
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tracer = NewMockTracer(mockCtrl)
		domain = &sampleDomain{}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should forward operations and faults to the tracer", func() {
		CollectTrace(domain, tracer)

		op := Op{ID: "1", Kind: OpRead, Where: "Domain", Fault: true}
		tracer.EXPECT().TraceOp(op)
		tracer.EXPECT().TraceFault(op)

		domain.InvokeHook(HookCtx{Domain: domain, Pos: HookPosOp, Item: op})
		domain.InvokeHook(HookCtx{Domain: domain, Pos: HookPosFault, Item: op})
	})

	It("should ignore items that are not operations", func() {
		CollectTrace(domain, tracer)

		domain.InvokeHook(HookCtx{Domain: domain, Pos: HookPosOp, Item: 42})
	})

	It("should not attach the same tracer twice", func() {
		CollectTrace(domain, tracer)

		Expect(func() { CollectTrace(domain, tracer) }).To(Panic())
		Expect(domain.NumHooks()).To(Equal(1))
	})

	It("should describe operation results", func() {
		errBoom := errors.New("boom")
		failed := Op{Err: errBoom}

		Expect(failed.Succeeded()).To(BeFalse())
		Expect(failed.ErrString()).To(Equal("boom"))
		Expect(failed.Is(errBoom)).To(BeTrue())
		Expect(Op{}.ErrString()).To(BeEmpty())
		Expect(NewOpID()).NotTo(Equal(NewOpID()))
	})
})
